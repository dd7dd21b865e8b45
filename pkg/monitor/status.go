package monitor

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/tickr/pkg/storage"
	"github.com/cuemby/tickr/pkg/types"
)

// Outcome describes the side effects of a status transition. The caller
// emits them after the transaction commits.
type Outcome struct {
	// Advanced is false when a newer check-in already moved the environment on
	Advanced bool

	Opened      *types.MonitorIncident
	Resolved    *types.MonitorIncident
	Occurrences []types.IncidentOccurrence
}

func loadEnvironment(tx storage.Tx, envID string) (*types.MonitorEnvironment, *types.Monitor, error) {
	env, err := tx.GetEnvironment(envID)
	if err != nil {
		return nil, nil, err
	}
	m, err := tx.GetMonitor(env.MonitorID)
	if err != nil {
		return nil, nil, err
	}
	return env, m, nil
}

// advance moves the environment's expectations to follow a check-in at
// checkinAt, computed from the schedule slot from. It reports false when
// the environment already saw a newer check-in.
func advance(env *types.MonitorEnvironment, m *types.Monitor, checkinAt, from time.Time) (bool, error) {
	if env.LastCheckin != nil && env.LastCheckin.After(checkinAt) {
		return false, nil
	}
	next, err := NextCheckin(m, from)
	if err != nil {
		return false, err
	}
	latest := next.Add(checkinMargin(m))

	last := checkinAt
	env.LastCheckin = &last
	if env.NextCheckinLatest == nil || latest.After(*env.NextCheckinLatest) {
		env.NextCheckin = &next
		env.NextCheckinLatest = &latest
	}
	return true, nil
}

// MarkFailed records a failed check-in against its environment. The
// check-in must already be stored in tx. failedAt is the schedule slot the
// failure counts against and clockTick, if set, the tick that detected it.
//
// A healthy environment turns into an incident once the last
// FailureIssueThreshold check-ins all failed. An environment already in
// error adds an occurrence to its active incident. Muted monitors track
// incidents but produce no occurrences.
func MarkFailed(tx storage.Tx, checkin *types.CheckIn, failedAt, clockTick time.Time) (*Outcome, error) {
	env, m, err := loadEnvironment(tx, checkin.MonitorEnvironmentID)
	if err != nil {
		return nil, err
	}

	out := &Outcome{}
	out.Advanced, err = advance(env, m, checkin.DateAdded, failedAt)
	if err != nil || !out.Advanced {
		return out, err
	}

	var (
		incident *types.MonitorIncident
		streak   []*types.CheckIn
	)
	switch env.Status {
	case types.MonitorStatusDisabled:
	case types.MonitorStatusError:
		incident, err = tx.ActiveIncident(env.ID)
		if errors.Is(err, storage.ErrNotFound) {
			incident, err = openIncident(tx, env, checkin)
			out.Opened = incident
		}
		if err != nil {
			return nil, err
		}
		streak = []*types.CheckIn{checkin}
	default:
		streak, err = failureStreak(tx, env, m, checkin)
		if err != nil {
			return nil, err
		}
		if streak != nil {
			if incident, err = openIncident(tx, env, streak[0]); err != nil {
				return nil, err
			}
			out.Opened = incident
			env.Status = types.MonitorStatusError
		}
	}

	if err := tx.PutEnvironment(env); err != nil {
		return nil, fmt.Errorf("failed to update environment %s: %w", env.ID, err)
	}

	if incident == nil || m.IsMuted || env.IsMuted {
		return out, nil
	}
	occ := types.IncidentOccurrence{
		IncidentID:           incident.ID,
		MonitorEnvironmentID: env.ID,
		FailedCheckInID:      checkin.ID,
		ReceivedTs:           checkin.DateAdded.Unix(),
	}
	for _, c := range streak {
		occ.PreviousCheckInIDs = append(occ.PreviousCheckInIDs, c.ID)
	}
	if !clockTick.IsZero() {
		occ.ClockTickTs = clockTick.Unix()
	}
	out.Occurrences = append(out.Occurrences, occ)
	return out, nil
}

// failureStreak returns the failed check-ins that cross the monitor's
// failure threshold, oldest first, or nil while the threshold is not met
func failureStreak(tx storage.Tx, env *types.MonitorEnvironment, m *types.Monitor, checkin *types.CheckIn) ([]*types.CheckIn, error) {
	threshold := max(1, m.FailureIssueThreshold)
	if threshold == 1 {
		return []*types.CheckIn{checkin}, nil
	}

	recent, err := tx.ListRecentCheckIns(env.ID, threshold)
	if err != nil {
		return nil, err
	}
	if len(recent) < threshold {
		return nil, nil
	}
	streak := make([]*types.CheckIn, len(recent))
	for i, c := range recent {
		if !c.Status.IsFailure() {
			return nil, nil
		}
		streak[len(recent)-1-i] = c
	}
	return streak, nil
}

func openIncident(tx storage.Tx, env *types.MonitorEnvironment, start *types.CheckIn) (*types.MonitorIncident, error) {
	incident := &types.MonitorIncident{
		ID:                   uuid.NewString(),
		MonitorID:            env.MonitorID,
		MonitorEnvironmentID: env.ID,
		StartingCheckInID:    start.ID,
		StartingTimestamp:    start.DateAdded,
		GroupHash:            uuid.NewString(),
	}
	if err := tx.PutIncident(incident); err != nil {
		return nil, fmt.Errorf("failed to open incident for %s: %w", env.ID, err)
	}
	return incident, nil
}

// MarkOK records a successful check-in. An environment in error recovers
// once the last RecoveryThreshold check-ins were all OK, which resolves its
// active incident.
func MarkOK(tx storage.Tx, checkin *types.CheckIn, succeededAt time.Time) (*Outcome, error) {
	env, m, err := loadEnvironment(tx, checkin.MonitorEnvironmentID)
	if err != nil {
		return nil, err
	}

	out := &Outcome{}
	out.Advanced, err = advance(env, m, checkin.DateAdded, succeededAt)
	if err != nil || !out.Advanced {
		return out, err
	}

	switch env.Status {
	case types.MonitorStatusDisabled:
	case types.MonitorStatusError:
		ok, err := hasRecovered(tx, env, m)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		incident, err := tx.ActiveIncident(env.ID)
		switch {
		case err == nil:
			resolvedAt := checkin.DateAdded
			incident.ResolvingCheckInID = checkin.ID
			incident.ResolvingTimestamp = &resolvedAt
			if err := tx.PutIncident(incident); err != nil {
				return nil, fmt.Errorf("failed to resolve incident %s: %w", incident.ID, err)
			}
			out.Resolved = incident
		case !errors.Is(err, storage.ErrNotFound):
			return nil, err
		}
		env.Status = types.MonitorStatusOK
	default:
		env.Status = types.MonitorStatusOK
	}

	if err := tx.PutEnvironment(env); err != nil {
		return nil, fmt.Errorf("failed to update environment %s: %w", env.ID, err)
	}
	return out, nil
}

func hasRecovered(tx storage.Tx, env *types.MonitorEnvironment, m *types.Monitor) (bool, error) {
	threshold := max(1, m.RecoveryThreshold)
	if threshold == 1 {
		return true, nil
	}
	recent, err := tx.ListRecentCheckIns(env.ID, threshold)
	if err != nil {
		return false, err
	}
	if len(recent) < threshold {
		return false, nil
	}
	for _, c := range recent {
		if c.Status != types.CheckInOK {
			return false, nil
		}
	}
	return true, nil
}
