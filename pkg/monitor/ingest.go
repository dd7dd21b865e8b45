package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/tickr/pkg/log"
	"github.com/cuemby/tickr/pkg/storage"
	"github.com/cuemby/tickr/pkg/types"
)

var (
	// ErrUnsupportedStatus is returned for ingested statuses other than
	// in_progress, ok and error
	ErrUnsupportedStatus = errors.New("unsupported check-in status")

	// ErrEnvironmentMismatch is returned when an update names a check-in
	// that belongs to another environment
	ErrEnvironmentMismatch = errors.New("check-in belongs to another environment")
)

// Ingester applies check-ins reported by monitored jobs
type Ingester struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewIngester creates an ingester writing to store
func NewIngester(store storage.Store) *Ingester {
	return &Ingester{
		store:  store,
		logger: log.WithComponent("ingest"),
	}
}

// Ingest stores the check-in and applies its status to the environment.
// An update to a check-in that already reached a terminal status is
// ignored.
func (i *Ingester) Ingest(ctx context.Context, in *types.IngestedCheckIn, receivedAt time.Time) (*Outcome, error) {
	switch in.Status {
	case types.CheckInInProgress, types.CheckInOK, types.CheckInError:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedStatus, in.Status)
	}
	if in.MonitorEnvironmentID == "" {
		return nil, fmt.Errorf("check-in without monitor environment")
	}

	var out *Outcome
	err := i.store.Update(ctx, func(tx storage.Tx) error {
		var err error
		out, err = i.apply(tx, in, receivedAt)
		return err
	})
	return out, err
}

func (i *Ingester) apply(tx storage.Tx, in *types.IngestedCheckIn, receivedAt time.Time) (*Outcome, error) {
	env, m, err := loadEnvironment(tx, in.MonitorEnvironmentID)
	if err != nil {
		return nil, err
	}
	if m.Status == types.MonitorStatusDisabled || env.Status == types.MonitorStatusDisabled {
		i.logger.Debug().Str("monitor_environment_id", env.ID).Msg("Dropping check-in for disabled monitor")
		return &Outcome{}, nil
	}

	checkin, isNew, err := i.resolve(tx, in, env, m, receivedAt)
	if err != nil || checkin == nil {
		return &Outcome{}, err
	}
	if err := tx.PutCheckIn(checkin); err != nil {
		return nil, fmt.Errorf("failed to store check-in %s: %w", checkin.ID, err)
	}

	switch checkin.Status {
	case types.CheckInOK:
		return MarkOK(tx, checkin, checkin.DateAdded)
	case types.CheckInError:
		return MarkFailed(tx, checkin, checkin.DateAdded, time.Time{})
	}

	out := &Outcome{}
	if !isNew {
		return out, nil
	}
	if out.Advanced, err = advance(env, m, checkin.DateAdded, checkin.DateAdded); err != nil || !out.Advanced {
		return out, err
	}
	return out, tx.PutEnvironment(env)
}

// resolve returns the check-in the ingested message refers to, creating it
// when it does not exist yet. A nil check-in means the message is ignored.
func (i *Ingester) resolve(tx storage.Tx, in *types.IngestedCheckIn, env *types.MonitorEnvironment, m *types.Monitor, receivedAt time.Time) (*types.CheckIn, bool, error) {
	if in.ID != "" {
		existing, err := tx.GetCheckIn(in.ID)
		switch {
		case err == nil:
			if existing.MonitorEnvironmentID != env.ID {
				return nil, false, fmt.Errorf("%w: %s", ErrEnvironmentMismatch, in.ID)
			}
			if existing.Status.IsTerminal() {
				logger := log.WithCheckIn(existing.ID)
				logger.Info().
					Str("status", string(existing.Status)).
					Str("reported", string(in.Status)).
					Msg("Ignoring update to finished check-in")
				return nil, false, nil
			}
			existing.Status = in.Status
			existing.DateUpdated = receivedAt
			if in.TraceID != "" {
				existing.TraceID = in.TraceID
			}
			return existing, false, nil
		case !errors.Is(err, storage.ErrNotFound):
			return nil, false, err
		}
	}

	checkin := &types.CheckIn{
		ID:                   in.ID,
		MonitorID:            m.ID,
		MonitorEnvironmentID: env.ID,
		Status:               in.Status,
		DateAdded:            receivedAt,
		DateUpdated:          receivedAt,
		ExpectedTime:         env.NextCheckin,
		TraceID:              in.TraceID,
	}
	if checkin.ID == "" {
		checkin.ID = uuid.NewString()
	}
	if in.Status == types.CheckInInProgress {
		timeout := TimeoutAt(m, receivedAt)
		checkin.TimeoutAt = &timeout
	}
	return checkin, true, nil
}
