package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/tickr/pkg/config"
	"github.com/cuemby/tickr/pkg/types"
)

var checkinCmd = &cobra.Command{
	Use:   "checkin ENVIRONMENT_ID STATUS",
	Short: "Send a check-in to the ingest topic",
	Long: `Send a check-in for a monitor environment. STATUS is one of
in_progress, ok or error. Pass --id to finish a check-in that was opened
with in_progress.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		if a.cfg.MessageLog.Driver != config.LogRedis {
			return fmt.Errorf("checkin needs a shared message log, message_log.driver is %q", a.cfg.MessageLog.Driver)
		}

		id, _ := cmd.Flags().GetString("id")
		if id == "" {
			id = uuid.NewString()
		}
		data, err := encodeCheckIn(args[0], types.CheckInStatus(args[1]), id, time.Now().UTC())
		if err != nil {
			return err
		}

		producer, err := a.producer(ctx)
		if err != nil {
			return err
		}
		if err := producer.Produce(ctx, a.cfg.Topics.Ingest, args[0], data); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", id)
		return nil
	},
}

func init() {
	checkinCmd.Flags().String("id", "", "Check-in ID (generated when empty)")
}

// encodeCheckIn builds the ingest message for one check-in
func encodeCheckIn(envID string, status types.CheckInStatus, id string, now time.Time) ([]byte, error) {
	switch status {
	case types.CheckInInProgress, types.CheckInOK, types.CheckInError:
	default:
		return nil, fmt.Errorf("unsupported status %q (want in_progress, ok or error)", status)
	}
	if envID == "" {
		return nil, fmt.Errorf("environment id is required")
	}
	return json.Marshal(types.IngestMessage{
		Type: types.IngestCheckIn,
		Ts:   now.Unix(),
		CheckIn: &types.IngestedCheckIn{
			ID:                   id,
			MonitorEnvironmentID: envID,
			Status:               status,
		},
	})
}
