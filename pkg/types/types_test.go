package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTaskRef(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    TaskRef
		wantErr bool
	}{
		{name: "valid", input: "reports:daily", want: TaskRef{Namespace: "reports", Name: "daily"}},
		{name: "trimmed", input: "  ops:sweep ", want: TaskRef{Namespace: "ops", Name: "sweep"}},
		{name: "missing colon", input: "reports", wantErr: true},
		{name: "empty namespace", input: ":daily", wantErr: true},
		{name: "empty name", input: "reports:", wantErr: true},
		{name: "extra colon", input: "a:b:c", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTaskRef(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTaskRef)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Namespace+":"+tt.want.Name, got.Fullname())
		})
	}
}

func TestCheckInStatusPredicates(t *testing.T) {
	tests := []struct {
		status      CheckInStatus
		terminal    bool
		failure     bool
		finished    bool
		synthesized bool
	}{
		{CheckInInProgress, false, false, false, false},
		{CheckInOK, true, false, true, false},
		{CheckInError, true, true, true, false},
		{CheckInMissed, true, true, false, true},
		{CheckInTimeout, true, true, false, true},
		{CheckInUnknown, true, false, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.failure, tt.status.IsFailure())
			assert.Equal(t, tt.finished, tt.status.IsFinished())
			assert.Equal(t, tt.synthesized, tt.status.IsSynthesized())
		})
	}
}

func TestClockTaskMessageWireFormat(t *testing.T) {
	msg := ClockTaskMessage{
		Type:                 ClockTaskMarkTimeout,
		Ts:                   1710201600,
		MonitorEnvironmentID: "env-1",
		CheckInID:            "ci-1",
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "mark_timeout", fields["type"])
	assert.Equal(t, "env-1", fields["monitor_environment_id"])
	assert.Equal(t, "ci-1", fields["checkin_id"])
	assert.NotContains(t, fields, "volume_anomaly_result")
	assert.Equal(t, int64(1710201600), msg.Time().Unix())
}
