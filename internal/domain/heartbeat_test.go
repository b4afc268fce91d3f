package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatFromVariables(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name       string
		vars       map[string]any
		wantActive bool
		wantErr    bool
	}{
		{
			name:       "no variables",
			vars:       map[string]any{},
			wantActive: false,
		},
		{
			name: "zero last heartbeat",
			vars: map[string]any{
				VarLastHeartbeat:    float64(0),
				VarHeartbeatTimeout: "PT10S",
			},
			wantActive: false,
		},
		{
			name: "empty timeout",
			vars: map[string]any{
				VarLastHeartbeat:    float64(now.UnixMilli()),
				VarHeartbeatTimeout: "",
			},
			wantActive: false,
		},
		{
			name: "active from float64",
			vars: map[string]any{
				VarLastHeartbeat:    float64(now.UnixMilli()),
				VarHeartbeatTimeout: "PT10S",
			},
			wantActive: true,
		},
		{
			name: "active from int64",
			vars: map[string]any{
				VarLastHeartbeat:    now.UnixMilli(),
				VarHeartbeatTimeout: "PT1M",
			},
			wantActive: true,
		},
		{
			name: "last heartbeat of wrong type",
			vars: map[string]any{
				VarLastHeartbeat:    true,
				VarHeartbeatTimeout: "PT10S",
			},
			wantErr: true,
		},
		{
			name: "malformed timeout",
			vars: map[string]any{
				VarLastHeartbeat:    now.UnixMilli(),
				VarHeartbeatTimeout: "ten seconds",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := HeartbeatFromVariables(tt.vars)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidHeartbeat))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantActive, rec.Active())
		})
	}
}

func TestHeartbeatRecord_Expired(t *testing.T) {
	now := time.Now()
	timeout := 10 * time.Second

	// Пауза в два таймаута — запись просрочена
	stale := HeartbeatRecord{LastHeartbeat: now.Add(-2 * timeout), Timeout: timeout}
	assert.True(t, stale.Expired(now))

	// Свежий heartbeat
	fresh := HeartbeatRecord{LastHeartbeat: now.Add(-timeout / 2), Timeout: timeout}
	assert.False(t, fresh.Expired(now))

	// Неактивная запись никогда не просрочена
	inactive := HeartbeatRecord{Timeout: timeout}
	assert.False(t, inactive.Expired(now))
}

func TestParseISODuration(t *testing.T) {
	d, err := ParseISODuration("PT5S")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	d, err = ParseISODuration("PT1M30S")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = ParseISODuration(nil)
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseISODuration(42)
	assert.Error(t, err)
}

func TestWorkItem_DurationParam(t *testing.T) {
	wi := &WorkItem{Parameters: map[string]any{
		ParamConnectTimeout: float64(1500),
		ParamReadTimeout:    "2000",
		ParamRequestTimeout: -1,
		"pollTimeout":       json.Number("750"),
	}}

	assert.Equal(t, 1500*time.Millisecond, wi.DurationParam(ParamConnectTimeout))
	assert.Equal(t, 2*time.Second, wi.DurationParam(ParamReadTimeout))
	assert.Zero(t, wi.DurationParam(ParamRequestTimeout))
	assert.Equal(t, 750*time.Millisecond, wi.DurationParam("pollTimeout"))
	assert.Zero(t, wi.DurationParam("missing"))
}

func TestAwaitStatusForSignal(t *testing.T) {
	status, ok := AwaitStatusForSignal(SignalRESTResponded)
	assert.True(t, ok)
	assert.Equal(t, AwaitStatusResponded, status)

	status, ok = AwaitStatusForSignal(SignalDied)
	assert.True(t, ok)
	assert.Equal(t, AwaitStatusDied, status)

	_, ok = AwaitStatusForSignal(SignalImAlive)
	assert.False(t, ok)
}
