package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetComponents(t *testing.T, critical ...string) {
	t.Helper()
	saved := components
	components = newComponentRegistry()
	components.critical = critical
	t.Cleanup(func() { components = saved })
}

type componentState struct {
	name    string
	healthy bool
	message string
}

func register(states ...componentState) {
	for _, s := range states {
		RegisterComponent(s.name, s.healthy, s.message)
	}
}

func TestGetHealth(t *testing.T) {
	tests := []struct {
		name        string
		states      []componentState
		wantStatus  string
		wantMessage string
		wantComps   map[string]string
	}{
		{
			name:       "no components",
			wantStatus: StatusHealthy,
			wantComps:  map[string]string{},
		},
		{
			name:       "all healthy",
			states:     []componentState{{"redis", true, ""}, {"storage", true, ""}},
			wantStatus: StatusHealthy,
			wantComps:  map[string]string{"redis": "healthy", "storage": "healthy"},
		},
		{
			name: "failing components are listed",
			states: []componentState{
				{"storage", false, "disk full"},
				{"redis", false, "connection refused"},
				{"api", true, ""},
			},
			wantStatus:  StatusUnhealthy,
			wantMessage: "unhealthy: redis, storage",
			wantComps: map[string]string{
				"api":     "healthy",
				"redis":   "unhealthy: connection refused",
				"storage": "unhealthy: disk full",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetComponents(t)
			SetVersion("1.2.3")
			register(tt.states...)

			health := GetHealth()
			assert.Equal(t, tt.wantStatus, health.Status)
			assert.Equal(t, tt.wantMessage, health.Message)
			assert.Equal(t, tt.wantComps, health.Components)
			assert.Equal(t, "1.2.3", health.Version)
		})
	}
}

func TestGetReadiness(t *testing.T) {
	tests := []struct {
		name        string
		critical    []string
		states      []componentState
		wantStatus  string
		wantMessage string
	}{
		{
			name:       "no critical components",
			wantStatus: StatusReady,
		},
		{
			name:       "all critical healthy",
			critical:   []string{"redis", "storage"},
			states:     []componentState{{"redis", true, ""}, {"storage", true, ""}},
			wantStatus: StatusReady,
		},
		{
			name:        "critical not registered",
			critical:    []string{"redis", "storage"},
			states:      []componentState{{"redis", true, ""}},
			wantStatus:  StatusNotReady,
			wantMessage: "waiting for storage",
		},
		{
			name:        "first failing critical is named",
			critical:    []string{"redis", "storage"},
			states:      []componentState{{"redis", false, "LOADING"}},
			wantStatus:  StatusNotReady,
			wantMessage: "waiting for redis",
		},
		{
			name:       "non critical failures do not block readiness",
			critical:   []string{"redis"},
			states:     []componentState{{"redis", true, ""}, {"storage", false, "slow"}},
			wantStatus: StatusReady,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetComponents(t, tt.critical...)
			register(tt.states...)

			readiness := GetReadiness()
			assert.Equal(t, tt.wantStatus, readiness.Status)
			assert.Equal(t, tt.wantMessage, readiness.Message)
			assert.Len(t, readiness.Components, len(tt.critical))
		})
	}
}

func TestUpdateComponentOverwrites(t *testing.T) {
	resetComponents(t)

	RegisterComponent("redis", true, "")
	UpdateComponent("redis", false, "timeout")

	assert.Equal(t, "unhealthy: timeout", GetHealth().Components["redis"])
}

func TestHandlers(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		critical   []string
		states     []componentState
		wantCode   int
		wantStatus string
	}{
		{
			name:       "health ok",
			handler:    HealthHandler(),
			states:     []componentState{{"redis", true, ""}},
			wantCode:   http.StatusOK,
			wantStatus: StatusHealthy,
		},
		{
			name:       "health failing",
			handler:    HealthHandler(),
			states:     []componentState{{"redis", false, "down"}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusUnhealthy,
		},
		{
			name:       "ready",
			handler:    ReadyHandler(),
			critical:   []string{"storage"},
			states:     []componentState{{"storage", true, ""}},
			wantCode:   http.StatusOK,
			wantStatus: StatusReady,
		},
		{
			name:       "not ready",
			handler:    ReadyHandler(),
			critical:   []string{"storage"},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusNotReady,
		},
		{
			name:       "alive regardless of components",
			handler:    LivenessHandler(),
			states:     []componentState{{"redis", false, "down"}},
			wantCode:   http.StatusOK,
			wantStatus: "alive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetComponents(t, tt.critical...)
			register(tt.states...)

			w := httptest.NewRecorder()
			tt.handler(w, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var body map[string]any
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.wantStatus, body["status"])
			assert.NotEmpty(t, body["uptime"])
		})
	}
}
