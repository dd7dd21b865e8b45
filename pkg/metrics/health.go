package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Health and readiness states
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// HealthStatus is the body of the health and readiness endpoints
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

type component struct {
	healthy bool
	message string
	updated time.Time
}

// componentRegistry holds the last reported state of every process
// component. Critical components gate readiness.
type componentRegistry struct {
	mu         sync.RWMutex
	components map[string]component
	critical   []string
	version    string
	started    time.Time
}

var components = newComponentRegistry()

func newComponentRegistry() *componentRegistry {
	return &componentRegistry{
		components: make(map[string]component),
		started:    time.Now(),
	}
}

// SetVersion sets the version reported by the health endpoints
func SetVersion(version string) {
	components.mu.Lock()
	defer components.mu.Unlock()
	components.version = version
}

// SetCriticalComponents names the components that must be registered and
// healthy before the process reports ready
func SetCriticalComponents(names ...string) {
	components.mu.Lock()
	defer components.mu.Unlock()
	components.critical = append([]string(nil), names...)
}

// RegisterComponent records the state of a component
func RegisterComponent(name string, healthy bool, message string) {
	components.mu.Lock()
	defer components.mu.Unlock()
	components.components[name] = component{healthy: healthy, message: message, updated: time.Now()}
}

// UpdateComponent is RegisterComponent for a component that already exists
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

func (r *componentRegistry) status(state, message string, comps map[string]string) HealthStatus {
	return HealthStatus{
		Status:     state,
		Timestamp:  time.Now(),
		Components: comps,
		Message:    message,
		Version:    r.version,
		Uptime:     time.Since(r.started).Round(time.Second).String(),
	}
}

// GetHealth reports unhealthy if any registered component is unhealthy
func GetHealth() HealthStatus {
	components.mu.RLock()
	defer components.mu.RUnlock()

	comps := make(map[string]string, len(components.components))
	var failing []string
	for name, c := range components.components {
		if c.healthy {
			comps[name] = StatusHealthy
			continue
		}
		comps[name] = StatusUnhealthy + ": " + c.message
		failing = append(failing, name)
	}

	if len(failing) == 0 {
		return components.status(StatusHealthy, "", comps)
	}
	sort.Strings(failing)
	return components.status(StatusUnhealthy, "unhealthy: "+strings.Join(failing, ", "), comps)
}

// GetReadiness reports ready once every critical component is registered
// and healthy. The message names the first component still missing.
func GetReadiness() HealthStatus {
	components.mu.RLock()
	defer components.mu.RUnlock()

	state := StatusReady
	message := ""
	comps := make(map[string]string, len(components.critical))
	for _, name := range components.critical {
		c, ok := components.components[name]
		switch {
		case !ok:
			comps[name] = "not registered"
		case !c.healthy:
			comps[name] = "not ready: " + c.message
		default:
			comps[name] = StatusReady
			continue
		}
		if state == StatusReady {
			state = StatusNotReady
			message = "waiting for " + name
		}
	}
	return components.status(state, message, comps)
}

func writeStatus(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// HealthHandler serves GetHealth, with 503 when unhealthy
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		code := http.StatusOK
		if health.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, health)
	}
}

// ReadyHandler serves GetReadiness, with 503 until ready
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()
		code := http.StatusOK
		if readiness.Status != StatusReady {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, readiness)
	}
}

// LivenessHandler always answers 200 while the process runs
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		components.mu.RLock()
		uptime := time.Since(components.started).Round(time.Second).String()
		components.mu.RUnlock()
		writeStatus(w, http.StatusOK, map[string]string{"status": "alive", "uptime": uptime})
	}
}
