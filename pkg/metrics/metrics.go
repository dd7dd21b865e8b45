package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Schedule runner metrics
	ScheduleEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tickr_schedule_entries",
			Help: "Number of schedule entries loaded by the runner",
		},
	)

	ScheduleSpawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickr_schedule_spawns_total",
			Help: "Schedule spawn attempts by task and result (claimed, lost, error)",
		},
		[]string{"task", "result"},
	)

	SchedulerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tickr_scheduler_tick_duration_seconds",
			Help:    "Time spent processing one scheduler tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SchedulerSleepSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tickr_scheduler_sleep_seconds",
			Help: "Seconds the runner sleeps before its next tick",
		},
	)

	RunStateErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickr_runstate_errors_total",
			Help: "Run-state store errors by operation",
		},
		[]string{"op"},
	)

	// Message log metrics
	MessagesConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickr_messages_consumed_total",
			Help: "Messages handled by consumers by topic and result",
		},
		[]string{"topic", "result"},
	)

	MessageProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tickr_message_processing_duration_seconds",
			Help:    "Message handler duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	WorkerActivations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickr_worker_activations_total",
			Help: "Task activations handled by workers by task and result",
		},
		[]string{"task", "result"},
	)

	// Clock metrics
	ClockTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickr_clock_ticks_total",
			Help: "Clock ticks produced by volume anomaly result",
		},
		[]string{"anomaly"},
	)

	ClockTasksDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickr_clock_tasks_dispatched_total",
			Help: "Clock task messages produced by type",
		},
		[]string{"type"},
	)

	ClockTasksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickr_clock_tasks_processed_total",
			Help: "Clock task messages processed by type and result",
		},
		[]string{"type", "result"},
	)

	CheckInsMarked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickr_checkins_marked_total",
			Help: "Check-ins transitioned by the clock tasks by resulting status",
		},
		[]string{"status"},
	)

	IncidentOccurrences = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickr_incident_occurrences_total",
			Help: "Incident occurrences by outcome (notified, suppressed, dropped)",
		},
		[]string{"outcome"},
	)

	// Monitor state gauges, sampled by the Collector
	CheckInsInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tickr_checkins_in_progress",
			Help: "Check-ins currently in progress",
		},
	)

	EnvironmentsOverdue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tickr_monitor_environments_overdue",
			Help: "Monitor environments past their latest expected check-in",
		},
	)

	IncidentsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tickr_incidents_active",
			Help: "Unresolved monitor incidents",
		},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tickr_events_dropped_total",
			Help: "Monitor events not delivered to a subscriber whose buffer was full",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickr_api_requests_total",
			Help: "Total number of API requests by path and status",
		},
		[]string{"path", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tickr_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
)

func init() {
	prometheus.MustRegister(ScheduleEntries)
	prometheus.MustRegister(ScheduleSpawns)
	prometheus.MustRegister(SchedulerTickDuration)
	prometheus.MustRegister(SchedulerSleepSeconds)
	prometheus.MustRegister(RunStateErrors)
	prometheus.MustRegister(MessagesConsumed)
	prometheus.MustRegister(MessageProcessingDuration)
	prometheus.MustRegister(WorkerActivations)
	prometheus.MustRegister(ClockTicks)
	prometheus.MustRegister(ClockTasksDispatched)
	prometheus.MustRegister(ClockTasksProcessed)
	prometheus.MustRegister(CheckInsMarked)
	prometheus.MustRegister(IncidentOccurrences)
	prometheus.MustRegister(CheckInsInProgress)
	prometheus.MustRegister(EnvironmentsOverdue)
	prometheus.MustRegister(IncidentsActive)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in seconds on h
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time on the labelled child of vec
func (t *Timer) ObserveDurationVec(vec *prometheus.HistogramVec, labels ...string) {
	vec.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
