package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/tickr/pkg/schedule"
	"github.com/cuemby/tickr/pkg/types"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Storage drivers
const (
	StorageBolt     = "bolt"
	StoragePostgres = "postgres"
)

// Message log drivers
const (
	LogMemory = "memory"
	LogRedis  = "redis"
)

// Incident detectors
const (
	DetectorVolume = "volume"
	DetectorStatic = "static"
)

// Config is the static configuration shared by every tickr process.
// Durations are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Log        LogConfig         `yaml:"log"`
	Redis      RedisConfig       `yaml:"redis"`
	Storage    StorageConfig     `yaml:"storage"`
	MessageLog MessageLogConfig  `yaml:"message_log"`
	Topics     TopicsConfig      `yaml:"topics"`
	Namespaces []NamespaceConfig `yaml:"namespaces"`
	Scheduler  SchedulerConfig   `yaml:"scheduler"`
	Monitors   MonitorsConfig    `yaml:"monitors"`
	Incidents  IncidentsConfig   `yaml:"incidents"`
	HTTP       HTTPConfig        `yaml:"http"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type RedisConfig struct {
	URL         string `yaml:"url"`
	DialTimeout string `yaml:"dial_timeout"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"` // bolt
	DSN    string `yaml:"dsn"`  // postgres
}

type MessageLogConfig struct {
	Driver     string `yaml:"driver"`
	Partitions int    `yaml:"partitions"`
	Group      string `yaml:"group"`
	BatchSize  int    `yaml:"batch_size"`
	Block      string `yaml:"block"`
}

// TopicsConfig names the topics of the clock pipeline
type TopicsConfig struct {
	Ingest              string `yaml:"ingest"`
	ClockTick           string `yaml:"clock_tick"`
	ClockTasks          string `yaml:"clock_tasks"`
	IncidentOccurrences string `yaml:"incident_occurrences"`
}

// NamespaceConfig binds a task namespace to the topic its activations go to
type NamespaceConfig struct {
	Name  string `yaml:"name"`
	Topic string `yaml:"topic"`
}

type SchedulerConfig struct {
	KeyPrefix     string                    `yaml:"key_prefix"`
	FallbackSleep string                    `yaml:"fallback_sleep"`
	MinSleep      string                    `yaml:"min_sleep"`
	CallTimeout   string                    `yaml:"call_timeout"`
	Schedules     map[string]ScheduleConfig `yaml:"schedules"`
}

// ScheduleConfig is one static schedule entry. Exactly one of Interval and
// Crontab must be set.
type ScheduleConfig struct {
	Task       string         `yaml:"task"`
	Interval   string         `yaml:"interval,omitempty"`
	Crontab    string         `yaml:"crontab,omitempty"`
	Timezone   string         `yaml:"timezone,omitempty"`
	Parameters map[string]any `yaml:"parameters,omitempty"`
}

type MonitorsConfig struct {
	DispatchLimit int     `yaml:"dispatch_limit"`
	ProduceRate   float64 `yaml:"produce_rate"` // messages per second, 0 disables pacing
}

type IncidentsConfig struct {
	Detector      string  `yaml:"detector"`
	Window        int     `yaml:"window"` // minutes
	DropThreshold float64 `yaml:"drop_threshold"`
	MinVolume     int64   `yaml:"min_volume"`
	// PendingBackoff is the first retry delay for an occurrence whose tick
	// is still pending; the delay doubles up to PendingWait
	PendingWait    string `yaml:"pending_wait"`
	PendingBackoff string `yaml:"pending_backoff"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a runnable single-node configuration
func Default() *Config {
	return &Config{
		Log:     LogConfig{Level: "info"},
		Redis:   RedisConfig{URL: "redis://localhost:6379/0", DialTimeout: "5s"},
		Storage: StorageConfig{Driver: StorageBolt, Path: "tickr.db"},
		MessageLog: MessageLogConfig{
			Driver:     LogRedis,
			Partitions: 4,
			Group:      "tickr",
			BatchSize:  100,
			Block:      "2s",
		},
		Topics: TopicsConfig{
			Ingest:              "ingest-monitors",
			ClockTick:           "monitors-clock-tick",
			ClockTasks:          "monitors-clock-tasks",
			IncidentOccurrences: "monitors-incident-occurrences",
		},
		Namespaces: []NamespaceConfig{
			{Name: "monitors", Topic: "taskworker-monitors"},
		},
		Scheduler: SchedulerConfig{
			KeyPrefix:     "tickr:scheduler",
			FallbackSleep: "60s",
			MinSleep:      "1s",
			CallTimeout:   "5s",
			Schedules: map[string]ScheduleConfig{
				"monitors-clock-pulse": {Task: "monitors:clock_pulse", Interval: "1m"},
			},
		},
		Monitors: MonitorsConfig{DispatchLimit: 10000, ProduceRate: 1000},
		Incidents: IncidentsConfig{
			Detector:       DetectorVolume,
			Window:         30,
			DropThreshold:  0.5,
			MinVolume:      100,
			PendingWait:    "2m",
			PendingBackoff: "1s",
		},
		HTTP: HTTPConfig{Addr: ":9090"},
	}
}

// Load reads and validates the configuration file at path. Fields missing
// from the file keep their Default values. A schedules map in the file
// replaces the default schedules instead of merging with them.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a YAML configuration from r. Unknown fields are rejected.
func Decode(r io.Reader) (*Config, error) {
	cfg := Default()
	defaults := cfg.Scheduler.Schedules
	cfg.Scheduler.Schedules = nil

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Scheduler.Schedules == nil {
		cfg.Scheduler.Schedules = defaults
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the whole configuration and fails on the first problem
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageBolt:
		if c.Storage.Path == "" {
			return invalid("storage.path is required for the bolt driver")
		}
	case StoragePostgres:
		if c.Storage.DSN == "" {
			return invalid("storage.dsn is required for the postgres driver")
		}
	default:
		return invalid("storage.driver: unknown driver %q", c.Storage.Driver)
	}

	switch c.MessageLog.Driver {
	case LogMemory, LogRedis:
	default:
		return invalid("message_log.driver: unknown driver %q", c.MessageLog.Driver)
	}
	if c.MessageLog.Partitions < 1 {
		return invalid("message_log.partitions must be >= 1")
	}

	if c.Redis.URL == "" && (c.MessageLog.Driver == LogRedis || c.Incidents.Detector == DetectorVolume) {
		return invalid("redis.url is required")
	}

	for _, field := range []struct{ path, raw string }{
		{"redis.dial_timeout", c.Redis.DialTimeout},
		{"message_log.block", c.MessageLog.Block},
		{"scheduler.fallback_sleep", c.Scheduler.FallbackSleep},
		{"scheduler.min_sleep", c.Scheduler.MinSleep},
		{"scheduler.call_timeout", c.Scheduler.CallTimeout},
		{"incidents.pending_wait", c.Incidents.PendingWait},
		{"incidents.pending_backoff", c.Incidents.PendingBackoff},
	} {
		if _, err := ParseDurationField(field.path, field.raw); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	namespaces := make(map[string]bool, len(c.Namespaces))
	for i, ns := range c.Namespaces {
		if ns.Name == "" || ns.Topic == "" {
			return invalid("namespaces[%d]: name and topic are required", i)
		}
		if namespaces[ns.Name] {
			return invalid("namespaces[%d]: duplicate namespace %q", i, ns.Name)
		}
		namespaces[ns.Name] = true
	}

	for _, key := range c.ScheduleKeys() {
		sc := c.Scheduler.Schedules[key]
		ref, err := types.ParseTaskRef(sc.Task)
		if err != nil {
			return fmt.Errorf("%w: scheduler.schedules.%s: %v", ErrInvalid, key, err)
		}
		if !namespaces[ref.Namespace] {
			return invalid("scheduler.schedules.%s: unknown namespace %q", key, ref.Namespace)
		}
		if _, err := sc.Build(); err != nil {
			return fmt.Errorf("%w: scheduler.schedules.%s: %v", ErrInvalid, key, err)
		}
	}

	if c.Monitors.DispatchLimit < 1 {
		return invalid("monitors.dispatch_limit must be >= 1")
	}
	if c.Monitors.ProduceRate < 0 {
		return invalid("monitors.produce_rate must be >= 0")
	}

	switch c.Incidents.Detector {
	case DetectorVolume:
		if c.Incidents.Window < 1 {
			return invalid("incidents.window must be >= 1")
		}
		if c.Incidents.DropThreshold <= 0 || c.Incidents.DropThreshold >= 1 {
			return invalid("incidents.drop_threshold must be between 0 and 1")
		}
	case DetectorStatic:
	default:
		return invalid("incidents.detector: unknown detector %q", c.Incidents.Detector)
	}

	return nil
}

// ScheduleKeys returns the configured schedule keys in sorted order
func (c *Config) ScheduleKeys() []string {
	keys := make([]string, 0, len(c.Scheduler.Schedules))
	for k := range c.Scheduler.Schedules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Build constructs the Schedule described by the entry
func (s ScheduleConfig) Build(opts ...schedule.Option) (schedule.Schedule, error) {
	hasInterval := strings.TrimSpace(s.Interval) != ""
	hasCrontab := strings.TrimSpace(s.Crontab) != ""

	switch {
	case hasInterval && hasCrontab:
		return nil, errors.New("interval and crontab are mutually exclusive")
	case hasInterval:
		d, err := time.ParseDuration(strings.TrimSpace(s.Interval))
		if err != nil {
			return nil, fmt.Errorf("interval: %w", err)
		}
		iv, err := schedule.NewInterval(d, opts...)
		if err != nil {
			return nil, err
		}
		return iv, nil
	case hasCrontab:
		if s.Timezone != "" {
			loc, err := time.LoadLocation(s.Timezone)
			if err != nil {
				return nil, fmt.Errorf("timezone: %w", err)
			}
			opts = append(opts, schedule.WithLocation(loc))
		}
		ct, err := schedule.NewCrontab(s.Crontab, opts...)
		if err != nil {
			return nil, err
		}
		return ct, nil
	default:
		return nil, errors.New("one of interval or crontab is required")
	}
}

// Duration accessors. Values were checked by Validate, so parse errors fall
// back to the default.

func (c RedisConfig) DialTimeoutDuration() time.Duration {
	return mustDuration(c.DialTimeout, 5*time.Second)
}

func (c MessageLogConfig) BlockDuration() time.Duration {
	return mustDuration(c.Block, 2*time.Second)
}

func (c SchedulerConfig) FallbackSleepDuration() time.Duration {
	return mustDuration(c.FallbackSleep, 60*time.Second)
}

func (c SchedulerConfig) MinSleepDuration() time.Duration {
	return mustDuration(c.MinSleep, time.Second)
}

func (c SchedulerConfig) CallTimeoutDuration() time.Duration {
	return mustDuration(c.CallTimeout, 5*time.Second)
}

func (c IncidentsConfig) PendingWaitDuration() time.Duration {
	return mustDuration(c.PendingWait, 2*time.Minute)
}

func (c IncidentsConfig) PendingBackoffDuration() time.Duration {
	return mustDuration(c.PendingBackoff, time.Second)
}

func mustDuration(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
