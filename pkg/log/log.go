package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process logger. It discards everything until Init is called.
var Logger = zerolog.Nop()

// Level is a log level name as used in the configuration file
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer // defaults to stdout
}

// Init replaces the global logger. Unknown levels fall back to info.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(string(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagged with the emitting component
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTask tags entries with a task's "namespace:name"
func WithTask(fullname string) zerolog.Logger {
	return Logger.With().Str("task", fullname).Logger()
}

func WithMonitorEnvironment(id string) zerolog.Logger {
	return Logger.With().Str("monitor_environment_id", id).Logger()
}

func WithCheckIn(id string) zerolog.Logger {
	return Logger.With().Str("checkin_id", id).Logger()
}

// WithPartition tags entries with a topic partition
func WithPartition(topic string, partition int) zerolog.Logger {
	return Logger.With().Str("topic", topic).Int("partition", partition).Logger()
}
