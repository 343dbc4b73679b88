// Package obslog wires Sentinel's global zerolog logger. Every subsystem
// derives a child logger from it via WithComponent rather than
// constructing its own, so a single --log-level/--log-json flag pair
// governs the whole process.
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger instance. Init must be called once
// at startup before any component derives a child logger from it.
var Logger zerolog.Logger

// Level is a log verbosity knob, mirrored 1:1 onto zerolog's levels.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logger construction options.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global Logger from cfg.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with the given component
// name, e.g. "mission", "commit", "swarm".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithMissionID returns a child logger tagged with a mission_id field.
func WithMissionID(logger zerolog.Logger, missionID string) zerolog.Logger {
	return logger.With().Str("mission_id", missionID).Logger()
}

// WithTaskID returns a child logger tagged with a task_id field.
func WithTaskID(logger zerolog.Logger, taskID string) zerolog.Logger {
	return logger.With().Str("task_id", taskID).Logger()
}

func init() {
	// Sane default so packages that log before Init() (tests, early
	// startup errors) don't panic on a zero-value Logger.
	Init(Config{Level: InfoLevel})
}
