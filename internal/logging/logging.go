// Package logging builds structured log records — level, kind, topic,
// stream_id, frame_id, message — on top of zerolog, with an Init/Config
// and child-logger-via-With chaining shape. It parses AIKO_LOG_MQTT into a
// BusMode and can encode a record as a bus payload, but it does not
// publish records to the bus itself.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors AIKO_LOG_LEVEL's four values.
type Level string

const (
	LevelError   Level = "ERROR"
	LevelWarning Level = "WARNING"
	LevelInfo    Level = "INFO"
	LevelDebug   Level = "DEBUG"
)

func (l Level) zerologLevel() zerolog.Level {
	switch l {
	case LevelError:
		return zerolog.ErrorLevel
	case LevelWarning:
		return zerolog.WarnLevel
	case LevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// BusMode is the parsed form of AIKO_LOG_MQTT: which sinks a record
// reaches.
type BusMode int

const (
	BusModeConsoleOnly BusMode = iota
	BusModeBusOnly
	BusModeAll
)

// Config configures the process-wide logger.
type Config struct {
	Level      Level
	JSONOutput bool
	BusMode    BusMode
	Output     io.Writer
}

// New builds a zerolog.Logger per Config, matching pkg/log.Init's
// JSON-vs-console branch.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	var logger zerolog.Logger
	if cfg.JSONOutput {
		logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	return logger.Level(cfg.Level.zerologLevel())
}

// ParseLevel parses AIKO_LOG_LEVEL, defaulting to INFO for unrecognized
// or empty values.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return LevelError
	case "WARNING", "WARN":
		return LevelWarning
	case "DEBUG":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// ParseBusMode parses AIKO_LOG_MQTT ("all"|"true"|"false").
func ParseBusMode(s string) BusMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all":
		return BusModeAll
	case "true":
		return BusModeBusOnly
	default:
		return BusModeConsoleOnly
	}
}

// Record is the structured log record level, kind (error
// taxonomy name or "log" for a plain message), topic, stream/frame
// identity, and message text.
type Record struct {
	Level    Level
	Kind     string
	Topic    string
	StreamID int64
	FrameID  int64
	Message  string
}

// Emit writes the record to the given logger at the field's level,
// attaching every field so it matches both the console record shape
// and the S-expression-encoded bus payload built by Encode.
func Emit(log zerolog.Logger, r Record) {
	ev := log.WithLevel(r.Level.zerologLevel())
	ev = ev.Str("kind", r.Kind).Str("topic", r.Topic)
	ev = ev.Int64("stream_id", r.StreamID).Int64("frame_id", r.FrameID)
	ev.Msg(r.Message)
}

// WithComponent returns a child logger tagged with a component name,
// mirroring pkg/log.WithComponent.
func WithComponent(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
