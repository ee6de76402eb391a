// Package logging adapts zerolog to the msgnet.Logger interface.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Zereker/msgnet"
)

// Logger is a msgnet.Logger backed by zerolog.
type Logger struct {
	zl zerolog.Logger
}

var _ msgnet.Logger = (*Logger)(nil)

// New returns a console logger for app at the given level and installs it
// as the zerolog global logger.
func New(app, level string) (*Logger, error) {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	l, err := NewWithWriter(output, app, level)
	if err != nil {
		return nil, err
	}
	log.Logger = l.zl
	return l, nil
}

// NewWithWriter returns a logger that writes JSON lines to w.
func NewWithWriter(w io.Writer, app, level string) (*Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zl := zerolog.New(w).Level(lvl).With().Timestamp().Str("app", app).Logger()
	return &Logger{zl: zl}, nil
}

// ParseLevel maps a level name to a zerolog level. The empty string means
// info.
func ParseLevel(raw string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disabled", "off", "none":
		return zerolog.Disabled, nil
	default:
		return zerolog.NoLevel, errors.Errorf("unknown log level %q", raw)
	}
}

// Zerolog returns the underlying logger, for gin middleware and the like.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

func (l *Logger) Debug(msg string, args ...any) { fields(l.zl.Debug(), args).Msg(msg) }
func (l *Logger) Info(msg string, args ...any)  { fields(l.zl.Info(), args).Msg(msg) }
func (l *Logger) Warn(msg string, args ...any)  { fields(l.zl.Warn(), args).Msg(msg) }
func (l *Logger) Error(msg string, args ...any) { fields(l.zl.Error(), args).Msg(msg) }

// fields adds slog-style key/value pairs to e. A trailing key without a
// value is logged under "!BADKEY", as slog does.
func fields(e *zerolog.Event, args []any) *zerolog.Event {
	if e == nil {
		return nil
	}
	for i := 0; i < len(args); i += 2 {
		if i+1 == len(args) {
			e = e.Interface("!BADKEY", args[i])
			break
		}

		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}

		switch v := args[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		case fmt.Stringer:
			e = e.Stringer(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	return e
}
