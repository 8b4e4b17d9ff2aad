// Package logging adapts zerolog to the es.Logger interface.
package logging

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// ZerologLogger implements es.Logger on top of a zerolog.Logger.
// Key/value pairs become structured fields; a trailing key without a value
// is logged under "missing".
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger wraps an existing zerolog logger.
func NewZerologLogger(logger zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: logger}
}

// NewDefaultLogger creates a logger writing JSON lines to stderr with
// timestamps, at the given level.
func NewDefaultLogger(level zerolog.Level) *ZerologLogger {
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	return &ZerologLogger{logger: logger}
}

// Debug implements es.Logger.
func (l *ZerologLogger) Debug(ctx context.Context, msg string, keyvals ...interface{}) {
	l.emit(l.logger.Debug().Ctx(ctx), msg, keyvals)
}

// Info implements es.Logger.
func (l *ZerologLogger) Info(ctx context.Context, msg string, keyvals ...interface{}) {
	l.emit(l.logger.Info().Ctx(ctx), msg, keyvals)
}

// Error implements es.Logger.
func (l *ZerologLogger) Error(ctx context.Context, msg string, keyvals ...interface{}) {
	l.emit(l.logger.Error().Ctx(ctx), msg, keyvals)
}

func (l *ZerologLogger) emit(event *zerolog.Event, msg string, keyvals []interface{}) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		event = event.Interface(key, keyvals[i+1])
	}
	if len(keyvals)%2 != 0 {
		event = event.Interface("missing", keyvals[len(keyvals)-1])
	}
	event.Msg(msg)
}
