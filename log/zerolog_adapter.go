package log

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// zerologAdapter wraps a zerolog.Logger to implement the Logger interface.
type zerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter creates a new Logger implemented with zerolog.
func NewZerologAdapter(level zerolog.Level, pretty bool) Logger {
	var zlog zerolog.Logger
	if pretty {
		zlog = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(level).
			With().
			Timestamp().
			Logger()
	} else {
		zlog = zerolog.New(os.Stderr).
			Level(level).
			With().
			Timestamp().
			Logger()
	}
	return &zerologAdapter{logger: zlog}
}

func (z *zerologAdapter) emit(event *zerolog.Event, msg string, fields []map[string]interface{}) {
	for _, f := range fields {
		event = event.Fields(f)
	}
	event.Msg(msg)
}

func (z *zerologAdapter) Debug(_ context.Context, msg string, fields ...map[string]interface{}) {
	z.emit(z.logger.Debug(), msg, fields)
}

func (z *zerologAdapter) Info(_ context.Context, msg string, fields ...map[string]interface{}) {
	z.emit(z.logger.Info(), msg, fields)
}

func (z *zerologAdapter) Warn(_ context.Context, msg string, fields ...map[string]interface{}) {
	z.emit(z.logger.Warn(), msg, fields)
}

func (z *zerologAdapter) Error(_ context.Context, msg string, err error, fields ...map[string]interface{}) {
	z.emit(z.logger.Error().Err(err), msg, fields)
}

func (z *zerologAdapter) Fatal(_ context.Context, msg string, err error, fields ...map[string]interface{}) {
	// zerolog.Fatal() calls os.Exit after writing the event.
	z.emit(z.logger.Fatal().Err(err), msg, fields)
}

// With returns a new logger with the provided fields added to its context.
func (z *zerologAdapter) With(fields map[string]interface{}) Logger {
	return &zerologAdapter{logger: z.logger.With().Fields(fields).Logger()}
}
