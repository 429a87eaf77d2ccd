package layers

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/storage"
)

// LoggingLayer logs every operation with its duration and outcome.
//
// Successful calls are logged at DEBUG. NotFound is an expected answer for
// stat and delete and is logged at DEBUG too; every other failure is
// logged at WARN. Aborted writers are logged at DEBUG.
type LoggingLayer struct {
	scheme string
}

// NewLoggingLayer creates a LoggingLayer.
func NewLoggingLayer() *LoggingLayer {
	return &LoggingLayer{}
}

// Layer implements storage.Layer.
func (l *LoggingLayer) Layer(inner storage.Accessor) storage.Accessor {
	return &instrumented{Accessor: inner, p: &LoggingLayer{scheme: inner.Info().Scheme}}
}

func (l *LoggingLayer) begin(ctx context.Context, op storage.Operation, path string) (context.Context, func(int64, error)) {
	start := time.Now()
	if e := logger.With(logger.LevelDebug); e != nil {
		e.Str("scheme", l.scheme).
			Str("operation", string(op)).
			Str("path", path).
			Msg("storage operation started")
	}
	return ctx, func(n int64, err error) {
		level := logger.LevelDebug
		msg := "storage operation finished"
		if err != nil && !errors.Is(err, errAborted) && storage.KindOf(err) != storage.KindNotFound {
			level = logger.LevelWarn
			msg = "storage operation failed"
		}
		e := logger.With(level)
		if e == nil {
			return
		}
		e = e.Str("scheme", l.scheme).
			Str("operation", string(op)).
			Str("path", path).
			Dur("duration", time.Since(start))
		if n > 0 {
			e = e.Int64("count", n)
		}
		if err != nil {
			e = e.Str("kind", storage.KindOf(err).String()).Err(err)
		}
		e.Msg(msg)
	}
}
