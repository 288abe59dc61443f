package storage

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/mcp-gateway/instrumentation"
)

// Observer wraps storage calls in a span and records the operation metric.
// A nil *Observer does nothing, so backends can call it unconditionally.
type Observer struct {
	backend string
	inst    *instrumentation.Instrumentation
	tracer  trace.Tracer
}

// NewObserver returns an Observer for backend ("memory", "postgres").
func NewObserver(backend string, inst *instrumentation.Instrumentation) *Observer {
	if inst == nil {
		return nil
	}
	return &Observer{
		backend: backend,
		inst:    inst,
		tracer:  inst.Tracer("storage"),
	}
}

// Start begins an operation. The returned func must be called with the
// operation's error. Domain misses (the sentinel errors above) count as
// "miss", not "error".
func (o *Observer) Start(ctx context.Context, operation string) (context.Context, func(error)) {
	if o == nil {
		return ctx, func(error) {}
	}

	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "storage."+operation, trace.WithAttributes(
		attribute.String(instrumentation.AttrStorageOperation, operation),
		attribute.String(instrumentation.AttrStorageType, o.backend),
	))

	return ctx, func(err error) {
		defer span.End()

		result := "success"
		switch {
		case err == nil:
			instrumentation.SetSpanSuccess(span)
		case isMiss(err):
			result = "miss"
			instrumentation.SetSpanSuccess(span)
		default:
			result = "error"
			instrumentation.RecordError(span, err)
		}

		durationMs := float64(time.Since(start).Microseconds()) / 1000
		o.inst.Metrics().RecordStorageOperation(ctx, o.backend, operation, result, durationMs)
	}
}

func isMiss(err error) bool {
	return errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrAuthorizationCodeNotFound) ||
		errors.Is(err, ErrAuthorizationCodeUsed) ||
		errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrUserNotFound)
}
