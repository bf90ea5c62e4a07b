package service

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Handler processes one request body received on subject and returns the reply body.
// A returned error means no domain reply could be produced; the service turns
// it into an error reply.
type Handler func(ctx context.Context, subject string, data []byte) ([]byte, error)

// Middleware wraps a handler to add additional functionality
type Middleware func(Handler) Handler

// Chain chains multiple middlewares together. The first middleware is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(h Handler) Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](h)
		}
		return h
	}
}

// RecoveryMiddleware recovers from panics in handlers and reports them to Sentry.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, subject string, data []byte) (reply []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					hub := sentry.CurrentHub().Clone()
					hub.ConfigureScope(func(scope *sentry.Scope) {
						scope.SetTag("subject", subject)
					})
					hub.RecoverWithContext(ctx, r)

					logger.Error("panic recovered", zap.String("subject", subject), zap.Any("panic", r))
					err = fmt.Errorf("panic recovered: %v", r)
				}
			}()
			return next(ctx, subject, data)
		}
	}
}

// LoggingMiddleware logs request handling using structured logging
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, subject string, data []byte) ([]byte, error) {
			start := time.Now()
			reply, err := next(ctx, subject, data)

			fields := []zap.Field{
				zap.String("subject", subject),
				zap.Int("request_bytes", len(data)),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Error("request failed", append(fields, zap.Error(err))...)
			} else if ce := logger.Check(zap.DebugLevel, "request handled"); ce != nil {
				ce.Write(append(fields, zap.Int("reply_bytes", len(reply)))...)
			}
			return reply, err
		}
	}
}

// TracingMiddleware wraps each request in a server span.
func TracingMiddleware(tracer trace.Tracer) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, subject string, data []byte) ([]byte, error) {
			ctx, span := tracer.Start(ctx, "cyclecounter.handle",
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("messaging.system", "nats"),
					attribute.String("messaging.destination.name", subject),
				),
			)
			defer span.End()

			reply, err := next(ctx, subject, data)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return reply, err
		}
	}
}
