// Package service exposes a counter engine over NATS request/reply and
// provides a client that implements counter.Advancer against it.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/cyclecounter/pkg/concurrency"
	"github.com/wehubfusion/cyclecounter/pkg/counter"
	"github.com/wehubfusion/cyclecounter/pkg/embedded/runtime"
	sdkerrors "github.com/wehubfusion/cyclecounter/pkg/errors"
)

// Config configures a Service.
type Config struct {
	// SubjectPrefix is prepended to the advance and token subjects.
	SubjectPrefix string
	// QueueGroup lets several replicas share the request load.
	QueueGroup string
	// MaxConcurrent bounds in-flight requests (0 = derived from CPUs).
	MaxConcurrent int
	// AcquireTimeout bounds the wait for a free slot.
	AcquireTimeout time.Duration
	// DrainTimeout bounds how long Stop waits for subscriptions to drain.
	DrainTimeout time.Duration
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() Config {
	return Config{
		SubjectPrefix:  "cyclecounter",
		QueueGroup:     "cyclecounter",
		AcquireTimeout: time.Second,
		DrainTimeout:   10 * time.Second,
	}
}

// Subject returns the full subject for suffix.
func (c Config) Subject(suffix string) string {
	return subject(c.SubjectPrefix, suffix)
}

func subject(prefix, suffix string) string {
	return strings.TrimSuffix(prefix, ".") + "." + suffix
}

// Option customizes a Service.
type Option func(*Service)

// WithTracer sets the tracer for request spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) { s.tracer = tracer }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *runtime.DefaultMetricsCollector) Option {
	return func(s *Service) { s.metrics = m }
}

// Service answers advance and token requests from one engine.
type Service struct {
	conn    *nats.Conn
	engine  counter.Advancer
	cfg     Config
	logger  *zap.Logger
	tracer  trace.Tracer
	limiter *concurrency.Limiter
	metrics *runtime.DefaultMetricsCollector
	handler Handler

	mu   sync.Mutex
	subs []*nats.Subscription

	// inflight is read-locked by every Dispatch. Stop takes the write lock to
	// wait for running requests.
	inflight sync.RWMutex
}

// New creates a service. conn may be nil when the service is only driven
// through Dispatch.
func New(conn *nats.Conn, engine counter.Advancer, cfg Config, logger *zap.Logger, opts ...Option) (*Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.SubjectPrefix == "" {
		return nil, fmt.Errorf("%w: subject prefix is empty", sdkerrors.ErrInvalidSubject)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultConfig().DrainTimeout
	}

	limits := concurrency.Resolve(cfg.MaxConcurrent)

	s := &Service{
		conn:    conn,
		engine:  engine,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("cyclecounter/service"),
		limiter: concurrency.NewLimiter(limits.MaxConcurrent),
		metrics: runtime.NewMetricsCollector(limits.MaxConcurrent),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.handler = Chain(
		RecoveryMiddleware(logger),
		TracingMiddleware(s.tracer),
		LoggingMiddleware(logger),
	)(s.route)

	logger.Debug("service configured",
		zap.String("advance_subject", cfg.Subject(SubjectAdvance)),
		zap.String("token_subject", cfg.Subject(SubjectToken)),
		zap.String("limits", limits.String()))

	return s, nil
}

// Start subscribes to the advance and token subjects.
func (s *Service) Start() error {
	if s.conn == nil {
		return sdkerrors.ErrNotConnected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, suffix := range []string{SubjectAdvance, SubjectToken} {
		subject := s.cfg.Subject(suffix)
		sub, err := s.conn.QueueSubscribe(subject, s.cfg.QueueGroup, s.onMessage)
		if err != nil {
			s.unsubscribeLocked()
			return fmt.Errorf("%w: %s: %v", sdkerrors.ErrSubscriptionFailed, subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	s.logger.Info("counter service started",
		zap.String("prefix", s.cfg.SubjectPrefix),
		zap.String("queue", s.cfg.QueueGroup))
	return nil
}

// Stop drains the subscriptions and returns once no request is running, so
// engine state no longer changes after it returns. Subscriptions that have not
// drained within DrainTimeout are reported as an error.
func (s *Service) Stop() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := waitDrained(subs, s.cfg.DrainTimeout); err != nil {
		errs = append(errs, err)
	}

	// Wait for running Dispatch calls.
	s.inflight.Lock()
	s.inflight.Unlock()

	m := s.metrics.GetMetrics()
	s.logger.Info("counter service stopped",
		zap.Int64("processed", m.TotalItemsProcessed),
		zap.Int64("errors", m.TotalErrors),
		zap.Int64("rejected", m.TotalSkipped))
	return errors.Join(errs...)
}

// waitDrained polls until every subscription has been removed by its drain.
func waitDrained(subs []*nats.Subscription, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for _, sub := range subs {
		for sub.IsValid() {
			if time.Now().After(deadline) {
				return fmt.Errorf("%w: subscription %s still draining", sdkerrors.ErrTimeout, sub.Subject)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	return nil
}

func (s *Service) unsubscribeLocked() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

// Metrics returns request counters.
func (s *Service) Metrics() runtime.Metrics {
	return s.metrics.GetMetrics()
}

func (s *Service) onMessage(msg *nats.Msg) {
	ctx := context.Background()
	if msg.Header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))
	}

	reply := s.Dispatch(ctx, msg.Subject, msg.Data)
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(reply); err != nil {
		s.logger.Warn("failed to send reply", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

// Dispatch runs one request through the middleware chain under the
// concurrency limit and always returns a reply body.
func (s *Service) Dispatch(ctx context.Context, subject string, data []byte) []byte {
	s.inflight.RLock()
	defer s.inflight.RUnlock()

	start := time.Now()

	acquireCtx, cancel := context.WithTimeout(ctx, s.cfg.AcquireTimeout)
	err := s.limiter.Acquire(acquireCtx)
	cancel()
	if err != nil {
		s.metrics.RecordSkipped()
		return errorReply(sdkerrors.NewError(sdkerrors.CodeUnavailable, "too many in-flight requests", err))
	}
	defer s.limiter.Release()

	reply, err := s.handler(ctx, subject, data)
	if err != nil {
		s.metrics.RecordError()
		return errorReply(sdkerrors.FromError(err))
	}

	s.metrics.RecordProcessed(time.Since(start).Nanoseconds())
	return reply
}

func (s *Service) route(ctx context.Context, subject string, data []byte) ([]byte, error) {
	switch subject {
	case s.cfg.Subject(SubjectAdvance):
		return s.HandleAdvance(ctx, data), nil
	case s.cfg.Subject(SubjectToken):
		return s.HandleToken(ctx, data), nil
	}
	return nil, fmt.Errorf("%w: %s", sdkerrors.ErrInvalidSubject, subject)
}

// HandleAdvance decodes an AdvanceRequest, advances the counter and encodes
// the AdvanceResponse.
func (s *Service) HandleAdvance(ctx context.Context, data []byte) []byte {
	req := AdvanceRequest{Config: counter.DefaultConfig()}
	if err := json.Unmarshal(data, &req); err != nil {
		return encode(AdvanceResponse{Error: decodeError(err)})
	}

	key := req.Key
	if key == "" {
		var err error
		key, err = counter.ResolveKey(req.Config.GroupKey, req.InstanceID)
		if err != nil {
			s.reportContractViolation(ctx, err)
			return encode(AdvanceResponse{Error: sdkerrors.FromError(err)})
		}
	}

	res, err := s.engine.Advance(ctx, req.Config, key)
	if err != nil {
		if counter.IsKeyResolutionError(err) {
			s.reportContractViolation(ctx, err)
		}
		return encode(AdvanceResponse{Key: key, Error: sdkerrors.FromError(err)})
	}

	return encode(AdvanceResponse{Key: res.Key, Value: res.Value, Cycle: res.Cycle})
}

// HandleToken decodes a TokenRequest and returns a fresh change token.
func (s *Service) HandleToken(ctx context.Context, data []byte) []byte {
	req := TokenRequest{Config: counter.DefaultConfig()}
	if err := json.Unmarshal(data, &req); err != nil {
		return encode(TokenResponse{Error: decodeError(err)})
	}
	return encode(TokenResponse{Token: counter.ChangeToken(req.Config)})
}

// reportContractViolation sends key resolution failures to Sentry: they mean
// a caller sent neither a group key nor an instance id.
func (s *Service) reportContractViolation(ctx context.Context, err error) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.CaptureException(err)
	s.logger.Warn("request without counter identity", zap.Error(err))
}

// decodeError maps a JSON decoding failure to a reply error. Mode names are
// validated while decoding, so configuration errors surface here too.
func decodeError(err error) *sdkerrors.Error {
	if counter.IsConfigurationError(err) {
		return sdkerrors.FromError(err)
	}
	return sdkerrors.FromError(fmt.Errorf("%w: %v", sdkerrors.ErrInvalidMessage, err))
}

func errorReply(e *sdkerrors.Error) []byte {
	return encode(AdvanceResponse{Error: e})
}

func encode(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Replies only hold strings and integers.
		return []byte(`{"error":{"code":"INTERNAL","message":"failed to encode reply"}}`)
	}
	return data
}
