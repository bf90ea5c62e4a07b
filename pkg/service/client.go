package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/wehubfusion/cyclecounter/pkg/concurrency"
	"github.com/wehubfusion/cyclecounter/pkg/counter"
	sdkerrors "github.com/wehubfusion/cyclecounter/pkg/errors"
)

// Requester sends a request and waits for its reply. *nats.Conn satisfies it.
type Requester interface {
	RequestMsgWithContext(ctx context.Context, msg *nats.Msg) (*nats.Msg, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	SubjectPrefix string
	// Timeout applies when the caller's context has no deadline.
	Timeout time.Duration
	// FailureThreshold consecutive transport failures open the circuit.
	FailureThreshold int64
	// ResetTimeout is how long the circuit stays open before probing.
	ResetTimeout time.Duration
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		SubjectPrefix:    DefaultConfig().SubjectPrefix,
		Timeout:          2 * time.Second,
		FailureThreshold: 5,
		ResetTimeout:     10 * time.Second,
	}
}

// Client advances counters held by a remote Service.
type Client struct {
	conn    Requester
	cfg     ClientConfig
	breaker *concurrency.CircuitBreaker
	logger  *zap.Logger
}

var _ counter.Advancer = (*Client)(nil)

// NewClient creates a client sending requests through conn.
func NewClient(conn Requester, cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if conn == nil {
		return nil, sdkerrors.ErrNotConnected
	}
	if cfg.SubjectPrefix == "" {
		return nil, fmt.Errorf("%w: subject prefix is empty", sdkerrors.ErrInvalidSubject)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultClientConfig().Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		conn:    conn,
		cfg:     cfg,
		breaker: concurrency.NewCircuitBreaker(cfg.FailureThreshold, cfg.ResetTimeout),
		logger:  logger,
	}, nil
}

// Advance asks the remote engine to advance the counter stored under key.
// Domain errors come back as *sdkerrors.Error wrapping the matching counter
// error, so counter.IsConfigurationError and friends keep working.
func (c *Client) Advance(ctx context.Context, cfg counter.Config, key string) (counter.Result, error) {
	if key == "" {
		return counter.Result{}, &counter.KeyResolutionError{GroupKey: cfg.GroupKey}
	}

	var resp AdvanceResponse
	if err := c.call(ctx, SubjectAdvance, AdvanceRequest{Key: key, Config: cfg}, &resp); err != nil {
		return counter.Result{}, err
	}
	if resp.Error != nil {
		return counter.Result{}, resp.Error.Restore()
	}
	return counter.Result{Key: resp.Key, Value: resp.Value, Cycle: resp.Cycle}, nil
}

// Token asks the remote service for a change token.
func (c *Client) Token(ctx context.Context, cfg counter.Config) (string, error) {
	var resp TokenResponse
	if err := c.call(ctx, SubjectToken, TokenRequest{Config: cfg}, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", resp.Error.Restore()
	}
	return resp.Token, nil
}

// CircuitState reports the state of the transport circuit breaker.
func (c *Client) CircuitState() concurrency.CircuitBreakerState {
	return c.breaker.GetState()
}

func (c *Client) call(ctx context.Context, suffix string, req, resp interface{}) error {
	if err := c.breaker.Allow(); err != nil {
		return sdkerrors.NewError(sdkerrors.CodeUnavailable, "counter service circuit open", err)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	msg := nats.NewMsg(subject(c.cfg.SubjectPrefix, suffix))
	msg.Data = data
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))

	reply, err := c.conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		c.breaker.RecordFailure()
		c.logger.Warn("counter request failed",
			zap.String("subject", msg.Subject),
			zap.String("circuit", c.breaker.GetState().String()),
			zap.Error(err))
		return transportError(err)
	}
	c.breaker.RecordSuccess()

	if err := json.Unmarshal(reply.Data, resp); err != nil {
		return sdkerrors.NewError(sdkerrors.CodeInternal, "malformed reply",
			fmt.Errorf("%w: %v", sdkerrors.ErrInvalidMessage, err))
	}
	return nil
}

func transportError(err error) error {
	switch {
	case errors.Is(err, nats.ErrNoResponders):
		return sdkerrors.NewError(sdkerrors.CodeUnavailable, "no counter service is listening",
			fmt.Errorf("%w: %v", sdkerrors.ErrNoResponse, err))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
		return sdkerrors.NewError(sdkerrors.CodeUnavailable, "counter service did not reply in time",
			fmt.Errorf("%w: %v", sdkerrors.ErrTimeout, err))
	case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrDisconnected):
		return sdkerrors.NewError(sdkerrors.CodeUnavailable, "not connected",
			fmt.Errorf("%w: %v", sdkerrors.ErrNotConnected, err))
	}
	return err
}
