package cycliccounter

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wehubfusion/cyclecounter/pkg/counter"
	"github.com/wehubfusion/cyclecounter/pkg/embedded/runtime"
)

// PluginType is the plugin type handled by this node.
const PluginType = "plugin-cyclic-counter"

// PhaseAdvance marks failures reported by the engine itself.
const PhaseAdvance = "advance"

// Option customizes nodes built by NewCreator.
type Option func(*options)

type options struct {
	tracer trace.Tracer
	logger runtime.Logger
}

// WithTracer sets the tracer used for advance spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// WithLogger sets the node logger.
func WithLogger(logger runtime.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// CyclicCounterNode emits a (value, cycle) pair per invocation, backed by a
// shared counter engine.
type CyclicCounterNode struct {
	runtime.BaseNode
	engine counter.Advancer
	tracer trace.Tracer
	logger runtime.Logger
}

var (
	_ runtime.EmbeddedNode   = (*CyclicCounterNode)(nil)
	_ runtime.ChangeDetector = (*CyclicCounterNode)(nil)
)

// NewCreator returns the NodeCreator for PluginType. Every node it creates
// advances counters through engine, so nodes sharing a group key share state.
func NewCreator(engine counter.Advancer, opts ...Option) runtime.NodeCreator {
	o := options{
		tracer: otel.Tracer("cyclecounter/cycliccounter"),
		logger: &runtime.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	return func(config runtime.EmbeddedNodeConfig) (runtime.EmbeddedNode, error) {
		if config.PluginType != PluginType {
			return nil, fmt.Errorf("invalid plugin type: expected '%s', got '%s'", PluginType, config.PluginType)
		}
		if engine == nil {
			return nil, fmt.Errorf("%w: no counter engine configured", runtime.ErrInvalidConfig)
		}
		return &CyclicCounterNode{
			BaseNode: runtime.NewBaseNode(config),
			engine:   engine,
			tracer:   o.tracer,
			logger:   o.logger,
		}, nil
	}
}

// Process advances the counter selected by the node configuration and input
// overrides, and returns {"value": v, "cycle": c}.
func (n *CyclicCounterNode) Process(input runtime.ProcessInput) runtime.ProcessOutput {
	settings, cfg, err := n.resolveConfig(input)
	if err != nil {
		return runtime.ErrorOutput(n.fail(input, runtime.PhaseConfigure, err))
	}

	key, err := counter.ResolveKey(cfg.GroupKey, settings.InstanceKey(n.NodeId()))
	if err != nil {
		return runtime.ErrorOutput(n.fail(input, runtime.PhaseResolve, err))
	}

	ctx, span := n.tracer.Start(input.Context(), "cyclic_counter.advance",
		trace.WithAttributes(
			attribute.String("node.id", n.NodeId()),
			attribute.String("counter.key", key),
			attribute.Bool("counter.grouped", counter.IsGroupKey(key)),
			attribute.String("counter.mode", string(cfg.Mode)),
			attribute.Bool("counter.reset", cfg.Reset),
			attribute.Bool("counter.reset_cycle_only", cfg.ResetCycleOnly),
		),
	)
	defer span.End()

	res, err := n.engine.Advance(ctx, cfg, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return runtime.ErrorOutput(n.fail(input, PhaseAdvance, err))
	}

	span.SetAttributes(
		attribute.Int64("counter.value", res.Value),
		attribute.Int64("counter.cycle", res.Cycle),
	)
	span.SetStatus(codes.Ok, "")

	n.logger.Debug("cyclic counter advanced",
		runtime.Field{Key: "node_id", Value: n.NodeId()},
		runtime.Field{Key: "key", Value: key},
		runtime.Field{Key: "value", Value: res.Value},
		runtime.Field{Key: "cycle", Value: res.Cycle},
	)

	return runtime.SuccessOutput(map[string]interface{}{
		"value": res.Value,
		"cycle": res.Cycle,
	})
}

// ChangeToken returns a token that differs on every call so hosts always
// re-run the node. It never touches counter state.
func (n *CyclicCounterNode) ChangeToken(input runtime.ProcessInput) string {
	_, cfg, err := n.resolveConfig(input)
	if err != nil {
		// Process reports the broken config; the token only needs a stable prefix.
		cfg = counter.DefaultConfig()
	}
	return counter.ChangeToken(cfg)
}

// resolveConfig layers input overrides on the static node configuration.
func (n *CyclicCounterNode) resolveConfig(input runtime.ProcessInput) (Settings, counter.Config, error) {
	raw := input.RawConfig
	if len(raw) == 0 {
		raw = n.RawConfig()
	}

	settings, err := ParseSettings(raw)
	if err != nil {
		return Settings{}, counter.Config{}, err
	}
	settings, err = settings.WithOverrides(input.Data)
	if err != nil {
		return Settings{}, counter.Config{}, err
	}

	cfg, err := settings.Counter()
	if err != nil {
		return settings, counter.Config{}, err
	}
	return settings, cfg, nil
}

func (n *CyclicCounterNode) fail(input runtime.ProcessInput, phase string, err error) error {
	n.logger.Warn("cyclic counter failed",
		runtime.Field{Key: "node_id", Value: n.NodeId()},
		runtime.Field{Key: "phase", Value: phase},
		runtime.Field{Key: "error", Value: err},
	)
	return runtime.NewProcessingError(n.NodeId(), n.Label(), n.PluginType(), input.ItemIndex, phase, err)
}
