package tests

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/wehubfusion/cyclecounter/pkg/counter"
	"github.com/wehubfusion/cyclecounter/pkg/embedded/processors"
	"github.com/wehubfusion/cyclecounter/pkg/embedded/processors/cycliccounter"
	"github.com/wehubfusion/cyclecounter/pkg/embedded/runtime"
)

func nodeConfig(t *testing.T, nodeID string, cfg map[string]interface{}) runtime.EmbeddedNodeConfig {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	return runtime.EmbeddedNodeConfig{
		NodeId:     nodeID,
		Label:      "Counter " + nodeID,
		PluginType: cycliccounter.PluginType,
		NodeConfig: runtime.NodeConfig{NodeId: nodeID, Config: raw},
	}
}

func newNode(t *testing.T, engine counter.Advancer, cfg runtime.EmbeddedNodeConfig) runtime.EmbeddedNode {
	t.Helper()
	node, err := processors.NewProcessorRegistry(engine).Create(cfg)
	require.NoError(t, err)
	return node
}

func run(t *testing.T, node runtime.EmbeddedNode, cfg runtime.EmbeddedNodeConfig, data map[string]interface{}) (int64, int64) {
	t.Helper()
	out := node.Process(runtime.NewProcessInput(context.Background(), cfg, data))
	require.NoError(t, out.Error)
	return out.Data["value"].(int64), out.Data["cycle"].(int64)
}

func TestCyclicCounter_DefaultsToIncrementZeroToSix(t *testing.T) {
	engine := counter.NewEngine()
	cfg := nodeConfig(t, "n1", map[string]interface{}{})
	node := newNode(t, engine, cfg)

	var values, cycles []int64
	for i := 0; i < 9; i++ {
		v, c := run(t, node, cfg, nil)
		values = append(values, v)
		cycles = append(cycles, c)
	}

	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 0, 1}, values)
	assert.Equal(t, []int64{0, 0, 0, 0, 0, 0, 0, 1, 1}, cycles)
}

func TestCyclicCounter_NodesAreIndependent(t *testing.T) {
	engine := counter.NewEngine()
	cfgA := nodeConfig(t, "a", map[string]interface{}{"mode": "increment", "end": 3})
	cfgB := nodeConfig(t, "b", map[string]interface{}{"mode": "increment", "end": 3})
	a := newNode(t, engine, cfgA)
	b := newNode(t, engine, cfgB)

	run(t, a, cfgA, nil)
	run(t, a, cfgA, nil)
	v, _ := run(t, a, cfgA, nil)
	assert.Equal(t, int64(2), v)

	v, _ = run(t, b, cfgB, nil)
	assert.Equal(t, int64(0), v)
}

func TestCyclicCounter_GroupKeySharesState(t *testing.T) {
	engine := counter.NewEngine()
	cfgA := nodeConfig(t, "a", map[string]interface{}{"end": 2, "group_key": "shared"})
	cfgB := nodeConfig(t, "b", map[string]interface{}{"end": 2, "group_key": "shared"})
	a := newNode(t, engine, cfgA)
	b := newNode(t, engine, cfgB)

	var got [][2]int64
	for i := 0; i < 2; i++ {
		v, c := run(t, a, cfgA, nil)
		got = append(got, [2]int64{v, c})
		v, c = run(t, b, cfgB, nil)
		got = append(got, [2]int64{v, c})
	}

	assert.Equal(t, [][2]int64{{0, 0}, {1, 0}, {2, 0}, {0, 1}}, got)
	assert.Equal(t, []string{"GROUP::shared"}, engine.Keys())
}

func TestCyclicCounter_InstanceIDOverridesNodeID(t *testing.T) {
	engine := counter.NewEngine()
	cfg := nodeConfig(t, "n1", map[string]interface{}{"instance_id": "worker-7"})
	node := newNode(t, engine, cfg)

	run(t, node, cfg, nil)

	assert.Equal(t, []string{"worker-7"}, engine.Keys())
}

func TestCyclicCounter_InputOverrides(t *testing.T) {
	engine := counter.NewEngine()
	cfg := nodeConfig(t, "n1", map[string]interface{}{"mode": "increment", "start": 0, "end": 9})
	node := newNode(t, engine, cfg)

	run(t, node, cfg, nil)
	run(t, node, cfg, nil)
	v, _ := run(t, node, cfg, nil)
	require.Equal(t, int64(2), v)

	v, c := run(t, node, cfg, map[string]interface{}{"reset": true})
	assert.Equal(t, int64(0), v)
	assert.Equal(t, int64(0), c)

	v, _ = run(t, node, cfg, map[string]interface{}{"mode": "fixed", "unrelated": "ignored"})
	assert.Equal(t, int64(0), v)

	v, _ = run(t, node, cfg, map[string]interface{}{"step": float64(4)})
	assert.Equal(t, int64(4), v)
}

func TestCyclicCounter_ConfigurationErrors(t *testing.T) {
	engine := counter.NewEngine()

	cases := []struct {
		name  string
		cfg   map[string]interface{}
		data  map[string]interface{}
		field string
	}{
		{name: "end below start", cfg: map[string]interface{}{"start": 5, "end": 1}, field: "end"},
		{name: "zero step", cfg: map[string]interface{}{"step": 0}, field: "step"},
		{name: "unknown mode", cfg: map[string]interface{}{"mode": "spiral"}, field: "mode"},
		{name: "string start", cfg: map[string]interface{}{"start": "zero"}, field: "start"},
		{name: "fractional override", data: map[string]interface{}{"end": 2.5}, field: "end"},
		{name: "non-bool override", data: map[string]interface{}{"reset": "yes"}, field: "reset"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := nodeConfig(t, "bad", tc.cfg)
			node := newNode(t, engine, cfg)

			out := node.Process(runtime.NewProcessInput(context.Background(), cfg, tc.data))
			require.Error(t, out.Error)

			var perr *runtime.ProcessingError
			require.True(t, errors.As(out.Error, &perr))
			assert.Equal(t, runtime.PhaseConfigure, perr.Phase)

			var cerr *counter.ConfigurationError
			require.True(t, errors.As(out.Error, &cerr))
			assert.Equal(t, tc.field, cerr.Field)
			assert.True(t, runtime.IsPermanentError(out.Error))
		})
	}

	assert.Zero(t, engine.Len(), "rejected configurations must not create state")
}

func TestCyclicCounter_KeyResolutionError(t *testing.T) {
	engine := counter.NewEngine()
	cfg := nodeConfig(t, "", map[string]interface{}{})
	node := newNode(t, engine, cfg)

	out := node.Process(runtime.NewProcessInput(context.Background(), cfg, nil))

	var perr *runtime.ProcessingError
	require.True(t, errors.As(out.Error, &perr))
	assert.Equal(t, runtime.PhaseResolve, perr.Phase)
	assert.True(t, counter.IsKeyResolutionError(out.Error))
}

func TestCyclicCounter_ChangeTokenAlwaysDiffers(t *testing.T) {
	engine := counter.NewEngine()
	cfg := nodeConfig(t, "n1", map[string]interface{}{"mode": "fixed"})
	node := newNode(t, engine, cfg)

	detector, ok := node.(runtime.ChangeDetector)
	require.True(t, ok)

	input := runtime.NewProcessInput(context.Background(), cfg, nil)
	first := detector.ChangeToken(input)
	second := detector.ChangeToken(input)

	assert.NotEqual(t, first, second)
	assert.Zero(t, engine.Len(), "change tokens must not touch state")
}

func TestCyclicCounter_ChangeTokenFallsBackOnBrokenOverrides(t *testing.T) {
	engine := counter.NewEngine()
	cfg := nodeConfig(t, "n1", map[string]interface{}{"mode": "fixed", "start": 3, "end": 9})
	node := newNode(t, engine, cfg)
	detector := node.(runtime.ChangeDetector)

	token := detector.ChangeToken(runtime.NewProcessInput(context.Background(), cfg, map[string]interface{}{"mode": "spiral"}))
	want := counter.ChangeToken(counter.DefaultConfig())

	prefix, _, ok := strings.Cut(token, "#")
	require.True(t, ok)
	wantPrefix, _, _ := strings.Cut(want, "#")
	assert.Equal(t, wantPrefix, prefix)
	assert.Zero(t, engine.Len())
}

func TestCyclicCounter_RecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	engine := counter.NewEngine()
	cfg := nodeConfig(t, "n1", map[string]interface{}{})
	node, err := cycliccounter.NewCreator(engine, cycliccounter.WithTracer(provider.Tracer("test")))(cfg)
	require.NoError(t, err)

	run(t, node, cfg, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "cyclic_counter.advance", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "n1", attrs["counter.key"].AsString())
	assert.False(t, attrs["counter.grouped"].AsBool())
	assert.Equal(t, int64(0), attrs["counter.value"].AsInt64())
}

func TestCyclicCounter_RejectsOtherPluginTypes(t *testing.T) {
	_, err := cycliccounter.NewCreator(counter.NewEngine())(runtime.EmbeddedNodeConfig{PluginType: "plugin-strings"})
	assert.Error(t, err)

	_, err = cycliccounter.NewCreator(nil)(runtime.EmbeddedNodeConfig{PluginType: cycliccounter.PluginType})
	assert.ErrorIs(t, err, runtime.ErrInvalidConfig)
}

func TestCyclicCounter_DrivenBatchKeepsOrder(t *testing.T) {
	engine := counter.NewEngine()
	cfg := nodeConfig(t, "n1", map[string]interface{}{"mode": "decrement", "start": 1, "end": 3})
	node := newNode(t, engine, cfg)

	results, err := runtime.Drive(context.Background(), node, cfg, runtime.Items(nil, nil, nil, nil), runtime.DefaultDriveConfig())
	require.NoError(t, err)

	var values []int64
	for _, r := range results {
		require.NoError(t, r.Error)
		values = append(values, r.Output["value"].(int64))
	}
	assert.Equal(t, []int64{1, 3, 2, 1}, values)
}
