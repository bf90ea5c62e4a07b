package tests

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/wehubfusion/cyclecounter/pkg/embedded/runtime"
	"github.com/wehubfusion/cyclecounter/pkg/iteration"
)

// countingNode emits an incrementing sequence number per call.
type countingNode struct {
	runtime.BaseNode
	calls  atomic.Int64
	failAt int
}

func (n *countingNode) Process(input runtime.ProcessInput) runtime.ProcessOutput {
	if input.ItemIndex == n.failAt {
		return runtime.ErrorOutput(runtime.NewProcessingError(n.NodeId(), n.Label(), n.PluginType(), input.ItemIndex, runtime.PhaseProcess, errors.New("boom")))
	}
	if skip, _ := input.Data["skip"].(bool); skip {
		return runtime.ProcessOutput{Skipped: true, SkipReason: "asked to skip"}
	}
	seq := n.calls.Add(1)
	return runtime.SuccessOutput(map[string]interface{}{"seq": seq, "index": input.ItemIndex})
}

func newCountingNode(cfg runtime.EmbeddedNodeConfig) (runtime.EmbeddedNode, error) {
	return &countingNode{BaseNode: runtime.NewBaseNode(cfg), failAt: -2}, nil
}

func TestDefaultNodeFactory(t *testing.T) {
	factory := runtime.NewDefaultNodeFactory()
	if factory.HasCreator("plugin-x") {
		t.Fatalf("expected no creator registered")
	}

	factory.Register("plugin-x", newCountingNode)
	factory.Register("plugin-a", newCountingNode)

	if !factory.HasCreator("plugin-x") {
		t.Fatalf("expected creator registered")
	}
	if types := factory.RegisteredTypes(); len(types) != 2 || types[0] != "plugin-a" || types[1] != "plugin-x" {
		t.Fatalf("unexpected registered types %v", types)
	}

	node, err := factory.Create(runtime.EmbeddedNodeConfig{NodeId: "n1", PluginType: "plugin-x", Label: "x"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if node.NodeId() != "n1" || node.PluginType() != "plugin-x" {
		t.Fatalf("node metadata mismatch")
	}

	if _, err := factory.Create(runtime.EmbeddedNodeConfig{PluginType: "missing"}); !errors.Is(err, runtime.ErrNoExecutor) {
		t.Fatalf("expected ErrNoExecutor, got %v", err)
	}

	if !factory.Unregister("plugin-a") || factory.Unregister("plugin-a") {
		t.Fatalf("unregister should succeed exactly once")
	}
}

func TestFactoryWrapsCreatorError(t *testing.T) {
	factory := runtime.NewDefaultNodeFactory()
	cause := errors.New("bad config")
	factory.Register("plugin-bad", func(cfg runtime.EmbeddedNodeConfig) (runtime.EmbeddedNode, error) {
		return nil, cause
	})

	_, err := factory.Create(runtime.EmbeddedNodeConfig{NodeId: "n1", Label: "bad", PluginType: "plugin-bad"})

	var perr *runtime.ProcessingError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProcessingError, got %T", err)
	}
	if perr.Phase != runtime.PhaseCreate || !errors.Is(err, cause) {
		t.Fatalf("unexpected processing error %+v", perr)
	}
}

func TestBaseNodeConfigParsing(t *testing.T) {
	raw, _ := json.Marshal(map[string]interface{}{"mode": "increment", "end": 9, "reset": true, "step": 1.5})
	base := runtime.NewBaseNode(runtime.EmbeddedNodeConfig{NodeId: "n1", PluginType: "p", Label: "label", NodeConfig: runtime.NodeConfig{Config: raw}})

	if base.NodeId() != "n1" || base.PluginType() != "p" || base.Label() != "label" {
		t.Fatalf("unexpected metadata from BaseNode")
	}
	if base.GetConfigStringWithDefault("mode", "fixed") != "increment" {
		t.Fatalf("expected config value")
	}
	if base.GetConfigInt64WithDefault("end", 6) != 9 {
		t.Fatalf("expected end=9")
	}
	if base.GetConfigInt64WithDefault("step", 1) != 1 {
		t.Fatalf("non-integral step should fall back to the default")
	}
	if !base.GetConfigBoolWithDefault("reset", false) {
		t.Fatalf("expected reset=true")
	}
	if base.HasConfig("group_key") {
		t.Fatalf("group_key was not configured")
	}
	if string(base.RawConfig()) != string(raw) {
		t.Fatalf("raw config mismatch")
	}
}

func TestAsInt64Range(t *testing.T) {
	cases := []struct {
		in   interface{}
		want int64
		ok   bool
	}{
		{float64(42), 42, true},
		{float64(-1 << 62), -1 << 62, true},
		{float64(1<<63 - 1024), 1<<63 - 1024, true},
		{float64(math.MinInt64), math.MinInt64, true},
		{float64(1 << 63), 0, false},
		{float64(math.MaxInt64), 0, false},
		{1.5, 0, false},
		{json.Number("9223372036854775808"), 0, false},
		{"7", 0, false},
	}
	for _, tc := range cases {
		got, ok := runtime.AsInt64(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("AsInt64(%v) = %d, %t; want %d, %t", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestProcessingErrorMessage(t *testing.T) {
	err := runtime.NewProcessingError("n1", "Counter", "plugin-x", 3, runtime.PhaseResolve, errors.New("no key"))
	want := "processing error in node Counter (n1) [plugin-x] at item 3 during resolve: no key"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}

	err = runtime.NewProcessingError("n1", "Counter", "plugin-x", -1, runtime.PhaseConfigure, errors.New("bad"))
	want = "processing error in node Counter (n1) [plugin-x] during configure: bad"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestDriveSequentialKeepsOrder(t *testing.T) {
	cfg := runtime.EmbeddedNodeConfig{NodeId: "n1", PluginType: "plugin-x", Label: "x"}
	node, _ := newCountingNode(cfg)
	metrics := runtime.NewMetricsCollector(1)

	results, err := runtime.Drive(context.Background(), node, cfg,
		runtime.Items(nil, map[string]interface{}{"skip": true}, nil, nil),
		runtime.DriveConfig{Metrics: metrics},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}

	wantSeq := []int64{1, 0, 2, 3}
	for i, r := range results {
		if r.Index != i {
			t.Fatalf("result %d has index %d", i, r.Index)
		}
		if i == 1 {
			if !r.Skipped {
				t.Fatalf("item 1 should be skipped")
			}
			continue
		}
		if r.Output["seq"] != wantSeq[i] {
			t.Fatalf("item %d: seq %v, want %d", i, r.Output["seq"], wantSeq[i])
		}
	}

	m := metrics.GetMetrics()
	if m.TotalItemsProcessed != 3 || m.TotalSkipped != 1 || m.TotalErrors != 0 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestDriveCollectsErrors(t *testing.T) {
	cfg := runtime.EmbeddedNodeConfig{NodeId: "n1", PluginType: "plugin-x", Label: "x"}
	node := &countingNode{BaseNode: runtime.NewBaseNode(cfg), failAt: 1}

	results, err := runtime.Drive(context.Background(), node, cfg, runtime.Items(nil, nil, nil), runtime.DefaultDriveConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[1].Error == nil || results[0].Error != nil || results[2].Error != nil {
		t.Fatalf("only item 1 should fail: %+v", results)
	}
}

func TestDriveStopOnFirstError(t *testing.T) {
	cfg := runtime.EmbeddedNodeConfig{NodeId: "n1", PluginType: "plugin-x", Label: "x"}
	node := &countingNode{BaseNode: runtime.NewBaseNode(cfg), failAt: 1}

	_, err := runtime.Drive(context.Background(), node, cfg, runtime.Items(nil, nil, nil), runtime.DriveConfig{StopOnFirstError: true})
	if !errors.Is(err, runtime.ErrProcessingFailed) {
		t.Fatalf("expected ErrProcessingFailed, got %v", err)
	}
	if node.calls.Load() != 1 {
		t.Fatalf("expected one successful call before stopping, got %d", node.calls.Load())
	}
}

func TestDriveParallel(t *testing.T) {
	cfg := runtime.EmbeddedNodeConfig{NodeId: "n1", PluginType: "plugin-x", Label: "x"}
	node, _ := newCountingNode(cfg)

	items := make([]map[string]interface{}, 50)
	results, err := runtime.Drive(context.Background(), node, cfg, runtime.Items(items...), runtime.DriveConfig{
		Strategy:      iteration.StrategyParallel,
		MaxConcurrent: 8,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := make(map[int64]bool)
	for _, r := range results {
		seen[r.Output["seq"].(int64)] = true
	}
	if len(seen) != 50 {
		t.Fatalf("expected 50 distinct sequence numbers, got %d", len(seen))
	}
}

func TestIsPermanentError(t *testing.T) {
	if !runtime.IsPermanentError(runtime.ErrInvalidConfig) {
		t.Fatalf("invalid config should be permanent")
	}
	if runtime.IsPermanentError(errors.New("transient")) {
		t.Fatalf("plain errors are not permanent")
	}
	if runtime.IsRetryableError(runtime.ErrContextCancelled) {
		t.Fatalf("cancellation is not retryable")
	}
}
