package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wehubfusion/cyclecounter/internal/config"
	natsconn "github.com/wehubfusion/cyclecounter/internal/nats"
	"github.com/wehubfusion/cyclecounter/pkg/counter"
	"github.com/wehubfusion/cyclecounter/pkg/embedded/processors"
	"github.com/wehubfusion/cyclecounter/pkg/embedded/processors/cycliccounter"
	"github.com/wehubfusion/cyclecounter/pkg/embedded/runtime"
	"github.com/wehubfusion/cyclecounter/pkg/iteration"
	"github.com/wehubfusion/cyclecounter/pkg/service"
)

// AdvanceOptions holds the flags of the advance command.
type AdvanceOptions struct {
	Settings    cycliccounter.Settings
	Count       int
	Seed        uint64
	RandomCycle string
	Remote      bool
	Strategy    string
	Workers     int
}

// NewAdvanceCommand creates the advance command.
func NewAdvanceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AdvanceOptions{Settings: cycliccounter.DefaultSettings()}

	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Advance a counter and print each emitted value",
		Long: `Advance runs a cyclic counter node --count times and prints one line per
invocation. Without --remote the counter lives in this process only; with
--remote it is advanced by a running "cyclecounter serve" over NATS.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdvance(cmd, rootOpts, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Settings.Mode, "mode", "m", opts.Settings.Mode, "counter mode (fixed|increment|decrement|randomize)")
	f.Int64Var(&opts.Settings.Start, "start", opts.Settings.Start, "lower bound of the range")
	f.Int64Var(&opts.Settings.End, "end", opts.Settings.End, "upper bound of the range")
	f.Int64Var(&opts.Settings.Step, "step", opts.Settings.Step, "increment or decrement amount")
	f.StringVarP(&opts.Settings.GroupKey, "group-key", "g", "", "share state with every counter using this key")
	f.StringVar(&opts.Settings.InstanceID, "instance-id", "cli", "counter identity when no group key is set")
	f.BoolVar(&opts.Settings.Reset, "reset", false, "reset value and cycle on every invocation")
	f.BoolVar(&opts.Settings.ResetCycleOnly, "reset-cycle-only", false, "reset the cycle count before every invocation")
	f.IntVarP(&opts.Count, "count", "n", 1, "number of invocations")
	f.Uint64Var(&opts.Seed, "seed", 0, "seed for randomize mode (0 = random)")
	f.StringVar(&opts.RandomCycle, "random-cycle", "", "cycle policy for randomize mode (heuristic|none), overrides the configuration")
	f.BoolVar(&opts.Remote, "remote", false, "advance through a running service instead of a local engine")
	f.StringVar(&opts.Strategy, "strategy", string(iteration.StrategySequential), "how invocations are dispatched (sequential|parallel)")
	f.IntVar(&opts.Workers, "workers", 0, "parallel workers (0 = number of CPUs)")

	return cmd
}

func runAdvance(cmd *cobra.Command, rootOpts *RootOptions, opts *AdvanceOptions) error {
	if opts.Count < 1 {
		return fmt.Errorf("--count must be at least 1, got %d", opts.Count)
	}
	strategy, err := iteration.ParseStrategy(opts.Strategy)
	if err != nil {
		return fmt.Errorf("--strategy: %w", err)
	}
	if opts.Workers < 0 {
		return fmt.Errorf("--workers must not be negative, got %d", opts.Workers)
	}

	cfg, err := rootOpts.loadConfig()
	if err != nil {
		return err
	}
	if opts.RandomCycle != "" {
		cfg.Engine.RandomCycle = opts.RandomCycle
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger := newLogger(cfg.Log, rootOpts.Format, cmd.ErrOrStderr())
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	engine, closeEngine, err := advancer(ctx, cfg, opts, logger)
	if err != nil {
		return err
	}
	defer closeEngine()

	raw, err := json.Marshal(opts.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode node configuration: %w", err)
	}

	factory := processors.NewProcessorRegistry(engine,
		cycliccounter.WithLogger(runtime.NewZapLogger(logger)))
	nodeCfg := runtime.EmbeddedNodeConfig{
		NodeId:     "cli",
		Label:      "cyclecounter advance",
		PluginType: cycliccounter.PluginType,
		NodeConfig: runtime.NodeConfig{NodeId: "cli", Config: raw},
	}
	node, err := factory.Create(nodeCfg)
	if err != nil {
		return err
	}

	workers := 1
	if strategy == iteration.StrategyParallel {
		workers = opts.Workers
	}
	metrics := runtime.NewMetricsCollector(workers)
	// Parallel runs share one counter, so lines keep invocation order but
	// values are handed out in completion order.
	results, err := runtime.Drive(ctx, node, nodeCfg, runtime.Items(make([]map[string]interface{}, opts.Count)...), runtime.DriveConfig{
		Strategy:         strategy,
		MaxConcurrent:    opts.Workers,
		StopOnFirstError: true,
		Metrics:          metrics,
		Logger:           runtime.NewZapLogger(logger),
	})
	if err != nil {
		return err
	}

	out := lineWriter{format: rootOpts.Format, w: cmd.OutOrStdout()}
	for _, r := range results {
		value, _ := r.Output["value"].(int64)
		cycle, _ := r.Output["cycle"].(int64)
		if err := out.write(advanceLine{Value: value, Cycle: cycle}); err != nil {
			return err
		}
	}

	logger.Debug("advance finished",
		zap.Int64("invocations", metrics.GetMetrics().TotalItemsProcessed),
		zap.Duration("avg_duration", metrics.AverageProcessingTime()))
	return nil
}

// advancer returns the engine the node advances through: a local engine, or a
// service client when --remote is set.
func advancer(ctx context.Context, cfg *config.Config, opts *AdvanceOptions, logger *zap.Logger) (counter.Advancer, func(), error) {
	if !opts.Remote {
		ec := cfg.EngineConfig().WithLogger(logger)
		if opts.Seed != 0 {
			ec = ec.WithRand(rand.New(rand.NewPCG(opts.Seed, opts.Seed)))
		}
		return counter.NewEngineWithConfig(ec), func() {}, nil
	}

	conn, err := natsconn.Connect(ctx, cfg.ConnectionConfig(), logger)
	if err != nil {
		return nil, nil, err
	}

	cc := service.DefaultClientConfig()
	cc.SubjectPrefix = cfg.Service.SubjectPrefix
	client, err := service.NewClient(conn, cc, logger)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return client, func() { _ = natsconn.Close(conn) }, nil
}
