package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wehubfusion/cyclecounter/internal/config"
	natsconn "github.com/wehubfusion/cyclecounter/internal/nats"
	"github.com/wehubfusion/cyclecounter/internal/tracing"
	"github.com/wehubfusion/cyclecounter/pkg/concurrency"
	"github.com/wehubfusion/cyclecounter/pkg/counter"
	"github.com/wehubfusion/cyclecounter/pkg/service"
	"github.com/wehubfusion/cyclecounter/pkg/storage"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve counters over NATS",
		Long: `Serve holds one counter engine and answers advance and token requests on
<prefix>.advance and <prefix>.token until SIGINT or SIGTERM. With a snapshot
backend configured, state is restored at startup and saved periodically.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log, rootOpts.Format, cmd.ErrOrStderr())
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	undo := concurrency.InitializeForKubernetes(logger)
	defer undo()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			SampleRate:  cfg.Sentry.SampleRate,
			ServerName:  config.ServiceName,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	shutdownTracing, err := tracing.SetupTracing(ctx, cfg.TracingConfig(), logger)
	if err != nil {
		return err
	}
	defer func() { _ = tracing.ShutdownTracing(shutdownTracing, logger) }()

	engine := counter.NewEngineWithConfig(cfg.EngineConfig().WithLogger(logger))

	checkpointer, closeStore, err := openCheckpointer(cfg.Snapshot, engine, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore.Close() }()

	if checkpointer != nil {
		if err := checkpointer.Restore(ctx); err != nil {
			return err
		}
	}

	conn, err := natsconn.Connect(ctx, cfg.ConnectionConfig(), logger)
	if err != nil {
		return err
	}
	defer func() { _ = natsconn.Close(conn) }()

	svc, err := service.New(conn, engine, cfg.ServiceConfig(), logger)
	if err != nil {
		return err
	}
	if err := svc.Start(); err != nil {
		return err
	}
	logger.Info("serving", zap.Int("restored_keys", engine.Len()))

	return runUntilDone(ctx, svc, checkpointer, cfg.Snapshot.Interval, logger)
}

// stopper is the part of service.Service that shutdown needs.
type stopper interface {
	Stop() error
}

// runUntilDone keeps periodic snapshots running until ctx ends, then stops
// svc and only afterwards lets the checkpointer write its final snapshot.
// The checkpointer has its own context so its final save cannot race the
// requests that are still draining.
func runUntilDone(ctx context.Context, svc stopper, checkpointer *storage.Checkpointer, interval time.Duration, logger *zap.Logger) error {
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()

	saved := make(chan error, 1)
	if checkpointer != nil {
		go func() { saved <- checkpointer.Run(runCtx, interval) }()
	} else {
		saved <- nil
	}

	<-ctx.Done()
	logger.Info("shutting down")

	stopErr := svc.Stop()
	cancelRun()
	return errors.Join(stopErr, <-saved)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// openCheckpointer opens the configured snapshot backend. It returns a nil
// checkpointer when snapshots are disabled.
func openCheckpointer(cfg config.SnapshotConfig, engine *counter.Engine, logger *zap.Logger) (*storage.Checkpointer, io.Closer, error) {
	noop := closerFunc(func() error { return nil })

	switch cfg.Backend {
	case storage.BackendSQLite:
		store, err := storage.OpenSQLite(cfg.Path, logger)
		if err != nil {
			return nil, noop, err
		}
		return storage.NewCheckpointer(store, engine, cfg.Name, logger), store, nil
	case storage.BackendAzureBlob:
		store, err := storage.NewAzureBlobStore(cfg.ConnectionString, cfg.Container, cfg.Prefix, logger)
		if err != nil {
			return nil, noop, err
		}
		return storage.NewCheckpointer(store, engine, cfg.Name, logger), noop, nil
	}
	return nil, noop, nil
}
