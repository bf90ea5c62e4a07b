package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wehubfusion/cyclecounter/pkg/counter"
)

// DefaultSnapshotName is used when no snapshot name is configured.
const DefaultSnapshotName = "cyclecounter"

// Snapshotter is the part of counter.Engine a Checkpointer needs.
type Snapshotter interface {
	Snapshot() counter.Snapshot
	Restore(counter.Snapshot)
}

// Checkpointer copies engine state to a SnapshotStore and back.
type Checkpointer struct {
	store  SnapshotStore
	source Snapshotter
	name   string
	logger *zap.Logger
}

// NewCheckpointer creates a checkpointer saving source under name.
func NewCheckpointer(store SnapshotStore, source Snapshotter, name string, logger *zap.Logger) *Checkpointer {
	if name == "" {
		name = DefaultSnapshotName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checkpointer{store: store, source: source, name: name, logger: logger}
}

// Restore loads the last saved snapshot into the engine. A missing snapshot
// is not an error: the engine keeps its empty state.
func (c *Checkpointer) Restore(ctx context.Context) error {
	data, err := c.store.Load(ctx, c.name)
	if errors.Is(err, ErrSnapshotNotFound) {
		c.logger.Info("no snapshot to restore", zap.String("name", c.name))
		return nil
	}
	if err != nil {
		return err
	}

	snap, err := counter.UnmarshalSnapshot(data)
	if err != nil {
		return fmt.Errorf("snapshot %q: %w", c.name, err)
	}

	c.source.Restore(snap)
	c.logger.Info("snapshot restored",
		zap.String("name", c.name),
		zap.Int("keys", snap.Len()),
		zap.Time("taken_at", snap.TakenAt))
	return nil
}

// Save writes the current engine state.
func (c *Checkpointer) Save(ctx context.Context) error {
	snap := c.source.Snapshot()
	data, err := counter.MarshalSnapshot(snap)
	if err != nil {
		return err
	}
	if err := c.store.Save(ctx, c.name, data); err != nil {
		return err
	}
	c.logger.Debug("snapshot saved", zap.String("name", c.name), zap.Int("keys", snap.Len()))
	return nil
}

// Run saves every interval until ctx ends, then saves once more so the last
// state survives a clean shutdown. Failed periodic saves are logged and retried
// on the next tick; only the final save error is returned.
func (c *Checkpointer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := c.Save(finalCtx); err != nil {
				c.logger.Error("final snapshot failed", zap.Error(err))
				return err
			}
			return nil
		case <-ticker.C:
			if err := c.Save(ctx); err != nil {
				c.logger.Warn("periodic snapshot failed", zap.Error(err))
			}
		}
	}
}
