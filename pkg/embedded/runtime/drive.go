package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/wehubfusion/cyclecounter/pkg/iteration"
)

// Drive invokes node once per item and returns one BatchResult per item, in
// item order. config describes the node and supplies the static configuration
// of every invocation; each item's Data becomes ProcessInput.Data.
//
// With StopOnFirstError the first failing item aborts the batch and its error
// is returned. Otherwise item failures are only reported in their BatchResult.
func Drive(ctx context.Context, node EmbeddedNode, config EmbeddedNodeConfig, items []BatchItem, cfg DriveConfig) ([]BatchResult, error) {
	cfg.Validate()

	it := iteration.NewIterator(iteration.Config{
		Strategy:      cfg.Strategy,
		MaxConcurrent: cfg.MaxConcurrent,
	})

	cfg.Logger.Debug("driving node",
		Field{Key: "node_id", Value: node.NodeId()},
		Field{Key: "plugin_type", Value: node.PluginType()},
		Field{Key: "items", Value: len(items)},
		Field{Key: "strategy", Value: string(it.Config().Strategy)},
	)

	results, err := iteration.Process(ctx, it, items, func(ctx context.Context, item BatchItem, index int) (BatchResult, error) {
		input := NewProcessInput(ctx, config, item.Data)
		input.ItemIndex = item.Index
		input.TotalItems = len(items)

		start := time.Now()
		out := node.Process(input)
		observe(cfg.Metrics, out, time.Since(start))

		if out.Error != nil {
			cfg.Logger.Warn("node invocation failed",
				Field{Key: "node_id", Value: node.NodeId()},
				Field{Key: "item", Value: item.Index},
				Field{Key: "error", Value: out.Error},
			)
			if cfg.StopOnFirstError {
				return BatchResult{}, out.Error
			}
		}

		return BatchResult{
			Index:   item.Index,
			Output:  out.Data,
			Skipped: out.Skipped,
			Error:   out.Error,
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProcessingFailed, err)
	}

	return results, nil
}

// Items wraps each data map in a BatchItem indexed by position.
func Items(data ...map[string]interface{}) []BatchItem {
	items := make([]BatchItem, len(data))
	for i, d := range data {
		items[i] = BatchItem{Index: i, Data: d}
	}
	return items
}
