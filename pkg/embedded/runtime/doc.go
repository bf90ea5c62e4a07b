// Package runtime provides the embedded node runtime used to host counter
// nodes inside a processing pipeline.
//
// # Key Components
//
// EmbeddedNode: the interface all embedded nodes implement. Each node has a
// single Process method that takes ProcessInput and returns ProcessOutput.
//
// ChangeDetector: optional interface for nodes that must be re-run on every
// invocation. Hosts compare successive tokens and re-run on any difference.
//
// DefaultNodeFactory: a thread-safe registry of NodeCreator functions keyed by
// plugin type.
//
// BaseNode: embeddable helper holding node identity and parsed configuration.
//
// Drive: invokes a node once per BatchItem through the iteration package.
// The default strategy is sequential, which keeps item order for nodes whose
// result depends on shared state.
//
// # Errors
//
// Node failures are returned in ProcessOutput.Error, usually as a
// ProcessingError carrying the node id, label, plugin type, item index and the
// phase that failed. IsPermanentError tells callers whether a retry can help.
//
// # Example
//
//	factory := runtime.NewDefaultNodeFactory()
//	factory.Register("plugin-cyclic-counter", creator)
//
//	node, err := factory.Create(cfg)
//	if err != nil {
//	    return err
//	}
//	results, err := runtime.Drive(ctx, node, cfg, runtime.Items(nil, nil, nil), runtime.DefaultDriveConfig())
package runtime
