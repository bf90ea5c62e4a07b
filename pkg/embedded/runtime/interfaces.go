package runtime

// EmbeddedNode is the interface that all embedded node processors must implement.
type EmbeddedNode interface {
	// Process executes the node's logic and returns the result.
	// This is the single entry point for all node processing.
	Process(input ProcessInput) ProcessOutput

	// NodeId returns the unique identifier of this node instance.
	NodeId() string

	// PluginType returns the type of plugin this node represents.
	PluginType() string
}

// ChangeDetector is implemented by nodes whose host must decide whether to
// re-run them. Hosts re-run a node whenever the returned token differs from the
// previous one. ChangeToken must not mutate node state.
type ChangeDetector interface {
	ChangeToken(input ProcessInput) string
}

// EmbeddedNodeFactory creates embedded nodes from configuration.
// It acts as a registry for node creators.
type EmbeddedNodeFactory interface {
	// Create creates an embedded node from its configuration.
	// Returns an error if the plugin type is not registered or creation fails.
	Create(config EmbeddedNodeConfig) (EmbeddedNode, error)

	// Register registers a creator function for a plugin type.
	Register(pluginType string, creator NodeCreator)

	// HasCreator checks if a creator exists for a plugin type.
	HasCreator(pluginType string) bool

	// RegisteredTypes returns all registered plugin types.
	RegisteredTypes() []string
}

// NodeCreator is a function that creates an embedded node from configuration.
type NodeCreator func(config EmbeddedNodeConfig) (EmbeddedNode, error)

// Metrics holds processing metrics for observability.
type Metrics struct {
	// TotalItemsProcessed is the count of items processed
	TotalItemsProcessed int64
	// TotalErrors is the count of processing errors
	TotalErrors int64
	// TotalSkipped is the count of skipped or rejected items
	TotalSkipped int64
	// ProcessingTimeNs is the total processing time in nanoseconds
	ProcessingTimeNs int64
	// ConcurrentWorkers is the number of workers used
	ConcurrentWorkers int
}

// MetricsCollector collects processing metrics.
type MetricsCollector interface {
	// RecordProcessed records a successfully processed item
	RecordProcessed(durationNs int64)
	// RecordError records a processing error
	RecordError()
	// RecordSkipped records a skipped item
	RecordSkipped()
	// GetMetrics returns the current metrics
	GetMetrics() Metrics
	// Reset resets all metrics
	Reset()
}
