package runtime

import (
	"context"
	"encoding/json"
)

// EmbeddedNodeConfig represents the configuration for an embedded node.
type EmbeddedNodeConfig struct {
	// NodeId is the unique identifier for this node
	NodeId string `json:"nodeId"`
	// Label is the human-readable name for this node
	Label string `json:"label"`
	// PluginType identifies which processor handles this node
	PluginType string `json:"pluginType"`
	// NodeConfig contains the node-specific configuration
	NodeConfig NodeConfig `json:"nodeConfig"`
}

// NodeConfig contains the detailed configuration for a node.
type NodeConfig struct {
	// NodeId is the unique identifier (matches parent EmbeddedNodeConfig.NodeId)
	NodeId string `json:"node_id"`
	// WorkflowId is the ID of the workflow this node belongs to
	WorkflowId string `json:"workflow_id"`
	// Config contains the node-specific configuration as raw JSON
	Config json.RawMessage `json:"config"`
}

// ProcessInput contains all data needed for an embedded node to process.
type ProcessInput struct {
	// Ctx is the context for cancellation and timeouts
	Ctx context.Context
	// Data is the per-invocation input; nodes may read overrides from it
	Data map[string]interface{}
	// Config is the node-specific configuration (parsed from NodeConfig.Config)
	Config map[string]interface{}
	// RawConfig is the original raw JSON configuration
	RawConfig json.RawMessage
	// NodeId is the ID of the node being processed
	NodeId string
	// PluginType is the type of processor handling this node
	PluginType string
	// Label is the human-readable name of the node
	Label string
	// ItemIndex is the current item index (-1 if not driven over a batch)
	ItemIndex int
	// TotalItems is the total number of items in the batch (0 if none)
	TotalItems int
}

// Context returns Ctx, or context.Background when Ctx is nil.
func (in ProcessInput) Context() context.Context {
	if in.Ctx == nil {
		return context.Background()
	}
	return in.Ctx
}

// ProcessOutput contains the result of embedded node processing.
type ProcessOutput struct {
	// Data is the output data from the node
	Data map[string]interface{}
	// Error is set if processing failed
	Error error
	// Skipped indicates if the node was skipped
	Skipped bool
	// SkipReason provides context for why the node was skipped
	SkipReason string
}

// BatchItem is one invocation input handed to Drive.
type BatchItem struct {
	// Index is the original position (for result ordering)
	Index int
	// Data becomes ProcessInput.Data for this invocation
	Data map[string]interface{}
}

// BatchResult is the outcome of one BatchItem.
type BatchResult struct {
	// Index is the original position (for result ordering)
	Index int
	// Output is the node output data
	Output map[string]interface{}
	// Skipped mirrors ProcessOutput.Skipped
	Skipped bool
	// Error is set if processing failed
	Error error
}

// NewProcessInput builds the input for a single invocation of the node
// described by config. ItemIndex is -1.
func NewProcessInput(ctx context.Context, config EmbeddedNodeConfig, data map[string]interface{}) ProcessInput {
	if data == nil {
		data = make(map[string]interface{})
	}
	return ProcessInput{
		Ctx:        ctx,
		Data:       data,
		Config:     parseConfigMap(config.NodeConfig.Config),
		RawConfig:  config.NodeConfig.Config,
		NodeId:     config.NodeId,
		PluginType: config.PluginType,
		Label:      config.Label,
		ItemIndex:  -1,
	}
}

func parseConfigMap(raw json.RawMessage) map[string]interface{} {
	var parsed map[string]interface{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &parsed)
	}
	if parsed == nil {
		parsed = make(map[string]interface{})
	}
	return parsed
}
