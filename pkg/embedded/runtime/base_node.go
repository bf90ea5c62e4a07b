package runtime

import (
	"encoding/json"
	"math"
)

// BaseNode provides common functionality for embedded nodes.
// Embed this in your custom node implementations.
type BaseNode struct {
	nodeId     string
	pluginType string
	label      string
	config     map[string]interface{}
	rawConfig  json.RawMessage
}

// NewBaseNode creates a new base node from configuration.
func NewBaseNode(config EmbeddedNodeConfig) BaseNode {
	return BaseNode{
		nodeId:     config.NodeId,
		pluginType: config.PluginType,
		label:      config.Label,
		config:     parseConfigMap(config.NodeConfig.Config),
		rawConfig:  config.NodeConfig.Config,
	}
}

// NodeId returns the node ID.
func (n *BaseNode) NodeId() string {
	return n.nodeId
}

// PluginType returns the plugin type.
func (n *BaseNode) PluginType() string {
	return n.pluginType
}

// Label returns the node label.
func (n *BaseNode) Label() string {
	return n.label
}

// Config returns the parsed configuration map.
func (n *BaseNode) Config() map[string]interface{} {
	return n.config
}

// RawConfig returns the raw JSON configuration.
func (n *BaseNode) RawConfig() json.RawMessage {
	return n.rawConfig
}

// HasConfig checks if a config key exists.
func (n *BaseNode) HasConfig(key string) bool {
	_, ok := n.config[key]
	return ok
}

// GetConfigStringWithDefault returns a config value as string with default.
func (n *BaseNode) GetConfigStringWithDefault(key, defaultVal string) string {
	if v, ok := n.config[key].(string); ok && v != "" {
		return v
	}
	return defaultVal
}

// GetConfigBoolWithDefault returns a config value as bool with default.
func (n *BaseNode) GetConfigBoolWithDefault(key string, defaultVal bool) bool {
	if v, ok := n.config[key].(bool); ok {
		return v
	}
	return defaultVal
}

// GetConfigInt64WithDefault returns a config value as int64 with default.
// Non-integral numbers yield the default.
func (n *BaseNode) GetConfigInt64WithDefault(key string, defaultVal int64) int64 {
	if v, ok := AsInt64(n.config[key]); ok {
		return v
	}
	return defaultVal
}

// AsInt64 converts a decoded JSON number (or a Go integer) to int64.
// It reports false for non-integral or out-of-range values.
func AsInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
		if x != math.Trunc(x) || x >= 1<<63 || x < math.MinInt64 {
			return 0, false
		}
		return int64(x), true
	case json.Number:
		i, err := x.Int64()
		return i, err == nil
	}
	return 0, false
}

// SuccessOutput creates a successful ProcessOutput with the given data.
func SuccessOutput(data map[string]interface{}) ProcessOutput {
	return ProcessOutput{Data: data}
}

// ErrorOutput creates a failed ProcessOutput with the given error.
func ErrorOutput(err error) ProcessOutput {
	return ProcessOutput{Error: err}
}
