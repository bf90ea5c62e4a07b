package runtime

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultNodeFactory is the default implementation of EmbeddedNodeFactory.
// It maintains a thread-safe registry of node creators.
type DefaultNodeFactory struct {
	creators map[string]NodeCreator
	mu       sync.RWMutex
}

// NewDefaultNodeFactory creates a new default node factory.
func NewDefaultNodeFactory() *DefaultNodeFactory {
	return &DefaultNodeFactory{
		creators: make(map[string]NodeCreator),
	}
}

// Register registers a node creator for a plugin type, replacing any previous one.
func (f *DefaultNodeFactory) Register(pluginType string, creator NodeCreator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[pluginType] = creator
}

// Create creates an embedded node from configuration.
// Returns ErrNoExecutor if no creator is registered for the plugin type.
// Creator failures are wrapped in a ProcessingError with phase "create".
func (f *DefaultNodeFactory) Create(config EmbeddedNodeConfig) (EmbeddedNode, error) {
	f.mu.RLock()
	creator, exists := f.creators[config.PluginType]
	f.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNoExecutor, config.PluginType)
	}

	node, err := creator(config)
	if err != nil {
		return nil, NewProcessingError(config.NodeId, config.Label, config.PluginType, -1, PhaseCreate, err)
	}

	return node, nil
}

// HasCreator checks if a creator exists for a plugin type.
func (f *DefaultNodeFactory) HasCreator(pluginType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, exists := f.creators[pluginType]
	return exists
}

// RegisteredTypes returns all registered plugin types, sorted.
func (f *DefaultNodeFactory) RegisteredTypes() []string {
	f.mu.RLock()
	types := make([]string, 0, len(f.creators))
	for t := range f.creators {
		types = append(types, t)
	}
	f.mu.RUnlock()

	sort.Strings(types)
	return types
}

// Unregister removes a creator for a plugin type and reports whether one existed.
func (f *DefaultNodeFactory) Unregister(pluginType string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.creators[pluginType]; !exists {
		return false
	}
	delete(f.creators, pluginType)
	return true
}

var _ EmbeddedNodeFactory = (*DefaultNodeFactory)(nil)
