package processors

import (
	"github.com/wehubfusion/cyclecounter/pkg/counter"
	"github.com/wehubfusion/cyclecounter/pkg/embedded/processors/cycliccounter"
	"github.com/wehubfusion/cyclecounter/pkg/embedded/runtime"
)

// NewProcessorRegistry creates a node factory with every available processor
// registered. Counter nodes advance their state through engine.
func NewProcessorRegistry(engine counter.Advancer, opts ...cycliccounter.Option) *runtime.DefaultNodeFactory {
	factory := runtime.NewDefaultNodeFactory()

	factory.Register(cycliccounter.PluginType, cycliccounter.NewCreator(engine, opts...))

	return factory
}
