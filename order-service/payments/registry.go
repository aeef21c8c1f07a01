package payments

import (
	"fmt"
	"sort"

	"github.com/sdbondi/bn-api/order-service/errs"
)

// Registry maps provider names to processors. It is built once at startup
// and shared read-only.
type Registry struct {
	processors map[string]Processor
}

func NewRegistry(processors ...Processor) *Registry {
	r := &Registry{processors: make(map[string]Processor, len(processors))}
	for _, p := range processors {
		r.processors[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name string) (Processor, error) {
	p, ok := r.processors[name]
	if !ok {
		return nil, errs.Configuration(fmt.Sprintf("unknown payment provider %q", name))
	}
	return p, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.processors))
	for name := range r.processors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
