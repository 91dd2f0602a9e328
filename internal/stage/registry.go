package stage

import (
	"context"
	"fmt"
	"sort"
)

// Registry maps stage names to handlers and fixes the pipeline order.
// The order is set once at construction; executors use it to chain a
// completed stage into the next one.
type Registry struct {
	order    []string
	handlers map[string]Handler
}

// NewRegistry builds a registry for the given pipeline order. Handlers
// are attached afterwards with Register.
func NewRegistry(order []string) *Registry {
	names := make([]string, len(order))
	copy(names, order)
	return &Registry{
		order:    names,
		handlers: make(map[string]Handler, len(order)),
	}
}

// Register attaches a handler for a named stage. Registering a stage
// outside the pipeline order is a wiring bug and returns an error.
func (r *Registry) Register(name string, h Handler) error {
	if h == nil {
		return fmt.Errorf("stage %q: nil handler", name)
	}
	found := false
	for _, n := range r.order {
		if n == name {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("stage %q is not part of the pipeline", name)
	}
	r.handlers[name] = h
	return nil
}

// Handler returns the handler for a stage name.
func (r *Registry) Handler(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// First returns the opening stage of the pipeline.
func (r *Registry) First() string {
	if len(r.order) == 0 {
		return ""
	}
	return r.order[0]
}

// Next returns the stage that follows name, or "" when name is the
// final stage or unknown.
func (r *Registry) Next(name string) string {
	for i, n := range r.order {
		if n == name && i+1 < len(r.order) {
			return r.order[i+1]
		}
	}
	return ""
}

// Order returns a copy of the pipeline order.
func (r *Registry) Order() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len reports the number of stages in the pipeline.
func (r *Registry) Len() int {
	return len(r.order)
}

// Position returns the zero-based index of a stage, or -1 when the
// stage is not part of the pipeline.
func (r *Registry) Position(name string) int {
	for i, n := range r.order {
		if n == name {
			return i
		}
	}
	return -1
}

// Validate ensures every pipeline stage has a registered handler.
func (r *Registry) Validate() error {
	var missing []string
	for _, n := range r.order {
		if _, ok := r.handlers[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("stages missing handlers: %v", missing)
	}
	return nil
}

// HealthChecks runs every registered handler's health check and returns
// the reports in pipeline order.
func (r *Registry) HealthChecks(ctx context.Context) []Health {
	reports := make([]Health, 0, len(r.order))
	for _, n := range r.order {
		h, ok := r.handlers[n]
		if !ok {
			reports = append(reports, Unhealthy(n, "no handler registered"))
			continue
		}
		reports = append(reports, h.HealthCheck(ctx))
	}
	return reports
}
