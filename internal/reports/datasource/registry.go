package datasource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"carbon-scribe/report-engine/internal/reports"
)

// ServiceFunc computes data for a service data source. args holds the
// source args merged with the validated parameters.
type ServiceFunc func(ctx context.Context, q Querier, args map[string]any) (any, error)

// Registry maps dotted service names such as "Sales.regions" to functions
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]ServiceFunc
}

// NewRegistry creates an empty service registry
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]ServiceFunc)}
}

// Register adds fn under name, replacing any previous registration
func (r *Registry) Register(name string, fn ServiceFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Lookup finds the function for method, first by its full name and then by
// its last two dotted segments, so "app.services.Sales.regions" resolves a
// registration of "Sales.regions"
func (r *Registry) Lookup(method string) (ServiceFunc, error) {
	if !strings.Contains(method, ".") {
		return nil, &reports.DataSourceError{Message: fmt.Sprintf("service method %q must be of the form Name.method", method)}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if fn, ok := r.funcs[method]; ok {
		return fn, nil
	}
	parts := strings.Split(method, ".")
	if len(parts) > 2 {
		if fn, ok := r.funcs[strings.Join(parts[len(parts)-2:], ".")]; ok {
			return fn, nil
		}
	}
	return nil, &reports.DataSourceError{Message: fmt.Sprintf("no service registered for %q", method)}
}

// Names lists the registered service names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// call invokes fn, turning errors and panics into DataSourceErrors
func call(ctx context.Context, method string, fn ServiceFunc, q Querier, args map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &reports.DataSourceError{Message: fmt.Sprintf("service %s panicked: %v", method, r)}
		}
	}()

	result, err = fn(ctx, q, args)
	if err != nil {
		var dsErr *reports.DataSourceError
		if errors.As(err, &dsErr) {
			return nil, err
		}
		return nil, &reports.DataSourceError{Message: fmt.Sprintf("service %s failed", method), Err: err}
	}
	return result, nil
}
