package hooks

import (
	"fmt"
	"sort"
	"sync"
)

// Hook points invoked by the orchestrator.
const (
	ProcessData    = "process_data"
	OutputFilename = "output_filename"
)

// Func is a hook function. It mutates the context in place; a returned error
// aborts the remaining hooks of the point.
type Func func(hc *Context) error

// Registration describes a registered hook.
type Registration struct {
	Point  string
	Name   string
	Before bool
	Source string
}

type hook struct {
	Registration
	fn Func
}

// Pipeline holds hook registrations. It is safe for concurrent use; Invoke
// never changes the registrations.
type Pipeline struct {
	mu    sync.RWMutex
	hooks map[string][]hook
}

// NewPipeline creates an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{hooks: make(map[string][]hook)}
}

// Register adds fn to point. Functions registered with before run ahead of
// the others.
func (p *Pipeline) Register(point, name string, fn Func, before bool) {
	p.RegisterFrom("", point, name, fn, before)
}

// RegisterFrom is like Register and records the source the hook was loaded from.
func (p *Pipeline) RegisterFrom(source, point, name string, fn Func, before bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks[point] = append(p.hooks[point], hook{
		Registration: Registration{Point: point, Name: name, Before: before, Source: source},
		fn:           fn,
	})
}

// ordered returns the hooks of point in invocation order.
func (p *Pipeline) ordered(point string) []hook {
	p.mu.RLock()
	defer p.mu.RUnlock()
	registered := p.hooks[point]
	out := make([]hook, 0, len(registered))
	for _, h := range registered {
		if h.Before {
			out = append(out, h)
		}
	}
	for _, h := range registered {
		if !h.Before {
			out = append(out, h)
		}
	}
	return out
}

// Invoke runs the hooks of point against hc and returns it. The first failing
// hook stops the point and is reported as an *ExecutionError.
func (p *Pipeline) Invoke(point string, hc *Context) (*Context, error) {
	for _, h := range p.ordered(point) {
		if err := call(h, hc); err != nil {
			return hc, &ExecutionError{Point: point, Hook: h.Name, Err: err}
		}
	}
	return hc, nil
}

func call(h hook, hc *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.fn(hc)
}

// List returns all registrations, grouped by point name and in invocation
// order within a point.
func (p *Pipeline) List() []Registration {
	var out []Registration
	for _, point := range p.Points() {
		for _, h := range p.ordered(point) {
			out = append(out, h.Registration)
		}
	}
	return out
}

// Points returns the names of points with at least one hook, sorted.
func (p *Pipeline) Points() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	points := make([]string, 0, len(p.hooks))
	for point, hooks := range p.hooks {
		if len(hooks) > 0 {
			points = append(points, point)
		}
	}
	sort.Strings(points)
	return points
}

// Count returns the number of hooks registered for point.
func (p *Pipeline) Count(point string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.hooks[point])
}

// Remove unregisters every hook of point called name and reports whether any
// was found.
func (p *Pipeline) Remove(point, name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	registered := p.hooks[point]
	kept := registered[:0:0]
	for _, h := range registered {
		if h.Name != name {
			kept = append(kept, h)
		}
	}
	p.hooks[point] = kept
	return len(kept) != len(registered)
}

// Clear removes the hooks of the given points, or of every point when none are
// given.
func (p *Pipeline) Clear(points ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(points) == 0 {
		p.hooks = make(map[string][]hook)
		return
	}
	for _, point := range points {
		delete(p.hooks, point)
	}
}
