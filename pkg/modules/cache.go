package modules

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ringoldsdev/efemel/pkg/script"
)

// State is the lifecycle state of a cache entry.
type State int

const (
	// Pending means the module is being evaluated.
	Pending State = iota
	// Done means the module evaluated successfully.
	Done
	// Failed means evaluation failed; the error is memoized.
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Key identifies a cached evaluation.
type Key struct {
	Path        string
	Environment string
}

// Chain is one evaluation call stack, typically one entry file handled by one
// worker. It is not safe for use by more than one goroutine.
type Chain struct {
	id    uint64
	stack []string

	// waiting is the entry this chain is blocked on. Guarded by Cache.mu.
	waiting *entry
}

// ID returns the chain's run-unique identifier.
func (ch *Chain) ID() uint64 { return ch.id }

type entry struct {
	state  State
	module *script.Module
	err    error
	done   chan struct{}

	// owner is the chain evaluating the entry while it is Pending.
	owner *Chain
}

// Stats are cache counters for one run.
type Stats struct {
	Hits   int64
	Misses int64
}

// Cache memoizes module evaluations for one run. Lookups for different keys
// never block each other; lookups for the same key wait for the single
// evaluation in progress.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*entry

	chains atomic.Uint64
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[Key]*entry)}
}

// NewChain starts a new evaluation chain.
func (c *Cache) NewChain() *Chain {
	return &Chain{id: c.chains.Add(1)}
}

// GetOrEvaluate returns the module for key, calling evaluate exactly once per
// key across all chains. Referencing a key that is Pending on the same chain,
// or on a chain that is itself transitively waiting on this one, fails with a
// CircularImportError instead of blocking.
func (c *Cache) GetOrEvaluate(chain *Chain, key Key, evaluate func() (*script.Module, error)) (*script.Module, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{state: Pending, done: make(chan struct{}), owner: chain}
		c.entries[key] = e
		c.mu.Unlock()
		c.misses.Add(1)
		return c.evaluate(chain, key, e, evaluate)
	}

	switch e.state {
	case Done:
		c.mu.Unlock()
		c.hits.Add(1)
		return e.module, nil
	case Failed:
		c.mu.Unlock()
		c.hits.Add(1)
		return nil, e.err
	}

	if c.closesCycle(chain, e) {
		c.mu.Unlock()
		cycle := append(append([]string{}, chain.stack...), key.Path)
		return nil, &CircularImportError{Chain: cycle}
	}
	chain.waiting = e
	c.mu.Unlock()

	<-e.done

	c.mu.Lock()
	chain.waiting = nil
	module, err := e.module, e.err
	c.mu.Unlock()
	c.hits.Add(1)
	return module, err
}

// closesCycle walks the wait-for graph from the owner of e. Waiting would
// deadlock if the walk reaches chain. Must be called with c.mu held.
func (c *Cache) closesCycle(chain *Chain, e *entry) bool {
	for owner := e.owner; owner != nil; {
		if owner == chain {
			return true
		}
		if owner.waiting == nil {
			return false
		}
		owner = owner.waiting.owner
	}
	return false
}

func (c *Cache) evaluate(chain *Chain, key Key, e *entry, evaluate func() (*script.Module, error)) (module *script.Module, err error) {
	chain.stack = append(chain.stack, key.Path)
	defer func() {
		if r := recover(); r != nil {
			module, err = nil, fmt.Errorf("evaluating %s: panic: %v", key.Path, r)
		}
		chain.stack = chain.stack[:len(chain.stack)-1]

		c.mu.Lock()
		if err != nil {
			e.state, e.err = Failed, err
		} else {
			e.state, e.module = Done, module
		}
		e.owner = nil
		c.mu.Unlock()
		close(e.done)
	}()
	return evaluate()
}

// State reports the state of key.
func (c *Cache) State(key Key) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	return e.state, true
}

// Stats returns the hit and miss counters.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
