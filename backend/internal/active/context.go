// Package active maintains the Active Context: the bounded, LRU-evicted set
// of node URIs currently "in view". It is a pure view over the graph store:
// it never owns node content and is discarded in full on process restart.
package active

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"knowledge-engine/backend/internal/graph"
	"knowledge-engine/backend/pkg/logger"
)

// DefaultCap is the default maximum number of nodes held in view
const DefaultCap = 100

type entry struct {
	uri       string
	touchedAt time.Time
}

// Context is the LRU-governed working set. Touch and eviction are serialized
// behind a single mutex: the structure is small, high-frequency, shared state
// mutated concurrently by traversals and edits.
type Context struct {
	mu      sync.Mutex
	cap     int
	order   *list.List // front = least recently used
	members map[string]*list.Element
	onEvict func([]string)
	logger  *zap.Logger
}

// New creates an empty active context with the given cap (<= 0 means DefaultCap)
func New(cap int) *Context {
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Context{
		cap:     cap,
		order:   list.New(),
		members: make(map[string]*list.Element),
		logger:  logger.Get(),
	}
}

// Cap returns the configured node cap
func (c *Context) Cap() int {
	return c.cap
}

// SetOnEvict registers a callback for LRU evictions, invoked outside the
// lock so it may publish events or call back into the context.
func (c *Context) SetOnEvict(fn func(uris []string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// Touch marks uri as most recently used, inserting it if absent. When the
// insertion pushes the set past the cap, the least-recently-used members are
// evicted (earliest insertion first on ties) and returned.
func (c *Context) Touch(uri string) []string {
	c.mu.Lock()

	if el, ok := c.members[uri]; ok {
		el.Value.(*entry).touchedAt = time.Now()
		c.order.MoveToBack(el)
		c.mu.Unlock()
		return nil
	}

	el := c.order.PushBack(&entry{uri: uri, touchedAt: time.Now()})
	c.members[uri] = el

	var evicted []string
	for c.order.Len() > c.cap {
		front := c.order.Front()
		victim := front.Value.(*entry).uri
		c.order.Remove(front)
		delete(c.members, victim)
		evicted = append(evicted, victim)
	}
	onEvict := c.onEvict
	c.mu.Unlock()

	if len(evicted) > 0 {
		c.logger.Debug("active context evicted", zap.Strings("uris", evicted))
		if onEvict != nil {
			onEvict(evicted)
		}
	}
	return evicted
}

// Evict removes uri from the view, reporting whether it was present
func (c *Context) Evict(uri string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.members[uri]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.members, uri)
	return true
}

// Clear empties the view entirely
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.members = make(map[string]*list.Element)
}

// Contains reports whether uri is currently in view
func (c *Context) Contains(uri string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.members[uri]
	return ok
}

// Len returns the current number of members
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// URIs returns the member URIs, least recently used first
func (c *Context) URIs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	uris := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		uris = append(uris, el.Value.(*entry).uri)
	}
	return uris
}

// Snapshot is the read-only view the visualization layer consumes: the member
// nodes plus the relations among members only.
type Snapshot struct {
	Nodes     []graph.Node     `json:"nodes"`
	Relations []graph.Relation `json:"relations"`
}

// Snapshot re-reads the current members from the store. Members whose node has
// been deleted out from under the view are skipped, never fabricated; and no
// store read is issued for anything outside the member set.
func (c *Context) Snapshot(ctx context.Context, store *graph.Store) (*Snapshot, error) {
	uris := c.URIs()

	nodes, err := store.GetNodes(ctx, uris)
	if err != nil {
		return nil, err
	}
	relations, err := store.RelationsAmong(ctx, uris)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Nodes: nodes, Relations: relations}, nil
}
