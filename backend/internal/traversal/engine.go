// Package traversal implements cost-bounded expansion of the knowledge graph
// from a seed node, loading accepted nodes into the active context.
package traversal

import (
	"container/heap"
	"context"
	"time"

	"go.uber.org/zap"

	"knowledge-engine/backend/internal/active"
	"knowledge-engine/backend/internal/graph"
	"knowledge-engine/backend/pkg/errors"
	"knowledge-engine/backend/pkg/logger"
)

// DefaultMaxCost bounds a traversal when the caller does not supply a budget
const DefaultMaxCost = 1.0

// SubgraphFetcher materializes a remote workspace's subgraph around a URI.
// Injected so the engine never performs network I/O itself.
type SubgraphFetcher interface {
	FetchSubgraph(ctx context.Context, uri graph.URI) (*graph.Subgraph, error)
}

// Engine walks the graph outward from a seed under a cumulative cost budget
type Engine struct {
	store        *graph.Store
	context      *active.Context
	directory    graph.WorkspaceDirectory
	fetcher      SubgraphFetcher
	fetchTimeout time.Duration
	logger       *zap.Logger
}

// New builds an engine. directory and fetcher may be nil, in which case every
// cross-workspace edge is treated as unreachable.
func New(store *graph.Store, actx *active.Context, directory graph.WorkspaceDirectory, fetcher SubgraphFetcher, fetchTimeout time.Duration) *Engine {
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	return &Engine{
		store:        store,
		context:      actx,
		directory:    directory,
		fetcher:      fetcher,
		fetchTimeout: fetchTimeout,
		logger:       logger.Get(),
	}
}

// Result is the accepted node set, the relations among those nodes, and
// every warning or conflict collected along the way. Imported lists the
// nodes that remote fetches committed into the store during the walk, so
// the caller can announce those mutations.
type Result struct {
	Nodes     []graph.Node           `json:"nodes"`
	Relations []graph.Relation       `json:"relations"`
	Warnings  []graph.Warning        `json:"warnings,omitempty"`
	Conflicts []graph.ConflictReport `json:"conflicts,omitempty"`
	Imported  []graph.Node           `json:"imported,omitempty"`
}

type frontierItem struct {
	uri  string
	cost float64
	seq  int
	idx  int
}

// frontier orders by ascending cost, insertion order breaking ties so that
// relation read order decides between equal-cost paths.
type frontier []*frontierItem

func (f frontier) Len() int { return len(f) }
func (f frontier) Less(i, j int) bool {
	if f[i].cost != f[j].cost {
		return f[i].cost < f[j].cost
	}
	return f[i].seq < f[j].seq
}
func (f frontier) Swap(i, j int) {
	f[i], f[j] = f[j], f[i]
	f[i].idx = i
	f[j].idx = j
}
func (f *frontier) Push(x any) {
	item := x.(*frontierItem)
	item.idx = len(*f)
	*f = append(*f, item)
}
func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*f = old[:n-1]
	return item
}

type walk struct {
	engine    *Engine
	ctx       context.Context
	workspace string
	maxCost   float64

	pq       frontier
	seq      int
	best     map[string]float64
	accepted map[string]bool
	order    []string

	warnings  []graph.Warning
	warned    map[string]bool
	conflicts []graph.ConflictReport
	imported  []graph.Node
}

// Traverse expands from seedURI, accepting every node reachable within
// maxCost. A relation of weight 0 always admits its target once its source is
// accepted, regardless of remaining budget.
func (e *Engine) Traverse(ctx context.Context, seedURI string, maxCost float64) (*Result, error) {
	seed, err := graph.ParseURI(seedURI)
	if err != nil {
		return nil, err
	}
	if maxCost < 0 {
		return nil, errors.NewBaseError(errors.ErrorTypeValidation, "maxCost must be >= 0", nil)
	}

	w := &walk{
		engine:    e,
		ctx:       ctx,
		workspace: seed.Workspace,
		maxCost:   maxCost,
		best:      make(map[string]float64),
		accepted:  make(map[string]bool),
		warned:    make(map[string]bool),
	}

	if err := w.ensureSeed(seed); err != nil {
		return nil, err
	}

	w.reach(seedURI, 0)
	for w.pq.Len() > 0 {
		item := heap.Pop(&w.pq).(*frontierItem)
		if item.cost > w.best[item.uri] {
			continue // superseded by a cheaper path
		}
		if err := w.expand(item.uri, item.cost); err != nil {
			return nil, err
		}
	}

	nodes, err := e.store.GetNodes(ctx, w.order)
	if err != nil {
		return nil, err
	}
	relations, err := e.store.RelationsAmong(ctx, w.order)
	if err != nil {
		return nil, err
	}
	return &Result{
		Nodes:     nodes,
		Relations: relations,
		Warnings:  w.warnings,
		Conflicts: w.conflicts,
		Imported:  w.imported,
	}, nil
}

// ensureSeed verifies the seed exists, attempting one remote fetch when its
// workspace is registered but not yet materialized locally.
func (w *walk) ensureSeed(seed graph.URI) error {
	uri := seed.String()
	ok, err := w.engine.store.HasNode(w.ctx, uri)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if w.engine.directory != nil && w.engine.directory.IsRegistered(seed.Workspace) {
		if w.fetchRemote(seed) {
			ok, err = w.engine.store.HasNode(w.ctx, uri)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
	}
	return errors.NewNodeNotFound(uri)
}

// reach admits uri into the accepted set at the given cumulative cost
func (w *walk) reach(uri string, cost float64) {
	if prev, seen := w.best[uri]; seen && prev <= cost {
		return
	}
	w.best[uri] = cost
	if !w.accepted[uri] {
		w.accepted[uri] = true
		w.order = append(w.order, uri)
		if w.engine.context != nil {
			w.engine.context.Touch(uri)
		}
	}
	w.seq++
	heap.Push(&w.pq, &frontierItem{uri: uri, cost: cost, seq: w.seq})
}

// expand relaxes every outgoing relation of an accepted node
func (w *walk) expand(uri string, cost float64) error {
	relations, err := w.engine.store.GetOutgoing(w.ctx, uri)
	if err != nil {
		return err
	}
	for _, rel := range relations {
		if rel.TargetURI == uri {
			continue // self-loops cannot lower a node's own cost
		}
		newCost := cost + rel.Weight
		if rel.Weight == 0 {
			// weight 0 means "always load together": the budget check
			// does not apply once the source is accepted
			newCost = cost
		} else if newCost > w.maxCost {
			continue
		}
		if prev, seen := w.best[rel.TargetURI]; seen && prev <= newCost {
			continue
		}
		if !w.materialize(rel.TargetURI) {
			continue
		}
		w.reach(rel.TargetURI, newCost)
	}
	return nil
}

// materialize reports whether target exists locally, fetching it from a
// registered remote workspace when needed. Unreachable targets prune the
// path and leave a warning rather than aborting the traversal.
func (w *walk) materialize(target string) bool {
	ok, err := w.engine.store.HasNode(w.ctx, target)
	if err != nil {
		w.engine.logger.Error("node lookup during traversal", zap.String("uri", target), zap.Error(err))
		return false
	}
	if ok {
		return true
	}

	uri, err := graph.ParseURI(target)
	if err != nil {
		return false
	}
	if uri.Workspace != w.workspace && w.engine.directory != nil && w.engine.directory.IsRegistered(uri.Workspace) {
		if w.fetchRemote(uri) {
			ok, err = w.engine.store.HasNode(w.ctx, target)
			if err == nil && ok {
				return true
			}
		}
		return false
	}
	if uri.Scheme == string(graph.NodeTypeConcept) {
		w.warn(graph.DanglingConceptWarning(target))
	}
	return false
}

// fetchRemote pulls the remote subgraph around uri into the local store.
// Returns false, recording a RemoteUnavailable warning, on any failure.
func (w *walk) fetchRemote(uri graph.URI) bool {
	if w.engine.fetcher == nil {
		w.warn(graph.RemoteUnavailableWarning(uri.String(), errors.NewRemoteUnavailable(uri.Workspace, nil)))
		return false
	}

	fctx, cancel := context.WithTimeout(w.ctx, w.engine.fetchTimeout)
	defer cancel()

	sub, err := w.engine.fetcher.FetchSubgraph(fctx, uri)
	if err != nil {
		w.engine.logger.Warn("remote fetch failed during traversal",
			zap.String("uri", uri.String()), zap.Error(err))
		w.warn(graph.RemoteUnavailableWarning(uri.String(), err))
		return false
	}

	result, err := w.engine.store.ImportSubgraph(w.ctx, sub)
	if err != nil {
		w.warn(graph.RemoteUnavailableWarning(uri.String(), err))
		return false
	}
	w.conflicts = append(w.conflicts, result.Conflicts...)
	w.imported = append(w.imported, result.Imported...)
	return true
}

func (w *walk) warn(warning graph.Warning) {
	key := string(warning.Kind) + "|" + warning.URI
	if w.warned[key] {
		return
	}
	w.warned[key] = true
	w.warnings = append(w.warnings, warning)
}
