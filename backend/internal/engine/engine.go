// Package engine is the façade the transport layer talks to. It wires the
// store, the traversal engine, the active context and the change notifier
// into the operation set exposed to agents.
package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"knowledge-engine/backend/internal/active"
	"knowledge-engine/backend/internal/graph"
	"knowledge-engine/backend/internal/notify"
	"knowledge-engine/backend/internal/traversal"
	apperrors "knowledge-engine/backend/pkg/errors"
	"knowledge-engine/backend/pkg/logger"
)

// Engine coordinates every mutation and read against one workspace store
type Engine struct {
	workspace string
	store     *graph.Store
	context   *active.Context
	notifier  *notify.Notifier
	traversal *traversal.Engine
	fetcher   traversal.SubgraphFetcher
	logger    *zap.Logger
}

// Options carries the collaborators the engine is built from
type Options struct {
	Workspace string
	Store     *graph.Store
	Context   *active.Context
	Notifier  *notify.Notifier
	Traversal *traversal.Engine
	Fetcher   traversal.SubgraphFetcher
}

func New(opts Options) *Engine {
	// broadcast LRU evictions so viewers can drop out-of-view nodes
	opts.Context.SetOnEvict(func(uris []string) {
		opts.Notifier.Publish(notify.EventContextChanged, map[string][]string{"evicted": uris})
	})
	return &Engine{
		workspace: opts.Workspace,
		store:     opts.Store,
		context:   opts.Context,
		notifier:  opts.Notifier,
		traversal: opts.Traversal,
		fetcher:   opts.Fetcher,
		logger:    logger.Get(),
	}
}

// Workspace returns the id of the workspace this engine serves
func (e *Engine) Workspace() string {
	return e.workspace
}

// EditResult reports the warnings a permissive edit accumulated
type EditResult struct {
	Warnings []graph.Warning `json:"warnings,omitempty"`
}

// Traverse expands the graph from seedURI under the cost budget and loads
// the accepted set into the active context. A nil maxCost means the default
// budget; an explicit zero is honored (weight-0 closure only). Nodes a
// remote fetch committed mid-walk are published like any other mutation.
func (e *Engine) Traverse(ctx context.Context, seedURI string, maxCost *float64) (*traversal.Result, error) {
	budget := traversal.DefaultMaxCost
	if maxCost != nil {
		budget = *maxCost
	}
	result, err := e.traversal.Traverse(ctx, seedURI, budget)
	if err != nil {
		return nil, err
	}
	for i := range result.Imported {
		e.notifier.Publish(notify.EventNodeAdded, &result.Imported[i])
	}
	return result, nil
}

// AddConcept creates a concept node and links any concept references found in
// its markdown content. Dangling references are surfaced as warnings.
func (e *Engine) AddConcept(ctx context.Context, uri, name, content string, metadata graph.Metadata) (*EditResult, error) {
	node, err := e.store.CreateNode(ctx, uri, graph.NodeTypeConcept, &name, &content, metadata)
	if err != nil {
		return nil, err
	}
	e.context.Touch(uri)
	e.notifier.Publish(notify.EventNodeAdded, node)

	result := &EditResult{}
	if err := e.linkReferences(ctx, uri, content, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AddResource creates a resource node, a bare pointer with metadata only
func (e *Engine) AddResource(ctx context.Context, uri string, metadata graph.Metadata) error {
	node, err := e.store.CreateNode(ctx, uri, graph.NodeTypeResource, nil, nil, metadata)
	if err != nil {
		return err
	}
	e.context.Touch(uri)
	e.notifier.Publish(notify.EventNodeAdded, node)
	return nil
}

// UpdateConcept replaces content and/or metadata, then refreshes the
// content-derived reference links.
func (e *Engine) UpdateConcept(ctx context.Context, uri string, content *string, metadata graph.Metadata) (*EditResult, error) {
	node, err := e.store.UpdateNode(ctx, uri, nil, content, metadata)
	if err != nil {
		return nil, err
	}
	e.context.Touch(uri)
	e.notifier.Publish(notify.EventNodeUpdated, node)

	result := &EditResult{}
	if content != nil {
		if err := e.refreshReferences(ctx, uri, *content, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// MoveConcept atomically renames a node and every relation referencing it
func (e *Engine) MoveConcept(ctx context.Context, oldURI, newURI string) error {
	if err := e.store.MoveNode(ctx, oldURI, newURI); err != nil {
		return err
	}
	e.context.Evict(oldURI)
	e.context.Touch(newURI)
	e.notifier.Publish(notify.EventNodeRemoved, map[string]string{"uri": oldURI, "moved_to": newURI})

	node, err := e.store.GetNode(ctx, newURI)
	if err != nil {
		return err
	}
	e.notifier.Publish(notify.EventNodeAdded, node)
	return nil
}

// DeleteNode removes a concept or resource and cascades its relations.
// Deleting an absent node is a no-op.
func (e *Engine) DeleteNode(ctx context.Context, uri string) error {
	removed, err := e.store.DeleteNode(ctx, uri)
	if err != nil {
		return err
	}
	if removed {
		e.context.Evict(uri)
		e.notifier.Publish(notify.EventNodeRemoved, map[string]string{"uri": uri})
	}
	return nil
}

// Link upserts a relation, touching both resolved endpoints in the active
// context and publishing the mutation.
func (e *Engine) Link(ctx context.Context, sourceURI, targetURI, relationType string, weight float64, metadata graph.Metadata) (*EditResult, error) {
	res, err := e.store.Link(ctx, sourceURI, targetURI, relationType, weight, metadata)
	if err != nil {
		return nil, err
	}
	e.publishLink(res)
	return &EditResult{Warnings: res.Warnings}, nil
}

func (e *Engine) publishLink(res *graph.LinkResult) {
	e.context.Touch(res.Relation.SourceURI)
	for i := range res.CreatedResources {
		created := &res.CreatedResources[i]
		e.context.Touch(created.URI)
		e.notifier.Publish(notify.EventNodeAdded, created)
	}
	e.notifier.Publish(notify.EventRelationAdded, res.Relation)
}

// Unlink removes a relation if present; removing an absent one is a no-op
func (e *Engine) Unlink(ctx context.Context, sourceURI, targetURI, relationType string) error {
	removed, err := e.store.Unlink(ctx, sourceURI, targetURI, relationType)
	if err != nil {
		return err
	}
	if removed {
		e.notifier.Publish(notify.EventRelationRemoved, map[string]string{
			"source_uri":    sourceURI,
			"target_uri":    targetURI,
			"relation_type": relationType,
		})
	}
	return nil
}

// GetNode reads a single node
func (e *Engine) GetNode(ctx context.Context, uri string) (*graph.Node, error) {
	node, err := e.store.GetNode(ctx, uri)
	if err != nil {
		return nil, err
	}
	e.context.Touch(uri)
	return node, nil
}

// Neighborhood returns a node with its outgoing and incoming relations
type Neighborhood struct {
	Node     *graph.Node      `json:"node"`
	Outgoing []graph.Relation `json:"outgoing"`
	Incoming []graph.Relation `json:"incoming"`
}

func (e *Engine) GetNeighborhood(ctx context.Context, uri string) (*Neighborhood, error) {
	node, err := e.GetNode(ctx, uri)
	if err != nil {
		return nil, err
	}
	out, err := e.store.GetOutgoing(ctx, uri)
	if err != nil {
		return nil, err
	}
	in, err := e.store.GetIncoming(ctx, uri)
	if err != nil {
		return nil, err
	}
	return &Neighborhood{Node: node, Outgoing: out, Incoming: in}, nil
}

// ExportSubgraph serializes the subgraph reachable from seedURI for handoff
// to another workspace.
func (e *Engine) ExportSubgraph(ctx context.Context, seedURI string) (*graph.Subgraph, error) {
	return e.store.ExportSubgraph(ctx, seedURI)
}

// FetchRemoteSubgraph pulls a registered remote workspace's subgraph into the
// local store. Divergent nodes are reported, never overwritten.
func (e *Engine) FetchRemoteSubgraph(ctx context.Context, uri string) (*graph.ImportResult, error) {
	parsed, err := graph.ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if e.fetcher == nil {
		return nil, apperrors.NewRemoteUnavailable(parsed.Workspace, nil)
	}
	sub, err := e.fetcher.FetchSubgraph(ctx, parsed)
	if err != nil {
		return nil, err
	}
	result, err := e.store.ImportSubgraph(ctx, sub)
	if err != nil {
		return nil, err
	}
	for i := range result.Imported {
		imported := &result.Imported[i]
		e.context.Touch(imported.URI)
		e.notifier.Publish(notify.EventNodeAdded, imported)
	}
	if len(result.Conflicts) > 0 {
		e.logger.Info("remote fetch surfaced conflicts",
			zap.String("uri", uri), zap.Int("count", len(result.Conflicts)))
	}
	return result, nil
}

// ResolveConflict picks a version for a previously reported conflict. Keeping
// the local copy is a no-op; anything else goes through UpdateConcept.
func (e *Engine) ResolveConflict(ctx context.Context, uri string, content *string, metadata graph.Metadata) error {
	if content == nil && metadata == nil {
		return nil // local version kept
	}
	_, err := e.UpdateConcept(ctx, uri, content, metadata)
	return err
}

// Subscribe opens a mutation event stream
func (e *Engine) Subscribe() *notify.Subscription {
	return e.notifier.Subscribe()
}

// ContextSnapshot returns what is currently in view, for visualization
func (e *Engine) ContextSnapshot(ctx context.Context) (*active.Snapshot, error) {
	return e.context.Snapshot(ctx, e.store)
}

// ClearContext empties the active context without touching the store
func (e *Engine) ClearContext() {
	e.context.Clear()
}

// Stats summarizes the workspace for the dashboard
type Stats struct {
	Workspace     string `json:"workspace"`
	Nodes         int    `json:"nodes"`
	Relations     int    `json:"relations"`
	ContextSize   int    `json:"context_size"`
	ContextCap    int    `json:"context_cap"`
	Subscribers   int    `json:"subscribers"`
	EventsDropped uint64 `json:"events_dropped"`
}

func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	nodes, err := e.store.NodeCount(ctx)
	if err != nil {
		return nil, err
	}
	relations, err := e.store.RelationCount(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Workspace:     e.workspace,
		Nodes:         nodes,
		Relations:     relations,
		ContextSize:   e.context.Len(),
		ContextCap:    e.context.Cap(),
		Subscribers:   e.notifier.SubscriberCount(),
		EventsDropped: e.notifier.Dropped(),
	}, nil
}

// Close shuts down the notifier. The store is closed by its owner.
func (e *Engine) Close() {
	e.notifier.Close()
}

// linkReferences creates a "references" relation for every concept or
// resource link embedded in markdown content.
func (e *Engine) linkReferences(ctx context.Context, sourceURI, content string, result *EditResult) error {
	for _, target := range ExtractReferences(content) {
		res, err := e.store.Link(ctx, sourceURI, target, "references", 1.0, nil)
		if err != nil {
			return fmt.Errorf("linking reference %s: %w", target, err)
		}
		e.publishLink(res)
		result.Warnings = append(result.Warnings, res.Warnings...)
	}
	return nil
}

// refreshReferences drops reference relations no longer present in content
// and links the ones that are.
func (e *Engine) refreshReferences(ctx context.Context, sourceURI, content string, result *EditResult) error {
	wanted := make(map[string]bool)
	for _, target := range ExtractReferences(content) {
		wanted[target] = true
	}

	existing, err := e.store.GetOutgoing(ctx, sourceURI)
	if err != nil {
		return err
	}
	for _, rel := range existing {
		if rel.RelationType != "references" || wanted[rel.TargetURI] {
			continue
		}
		if err := e.Unlink(ctx, sourceURI, rel.TargetURI, "references"); err != nil {
			return err
		}
	}

	for target := range wanted {
		res, err := e.store.Link(ctx, sourceURI, target, "references", 1.0, nil)
		if err != nil {
			return err
		}
		e.publishLink(res)
		result.Warnings = append(result.Warnings, res.Warnings...)
	}
	return nil
}
