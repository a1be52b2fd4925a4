// Package remote fetches subgraphs from other workspaces, either from a
// sibling database on the same machine or from another server over HTTP.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"sync"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"knowledge-engine/backend/internal/graph"
	"knowledge-engine/backend/internal/workspace"
	"knowledge-engine/backend/pkg/errors"
	"knowledge-engine/backend/pkg/logger"
)

// Fetcher routes subgraph fetches to the right strategy for the target
// workspace using the registry.
type Fetcher struct {
	registry *workspace.Registry
	client   *retryablehttp.Client
	logger   *zap.Logger

	mu     sync.Mutex
	stores map[string]*graph.Store // local-remote stores, opened lazily
}

// NewFetcher builds a registry-backed fetcher
func NewFetcher(registry *workspace.Registry) *Fetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil

	return &Fetcher{
		registry: registry,
		client:   client,
		logger:   logger.Get(),
		stores:   make(map[string]*graph.Store),
	}
}

// FetchSubgraph resolves uri's workspace through the registry and pulls the
// subgraph rooted at uri from wherever that workspace lives.
func (f *Fetcher) FetchSubgraph(ctx context.Context, uri graph.URI) (*graph.Subgraph, error) {
	entry, ok := f.registry.Lookup(uri.Workspace)
	if !ok {
		return nil, errors.NewWorkspaceNotRegistered(uri.Workspace)
	}

	switch entry.Strategy {
	case workspace.StrategyLocalStore:
		// same store as the caller; nothing to fetch
		return &graph.Subgraph{Workspace: uri.Workspace}, nil
	case workspace.StrategyLocalRemote:
		return f.fetchLocal(ctx, entry, uri)
	case workspace.StrategyNetworkRemote:
		return f.fetchHTTP(ctx, entry, uri)
	default:
		return nil, errors.NewConfigError(fmt.Sprintf("unknown workspace strategy %q", entry.Strategy), nil)
	}
}

// fetchLocal exports from a sibling database file on the same machine
func (f *Fetcher) fetchLocal(ctx context.Context, entry workspace.Entry, uri graph.URI) (*graph.Subgraph, error) {
	store, err := f.localStore(entry)
	if err != nil {
		return nil, errors.NewRemoteUnavailable(entry.ID, err)
	}
	sub, err := store.ExportSubgraph(ctx, uri.String())
	if err != nil {
		return nil, errors.NewRemoteUnavailable(entry.ID, err)
	}
	return sub, nil
}

func (f *Fetcher) localStore(entry workspace.Entry) (*graph.Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if store, ok := f.stores[entry.ID]; ok {
		return store, nil
	}
	store, err := graph.Open(entry.DBPath, graph.NewLinkResolver(f.registry))
	if err != nil {
		return nil, err
	}
	f.stores[entry.ID] = store
	return store, nil
}

// fetchHTTP pulls an exported subgraph from another server instance
func (f *Fetcher) fetchHTTP(ctx context.Context, entry workspace.Entry, uri graph.URI) (*graph.Subgraph, error) {
	url := fmt.Sprintf("%s/api/v1/export?uri=%s", entry.Endpoint, neturl.QueryEscape(uri.String()))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.NewRemoteUnavailable(entry.ID, err)
	}
	if entry.Token != "" {
		req.Header.Set("Authorization", "Bearer "+entry.Token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.NewRemoteUnavailable(entry.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		f.logger.Warn("remote export rejected",
			zap.String("workspace", entry.ID),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return nil, errors.NewRemoteUnavailable(entry.ID, fmt.Errorf("status %d", resp.StatusCode))
	}

	var sub graph.Subgraph
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, errors.NewRemoteUnavailable(entry.ID, err)
	}
	return &sub, nil
}

// Close releases every lazily opened local-remote store
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for id, store := range f.stores {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(f.stores, id)
	}
	return firstErr
}
