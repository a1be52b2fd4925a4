// Package workspace resolves workspace ids to their storage, and maintains
// the machine-wide registry of known workspaces under the knowledge directory.
package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"knowledge-engine/backend/pkg/logger"
)

// Strategy tells the traversal and fetch paths how to reach a workspace
type Strategy string

const (
	// StrategyLocalStore means the workspace lives in this process's store
	StrategyLocalStore Strategy = "local-store"
	// StrategyLocalRemote means a different database file on the same machine
	StrategyLocalRemote Strategy = "local-remote"
	// StrategyNetworkRemote means an HTTP endpoint plus credentials
	StrategyNetworkRemote Strategy = "network-remote"
)

// Entry maps a workspace id to its resolution strategy
type Entry struct {
	ID       string   `json:"id"`
	Strategy Strategy `json:"strategy"`
	RootPath string   `json:"root_path,omitempty"` // workspace root on disk, if local
	DBPath   string   `json:"db_path,omitempty"`   // local-remote only
	Endpoint string   `json:"endpoint,omitempty"`  // network-remote only
	Token    string   `json:"token,omitempty"`     // network-remote credentials
}

const registryFile = "workspaces.json"

// Registry is the persistent workspace directory, backed by workspaces.json
// in the knowledge directory.
type Registry struct {
	mu      sync.RWMutex
	path    string
	entries map[string]Entry
	logger  *zap.Logger
}

// LoadRegistry reads (or initializes) the registry under knowledgeDir
func LoadRegistry(knowledgeDir string) (*Registry, error) {
	if err := os.MkdirAll(knowledgeDir, 0o755); err != nil {
		return nil, err
	}

	r := &Registry{
		path:    filepath.Join(knowledgeDir, registryFile),
		entries: make(map[string]Entry),
		logger:  logger.Get(),
	}

	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &r.entries); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds or replaces an entry and persists the registry
func (r *Registry) Register(entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[entry.ID] = entry
	if err := r.save(); err != nil {
		return err
	}
	r.logger.Info("workspace registered",
		zap.String("id", entry.ID), zap.String("strategy", string(entry.Strategy)))
	return nil
}

// Lookup returns the entry for a workspace id
func (r *Registry) Lookup(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	return entry, ok
}

// IsRegistered reports whether id has an entry. Satisfies the store's
// WorkspaceDirectory so the link resolver can defer cross-workspace endpoints.
func (r *Registry) IsRegistered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Entries returns a copy of all registered entries
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	return out
}

func (r *Registry) save() error {
	data, err := json.MarshalIndent(r.entries, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, data, 0o644)
}

// DBPath returns the database file for a workspace id under knowledgeDir
func DBPath(knowledgeDir, workspaceID string) string {
	return filepath.Join(knowledgeDir, workspaceID+".db")
}
