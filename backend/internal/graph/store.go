// Package graph provides the durable knowledge graph store: typed nodes
// connected by weighted directed relations, persisted in an embedded SQLite
// database keyed by URI.
package graph

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"knowledge-engine/backend/pkg/logger"
)

// schema defines the node and relation tables.
// Note: no foreign keys: relations may legitimately point at concepts that do
// not exist yet (dangling concept references are surfaced, not rejected), so
// referential integrity and cascade deletes are handled at the application
// level inside the store's transactions.
const schema = `
CREATE TABLE IF NOT EXISTS nodes (
    uri        TEXT PRIMARY KEY,
    node_type  TEXT NOT NULL,
    name       TEXT,
    content    TEXT,
    metadata   TEXT NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS relations (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    source_uri    TEXT NOT NULL,
    target_uri    TEXT NOT NULL,
    relation_type TEXT NOT NULL,
    weight        REAL NOT NULL DEFAULT 1.0,
    metadata      TEXT NOT NULL DEFAULT '{}',
    created_at    INTEGER NOT NULL,
    UNIQUE(source_uri, target_uri, relation_type)
);

CREATE INDEX IF NOT EXISTS idx_relations_source ON relations(source_uri);
CREATE INDEX IF NOT EXISTS idx_relations_target ON relations(target_uri);
`

// Store is the SQLite-backed graph store. Mutations are serialized through a
// single writer lock so no caller ever observes a partially applied link or
// cascade; reads only take the shared lock and may proceed concurrently.
type Store struct {
	mu       sync.RWMutex
	db       *sql.DB
	resolver *LinkResolver
	logger   *zap.Logger

	now func() time.Time // injectable clock for deterministic tests
}

// Open opens (creating if needed) the graph database at path. Use ":memory:"
// for an ephemeral store in tests.
func Open(path string, resolver *LinkResolver) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	if resolver == nil {
		resolver = NewLinkResolver(nil)
	}

	return &Store{
		db:       db,
		resolver: resolver,
		logger:   logger.Get(),
		now:      time.Now,
	}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// NodeCount returns the total number of nodes in the store
func (s *Store) NodeCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&count)
	return count, err
}

// RelationCount returns the total number of relations in the store
func (s *Store) RelationCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relations`).Scan(&count)
	return count, err
}

// withWriteTx runs fn inside an exclusive transaction, committing on nil error
func (s *Store) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
