package graph

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "knowledge-engine/backend/pkg/errors"
)

// WorkspaceDirectory answers whether a workspace id has a registry entry.
// The workspace package implements it; tests stub it.
type WorkspaceDirectory interface {
	IsRegistered(workspaceID string) bool
}

// LinkResolver decides how to handle a relation endpoint that does not exist
// locally. Resources are cheap pointers and get auto-created; concepts carry
// curated meaning the resolver cannot fabricate, so the gap is surfaced as a
// dangling-concept warning while the relation itself is still persisted.
// Endpoints in a different, registered workspace are deferred to the
// remote-fetch path instead.
type LinkResolver struct {
	directory WorkspaceDirectory
}

// NewLinkResolver creates a resolver. A nil directory means no workspaces are
// registered and every endpoint resolves in the local namespace.
func NewLinkResolver(directory WorkspaceDirectory) *LinkResolver {
	return &LinkResolver{directory: directory}
}

// resolution records what the resolver did about one missing endpoint
type resolution struct {
	created  *Node    // minimal resource node inserted by the resolver
	warning  *Warning // dangling concept surfaced to the caller
	deferred bool     // cross-workspace endpoint left to the fetch path
}

// resolve is called inside the link transaction for each endpoint. localWS is
// the workspace the relation is being linked from (the source's workspace).
func (r *LinkResolver) resolve(ctx context.Context, tx *sql.Tx, endpoint URI, localWS string, now time.Time) (resolution, error) {
	uri := endpoint.String()

	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE uri = ?`, uri).Scan(&exists)
	if err == nil {
		return resolution{}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return resolution{}, apperrors.NewStoreError("check endpoint", err)
	}

	if endpoint.Workspace != localWS && r.directory != nil && r.directory.IsRegistered(endpoint.Workspace) {
		return resolution{deferred: true}, nil
	}

	switch endpoint.Scheme {
	case string(NodeTypeResource):
		node := &Node{
			URI:       uri,
			NodeType:  NodeTypeResource,
			Metadata:  Metadata{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO nodes (uri, node_type, name, content, metadata, created_at, updated_at)
			VALUES (?, ?, NULL, NULL, '{}', ?, ?)`,
			uri, string(NodeTypeResource), now.UnixNano(), now.UnixNano())
		if err != nil {
			return resolution{}, apperrors.NewStoreError("auto-create resource", err)
		}
		return resolution{created: node}, nil

	default:
		w := DanglingConceptWarning(uri)
		return resolution{warning: &w}, nil
	}
}
