package graph

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	apperrors "knowledge-engine/backend/pkg/errors"
)

// CreateNode inserts a new node at uri. Concepts carry name and content (nil
// is coerced to the empty string); resources must carry neither. Fails with a
// duplicate-URI error if the URI is already taken.
func (s *Store) CreateNode(ctx context.Context, uri string, nodeType NodeType, name, content *string, metadata Metadata) (*Node, error) {
	parsed, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != string(nodeType) {
		return nil, apperrors.NewInvalidURI(uri, "scheme does not match node type")
	}

	switch nodeType {
	case NodeTypeConcept:
		empty := ""
		if name == nil {
			name = &empty
		}
		if content == nil {
			content = &empty
		}
	case NodeTypeResource:
		if name != nil || content != nil {
			return nil, apperrors.NewInvalidURI(uri, "resources carry no name or content")
		}
	default:
		return nil, apperrors.NewInvalidURI(uri, "unknown node type")
	}

	meta, err := marshalMetadata(metadata)
	if err != nil {
		return nil, apperrors.NewStoreError("encode metadata", err)
	}

	now := s.now().UTC()
	node := &Node{
		URI:       uri,
		NodeType:  nodeType,
		Name:      name,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if node.Metadata == nil {
		node.Metadata = Metadata{}
	}

	err = s.withWriteTx(ctx, func(tx *sql.Tx) error {
		return insertNode(ctx, tx, node, meta)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("node created", zap.String("uri", uri), zap.String("type", string(nodeType)))
	return node, nil
}

func insertNode(ctx context.Context, tx *sql.Tx, node *Node, meta string) error {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE uri = ?`, node.URI).Scan(&exists)
	if err == nil {
		return apperrors.NewDuplicateURI(node.URI)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewStoreError("check uri", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO nodes (uri, node_type, name, content, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		node.URI, string(node.NodeType), nullString(node.Name), nullString(node.Content),
		meta, node.CreatedAt.UnixNano(), node.UpdatedAt.UnixNano())
	if err != nil {
		return apperrors.NewStoreError("insert node", err)
	}
	return nil
}

// UpdateNode updates content, name and/or metadata of an existing node. Nil
// arguments leave the corresponding column untouched; a non-nil metadata map
// replaces the stored mapping wholesale. URI and node type never change here.
func (s *Store) UpdateNode(ctx context.Context, uri string, name, content *string, metadata Metadata) (*Node, error) {
	var updated *Node

	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE uri = ?`, uri)
		node, err := scanNode(row)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewNodeNotFound(uri)
		}
		if err != nil {
			return apperrors.NewStoreError("read node", err)
		}

		if name != nil {
			node.Name = name
		}
		if content != nil {
			node.Content = content
		}
		if metadata != nil {
			node.Metadata = metadata
		}
		node.UpdatedAt = s.now().UTC()

		meta, err := marshalMetadata(node.Metadata)
		if err != nil {
			return apperrors.NewStoreError("encode metadata", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE nodes SET name = ?, content = ?, metadata = ?, updated_at = ?
			WHERE uri = ?`,
			nullString(node.Name), nullString(node.Content), meta, node.UpdatedAt.UnixNano(), uri)
		if err != nil {
			return apperrors.NewStoreError("update node", err)
		}
		updated = node
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("node updated", zap.String("uri", uri))
	return updated, nil
}

// MoveNode atomically renames a node and rewrites every relation endpoint
// referencing it. Fails if oldURI is absent or newURI is already taken.
func (s *Store) MoveNode(ctx context.Context, oldURI, newURI string) error {
	oldParsed, err := ParseURI(oldURI)
	if err != nil {
		return err
	}
	newParsed, err := ParseURI(newURI)
	if err != nil {
		return err
	}
	if oldParsed.Scheme != newParsed.Scheme {
		return apperrors.NewInvalidURI(newURI, "move cannot change the node scheme")
	}

	err = s.withWriteTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE uri = ?`, oldURI).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.NewNodeNotFound(oldURI)
			}
			return apperrors.NewStoreError("check old uri", err)
		}
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE uri = ?`, newURI).Scan(&exists)
		if err == nil {
			return apperrors.NewMoveConflict(oldURI, newURI)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewStoreError("check new uri", err)
		}

		statements := []struct {
			query string
		}{
			{`UPDATE nodes SET uri = ?, updated_at = ? WHERE uri = ?`},
			{`UPDATE relations SET source_uri = ? WHERE source_uri = ?`},
			{`UPDATE relations SET target_uri = ? WHERE target_uri = ?`},
		}
		now := s.now().UTC().UnixNano()
		if _, err := tx.ExecContext(ctx, statements[0].query, newURI, now, oldURI); err != nil {
			return apperrors.NewStoreError("rename node", err)
		}
		if _, err := tx.ExecContext(ctx, statements[1].query, newURI, oldURI); err != nil {
			return apperrors.NewStoreError("rewrite outgoing relations", err)
		}
		if _, err := tx.ExecContext(ctx, statements[2].query, newURI, oldURI); err != nil {
			return apperrors.NewStoreError("rewrite incoming relations", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("node moved", zap.String("from", oldURI), zap.String("to", newURI))
	return nil
}

// DeleteNode removes a node and cascades deletion of every relation where it
// is source or target. Deleting an absent node is a no-op, not an error.
func (s *Store) DeleteNode(ctx context.Context, uri string) (bool, error) {
	var deleted bool

	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE uri = ?`, uri)
		if err != nil {
			return apperrors.NewStoreError("delete node", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return apperrors.NewStoreError("delete node", err)
		}
		deleted = n > 0
		if !deleted {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM relations WHERE source_uri = ? OR target_uri = ?`, uri, uri); err != nil {
			return apperrors.NewStoreError("cascade relations", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if deleted {
		s.logger.Debug("node deleted", zap.String("uri", uri))
	}
	return deleted, nil
}

// GetNode reads a single node by URI, failing with a not-found error when absent
func (s *Store) GetNode(ctx context.Context, uri string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE uri = ?`, uri)
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNodeNotFound(uri)
	}
	if err != nil {
		return nil, apperrors.NewStoreError("read node", err)
	}
	return node, nil
}

// HasNode reports whether a node exists at uri
func (s *Store) HasNode(ctx context.Context, uri string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE uri = ?`, uri).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.NewStoreError("check uri", err)
	}
	return true, nil
}

// GetNodes reads the nodes for the given URIs, silently skipping absent ones
func (s *Store) GetNodes(ctx context.Context, uris []string) ([]Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]Node, 0, len(uris))
	for _, uri := range uris {
		row := s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE uri = ?`, uri)
		node, err := scanNode(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, apperrors.NewStoreError("read node", err)
		}
		nodes = append(nodes, *node)
	}
	return nodes, nil
}
