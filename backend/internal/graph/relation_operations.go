package graph

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	apperrors "knowledge-engine/backend/pkg/errors"
)

// LinkResult reports the outcome of an upserted relation, including anything
// the resolver did about missing endpoints.
type LinkResult struct {
	Relation         Relation
	Warnings         []Warning // dangling-concept warnings, surfaced not blocked
	CreatedResources []Node    // resource endpoints the resolver auto-created
	Deferred         []string  // cross-workspace endpoints left to the fetch path
}

// Link upserts the relation (source, target, type). Re-linking an existing
// triple updates weight and metadata rather than inserting a duplicate row.
// Each missing endpoint is run through the link resolver before commit.
func (s *Store) Link(ctx context.Context, sourceURI, targetURI, relationType string, weight float64, metadata Metadata) (*LinkResult, error) {
	if weight < 0 || weight > 1 {
		return nil, apperrors.NewInvalidWeight(weight)
	}
	source, err := ParseURI(sourceURI)
	if err != nil {
		return nil, err
	}
	target, err := ParseURI(targetURI)
	if err != nil {
		return nil, err
	}

	meta, err := marshalMetadata(metadata)
	if err != nil {
		return nil, apperrors.NewStoreError("encode metadata", err)
	}

	now := s.now().UTC()
	result := &LinkResult{}

	err = s.withWriteTx(ctx, func(tx *sql.Tx) error {
		for _, endpoint := range []URI{source, target} {
			res, err := s.resolver.resolve(ctx, tx, endpoint, source.Workspace, now)
			if err != nil {
				return err
			}
			if res.created != nil {
				result.CreatedResources = append(result.CreatedResources, *res.created)
			}
			if res.warning != nil {
				result.Warnings = append(result.Warnings, *res.warning)
			}
			if res.deferred {
				result.Deferred = append(result.Deferred, endpoint.String())
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO relations (source_uri, target_uri, relation_type, weight, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(source_uri, target_uri, relation_type) DO UPDATE SET
				weight = excluded.weight,
				metadata = excluded.metadata`,
			sourceURI, targetURI, relationType, weight, meta, now.UnixNano())
		if err != nil {
			return apperrors.NewStoreError("upsert relation", err)
		}

		row := tx.QueryRowContext(ctx, `
			SELECT `+relationColumns+` FROM relations
			WHERE source_uri = ? AND target_uri = ? AND relation_type = ?`,
			sourceURI, targetURI, relationType)
		rel, err := scanRelation(row)
		if err != nil {
			return apperrors.NewStoreError("read relation", err)
		}
		result.Relation = *rel
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("relation linked",
		zap.String("source", sourceURI),
		zap.String("target", targetURI),
		zap.String("type", relationType),
		zap.Float64("weight", weight))
	return result, nil
}

// Unlink deletes the relation for the exact triple if present; absent triples
// are a no-op. Returns whether a row was removed.
func (s *Store) Unlink(ctx context.Context, sourceURI, targetURI, relationType string) (bool, error) {
	var removed bool

	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM relations
			WHERE source_uri = ? AND target_uri = ? AND relation_type = ?`,
			sourceURI, targetURI, relationType)
		if err != nil {
			return apperrors.NewStoreError("delete relation", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return apperrors.NewStoreError("delete relation", err)
		}
		removed = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// GetOutgoing returns the relations whose source is uri, ordered by creation
// time ascending (id breaks ties) so traversal order is deterministic.
func (s *Store) GetOutgoing(ctx context.Context, uri string) ([]Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+relationColumns+` FROM relations
		WHERE source_uri = ?
		ORDER BY created_at ASC, id ASC`, uri)
	if err != nil {
		return nil, apperrors.NewStoreError("read outgoing relations", err)
	}
	return collectRelations(rows)
}

// GetIncoming returns the relations whose target is uri, same ordering as GetOutgoing
func (s *Store) GetIncoming(ctx context.Context, uri string) ([]Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+relationColumns+` FROM relations
		WHERE target_uri = ?
		ORDER BY created_at ASC, id ASC`, uri)
	if err != nil {
		return nil, apperrors.NewStoreError("read incoming relations", err)
	}
	return collectRelations(rows)
}

// GetRelation reads a single relation by its triple
func (s *Store) GetRelation(ctx context.Context, sourceURI, targetURI, relationType string) (*Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+relationColumns+` FROM relations
		WHERE source_uri = ? AND target_uri = ? AND relation_type = ?`,
		sourceURI, targetURI, relationType)
	rel, err := scanRelation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNodeNotFound(sourceURI + " -> " + targetURI)
	}
	if err != nil {
		return nil, apperrors.NewStoreError("read relation", err)
	}
	return rel, nil
}

// RelationsAmong returns every relation whose both endpoints are in uris,
// ordered by creation time ascending. This is the edge set the visualization
// layer and traversal results consume.
func (s *Store) RelationsAmong(ctx context.Context, uris []string) ([]Relation, error) {
	if len(uris) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(uris)), ",")
	args := make([]interface{}, 0, len(uris)*2)
	for _, uri := range uris {
		args = append(args, uri)
	}
	for _, uri := range uris {
		args = append(args, uri)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+relationColumns+` FROM relations
		WHERE source_uri IN (`+placeholders+`)
		AND target_uri IN (`+placeholders+`)
		ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, apperrors.NewStoreError("read relations among nodes", err)
	}
	return collectRelations(rows)
}
