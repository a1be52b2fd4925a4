package graph

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	apperrors "knowledge-engine/backend/pkg/errors"
)

// ConflictReport surfaces a node whose imported remote version diverges from
// the local copy. The local copy stays untouched until an explicit resolution
// picks a version or supplies a merged replacement via UpdateNode.
type ConflictReport struct {
	URI    string `json:"uri"`
	Local  Node   `json:"local"`
	Remote Node   `json:"remote"`
}

// ImportResult reports what a subgraph import actually did
type ImportResult struct {
	Imported  []Node           `json:"imported"`
	Conflicts []ConflictReport `json:"conflicts"`
}

// ExportSubgraph collects the nodes reachable from seedURI over outgoing
// relations, plus the relations among them, as a serializable bundle for
// remote handoff. Fails with a not-found error if the seed is absent.
func (s *Store) ExportSubgraph(ctx context.Context, seedURI string) (*Subgraph, error) {
	if _, err := s.GetNode(ctx, seedURI); err != nil {
		return nil, err
	}

	visited := map[string]bool{seedURI: true}
	order := []string{seedURI}
	frontier := []string{seedURI}

	for len(frontier) > 0 {
		uri := frontier[0]
		frontier = frontier[1:]

		outgoing, err := s.GetOutgoing(ctx, uri)
		if err != nil {
			return nil, err
		}
		for _, rel := range outgoing {
			if visited[rel.TargetURI] {
				continue
			}
			visited[rel.TargetURI] = true
			ok, err := s.HasNode(ctx, rel.TargetURI)
			if err != nil {
				return nil, err
			}
			// dangling targets have no node to export; the relation is
			// dropped from the bundle along with them
			if !ok {
				continue
			}
			order = append(order, rel.TargetURI)
			frontier = append(frontier, rel.TargetURI)
		}
	}

	nodes, err := s.GetNodes(ctx, order)
	if err != nil {
		return nil, err
	}
	relations, err := s.RelationsAmong(ctx, order)
	if err != nil {
		return nil, err
	}

	ws := WorkspaceOf(seedURI)
	s.logger.Info("subgraph exported",
		zap.String("seed", seedURI),
		zap.Int("nodes", len(nodes)),
		zap.Int("relations", len(relations)))
	return &Subgraph{Workspace: ws, Nodes: nodes, Relations: relations}, nil
}

// ImportSubgraph writes a fetched subgraph into the store. New nodes are
// inserted as-is; a URI that already exists locally with identical content and
// metadata is skipped; a diverging URI produces a ConflictReport and the local
// copy is left untouched. Relations are upserted last so endpoints settle first.
func (s *Store) ImportSubgraph(ctx context.Context, sg *Subgraph) (*ImportResult, error) {
	result := &ImportResult{}

	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		for _, remote := range sg.Nodes {
			row := tx.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE uri = ?`, remote.URI)
			local, err := scanNode(row)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return apperrors.NewStoreError("read local node", err)
			}

			if local == nil {
				meta, err := marshalMetadata(remote.Metadata)
				if err != nil {
					return apperrors.NewStoreError("encode metadata", err)
				}
				node := remote
				if err := insertNode(ctx, tx, &node, meta); err != nil {
					return err
				}
				result.Imported = append(result.Imported, node)
				continue
			}

			if nodesDiverge(local, &remote) {
				result.Conflicts = append(result.Conflicts, ConflictReport{
					URI:    remote.URI,
					Local:  *local,
					Remote: remote,
				})
			}
		}

		now := s.now().UTC()
		for _, rel := range sg.Relations {
			createdAt := rel.CreatedAt
			if createdAt.IsZero() {
				createdAt = now
			}
			meta, err := marshalMetadata(rel.Metadata)
			if err != nil {
				return apperrors.NewStoreError("encode metadata", err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO relations (source_uri, target_uri, relation_type, weight, metadata, created_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(source_uri, target_uri, relation_type) DO UPDATE SET
					weight = excluded.weight,
					metadata = excluded.metadata`,
				rel.SourceURI, rel.TargetURI, rel.RelationType, rel.Weight, meta, createdAt.UnixNano())
			if err != nil {
				return apperrors.NewStoreError("import relation", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("subgraph imported",
		zap.String("workspace", sg.Workspace),
		zap.Int("imported", len(result.Imported)),
		zap.Int("conflicts", len(result.Conflicts)))
	return result, nil
}

// nodesDiverge compares the fields a remote edit could have changed
func nodesDiverge(local, remote *Node) bool {
	if !equalStringPtr(local.Content, remote.Content) {
		return true
	}
	if !equalStringPtr(local.Name, remote.Name) {
		return true
	}
	localMeta, err1 := marshalMetadata(local.Metadata)
	remoteMeta, err2 := marshalMetadata(remote.Metadata)
	if err1 != nil || err2 != nil {
		return true
	}
	return localMeta != remoteMeta
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
