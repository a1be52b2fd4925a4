package graph

import (
	"database/sql"
	"encoding/json"
	"time"
)

func marshalMetadata(m Metadata) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalMetadata(raw string) (Metadata, error) {
	if raw == "" || raw == "{}" {
		return Metadata{}, nil
	}
	var m Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// rowScanner abstracts *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(row rowScanner) (*Node, error) {
	var (
		node               Node
		name, content      sql.NullString
		meta               string
		createdAt, updated int64
	)
	if err := row.Scan(&node.URI, &node.NodeType, &name, &content, &meta, &createdAt, &updated); err != nil {
		return nil, err
	}
	node.Name = stringPtr(name)
	node.Content = stringPtr(content)

	m, err := unmarshalMetadata(meta)
	if err != nil {
		return nil, err
	}
	node.Metadata = m
	node.CreatedAt = time.Unix(0, createdAt).UTC()
	node.UpdatedAt = time.Unix(0, updated).UTC()
	return &node, nil
}

func scanRelation(row rowScanner) (*Relation, error) {
	var (
		rel       Relation
		meta      string
		createdAt int64
	)
	if err := row.Scan(&rel.ID, &rel.SourceURI, &rel.TargetURI, &rel.RelationType, &rel.Weight, &meta, &createdAt); err != nil {
		return nil, err
	}
	m, err := unmarshalMetadata(meta)
	if err != nil {
		return nil, err
	}
	rel.Metadata = m
	rel.CreatedAt = time.Unix(0, createdAt).UTC()
	return &rel, nil
}

func collectRelations(rows *sql.Rows) ([]Relation, error) {
	defer rows.Close()

	var relations []Relation
	for rows.Next() {
		rel, err := scanRelation(rows)
		if err != nil {
			return nil, err
		}
		relations = append(relations, *rel)
	}
	return relations, rows.Err()
}

const relationColumns = `id, source_uri, target_uri, relation_type, weight, metadata, created_at`
const nodeColumns = `uri, node_type, name, content, metadata, created_at, updated_at`
