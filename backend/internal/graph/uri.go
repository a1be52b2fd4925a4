package graph

import (
	"strings"

	apperrors "knowledge-engine/backend/pkg/errors"
)

// URI is the parsed form of <scheme>://<workspace>/<path>. A node's workspace
// is derived from its URI, never stored separately.
type URI struct {
	Scheme    string
	Workspace string
	Path      string
}

// String reassembles the canonical URI text
func (u URI) String() string {
	return u.Scheme + "://" + u.Workspace + "/" + u.Path
}

// ParseURI splits a node URI into scheme, workspace and path
func ParseURI(raw string) (URI, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return URI{}, apperrors.NewInvalidURI(raw, "missing '://'")
	}
	if scheme != string(NodeTypeConcept) && scheme != string(NodeTypeResource) {
		return URI{}, apperrors.NewInvalidURI(raw, "scheme must be 'concept' or 'resource'")
	}
	workspace, path, ok := strings.Cut(rest, "/")
	if !ok || workspace == "" || path == "" {
		return URI{}, apperrors.NewInvalidURI(raw, "expected <scheme>://<workspace>/<path>")
	}
	return URI{Scheme: scheme, Workspace: workspace, Path: path}, nil
}

// WorkspaceOf returns the workspace id embedded in raw, or "" if unparseable
func WorkspaceOf(raw string) string {
	u, err := ParseURI(raw)
	if err != nil {
		return ""
	}
	return u.Workspace
}
