package graph

import (
	"encoding/json"
	"fmt"
	"time"
)

// NodeType distinguishes curated concepts from cheap resource pointers
type NodeType string

const (
	NodeTypeConcept  NodeType = "concept"
	NodeTypeResource NodeType = "resource"
)

// Node is a vertex in the knowledge graph, identified by a globally unique URI
// of the form <scheme>://<workspace>/<path>
type Node struct {
	URI       string    `json:"uri"`
	NodeType  NodeType  `json:"node_type"`
	Name      *string   `json:"name,omitempty"`    // concepts only
	Content   *string   `json:"content,omitempty"` // concepts only
	Metadata  Metadata  `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Relation is a weighted directed edge. (SourceURI, TargetURI, RelationType)
// is unique; re-linking the same triple updates weight and metadata in place.
type Relation struct {
	ID           int64     `json:"id,omitempty"`
	SourceURI    string    `json:"source_uri"`
	TargetURI    string    `json:"target_uri"`
	RelationType string    `json:"relation_type"`
	Weight       float64   `json:"weight"`
	Metadata     Metadata  `json:"metadata,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Subgraph is a serializable node+edge set, used for export and remote handoff
type Subgraph struct {
	Workspace string     `json:"workspace"`
	Nodes     []Node     `json:"nodes"`
	Relations []Relation `json:"relations"`
}

// ValueKind tags the variant held by a metadata Value
type ValueKind string

const (
	KindString ValueKind = "string"
	KindNumber ValueKind = "number"
	KindBool   ValueKind = "bool"
	KindMap    ValueKind = "map"
	KindList   ValueKind = "list"
	KindNull   ValueKind = "null"
)

// Value is a tagged union over the JSON scalar and container types. Agents
// attach arbitrary fields to nodes and relations, so metadata stays schema-free
// without resorting to interface{} throughout the store.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Map  map[string]Value
	List []Value
}

// Metadata is an open string-keyed mapping of variant values
type Metadata map[string]Value

func String(s string) Value  { return Value{Kind: KindString, Str: s} }
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }
func Boolean(b bool) Value   { return Value{Kind: KindBool, Bool: b} }
func MapValue(m map[string]Value) Value {
	return Value{Kind: KindMap, Map: m}
}
func ListValue(l []Value) Value { return Value{Kind: KindList, List: l} }

// MarshalJSON renders the value as plain JSON, not as the tagged struct
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindMap:
		return json.Marshal(v.Map)
	case KindList:
		return json.Marshal(v.List)
	case KindNull, "":
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("unknown value kind: %s", v.Kind)
	}
}

// UnmarshalJSON tags plain JSON back into the variant form
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = fromInterface(raw)
	return nil
}

func fromInterface(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Value{Kind: KindNull}
	case string:
		return String(t)
	case float64:
		return Number(t)
	case bool:
		return Boolean(t)
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = fromInterface(item)
		}
		return MapValue(m)
	case []interface{}:
		l := make([]Value, 0, len(t))
		for _, item := range t {
			l = append(l, fromInterface(item))
		}
		return ListValue(l)
	default:
		// json.Unmarshal into interface{} only yields the cases above
		return Value{Kind: KindNull}
	}
}

// WarningKind classifies non-fatal conditions surfaced alongside success
type WarningKind string

const (
	WarningDanglingConcept   WarningKind = "dangling_concept"
	WarningRemoteUnavailable WarningKind = "remote_unavailable"
)

// Warning records a correctable inconsistency instead of rejecting the edit
type Warning struct {
	Kind    WarningKind `json:"kind"`
	URI     string      `json:"uri"`
	Message string      `json:"message"`
}

func DanglingConceptWarning(uri string) Warning {
	return Warning{
		Kind:    WarningDanglingConcept,
		URI:     uri,
		Message: fmt.Sprintf("relation points at missing concept %s; create it or the link stays unresolved", uri),
	}
}

func RemoteUnavailableWarning(uri string, err error) Warning {
	w := Warning{
		Kind:    WarningRemoteUnavailable,
		URI:     uri,
		Message: fmt.Sprintf("remote workspace for %s unavailable; branch pruned", uri),
	}
	if err != nil {
		w.Message = fmt.Sprintf("%s: %v", w.Message, err)
	}
	return w
}
