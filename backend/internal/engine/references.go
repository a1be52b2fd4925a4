package engine

import (
	"regexp"
	"strings"

	"knowledge-engine/backend/internal/graph"
)

// markdownLink matches [label](concept://ws/path) style links; bareURI picks
// up URIs written directly into prose.
var (
	markdownLink = regexp.MustCompile(`\[[^\]]*\]\(((?:concept|resource)://[^)\s]+)\)`)
	bareURI      = regexp.MustCompile(`(?:concept|resource)://[^\s)\]"',;]+`)
)

// ExtractReferences returns the graph URIs referenced by markdown content,
// deduplicated in order of first appearance. Malformed URIs are skipped.
func ExtractReferences(content string) []string {
	seen := make(map[string]bool)
	var refs []string

	add := func(raw string) {
		raw = strings.TrimRight(raw, ".,!?:")
		if seen[raw] {
			return
		}
		if _, err := graph.ParseURI(raw); err != nil {
			return
		}
		seen[raw] = true
		refs = append(refs, raw)
	}

	for _, m := range markdownLink.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, m := range bareURI.FindAllString(content, -1) {
		add(m)
	}
	return refs
}
