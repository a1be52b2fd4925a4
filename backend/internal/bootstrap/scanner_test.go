package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"knowledge-engine/backend/internal/graph"
	"knowledge-engine/backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init("test")
	os.Exit(m.Run())
}

func newTestStore(t *testing.T) *graph.Store {
	t.Helper()
	store, err := graph.Open(filepath.Join(t.TempDir(), "graph.db"), graph.NewLinkResolver(nil))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestScanCreatesResourceTree(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"README.md":     "hello",
		"src/main.go":   "package main",
		"src/util/u.go": "package util",
	})

	store := newTestStore(t)
	scanner := NewScanner(store, "proj", root, nil)
	report, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	// 3 files + 2 directories
	if report.Created != 5 {
		t.Fatalf("created = %d", report.Created)
	}

	ctx := context.Background()
	node, err := store.GetNode(ctx, "resource://proj/src")
	if err != nil {
		t.Fatalf("directory node: %v", err)
	}
	if kind, ok := node.Metadata["kind"]; !ok || kind.Str != "directory" {
		t.Fatalf("directory metadata = %+v", node.Metadata)
	}

	out, err := store.GetOutgoing(ctx, "resource://proj/src")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("src should contain 2 entries, got %d", len(out))
	}
	for _, rel := range out {
		if rel.RelationType != "contains" {
			t.Fatalf("relation type = %q", rel.RelationType)
		}
	}
}

func TestScanIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "x"})

	store := newTestStore(t)
	scanner := NewScanner(store, "proj", root, nil)
	if _, err := scanner.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}

	report, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Created != 0 || report.Skipped != 1 {
		t.Fatalf("second scan report = %+v", report)
	}
}

func TestScanHonorsIgnorePatterns(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"keep.md":             "k",
		"node_modules/x/y.js": "j",
		"build/out.bin":       "b",
		".git/config":         "c",
		"notes/secret.draft":  "s",
		"notes/published.md":  "p",
	})
	writeTree(t, root, map[string]string{".gitignore": "build/\n"})

	store := newTestStore(t)
	scanner := NewScanner(store, "proj", root, []string{"node_modules/**", "node_modules", "**/*.draft"})
	if _, err := scanner.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for _, absent := range []string{
		"resource://proj/node_modules",
		"resource://proj/build/out.bin",
		"resource://proj/.git/config",
		"resource://proj/notes/secret.draft",
	} {
		if ok, _ := store.HasNode(ctx, absent); ok {
			t.Fatalf("%s should have been ignored", absent)
		}
	}
	for _, present := range []string{
		"resource://proj/keep.md",
		"resource://proj/notes/published.md",
	} {
		if ok, _ := store.HasNode(ctx, present); !ok {
			t.Fatalf("%s should have been scanned", present)
		}
	}
}

func TestScanFileMetadata(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"doc.md": "12345"})

	store := newTestStore(t)
	scanner := NewScanner(store, "proj", root, nil)
	if _, err := scanner.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}

	node, err := store.GetNode(context.Background(), "resource://proj/doc.md")
	if err != nil {
		t.Fatal(err)
	}
	if node.Metadata["kind"].Str != "file" {
		t.Fatalf("kind = %+v", node.Metadata["kind"])
	}
	if node.Metadata["size"].Num != 5 {
		t.Fatalf("size = %+v", node.Metadata["size"])
	}
	if node.Metadata["extension"].Str != "md" {
		t.Fatalf("extension = %+v", node.Metadata["extension"])
	}
}
