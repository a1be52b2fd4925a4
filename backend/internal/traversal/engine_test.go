package traversal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"knowledge-engine/backend/internal/active"
	"knowledge-engine/backend/internal/graph"
	"knowledge-engine/backend/pkg/errors"
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

func mustConcept(t *testing.T, store *graph.Store, uri string) {
	t.Helper()
	name := filepath.Base(uri)
	content := "about " + name
	if _, err := store.CreateNode(context.Background(), uri, graph.NodeTypeConcept, &name, &content, nil); err != nil {
		t.Fatalf("create %s: %v", uri, err)
	}
}

func mustLink(t *testing.T, store *graph.Store, source, target string, weight float64) {
	t.Helper()
	if _, err := store.Link(context.Background(), source, target, "related", weight, nil); err != nil {
		t.Fatalf("link %s -> %s: %v", source, target, err)
	}
}

func acceptedURIs(res *Result) []string {
	uris := make([]string, 0, len(res.Nodes))
	for _, n := range res.Nodes {
		uris = append(uris, n.URI)
	}
	sort.Strings(uris)
	return uris
}

func TestTraverseIsolatedSeed(t *testing.T) {
	store := newTestStore(t)
	mustConcept(t, store, "concept://main/alone")

	engine := New(store, nil, nil, nil, time.Second)
	res, err := engine.Traverse(context.Background(), "concept://main/alone", DefaultMaxCost)
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if len(res.Nodes) != 1 || res.Nodes[0].URI != "concept://main/alone" {
		t.Fatalf("expected only the seed, got %v", acceptedURIs(res))
	}
	if len(res.Relations) != 0 {
		t.Fatalf("expected no relations, got %d", len(res.Relations))
	}
}

func TestTraverseSeedNotFound(t *testing.T) {
	store := newTestStore(t)
	engine := New(store, nil, nil, nil, time.Second)

	_, err := engine.Traverse(context.Background(), "concept://main/ghost", DefaultMaxCost)
	if !errors.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestTraverseCostBudget(t *testing.T) {
	store := newTestStore(t)
	for _, p := range []string{"a", "b", "c", "d"} {
		mustConcept(t, store, "concept://main/"+p)
	}
	mustLink(t, store, "concept://main/a", "concept://main/b", 0.4)
	mustLink(t, store, "concept://main/b", "concept://main/c", 0.4)
	mustLink(t, store, "concept://main/c", "concept://main/d", 0.4)

	engine := New(store, nil, nil, nil, time.Second)
	res, err := engine.Traverse(context.Background(), "concept://main/a", 1.0)
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}

	want := []string{"concept://main/a", "concept://main/b", "concept://main/c"}
	got := acceptedURIs(res)
	if len(got) != len(want) {
		t.Fatalf("accepted %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("accepted %v, want %v", got, want)
		}
	}
}

func TestTraverseZeroWeightBypassesBudget(t *testing.T) {
	store := newTestStore(t)
	mustConcept(t, store, "concept://main/a")
	mustConcept(t, store, "concept://main/b")
	mustLink(t, store, "concept://main/a", "concept://main/b", 0)

	engine := New(store, nil, nil, nil, time.Second)
	res, err := engine.Traverse(context.Background(), "concept://main/a", 0.0)
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if len(res.Nodes) != 2 {
		t.Fatalf("expected weight-0 target accepted at zero budget, got %v", acceptedURIs(res))
	}
}

func TestTraverseZeroWeightChainFixpoint(t *testing.T) {
	store := newTestStore(t)
	for _, p := range []string{"a", "b", "c", "d"} {
		mustConcept(t, store, "concept://main/"+p)
	}
	// a --0--> b --0--> c, and c --0.9--> d which exceeds the budget
	mustLink(t, store, "concept://main/a", "concept://main/b", 0)
	mustLink(t, store, "concept://main/b", "concept://main/c", 0)
	mustLink(t, store, "concept://main/c", "concept://main/d", 0.9)

	engine := New(store, nil, nil, nil, time.Second)
	res, err := engine.Traverse(context.Background(), "concept://main/a", 0.5)
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}

	got := acceptedURIs(res)
	want := []string{"concept://main/a", "concept://main/b", "concept://main/c"}
	if len(got) != 3 || got[0] != want[0] || got[2] != want[2] {
		t.Fatalf("accepted %v, want %v", got, want)
	}
}

func TestTraverseSelfLoopInert(t *testing.T) {
	store := newTestStore(t)
	mustConcept(t, store, "concept://main/a")
	mustLink(t, store, "concept://main/a", "concept://main/a", 0.2)

	engine := New(store, nil, nil, nil, time.Second)
	res, err := engine.Traverse(context.Background(), "concept://main/a", 1.0)
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if len(res.Nodes) != 1 {
		t.Fatalf("self-loop must not change acceptance, got %v", acceptedURIs(res))
	}
	// the self-loop edge itself is still among the relations of the set
	if len(res.Relations) != 1 {
		t.Fatalf("expected the self-loop edge in the result, got %d", len(res.Relations))
	}
}

func TestTraverseCheaperPathWins(t *testing.T) {
	store := newTestStore(t)
	for _, p := range []string{"a", "b", "c", "d"} {
		mustConcept(t, store, "concept://main/"+p)
	}
	// expensive direct edge a->c, cheap path a->b->c; c->d only fits the
	// budget through the cheap path
	mustLink(t, store, "concept://main/a", "concept://main/c", 0.9)
	mustLink(t, store, "concept://main/a", "concept://main/b", 0.1)
	mustLink(t, store, "concept://main/b", "concept://main/c", 0.1)
	mustLink(t, store, "concept://main/c", "concept://main/d", 0.5)

	engine := New(store, nil, nil, nil, time.Second)
	res, err := engine.Traverse(context.Background(), "concept://main/a", 1.0)
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if len(res.Nodes) != 4 {
		t.Fatalf("expected all four nodes via the cheap path, got %v", acceptedURIs(res))
	}
}

func TestTraverseEdgeClosureOverAcceptedSet(t *testing.T) {
	store := newTestStore(t)
	for _, p := range []string{"a", "b", "c"} {
		mustConcept(t, store, "concept://main/"+p)
	}
	mustLink(t, store, "concept://main/a", "concept://main/b", 0.3)
	mustLink(t, store, "concept://main/a", "concept://main/c", 0.3)
	// b->c is over budget from b, but both endpoints are accepted so the
	// edge still belongs to the result
	mustLink(t, store, "concept://main/b", "concept://main/c", 0.9)

	engine := New(store, nil, nil, nil, time.Second)
	res, err := engine.Traverse(context.Background(), "concept://main/a", 0.5)
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if len(res.Nodes) != 3 {
		t.Fatalf("accepted %v", acceptedURIs(res))
	}
	if len(res.Relations) != 3 {
		t.Fatalf("expected all 3 edges among accepted nodes, got %d", len(res.Relations))
	}
}

func TestTraverseDanglingConceptWarns(t *testing.T) {
	store := newTestStore(t)
	mustConcept(t, store, "concept://main/a")
	mustLink(t, store, "concept://main/a", "concept://main/missing", 0.1)

	engine := New(store, nil, nil, nil, time.Second)
	res, err := engine.Traverse(context.Background(), "concept://main/a", 1.0)
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if len(res.Nodes) != 1 {
		t.Fatalf("dangling target must not be accepted, got %v", acceptedURIs(res))
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Kind != graph.WarningDanglingConcept {
		t.Fatalf("expected one dangling-concept warning, got %v", res.Warnings)
	}
}

func TestTraverseTouchesActiveContext(t *testing.T) {
	store := newTestStore(t)
	mustConcept(t, store, "concept://main/a")
	mustConcept(t, store, "concept://main/b")
	mustLink(t, store, "concept://main/a", "concept://main/b", 0.2)

	actx := active.New(10)
	engine := New(store, actx, nil, nil, time.Second)
	if _, err := engine.Traverse(context.Background(), "concept://main/a", 1.0); err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if !actx.Contains("concept://main/a") || !actx.Contains("concept://main/b") {
		t.Fatalf("accepted nodes missing from active context: %v", actx.URIs())
	}
}

type stubDirectory struct{ known map[string]bool }

func (d stubDirectory) IsRegistered(id string) bool { return d.known[id] }

type stubFetcher struct {
	subgraph *graph.Subgraph
	err      error
	calls    int
}

func (f *stubFetcher) FetchSubgraph(_ context.Context, _ graph.URI) (*graph.Subgraph, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.subgraph, nil
}

func remoteSubgraph() *graph.Subgraph {
	name := "shared"
	content := "remote content"
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	return &graph.Subgraph{
		Workspace: "team",
		Nodes: []graph.Node{{
			URI:       "concept://team/shared",
			NodeType:  graph.NodeTypeConcept,
			Name:      &name,
			Content:   &content,
			Metadata:  graph.Metadata{},
			CreatedAt: now,
			UpdatedAt: now,
		}},
	}
}

func TestTraverseCrossWorkspaceFetch(t *testing.T) {
	store := newTestStore(t)
	mustConcept(t, store, "concept://main/a")
	mustLink(t, store, "concept://main/a", "concept://team/shared", 0.2)

	fetcher := &stubFetcher{subgraph: remoteSubgraph()}
	engine := New(store, nil, stubDirectory{known: map[string]bool{"team": true}}, fetcher, time.Second)

	res, err := engine.Traverse(context.Background(), "concept://main/a", 1.0)
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected one fetch, got %d", fetcher.calls)
	}
	if len(res.Nodes) != 2 {
		t.Fatalf("expected remote node accepted after fetch, got %v", acceptedURIs(res))
	}
	// the fetched node is now materialized in the local store, and the
	// commit is reported so callers can announce it
	if ok, _ := store.HasNode(context.Background(), "concept://team/shared"); !ok {
		t.Fatal("fetched node was not written into the store")
	}
	if len(res.Imported) != 1 || res.Imported[0].URI != "concept://team/shared" {
		t.Fatalf("imported = %+v", res.Imported)
	}
}

func TestTraverseRemoteFailurePrunesBranch(t *testing.T) {
	store := newTestStore(t)
	mustConcept(t, store, "concept://main/a")
	mustConcept(t, store, "concept://main/b")
	mustLink(t, store, "concept://main/a", "concept://team/shared", 0.2)
	mustLink(t, store, "concept://main/a", "concept://main/b", 0.2)

	fetcher := &stubFetcher{err: fmt.Errorf("connection refused")}
	engine := New(store, nil, stubDirectory{known: map[string]bool{"team": true}}, fetcher, time.Second)

	res, err := engine.Traverse(context.Background(), "concept://main/a", 1.0)
	if err != nil {
		t.Fatalf("traversal must not abort on remote failure: %v", err)
	}
	if len(res.Nodes) != 2 {
		t.Fatalf("local branch should survive, got %v", acceptedURIs(res))
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Kind != graph.WarningRemoteUnavailable {
		t.Fatalf("expected remote-unavailable warning, got %v", res.Warnings)
	}
}

func TestTraverseSeedFetchedFromRegisteredWorkspace(t *testing.T) {
	store := newTestStore(t)

	fetcher := &stubFetcher{subgraph: remoteSubgraph()}
	engine := New(store, nil, stubDirectory{known: map[string]bool{"team": true}}, fetcher, time.Second)

	res, err := engine.Traverse(context.Background(), "concept://team/shared", 1.0)
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if len(res.Nodes) != 1 || res.Nodes[0].URI != "concept://team/shared" {
		t.Fatalf("expected fetched seed, got %v", acceptedURIs(res))
	}
}

func TestTraverseNegativeBudgetRejected(t *testing.T) {
	store := newTestStore(t)
	mustConcept(t, store, "concept://main/a")

	engine := New(store, nil, nil, nil, time.Second)
	if _, err := engine.Traverse(context.Background(), "concept://main/a", -0.5); !errors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
