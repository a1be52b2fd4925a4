package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-engine/backend/internal/active"
	"knowledge-engine/backend/internal/engine"
	"knowledge-engine/backend/internal/graph"
	"knowledge-engine/backend/internal/notify"
	"knowledge-engine/backend/internal/traversal"
	"knowledge-engine/backend/internal/ws"
	"knowledge-engine/backend/pkg/logger"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.Init("test")
	os.Exit(m.Run())
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	store, err := graph.Open(filepath.Join(t.TempDir(), "graph.db"), graph.NewLinkResolver(nil))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	actx := active.New(active.DefaultCap)
	notifier := notify.New(0)
	t.Cleanup(notifier.Close)

	eng := engine.New(engine.Options{
		Workspace: "main",
		Store:     store,
		Context:   actx,
		Notifier:  notifier,
		Traversal: traversal.New(store, actx, nil, nil, time.Second),
	})
	return newRouter(&api{
		engine:  eng,
		hub:     ws.NewHub(eng),
		maxCost: traversal.DefaultMaxCost,
	}, false)
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "main")
}

func TestConceptLifecycle(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/concepts", gin.H{
		"uri":     "concept://main/go",
		"name":    "Go",
		"content": "a programming language",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	// duplicate create collides
	rec = doJSON(t, router, http.MethodPost, "/api/v1/concepts", gin.H{
		"uri":  "concept://main/go",
		"name": "Go",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodPatch, "/api/v1/concepts", gin.H{
		"uri":     "concept://main/go",
		"content": "updated content",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/node?uri=concept%3A%2F%2Fmain%2Fgo", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var neighborhood engine.Neighborhood
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &neighborhood))
	require.NotNil(t, neighborhood.Node.Content)
	assert.Equal(t, "updated content", *neighborhood.Node.Content)

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/node?uri=concept%3A%2F%2Fmain%2Fgo", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/node?uri=concept%3A%2F%2Fmain%2Fgo", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLinkSurfacesDanglingWarning(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/concepts", gin.H{
		"uri": "concept://main/a", "name": "a",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/relations", gin.H{
		"source_uri":    "concept://main/a",
		"target_uri":    "concept://main/missing",
		"relation_type": "related",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	var result engine.EditResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, graph.WarningDanglingConcept, result.Warnings[0].Kind)
}

func TestTraverseEndpoint(t *testing.T) {
	router := newTestRouter(t)

	for _, uri := range []string{"concept://main/a", "concept://main/b"} {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/concepts", gin.H{"uri": uri, "name": uri})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := doJSON(t, router, http.MethodPost, "/api/v1/relations", gin.H{
		"source_uri":    "concept://main/a",
		"target_uri":    "concept://main/b",
		"relation_type": "related",
		"weight":        0.3,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/traverse", gin.H{
		"seed_uri": "concept://main/a",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	var result traversal.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Len(t, result.Nodes, 2)
	assert.Len(t, result.Relations, 1)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/traverse", gin.H{
		"seed_uri": "concept://main/ghost",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMoveEndpointConflict(t *testing.T) {
	router := newTestRouter(t)

	for _, uri := range []string{"concept://main/a", "concept://main/b"} {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/concepts", gin.H{"uri": uri, "name": uri})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, router, http.MethodPost, "/api/v1/move", gin.H{
		"old_uri": "concept://main/a",
		"new_uri": "concept://main/b",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/move", gin.H{
		"old_uri": "concept://main/a",
		"new_uri": "concept://main/c",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExportEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/concepts", gin.H{
		"uri": "concept://main/root", "name": "root",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/export?uri=concept%3A%2F%2Fmain%2Froot", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var sub graph.Subgraph
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Len(t, sub.Nodes, 1)
}

func TestStatsAndContextClear(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/concepts", gin.H{
		"uri": "concept://main/a", "name": "a",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var stats engine.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Nodes)
	assert.Equal(t, 1, stats.ContextSize)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/context/clear", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/graph", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var snapshot active.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Empty(t, snapshot.Nodes)
}

func TestFetchWithoutFetcherIsBadGateway(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/v1/fetch", gin.H{
		"uri": "concept://team/shared",
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestTraverseZeroBudgetEndpoint(t *testing.T) {
	router := newTestRouter(t)

	for _, uri := range []string{"concept://main/a", "concept://main/b", "concept://main/c"} {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/concepts", gin.H{"uri": uri, "name": uri})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := doJSON(t, router, http.MethodPost, "/api/v1/relations", gin.H{
		"source_uri": "concept://main/a", "target_uri": "concept://main/b",
		"relation_type": "related", "weight": 0,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, router, http.MethodPost, "/api/v1/relations", gin.H{
		"source_uri": "concept://main/a", "target_uri": "concept://main/c",
		"relation_type": "related", "weight": 0.4,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// an explicit zero budget admits only the weight-0 closure
	rec = doJSON(t, router, http.MethodPost, "/api/v1/traverse", gin.H{
		"seed_uri": "concept://main/a",
		"max_cost": 0,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	var result traversal.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Len(t, result.Nodes, 2)
}

func TestBootstrapWithoutWorkspaceRoot(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/v1/bootstrap", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
