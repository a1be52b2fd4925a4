package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"knowledge-engine/backend/internal/bootstrap"
	"knowledge-engine/backend/internal/engine"
	"knowledge-engine/backend/internal/graph"
	"knowledge-engine/backend/internal/ws"
	"knowledge-engine/backend/pkg/errors"
)

// api groups the handlers around their collaborators
type api struct {
	engine  *engine.Engine
	hub     *ws.Hub
	scanner *bootstrap.Scanner // nil when no workspace root was discovered
	maxCost float64
}

func newRouter(a *api, development bool) *gin.Engine {
	if !development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), corsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "workspace": a.engine.Workspace()})
	})
	r.GET("/ws", gin.WrapF(a.hub.Serve))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/graph", a.getGraph)
		v1.GET("/stats", a.getStats)
		v1.GET("/node", a.getNode)
		v1.GET("/export", a.exportSubgraph)

		v1.POST("/traverse", a.traverse)
		v1.POST("/concepts", a.addConcept)
		v1.PATCH("/concepts", a.updateConcept)
		v1.POST("/move", a.moveConcept)
		v1.DELETE("/node", a.deleteNode)
		v1.POST("/relations", a.link)
		v1.DELETE("/relations", a.unlink)
		v1.POST("/fetch", a.fetchRemote)
		v1.POST("/context/clear", a.clearContext)
		v1.POST("/bootstrap", a.runBootstrap)
	}
	return r
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// fail maps the error taxonomy onto HTTP status codes
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.IsDuplicate(err), errors.IsConflict(err):
		status = http.StatusConflict
	case errors.IsValidation(err):
		status = http.StatusBadRequest
	case errors.IsRemote(err):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (a *api) getGraph(c *gin.Context) {
	snapshot, err := a.engine.ContextSnapshot(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (a *api) getStats(c *gin.Context) {
	stats, err := a.engine.Stats(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (a *api) getNode(c *gin.Context) {
	uri := c.Query("uri")
	if uri == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uri query parameter is required"})
		return
	}
	neighborhood, err := a.engine.GetNeighborhood(c.Request.Context(), uri)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, neighborhood)
}

func (a *api) exportSubgraph(c *gin.Context) {
	uri := c.Query("uri")
	if uri == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uri query parameter is required"})
		return
	}
	sub, err := a.engine.ExportSubgraph(c.Request.Context(), uri)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

type traverseRequest struct {
	SeedURI string   `json:"seed_uri" binding:"required"`
	MaxCost *float64 `json:"max_cost"` // absent means the configured default; 0 is a legal budget
}

func (a *api) traverse(c *gin.Context) {
	var req traverseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MaxCost == nil {
		req.MaxCost = &a.maxCost
	}
	result, err := a.engine.Traverse(c.Request.Context(), req.SeedURI, req.MaxCost)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type addConceptRequest struct {
	URI      string         `json:"uri" binding:"required"`
	Name     string         `json:"name"`
	Content  string         `json:"content"`
	Metadata graph.Metadata `json:"metadata"`
}

func (a *api) addConcept(c *gin.Context) {
	var req addConceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := a.engine.AddConcept(c.Request.Context(), req.URI, req.Name, req.Content, req.Metadata)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

type updateConceptRequest struct {
	URI      string         `json:"uri" binding:"required"`
	Content  *string        `json:"content"`
	Metadata graph.Metadata `json:"metadata"`
}

func (a *api) updateConcept(c *gin.Context) {
	var req updateConceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := a.engine.UpdateConcept(c.Request.Context(), req.URI, req.Content, req.Metadata)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type moveRequest struct {
	OldURI string `json:"old_uri" binding:"required"`
	NewURI string `json:"new_uri" binding:"required"`
}

func (a *api) moveConcept(c *gin.Context) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.engine.MoveConcept(c.Request.Context(), req.OldURI, req.NewURI); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uri": req.NewURI})
}

func (a *api) deleteNode(c *gin.Context) {
	uri := c.Query("uri")
	if uri == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uri query parameter is required"})
		return
	}
	if err := a.engine.DeleteNode(c.Request.Context(), uri); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type linkRequest struct {
	SourceURI    string         `json:"source_uri" binding:"required"`
	TargetURI    string         `json:"target_uri" binding:"required"`
	RelationType string         `json:"relation_type" binding:"required"`
	Weight       *float64       `json:"weight"`
	Metadata     graph.Metadata `json:"metadata"`
}

func (a *api) link(c *gin.Context) {
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	weight := 1.0
	if req.Weight != nil {
		weight = *req.Weight
	}
	result, err := a.engine.Link(c.Request.Context(), req.SourceURI, req.TargetURI, req.RelationType, weight, req.Metadata)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (a *api) unlink(c *gin.Context) {
	source := c.Query("source_uri")
	target := c.Query("target_uri")
	relType := c.Query("relation_type")
	if source == "" || target == "" || relType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_uri, target_uri and relation_type are required"})
		return
	}
	if err := a.engine.Unlink(c.Request.Context(), source, target, relType); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type fetchRequest struct {
	URI string `json:"uri" binding:"required"`
}

func (a *api) fetchRemote(c *gin.Context) {
	var req fetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := a.engine.FetchRemoteSubgraph(c.Request.Context(), req.URI)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *api) clearContext(c *gin.Context) {
	a.engine.ClearContext()
	c.Status(http.StatusNoContent)
}

func (a *api) runBootstrap(c *gin.Context) {
	if a.scanner == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no workspace root discovered; nothing to scan"})
		return
	}
	report, err := a.scanner.Scan(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
