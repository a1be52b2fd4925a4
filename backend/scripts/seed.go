package main

import (
	"context"
	"flag"
	"fmt"

	"knowledge-engine/backend/internal/graph"
	"knowledge-engine/backend/internal/workspace"
	"knowledge-engine/backend/pkg/config"
	"knowledge-engine/backend/pkg/logger"

	"go.uber.org/zap"
)

// Seeds a demo workspace so the visualization has something to show on a
// fresh install. Run with: go run ./backend/scripts -workspace demo
func main() {
	workspaceID := flag.String("workspace", "demo", "Workspace ID to seed")
	force := flag.Bool("force", false, "Reseed even if the workspace already has nodes")
	flag.Parse()

	// Initialize logger
	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting workspace seeding...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	registry, err := workspace.LoadRegistry(cfg.KnowledgeDir)
	if err != nil {
		log.Fatal("Failed to load workspace registry", zap.Error(err))
	}

	store, err := graph.Open(workspace.DBPath(cfg.KnowledgeDir, *workspaceID), graph.NewLinkResolver(registry))
	if err != nil {
		log.Fatal("Failed to open graph store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	count, err := store.NodeCount(ctx)
	if err != nil {
		log.Fatal("Failed to inspect store", zap.Error(err))
	}
	if count > 0 && !*force {
		log.Info("Workspace already seeded, use -force to reseed",
			zap.String("workspace", *workspaceID), zap.Int("nodes", count))
		return
	}

	ws := *workspaceID
	concepts := []struct {
		path, name, content string
	}{
		{"architecture", "Architecture", "High level design of the system. Starts from resource://" + ws + "/README.md."},
		{"storage", "Storage", "Durable node and relation persistence."},
		{"traversal", "Traversal", "Cost-bounded expansion from a seed concept."},
		{"visualization", "Visualization", "Live view of the active context."},
	}
	for _, c := range concepts {
		uri := "concept://" + ws + "/" + c.path
		name, content := c.name, c.content
		if _, err := store.CreateNode(ctx, uri, graph.NodeTypeConcept, &name, &content, nil); err != nil {
			log.Warn("Skipping concept", zap.String("uri", uri), zap.Error(err))
		}
	}

	links := []struct {
		source, target, relType string
		weight                  float64
	}{
		{"architecture", "storage", "composed_of", 0.3},
		{"architecture", "traversal", "composed_of", 0.3},
		{"architecture", "visualization", "composed_of", 0.6},
		{"traversal", "storage", "reads_from", 0.2},
		{"visualization", "traversal", "observes", 0},
	}
	for _, l := range links {
		source := "concept://" + ws + "/" + l.source
		target := "concept://" + ws + "/" + l.target
		if _, err := store.Link(ctx, source, target, l.relType, l.weight, nil); err != nil {
			log.Warn("Skipping relation", zap.String("source", source), zap.Error(err))
		}
	}

	// pointer into the tree; the resolver creates the resource node
	if _, err := store.Link(ctx, "concept://"+ws+"/architecture", "resource://"+ws+"/README.md", "references", 1.0, nil); err != nil {
		log.Warn("Skipping resource link", zap.Error(err))
	}

	nodes, _ := store.NodeCount(ctx)
	relations, _ := store.RelationCount(ctx)
	log.Info("Seeding complete",
		zap.String("workspace", *workspaceID),
		zap.Int("nodes", nodes),
		zap.Int("relations", relations))
}
