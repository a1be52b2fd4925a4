package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"knowledge-engine/backend/internal/active"
	"knowledge-engine/backend/internal/bootstrap"
	"knowledge-engine/backend/internal/engine"
	"knowledge-engine/backend/internal/graph"
	"knowledge-engine/backend/internal/notify"
	"knowledge-engine/backend/internal/remote"
	"knowledge-engine/backend/internal/traversal"
	"knowledge-engine/backend/internal/workspace"
	"knowledge-engine/backend/internal/ws"
	"knowledge-engine/backend/pkg/config"
	"knowledge-engine/backend/pkg/logger"
)

func main() {
	// Initialize logger
	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting knowledge engine server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Discover the workspace this process serves. WORKSPACE_ID wins; otherwise
	// walk up from the working directory looking for ke_config.toml.
	workspaceID := cfg.WorkspaceID
	var projectRoot string
	var ignores []string
	if root, err := findProjectRoot(); err == nil {
		project, err := workspace.LoadProject(root)
		if err != nil {
			log.Fatal("Failed to load project config", zap.Error(err))
		}
		projectRoot = root
		ignores = project.Bootstrap.Ignore
		if workspaceID == "" {
			workspaceID = project.Workspace.ID
		}
		log.Info("Workspace root discovered",
			zap.String("root", root), zap.String("workspace", workspaceID))
	}
	if workspaceID == "" {
		log.Fatal("No workspace configured: set WORKSPACE_ID or add a ke_config.toml")
	}

	// Registry of known workspaces, shared by link resolution and fetching
	registry, err := workspace.LoadRegistry(cfg.KnowledgeDir)
	if err != nil {
		log.Fatal("Failed to load workspace registry", zap.Error(err))
	}

	// Open the workspace store
	store, err := graph.Open(workspace.DBPath(cfg.KnowledgeDir, workspaceID), graph.NewLinkResolver(registry))
	if err != nil {
		log.Fatal("Failed to open graph store", zap.Error(err))
	}
	defer store.Close()

	// Wire the core: active context, notifier, remote fetcher, traversal
	actx := active.New(cfg.ContextCap)
	notifier := notify.New(0)
	fetcher := remote.NewFetcher(registry)
	defer fetcher.Close()

	eng := engine.New(engine.Options{
		Workspace: workspaceID,
		Store:     store,
		Context:   actx,
		Notifier:  notifier,
		Traversal: traversal.New(store, actx, registry, fetcher, cfg.FetchTimeout),
		Fetcher:   fetcher,
	})
	defer eng.Close()

	// Seed resources from the workspace tree when a root was discovered
	var scanner *bootstrap.Scanner
	if projectRoot != "" {
		scanner = bootstrap.NewScanner(store, workspaceID, projectRoot, ignores)
		report, err := scanner.Scan(context.Background())
		if err != nil {
			log.Fatal("Workspace bootstrap failed", zap.Error(err))
		}
		log.Info("Workspace bootstrapped",
			zap.Int("created", report.Created), zap.Int("skipped", report.Skipped))
	}

	router := newRouter(&api{
		engine:  eng,
		hub:     ws.NewHub(eng),
		scanner: scanner,
		maxCost: cfg.DefaultMaxCost,
	}, cfg.IsDevelopment())

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("Server exited with error", zap.Error(err))
	}
	log.Info("Server stopped")
}

func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return workspace.FindRoot(cwd)
}
