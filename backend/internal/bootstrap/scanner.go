// Package bootstrap seeds a workspace's graph from its directory tree,
// creating resource nodes for files and directories so concepts have
// something to point at from day one.
package bootstrap

import (
	"bufio"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"knowledge-engine/backend/internal/graph"
	"knowledge-engine/backend/pkg/errors"
	"knowledge-engine/backend/pkg/logger"
)

// defaultIgnores are skipped regardless of configuration
var defaultIgnores = []string{
	".git/**",
	".git",
	"**/.DS_Store",
	"*.db",
	"*.db-wal",
	"*.db-shm",
}

// Scanner walks a workspace root and materializes its files as resources
type Scanner struct {
	store     *graph.Store
	workspace string
	root      string
	ignores   []string
	logger    *zap.Logger
}

// NewScanner builds a scanner. extraIgnores come from the project config and
// are combined with the workspace's .gitignore and the built-in defaults.
func NewScanner(store *graph.Store, workspaceID, root string, extraIgnores []string) *Scanner {
	ignores := append([]string{}, defaultIgnores...)
	ignores = append(ignores, extraIgnores...)
	ignores = append(ignores, readGitignore(root)...)

	return &Scanner{
		store:     store,
		workspace: workspaceID,
		root:      root,
		ignores:   ignores,
		logger:    logger.Get(),
	}
}

// Report summarizes one scan
type Report struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Ignored int `json:"ignored"`
}

// Scan walks the tree rooted at the workspace root. Existing resource nodes
// are left alone so repeated scans are cheap and non-destructive.
func (s *Scanner) Scan(ctx context.Context) (*Report, error) {
	report := &Report{}

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if s.ignored(rel) {
			report.Ignored++
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if err := s.ensureResource(ctx, rel, d, report); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewStoreError("workspace scan failed", err)
	}

	s.logger.Info("workspace scanned",
		zap.String("workspace", s.workspace),
		zap.Int("created", report.Created),
		zap.Int("skipped", report.Skipped),
		zap.Int("ignored", report.Ignored))
	return report, nil
}

func (s *Scanner) ignored(rel string) bool {
	for _, pattern := range s.ignores {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
		// also match the basename so ".gitignore style" bare names work
		if ok, err := doublestar.Match(pattern, filepath.Base(rel)); err == nil && ok {
			return true
		}
	}
	return false
}

// ensureResource creates the resource node for rel (if absent) and a
// "contains" relation from its parent directory.
func (s *Scanner) ensureResource(ctx context.Context, rel string, d fs.DirEntry, report *Report) error {
	uri := "resource://" + s.workspace + "/" + rel

	exists, err := s.store.HasNode(ctx, uri)
	if err != nil {
		return err
	}
	if exists {
		report.Skipped++
		return nil
	}

	metadata := graph.Metadata{}
	if d.IsDir() {
		metadata["kind"] = graph.String("directory")
	} else {
		metadata["kind"] = graph.String("file")
		if info, err := d.Info(); err == nil {
			metadata["size"] = graph.Number(float64(info.Size()))
		}
		if ext := strings.TrimPrefix(filepath.Ext(rel), "."); ext != "" {
			metadata["extension"] = graph.String(ext)
		}
	}

	if _, err := s.store.CreateNode(ctx, uri, graph.NodeTypeResource, nil, nil, metadata); err != nil {
		return err
	}
	report.Created++

	if parent := filepath.ToSlash(filepath.Dir(rel)); parent != "." {
		parentURI := "resource://" + s.workspace + "/" + parent
		if _, err := s.store.Link(ctx, parentURI, uri, "contains", 1.0, nil); err != nil {
			return err
		}
	}
	return nil
}

// readGitignore loads simple patterns from the workspace's .gitignore.
// Negations and anchored rules are ignored; the scan errs on including.
func readGitignore(root string) []string {
	f, err := os.Open(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		line = strings.TrimPrefix(line, "/")
		if strings.HasSuffix(line, "/") {
			line = strings.TrimSuffix(line, "/")
			patterns = append(patterns, line, line+"/**")
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}
