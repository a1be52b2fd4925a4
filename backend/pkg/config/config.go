package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Knowledge store
	KnowledgeDir string // directory holding per-workspace databases and the registry
	WorkspaceID  string // workspace served by this process; empty means discover from cwd

	// Active context
	ContextCap int // maximum number of nodes held in the active context

	// Traversal
	DefaultMaxCost float64 // default traversal cost budget

	// Remote workspaces
	FetchTimeout time.Duration // budget for a single remote subgraph fetch
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		KnowledgeDir:   getEnv("KNOWLEDGE_DIR", defaultKnowledgeDir()),
		WorkspaceID:    getEnv("WORKSPACE_ID", ""),
		ContextCap:     getEnvInt("CONTEXT_CAP", 100),
		DefaultMaxCost: getEnvFloat("DEFAULT_MAX_COST", 1.0),
		FetchTimeout:   time.Duration(getEnvInt("FETCH_TIMEOUT_MS", 5000)) * time.Millisecond,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.KnowledgeDir == "" {
		return fmt.Errorf("KNOWLEDGE_DIR is required")
	}
	if c.ContextCap <= 0 {
		return fmt.Errorf("CONTEXT_CAP must be positive")
	}
	if c.DefaultMaxCost < 0 {
		return fmt.Errorf("DEFAULT_MAX_COST must be non-negative")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT_MS must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func defaultKnowledgeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".knowledge"
	}
	return filepath.Join(home, ".knowledge")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
