package workspace

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"knowledge-engine/backend/pkg/errors"
)

const projectFile = "ke_config.toml"

// Project is the per-workspace configuration read from ke_config.toml at the
// workspace root.
type Project struct {
	Workspace struct {
		ID string `toml:"id"`
	} `toml:"workspace"`
	Bootstrap struct {
		// Ignore holds glob patterns (doublestar syntax) excluded from the
		// bootstrap scan, on top of .gitignore.
		Ignore []string `toml:"ignore"`
	} `toml:"bootstrap"`
}

// FindRoot walks upward from start looking for ke_config.toml and returns the
// directory containing it.
func FindRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, projectFile)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.NewConfigError("no "+projectFile+" found above "+start, nil)
		}
		dir = parent
	}
}

// LoadProject reads ke_config.toml from the workspace root
func LoadProject(root string) (*Project, error) {
	data, err := os.ReadFile(filepath.Join(root, projectFile))
	if err != nil {
		return nil, errors.NewConfigError("reading "+projectFile, err)
	}

	var p Project
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, errors.NewConfigError("parsing "+projectFile, err)
	}
	if p.Workspace.ID == "" {
		// fall back to directory name so a bare config file still works
		p.Workspace.ID = filepath.Base(root)
	}
	return &p, nil
}

// WriteProject creates ke_config.toml at root, used by workspace init
func WriteProject(root string, p *Project) error {
	data, err := toml.Marshal(p)
	if err != nil {
		return errors.NewConfigError("encoding "+projectFile, err)
	}
	return os.WriteFile(filepath.Join(root, projectFile), data, 0o644)
}
