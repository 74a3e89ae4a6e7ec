package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ProjectFileName is the per-project config file at the project root.
const ProjectFileName = "taskpilot.toml"

// ProjectConfig describes a project's layout.
type ProjectConfig struct {
	CodeRoot             string              `toml:"code_root"`
	SpecsDir             string              `toml:"specs_dir"`
	ArchitectureFile     string              `toml:"architecture_file"`
	CodeDocsDir          string              `toml:"code_docs_dir"`
	EnabledInternalTools []string            `toml:"enabled_internal_tools"`
	KnownDependencies    []ProjectDependency `toml:"known_dependencies"`
}

// ProjectDependency is an external dependency entry with its review status.
type ProjectDependency struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Status  string `toml:"status"`
	Notes   string `toml:"notes"`
}

// DefaultProjectConfig returns the layout used when no file exists.
func DefaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		CodeRoot:    ".",
		SpecsDir:    "specs",
		CodeDocsDir: "docs",
	}
}

// LoadProject reads taskpilot.toml from root. A missing file yields
// defaults; a present but malformed file is an error.
func LoadProject(root string) (ProjectConfig, error) {
	cfg := DefaultProjectConfig()
	path := filepath.Join(root, ProjectFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decoding %s: %w", path, err)
	}
	if filepath.IsAbs(cfg.CodeRoot) {
		return cfg, fmt.Errorf("code_root must be relative to the project root, got %q", cfg.CodeRoot)
	}
	return cfg, nil
}

// SaveProject writes cfg to root/taskpilot.toml.
func SaveProject(root string, cfg ProjectConfig) error {
	f, err := os.OpenFile(filepath.Join(root, ProjectFileName), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating project config: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encoding project config: %w", err)
	}
	return nil
}
