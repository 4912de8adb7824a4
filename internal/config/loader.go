package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	mycerrors "github.com/mycelium-run/mycelium/internal/errors"
)

const (
	systemConfigPath = "/etc/mycelium/config.yaml"
	userConfigSubdir = ".mycelium"
	configFileName   = "config.yaml"
)

// Load resolves configuration following the layered merge order from
// SPEC_FULL.md §1.1: built-in defaults -> system -> user -> project (fatal on
// parse error) -> MYCELIUM_* environment overrides.
//
// projectConfigPath is the project's "<home>/projects/<project>/config.yaml"
// (paths.ProjectConfig); pass "" to skip
// project-layer loading (e.g. before 'init' has run).
func Load(projectConfigPath string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(systemConfigPath); err == nil {
		if err := mergeFile(cfg, systemConfigPath); err != nil {
			// Non-project layers are best-effort: a broken system/user config
			// should not prevent the CLI from running at all.
			fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", systemConfigPath, err)
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, userConfigSubdir, configFileName)
		if _, err := os.Stat(userPath); err == nil {
			if err := mergeFile(cfg, userPath); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", userPath, err)
			}
		}
	}

	if projectConfigPath != "" {
		if _, err := os.Stat(projectConfigPath); err == nil {
			if err := mergeFile(cfg, projectConfigPath); err != nil {
				return nil, mycerrors.NewConfigInvalid(projectConfigPath, err.Error())
			}
		}
	}

	ApplyEnvVars(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile unmarshals path over cfg in place. yaml.Unmarshal only overwrites
// fields present in the document, so unset fields keep prior-layer values.
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks structural invariants a malformed config.yaml could violate.
func Validate(cfg *Config) error {
	if cfg.MaxParallel < 1 {
		return mycerrors.NewConfigInvalid("max_parallel", "must be >= 1")
	}
	switch cfg.ScopeMode {
	case "shadow", "enforce":
	default:
		return mycerrors.NewConfigInvalid("scope_mode", "must be 'shadow' or 'enforce'")
	}
	switch cfg.Manifest.Enforcement {
	case EnforcementOff, EnforcementWarn, EnforcementBlock:
	default:
		return mycerrors.NewConfigInvalid("manifest.manifest_enforcement", "must be off, warn, or block")
	}
	if cfg.Policy.MaxComponentsForScoped < 1 {
		return mycerrors.NewConfigInvalid("policy.max_components_for_scoped", "must be >= 1")
	}
	return nil
}
