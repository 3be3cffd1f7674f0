// Package config loads the engine's startup configuration: pool size,
// worker concurrency, store location and working-copy root. Env vars take
// precedence over an optional YAML file, mirroring the teacher's
// ApplyEnvVars-over-file layering without carrying its much larger
// phase/gate/team surface.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/orc-core/internal/errs"
)

const (
	DefaultPoolSize      = 4
	DefaultMaxConcurrent = 4
)

// Config holds the options consumed once at startup (spec §6 Configuration).
type Config struct {
	PoolSize      int    `yaml:"pool_size"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	DBPath        string `yaml:"db_path"`
	WorktreeBase  string `yaml:"worktree_base"`
}

// Default returns a Config with the spec's documented defaults.
func Default() Config {
	return Config{
		PoolSize:      DefaultPoolSize,
		MaxConcurrent: DefaultMaxConcurrent,
		DBPath:        "orc.db",
	}
}

// envVarMapping names the environment variables this module honors,
// following the teacher's EnvVarMapping table convention.
var envVarMapping = map[string]string{
	"ORC_POOL_SIZE":      "pool_size",
	"ORC_MAX_CONCURRENT": "max_concurrent",
	"ORC_DB_PATH":        "db_path",
	"ORC_WORKTREE_BASE":  "worktree_base",
}

// Load builds a Config starting from defaults, layering in a YAML file at
// path if it exists, then applying environment variable overrides. path may
// be empty to skip the file layer entirely.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, errs.Wrap(errs.CodeConfigInvalid, "parse config file "+path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, errs.Wrap(errs.CodeConfigInvalid, "read config file "+path, err)
		}
	}

	if err := applyEnvVars(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvVars overrides fields in cfg from the environment, named per
// envVarMapping. Unset variables are left alone.
func applyEnvVars(cfg *Config) error {
	if v, ok := os.LookupEnv("ORC_POOL_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errs.Wrap(errs.CodeConfigInvalid, "parse ORC_POOL_SIZE", err)
		}
		cfg.PoolSize = n
	}
	if v, ok := os.LookupEnv("ORC_MAX_CONCURRENT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errs.Wrap(errs.CodeConfigInvalid, "parse ORC_MAX_CONCURRENT", err)
		}
		cfg.MaxConcurrent = n
	}
	if v, ok := os.LookupEnv("ORC_DB_PATH"); ok {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("ORC_WORKTREE_BASE"); ok {
		cfg.WorktreeBase = v
	}
	return nil
}

// Validate rejects configurations the engine cannot start with.
func (c Config) Validate() error {
	if c.PoolSize < 0 {
		return errs.New(errs.CodeConfigInvalid, fmt.Sprintf("pool_size must be >= 0, got %d", c.PoolSize))
	}
	if c.MaxConcurrent < 1 {
		return errs.New(errs.CodeConfigInvalid, fmt.Sprintf("max_concurrent must be >= 1, got %d", c.MaxConcurrent))
	}
	if c.DBPath == "" {
		return errs.New(errs.CodeConfigInvalid, "db_path must not be empty")
	}
	return nil
}

// EnvVarNames returns the environment variables this package reads, for
// diagnostics/help text.
func EnvVarNames() []string {
	names := make([]string, 0, len(envVarMapping))
	for k := range envVarMapping {
		names = append(names, k)
	}
	return names
}
