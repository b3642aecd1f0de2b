// Package config resolves engine and CLI configuration from, in
// increasing precedence: built-in defaults, an optional YAML file, and
// environment variables. The CLI layers command-line flags on top of
// this (highest precedence of all), via cobra/pflag binding in cmd/.
//
// There is no dedicated configuration-framework dependency anywhere in
// this codebase's retrieval pack (no viper, no cleanenv), so this
// composes two libraries that are already grounded elsewhere in the
// stack -- yaml.v3 for the file format -- with the standard library's
// os.Getenv for environment overrides, rather than adding a framework
// dependency with no precedent in the pack.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in SPEC_FULL.md §4.M.
type Config struct {
	IncludeDirs     []string `yaml:"include_dirs"`
	IgnoredModules  []string `yaml:"ignored_modules"`
	BannedModules   []string `yaml:"banned_modules"`
	Features        []string `yaml:"features"`
	DefaultTimeout  int      `yaml:"default_timeout_seconds"`
	LogLevel        string   `yaml:"log_level"`
	LogFormat       string   `yaml:"log_format"`
	RuleStorePath   string   `yaml:"rule_store_path"`
	ArchiveMaxDepth int      `yaml:"archive_max_depth"`
	ArchiveMaxBytes int64    `yaml:"archive_max_member_bytes"`
	Workers         int      `yaml:"workers"`
}

// Default returns the built-in defaults every embedding host gets with
// zero configuration.
func Default() Config {
	return Config{
		DefaultTimeout:  30,
		LogLevel:        "info",
		LogFormat:       "text",
		RuleStorePath:   "yarax-rules.db",
		ArchiveMaxDepth: 8,
		ArchiveMaxBytes: 1 << 30,
		Workers:         1,
	}
}

// Load starts from Default, merges in path (if non-empty and present)
// as a YAML overlay, then applies YARAX_-prefixed environment
// variables, and returns the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("YARAX_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("YARAX_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("YARAX_RULE_STORE_PATH"); v != "" {
		cfg.RuleStorePath = v
	}
	if v := os.Getenv("YARAX_DEFAULT_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DefaultTimeout = n
		}
	}
	if v := os.Getenv("YARAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
}
