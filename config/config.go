// Copyright 2020-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config is the configuration of macro expansion: whether and
// where expansions are cached, how deeply and how widely expansion runs,
// and which source files are looked at.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/bufbuild/macroexpand/cache"
	"github.com/bufbuild/macroexpand/macro"
)

// Environment variables a host may set to override the file.
const (
	EnvCache    = "MACROEXPAND_CACHE"
	EnvCacheDir = "MACROEXPAND_CACHE_DIR"
)

// Backend selects a [cache.Store].
type Backend string

const (
	BackendShard  Backend = "shard"
	BackendSQLite Backend = "sqlite"
	BackendMemory Backend = "memory"
)

// Config is the full configuration.
type Config struct {
	Cache     Cache     `yaml:"cache"`
	Expansion Expansion `yaml:"expansion"`
	Workspace Workspace `yaml:"workspace"`
	Log       Log       `yaml:"log"`
}

type Cache struct {
	Enabled bool    `yaml:"enabled"`
	Dir     string  `yaml:"dir"`
	Backend Backend `yaml:"backend"`
	Shards  int     `yaml:"shards"`
}

type Expansion struct {
	RecursionLimit int `yaml:"recursion_limit"`
	// Total expansions one recursive expansion may perform.
	ExpansionLimit int `yaml:"expansion_limit"`
	// Zero means GOMAXPROCS.
	Parallelism int `yaml:"parallelism"`
}

type Workspace struct {
	// Doublestar globs selecting source files.
	Include []string `yaml:"include"`
}

type Log struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return &Config{
		Cache: Cache{
			Enabled: true,
			Dir:     filepath.Join(dir, "macroexpand"),
			Backend: BackendShard,
			Shards:  cache.DefaultShards,
		},
		Expansion: Expansion{
			RecursionLimit: macro.DefaultRecursionLimit,
			ExpansionLimit: macro.DefaultExpansionLimit,
		},
		Workspace: Workspace{
			Include: []string{"**/*.rs"},
		},
		Log: Log{Level: "info"},
	}
}

// Load reads the configuration file at path on top of [Default], then
// applies environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse parses configuration from YAML on top of [Default]. Environment
// overrides are not applied.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv applies the environment overrides, looking variables up with
// lookup.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvCache); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCache, err)
		}
		c.Cache.Enabled = enabled
	}
	if v, ok := lookup(EnvCacheDir); ok && v != "" {
		c.Cache.Dir = v
	}
	return nil
}

// Validate checks that every field has a usable value.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case BackendShard, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Enabled && c.Cache.Backend != BackendMemory && c.Cache.Dir == "" {
		return errors.New("cache.dir is required for a persistent cache")
	}
	if c.Cache.Shards < 1 {
		return fmt.Errorf("cache.shards must be positive, got %d", c.Cache.Shards)
	}
	if c.Expansion.RecursionLimit < 1 {
		return fmt.Errorf("expansion.recursion_limit must be positive, got %d", c.Expansion.RecursionLimit)
	}
	if c.Expansion.ExpansionLimit < 1 {
		return fmt.Errorf("expansion.expansion_limit must be positive, got %d", c.Expansion.ExpansionLimit)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the configured log level.
func (c *Config) Level() (zapcore.Level, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return level, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
