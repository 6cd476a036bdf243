// Package config loads the node-level settings a Central Dogma process
// needs before it can open its project store: where data lives, how
// long watches/commands wait, cache sizing, and (for a replicated node)
// the local cluster identity.
//
// Grounded on the teacher's internal/config/config.go: a viper
// instance, layered discovery (project override > user config >
// defaults) and an environment-variable prefix, generalized here from
// beads' CLI-flag-shadowing settings to Central Dogma's server
// settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Cluster holds the settings a Replicated executor needs to join or
// bootstrap a raft cluster. Zero value is valid for a standalone node.
type Cluster struct {
	NodeID    string `mapstructure:"node_id"`
	BindAddr  string `mapstructure:"bind_addr"`
	DataDir   string `mapstructure:"data_dir"`
	Bootstrap bool   `mapstructure:"bootstrap"`
}

// Encryption holds the at-rest encryption identity (spec §4.1):
// whether a key provider is loaded from KeyFile, so repositories can
// be migrated to and opened with the encrypted object store backend.
// New repositories are always created with the plaintext Git backend.
type Encryption struct {
	Enabled bool   `mapstructure:"enabled"`
	KeyFile string `mapstructure:"key_file"`
}

// Config is the fully-resolved node configuration.
type Config struct {
	RootDir                string        `mapstructure:"root_dir"`
	PurgeGraceSeconds      int64         `mapstructure:"purge_grace_seconds"`
	PurgeQuiescenceTimeout time.Duration `mapstructure:"purge_quiescence_timeout"`
	CacheMaxEntries        int           `mapstructure:"cache_max_entries"`
	CacheMaxWeight    int           `mapstructure:"cache_max_weight"`
	WatchTimeout      time.Duration `mapstructure:"watch_timeout"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout"`
	Encryption        Encryption    `mapstructure:"encryption"`
	Cluster           Cluster       `mapstructure:"cluster"`
}

// configDirName is this project's analog of the teacher's ".beads"
// project-override directory.
const configDirName = ".dogma"

// Load discovers and merges config.yaml the way the teacher's
// Initialize does: a project-local override (walking up from cwd)
// takes precedence over a user config directory, which takes
// precedence over built-in defaults; DOGMA_-prefixed environment
// variables override all of them. explicitPath, if non-empty, skips
// discovery entirely and loads that file.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("root_dir", "dogma-data")
	v.SetDefault("purge_grace_seconds", int64(0)) // 0 means the project package's own default
	v.SetDefault("purge_quiescence_timeout", "0s") // 0 means the project package's own default
	v.SetDefault("cache_max_entries", 0)
	v.SetDefault("cache_max_weight", 0)
	v.SetDefault("watch_timeout", "120s")
	v.SetDefault("command_timeout", "60s")
	v.SetDefault("encryption.enabled", false)
	v.SetDefault("encryption.key_file", "")
	v.SetDefault("cluster.node_id", "")
	v.SetDefault("cluster.bind_addr", "")
	v.SetDefault("cluster.data_dir", "")
	v.SetDefault("cluster.bootstrap", false)

	v.SetEnvPrefix("DOGMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	configFileSet := false
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		configFileSet = true
	} else if path, ok := discoverProjectConfig(); ok {
		v.SetConfigFile(path)
		configFileSet = true
	} else if path, ok := discoverUserConfig(); ok {
		v.SetConfigFile(path)
		configFileSet = true
	}

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// discoverProjectConfig walks up from the working directory looking
// for <dir>/.dogma/config.yaml, the project-local override.
func discoverProjectConfig() (string, bool) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		p := filepath.Join(dir, configDirName, "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// discoverUserConfig looks for ~/.config/dogma/config.yaml.
func discoverUserConfig() (string, bool) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", false
	}
	p := filepath.Join(configDir, "dogma", "config.yaml")
	if _, err := os.Stat(p); err == nil {
		return p, true
	}
	return "", false
}
