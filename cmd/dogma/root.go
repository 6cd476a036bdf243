package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/centraldogma-project/centraldogma/internal/config"
	"github.com/centraldogma-project/centraldogma/internal/executor"
	"github.com/centraldogma-project/centraldogma/internal/objectstore"
	"github.com/centraldogma-project/centraldogma/internal/project"
)

var rootCmd = &cobra.Command{
	Use:           "dogma",
	Short:         "Operate a Central Dogma project/repository store",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var (
	configPath string
	rootDir    string
	authorName string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "explicit config.yaml path (default: discover .dogma/config.yaml or user config dir)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root-dir", "", "directory holding the project/repository store (overrides config's root_dir)")
	rootCmd.PersistentFlags().StringVar(&authorName, "author", "dogma-cli", "author name recorded on commands issued by this invocation")
}

// loadConfig resolves node configuration: config.yaml (discovered or
// --config), overridden by any --root-dir the caller passed explicitly.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if rootDir != "" {
		cfg.RootDir = rootDir
	}
	if cfg.RootDir == "" {
		cfg.RootDir = "dogma-data"
	}
	return cfg, nil
}

// openManager opens the Manager described by the resolved config.
// Callers are responsible for closing it.
func openManager() (*project.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	mgrCfg := project.Config{
		RootDir:                cfg.RootDir,
		PurgeGraceSeconds:      cfg.PurgeGraceSeconds,
		PurgeQuiescenceTimeout: cfg.PurgeQuiescenceTimeout,
		CacheMaxEntries:        cfg.CacheMaxEntries,
		CacheMaxWeight:         cfg.CacheMaxWeight,
	}
	if cfg.Encryption.Enabled {
		if cfg.Encryption.KeyFile == "" {
			return nil, fmt.Errorf("encryption.enabled is true but encryption.key_file is empty")
		}
		kp, err := objectstore.NewFileKeyProvider(cfg.Encryption.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load encryption key file: %w", err)
		}
		mgrCfg.KeyProvider = kp
	}

	m, err := project.Open(mgrCfg)
	if err != nil {
		return nil, fmt.Errorf("open project store at %s: %w", cfg.RootDir, err)
	}
	return m, nil
}

// openExecutor opens a Standalone executor over the configured store,
// auditing to <root-dir>/audit.
func openExecutor() (*project.Manager, *executor.Standalone, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	m, err := openManager()
	if err != nil {
		return nil, nil, err
	}
	return m, executor.NewStandalone(m, cfg.RootDir+"/audit"), nil
}
