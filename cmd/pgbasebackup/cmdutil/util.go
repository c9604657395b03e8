// Package cmdutil provides shared utilities for pgbasebackup-agent
// commands (logger setup, site config resolution, object-store wiring)
// so the root, backup, and restore command packages can each depend on
// it without forming an import cycle through the root commands package.
package cmdutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pgbasebackup/agent/internal/logger"
	"github.com/pgbasebackup/agent/pkg/chunkwriter"
	"github.com/pgbasebackup/agent/pkg/config"
	"github.com/pgbasebackup/agent/pkg/objectstore"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// ResolveSite looks up a site name against the loaded configuration,
// defaulting its key prefix to the site name when unset.
func ResolveSite(cfg *config.Config, site string) (config.SiteConfig, error) {
	sc, ok := cfg.Sites[site]
	if !ok {
		return config.SiteConfig{}, fmt.Errorf("unknown site %q (configured sites: %s)", site, strings.Join(siteNames(cfg), ", "))
	}
	if sc.Prefix == "" {
		sc.Prefix = site
	}
	return sc, nil
}

func siteNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Sites))
	for name := range cfg.Sites {
		names = append(names, name)
	}
	return names
}

// BuildSiteStore wires a site's object store backend from its SiteConfig.
func BuildSiteStore(ctx context.Context, sc config.SiteConfig) (objectstore.Store, error) {
	return config.BuildObjectStore(ctx, sc.ObjectStore)
}

// CompressionConfig converts a site's config.CompressionConfig into the
// chunkwriter type the executor and restore packages consume.
func CompressionConfig(sc config.SiteConfig) chunkwriter.CompressionConfig {
	algo := chunkwriter.Algorithm(sc.Compression.Algorithm)
	if algo == "" {
		algo = chunkwriter.AlgorithmNone
	}
	return chunkwriter.CompressionConfig{Algorithm: algo, Level: sc.Compression.Level}
}

// ReadPGVersion reads PG_VERSION from a data directory, the conventional
// place PostgreSQL itself records its major version.
func ReadPGVersion(pgdata string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(pgdata, "PG_VERSION"))
	if err != nil {
		return "", fmt.Errorf("reading PG_VERSION: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
