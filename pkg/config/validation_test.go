package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgbasebackup/agent/pkg/config"
)

func validSiteConfig() config.SiteConfig {
	return config.SiteConfig{
		PGData:                  "/data",
		BasebackupMode:          "basic",
		ActiveBackupMode:        "archive_command",
		BasebackupIntervalHours: 24,
		ObjectStore: config.ObjectStoreConfig{
			Type: "fs",
			FS:   config.FSConfig{Root: "/tmp/backups"},
		},
	}
}

func TestValidateRequiresAtLeastOneSite(t *testing.T) {
	cfg := &config.Config{
		Logging: config.LoggingConfig{Level: "INFO", Format: "text", Output: "stdout"},
		Sites:   map[string]config.SiteConfig{},
	}
	err := config.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one site")
}

func TestValidateRequiresBucketForS3Backend(t *testing.T) {
	site := validSiteConfig()
	site.ObjectStore = config.ObjectStoreConfig{Type: "s3"}

	cfg := &config.Config{
		Logging: config.LoggingConfig{Level: "INFO", Format: "text", Output: "stdout"},
		Sites:   map[string]config.SiteConfig{"site1": site},
	}
	err := config.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket is required")
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := &config.Config{
		Logging: config.LoggingConfig{Level: "INFO", Format: "text", Output: "stdout"},
		Sites:   map[string]config.SiteConfig{"site1": validSiteConfig()},
	}
	require.NoError(t, config.Validate(cfg))
}
