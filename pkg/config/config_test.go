package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgbasebackup/agent/pkg/config"
)

const sampleYAML = `
logging:
  level: DEBUG
  format: json
  output: stderr

sites:
  site1:
    pgdata: /var/lib/postgresql/16/main
    basebackup_mode: local_tar
    active_backup_mode: archive_command
    object_store:
      type: fs
      fs:
        root: /tmp/backups
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaultsToAnOtherwiseMinimalSite(t *testing.T) {
	path := writeConfig(t, sampleYAML)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	site, ok := cfg.Sites["site1"]
	require.True(t, ok)
	assert.EqualValues(t, 1<<30, site.TargetChunkSize)
	assert.Equal(t, float64(24), site.BasebackupIntervalHours)
	assert.Equal(t, "gzip", site.Compression.Algorithm)
	assert.Equal(t, 4, site.MaxParallel)
}

func TestLoadWithMissingFileReturnsBareDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(filepath.Join(dir, "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Sites)
}

func TestLoadRejectsUnknownObjectStoreType(t *testing.T) {
	path := writeConfig(t, `
sites:
  site1:
    pgdata: /data
    basebackup_mode: basic
    active_backup_mode: archive_command
    object_store:
      type: azure
`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestMustLoadReportsMissingConfigHelpfully(t *testing.T) {
	dir := t.TempDir()
	_, err := config.MustLoad(filepath.Join(dir, "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSaveConfigRoundTrips(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	outPath := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, config.SaveConfig(cfg, outPath))

	reloaded, err := config.Load(outPath)
	require.NoError(t, err)
	assert.Equal(t, cfg.Logging, reloaded.Logging)
	assert.Len(t, reloaded.Sites, 1)
}
