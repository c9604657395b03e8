package restore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgbasebackup/agent/pkg/config"
)

func TestParseTablespaceDirs(t *testing.T) {
	dirs, err := parseTablespaceDirs([]string{"pg_tblspc1=/mnt/ts1", "pg_tblspc2=/mnt/ts2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"pg_tblspc1": "/mnt/ts1", "pg_tblspc2": "/mnt/ts2"}, dirs)
}

func TestParseTablespaceDirsEmpty(t *testing.T) {
	dirs, err := parseTablespaceDirs(nil)
	require.NoError(t, err)
	assert.Nil(t, dirs)
}

func TestParseTablespaceDirsRejectsMissingEquals(t *testing.T) {
	_, err := parseTablespaceDirs([]string{"pg_tblspc1"})
	assert.Error(t, err)
}

func TestRestoreCommandForArchiveCommandMode(t *testing.T) {
	cmd := restoreCommandFor(config.SiteConfig{Prefix: "primary", ActiveBackupMode: "archive_command"})
	assert.Contains(t, cmd, "--site primary")
	assert.Contains(t, cmd, "%f %p")
}

func TestRestoreCommandForStandaloneHotBackupIsEmpty(t *testing.T) {
	cmd := restoreCommandFor(config.SiteConfig{Prefix: "primary", ActiveBackupMode: "standalone_hot_backup"})
	assert.Empty(t, cmd)
}
