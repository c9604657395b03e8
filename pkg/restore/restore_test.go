package restore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgbasebackup/agent/pkg/executor"
	"github.com/pgbasebackup/agent/pkg/objectstore/memory"
	"github.com/pgbasebackup/agent/pkg/restore"
	"github.com/pgbasebackup/agent/pkg/walker"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func alwaysAlive(context.Context, string) bool { return true }

// runSampleBackup builds a one-chunk local-tar backup with a single
// tablespace, grounded on test_basebackup.py's test_basebackups_tablespaces
// fixture (one extra tablespace named "tstest").
func runSampleBackup(t *testing.T, store *memory.Store, tsPath string) {
	t.Helper()
	pgdata := t.TempDir()
	writeFile(t, filepath.Join(pgdata, "PG_VERSION"), "16\n")
	writeFile(t, filepath.Join(pgdata, "backup_label"),
		"START WAL LOCATION: 0/2000028 (file 000000010000000000000002)\n"+
			"START TIME: 2015-02-12 14:07:19 GMT\n")
	writeFile(t, filepath.Join(pgdata, "base", "1", "1234"), "relation data")

	ex := executor.New(store, alwaysAlive)
	res := ex.Run(context.Background(), executor.Config{
		Mode:            executor.ModeLocalTar,
		Site:            "site1",
		Prefix:          "site1",
		BackupName:      "backup1",
		PGData:          pgdata,
		PGVersion:       "16",
		TargetChunkSize: 1 << 20,
		Tablespaces: []walker.Tablespace{
			{Name: "tstest", OID: "16401", Path: tsPath},
		},
	})
	require.True(t, res.Success, "%v", res.Exception)
}

func TestRunRejectsNonEmptyTargetDir(t *testing.T) {
	store := memory.New()
	tsPath := t.TempDir()
	runSampleBackup(t, store, tsPath)

	target := t.TempDir()
	writeFile(t, filepath.Join(target, "leftover"), "x")

	_, err := restore.Run(context.Background(), store, "site1", restore.Config{}, restore.Options{
		BackupName: "backup1",
		TargetDir:  target,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not empty")
}

func TestRunRejectsMissingExplicitTablespaceDir(t *testing.T) {
	store := memory.New()
	tsPath := t.TempDir()
	runSampleBackup(t, store, tsPath)

	_, err := restore.Run(context.Background(), store, "site1", restore.Config{}, restore.Options{
		BackupName: "backup1",
		TargetDir:  t.TempDir(),
		TablespaceDirs: map[string]string{
			"tstest": filepath.Join(t.TempDir(), "does-not-exist"),
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `Tablespace "tstest"`)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestRunRejectsUnwritableEmptyTablespaceDir(t *testing.T) {
	store := memory.New()
	tsPath := t.TempDir()
	runSampleBackup(t, store, tsPath)

	tsTarget := t.TempDir()
	require.NoError(t, os.Chmod(tsTarget, 0o500))
	t.Cleanup(func() { os.Chmod(tsTarget, 0o700) })

	_, err := restore.Run(context.Background(), store, "site1", restore.Config{}, restore.Options{
		BackupName: "backup1",
		TargetDir:  t.TempDir(),
		TablespaceDirs: map[string]string{
			"tstest": tsTarget,
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty, but not writable")
}

func TestRunRejectsUnknownTablespaceMapping(t *testing.T) {
	store := memory.New()
	tsPath := t.TempDir()
	runSampleBackup(t, store, tsPath)

	_, err := restore.Run(context.Background(), store, "site1", restore.Config{}, restore.Options{
		BackupName: "backup1",
		TargetDir:  t.TempDir(),
		TablespaceDirs: map[string]string{
			"tstest": t.TempDir(),
			"other":  t.TempDir(),
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Tablespace mapping for [other] was requested, but")
}

func TestRunRestoresChunksAndRewritesTablespaceSymlink(t *testing.T) {
	store := memory.New()
	tsPath := t.TempDir()
	runSampleBackup(t, store, tsPath)

	target := t.TempDir()
	tsTarget := t.TempDir()

	res, err := restore.Run(context.Background(), store, "site1", restore.Config{}, restore.Options{
		BackupName: "backup1",
		TargetDir:  target,
		TablespaceDirs: map[string]string{
			"tstest": tsTarget,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "backup1", res.BackupName)

	body, err := os.ReadFile(filepath.Join(target, "base", "1", "1234"))
	require.NoError(t, err)
	assert.Equal(t, "relation data", string(body))

	link, err := os.Readlink(filepath.Join(target, "pg_tblspc", "16401"))
	require.NoError(t, err)
	assert.Equal(t, tsTarget, link)

	// PG_VERSION 16 uses recovery.signal, not recovery.conf.
	_, err = os.Stat(filepath.Join(target, "recovery.signal"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(target, "recovery.conf"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunResolvesLatestWhenBackupNameOmitted(t *testing.T) {
	store := memory.New()
	tsPath := t.TempDir()
	runSampleBackup(t, store, tsPath)

	res, err := restore.Run(context.Background(), store, "site1", restore.Config{}, restore.Options{
		TargetDir: t.TempDir(),
		TablespaceDirs: map[string]string{
			"tstest": t.TempDir(),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "backup1", res.BackupName)
}
