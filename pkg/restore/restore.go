// Package restore implements the restore engine (spec.md §4.G): given a
// site's object store, it resolves a backup name, validates the target
// and tablespace directories, downloads and unpacks every chunk and
// delta-referenced file in parallel, rewrites tablespace symlinks, and
// writes the recovery configuration appropriate to the server version.
package restore

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pgbasebackup/agent/pkg/backuperrors"
	"github.com/pgbasebackup/agent/pkg/chunkwriter"
	"github.com/pgbasebackup/agent/pkg/manifest"
	"github.com/pgbasebackup/agent/pkg/objectstore"
)

// activeBackupModeStandaloneHotBackup is one of the two values spec.md §6
// defines for the active_backup_mode metadata field; the other,
// archive_command, needs no extra materialization at restore time because
// the operator's own WAL archiving already keeps pg_wal populated.
const activeBackupModeStandaloneHotBackup = "standalone_hot_backup"

// Options controls one restore invocation.
type Options struct {
	// BackupName selects a specific backup. Empty or "latest" selects the
	// most recently modified manifest under the site's basebackup prefix.
	BackupName string

	TargetDir string
	Overwrite bool

	// TablespaceDirs maps a manifest tablespace name to the directory it
	// should be restored into. A tablespace with no entry here is
	// restored to the original absolute path recorded in the manifest.
	TablespaceDirs map[string]string

	// RestoreCommand, if non-empty, is written verbatim as
	// recovery.conf's/postgresql.auto.conf's restore_command. Building the
	// actual command line (binary path, --site, %f/%p placeholders) is the
	// CLI's job, not this package's.
	RestoreCommand string
}

// Config holds the chunk codec parameters that must match what the
// backup was written with.
type Config struct {
	Compression chunkwriter.CompressionConfig
	Encryption  *chunkwriter.EncryptionKey
	MaxParallel int
}

// Result reports which backup was restored.
type Result struct {
	BackupName string
	Manifest   manifest.Manifest
}

// Run executes one restore end to end. Every validation failure is
// returned as a backuperrors.Validation error carrying the exact
// substrings spec.md §4.G promises callers can match on.
func Run(ctx context.Context, store objectstore.Store, prefix string, cfg Config, opts Options) (Result, error) {
	name, err := resolveBackupName(ctx, store, prefix, opts.BackupName)
	if err != nil {
		return Result{}, err
	}

	manifestKey := objectstore.ManifestKey(prefix, name)
	raw, err := getAll(ctx, store, manifestKey)
	if err != nil {
		return Result{}, backuperrors.Wrap(backuperrors.Fatal, "restore.Run", "fetching manifest", err)
	}
	meta, err := store.GetMetadata(ctx, manifestKey)
	if err != nil {
		return Result{}, backuperrors.Wrap(backuperrors.Fatal, "restore.Run", "fetching manifest metadata", err)
	}

	m, err := manifest.Decode(raw)
	if err != nil {
		return Result{}, err
	}

	if err := validateTargets(m, opts); err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(opts.TargetDir, 0o700); err != nil {
		return Result{}, backuperrors.Wrap(backuperrors.Fatal, "restore.Run", "creating target directory", err)
	}

	if err := extractChunks(ctx, store, prefix, name, m, cfg, opts); err != nil {
		return Result{}, err
	}
	if err := placeDeltaFiles(ctx, store, prefix, m, opts); err != nil {
		return Result{}, err
	}
	if err := writeTablespaceSymlinks(m, opts); err != nil {
		return Result{}, err
	}

	if meta["active-backup-mode"] == activeBackupModeStandaloneHotBackup {
		if err := materializeWALSegment(opts.TargetDir, meta["pg-version"], meta["start-wal-segment"]); err != nil {
			return Result{}, err
		}
	}
	if err := writeRecoveryConfig(opts.TargetDir, meta["pg-version"], opts.RestoreCommand); err != nil {
		return Result{}, err
	}

	return Result{BackupName: name, Manifest: m}, nil
}

func getAll(ctx context.Context, store objectstore.Store, key string) ([]byte, error) {
	r, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// resolveBackupName picks the most recently modified manifest when the
// caller asks for "latest" (or supplies nothing), otherwise passes the
// caller's chosen name through unchanged.
func resolveBackupName(ctx context.Context, store objectstore.Store, prefix, requested string) (string, error) {
	if requested != "" && requested != "latest" {
		return requested, nil
	}

	entries, err := store.List(ctx, objectstore.BaseBackupPrefix(prefix))
	if err != nil {
		return "", backuperrors.Wrap(backuperrors.Transient, "restore.resolveBackupName", "listing backups", err)
	}
	if len(entries) == 0 {
		return "", backuperrors.Validationf("restore.resolveBackupName", "no basebackups found for this site")
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].LastModified.Before(entries[j].LastModified) })
	latest := entries[len(entries)-1]
	return strings.TrimPrefix(latest.Key, objectstore.BaseBackupPrefix(prefix)), nil
}

// validateTargets enforces spec.md §4.G's three checks, in the order a
// caller supplying multiple bad mappings at once would most usefully see
// them: unknown tablespace mappings first (they indicate a typo in the
// whole invocation), then per-tablespace directory state, then the main
// target directory.
func validateTargets(m manifest.Manifest, opts Options) error {
	var unknown []string
	for name := range opts.TablespaceDirs {
		if _, ok := m.Tablespaces[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return backuperrors.Validationf("restore.validateTargets", "Tablespace mapping for %v was requested, but the backup has no such tablespace", unknown)
	}

	for name, ts := range m.Tablespaces {
		target, mapped := opts.TablespaceDirs[name]
		if !mapped {
			target = ts.Path
		}

		info, err := os.Stat(target)
		if err != nil {
			if !os.IsNotExist(err) {
				return backuperrors.Wrap(backuperrors.Fatal, "restore.validateTargets", "stat tablespace target", err)
			}
			if mapped {
				return backuperrors.Validationf("restore.validateTargets", "Tablespace %q target directory %q does not exist", name, target)
			}
			if err := os.MkdirAll(target, 0o700); err != nil {
				return backuperrors.Wrap(backuperrors.Fatal, "restore.validateTargets", "creating default tablespace directory", err)
			}
			continue
		}
		if !info.IsDir() {
			return backuperrors.Validationf("restore.validateTargets", "Tablespace %q target directory %q is not a directory", name, target)
		}
		if err := checkEmptyOrWritable(fmt.Sprintf("Tablespace %q target directory %q", name, target), target, opts.Overwrite); err != nil {
			return err
		}
	}

	return checkEmptyOrWritable(fmt.Sprintf("restore target directory %q", opts.TargetDir), opts.TargetDir, opts.Overwrite)
}

// checkEmptyOrWritable reports the exact substrings the original
// implementation's tests assert on: "not empty" when overwrite wasn't
// requested and the directory already has entries, "empty, but not
// writable" when it's empty but a probe file can't be created in it. A
// directory that doesn't exist yet is treated as fine — the caller
// creates it.
func checkEmptyOrWritable(label, dir string, overwrite bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return backuperrors.Wrap(backuperrors.Fatal, "restore.checkEmptyOrWritable", "reading directory", err)
	}

	if len(entries) > 0 {
		if overwrite {
			return nil
		}
		return backuperrors.Validationf("restore.checkEmptyOrWritable", "%s is not empty", label)
	}

	probe := filepath.Join(dir, ".restore-write-probe")
	f, err := os.Create(probe)
	if err != nil {
		return backuperrors.Validationf("restore.checkEmptyOrWritable", "%s is empty, but not writable", label)
	}
	f.Close()
	os.Remove(probe)
	return nil
}

// extractChunks downloads and unpacks every chunk the manifest
// references, bounded by cfg.MaxParallel concurrent downloads — the same
// shape the executor uses for uploads (spec.md §5: N chunk workers).
func extractChunks(ctx context.Context, store objectstore.Store, prefix, name string, m manifest.Manifest, cfg Config, opts Options) error {
	group, gctx := errgroup.WithContext(ctx)
	limit := cfg.MaxParallel
	if limit <= 0 {
		limit = 4
	}
	group.SetLimit(limit)

	for _, chunk := range m.Chunks {
		chunk := chunk
		group.Go(func() error {
			index, err := strconv.Atoi(chunk.Name)
			if err != nil {
				return backuperrors.Wrap(backuperrors.Fatal, "restore.extractChunks", "parsing chunk index", err)
			}
			key := chunkKeyForFormat(prefix, name, index, m.Format)
			return extractOneChunk(gctx, store, key, m, cfg, opts)
		})
	}
	return group.Wait()
}

func chunkKeyForFormat(prefix, name string, index int, format manifest.Format) string {
	switch format {
	case manifest.FormatDeltaV1, manifest.FormatDeltaV2:
		return objectstore.DeltaChunkKey(prefix, name, index)
	default:
		return objectstore.ChunkKey(prefix, name, index)
	}
}

func extractOneChunk(ctx context.Context, store objectstore.Store, key string, m manifest.Manifest, cfg Config, opts Options) error {
	r, err := store.Get(ctx, key)
	if err != nil {
		return backuperrors.Wrap(backuperrors.Transient, "restore.extractOneChunk", "downloading chunk", err)
	}
	defer r.Close()

	plain, err := chunkwriter.OpenChunk(r, cfg.Compression.Algorithm, cfg.Encryption)
	if err != nil {
		return backuperrors.Wrap(backuperrors.Fatal, "restore.extractOneChunk", "opening chunk stream", err)
	}
	defer plain.Close()

	tr := tar.NewReader(plain)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return backuperrors.Wrap(backuperrors.Fatal, "restore.extractOneChunk", "reading tar entry", err)
		}

		dest, skip, err := resolveDestination(hdr.Name, m, opts)
		if err != nil {
			return err
		}
		if skip {
			continue
		}

		if hdr.Typeflag == tar.TypeDir || strings.HasSuffix(hdr.Name, "/") {
			if err := os.MkdirAll(dest, 0o700); err != nil {
				return backuperrors.Wrap(backuperrors.Fatal, "restore.extractOneChunk", "creating directory", err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
			return backuperrors.Wrap(backuperrors.Fatal, "restore.extractOneChunk", "creating parent directory", err)
		}
		if err := writeTarEntry(dest, tr); err != nil {
			return err
		}
	}
}

func writeTarEntry(dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return backuperrors.Wrap(backuperrors.Fatal, "restore.writeTarEntry", "creating file", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return backuperrors.Wrap(backuperrors.Fatal, "restore.writeTarEntry", "writing file", err)
	}
	return nil
}

// resolveDestination maps one archive-relative path to a filesystem
// destination, stripping the data directory's root component (whose
// literal name the backup-time walker chose and restore never needs to
// know) and redirecting anything under a tablespace's oid_path into that
// tablespace's restore target instead of the main tree. The pg_tblspc/oid
// entry itself is skipped here; writeTablespaceSymlinks creates it as a
// symlink once every chunk has been extracted.
func resolveDestination(archivePath string, m manifest.Manifest, opts Options) (dest string, skip bool, err error) {
	rel := archivePath
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		rel = rel[i+1:]
	} else {
		rel = ""
	}

	for name, ts := range m.Tablespaces {
		if ts.OIDPath == "" {
			continue
		}
		if rel == ts.OIDPath || rel == strings.TrimSuffix(ts.OIDPath, "/") {
			return "", true, nil
		}
		if strings.HasPrefix(rel, ts.OIDPath+"/") {
			target := opts.TablespaceDirs[name]
			if target == "" {
				target = ts.Path
			}
			return filepath.Join(target, strings.TrimPrefix(rel, ts.OIDPath+"/")), false, nil
		}
	}

	return filepath.Join(opts.TargetDir, rel), false, nil
}

// placeDeltaFiles fetches every content-addressed blob a delta backup
// referenced instead of inlining, and writes it at its original path —
// this is exactly what DeltaFileRef exists for: delta_stats.hashes alone
// has no path to place the content at.
func placeDeltaFiles(ctx context.Context, store objectstore.Store, prefix string, m manifest.Manifest, opts Options) error {
	for _, df := range m.DeltaFiles {
		dest, skip, err := resolveDestination(df.ArchivePath, m, opts)
		if err != nil {
			return err
		}
		if skip {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
			return backuperrors.Wrap(backuperrors.Fatal, "restore.placeDeltaFiles", "creating parent directory", err)
		}

		r, err := store.Get(ctx, objectstore.DeltaBlobKey(prefix, df.Digest))
		if err != nil {
			return backuperrors.Wrap(backuperrors.Fatal, "restore.placeDeltaFiles", "fetching delta blob", err)
		}

		written, err := copyToFile(dest, r)
		r.Close()
		if err != nil {
			return err
		}
		if err := manifest.CheckHashLength(df.Digest, df.Size, written); err != nil {
			return err
		}
	}
	return nil
}

func copyToFile(dest string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, backuperrors.Wrap(backuperrors.Fatal, "restore.copyToFile", "creating file", err)
	}
	defer f.Close()
	n, err := io.Copy(f, r)
	if err != nil {
		return n, backuperrors.Wrap(backuperrors.Fatal, "restore.copyToFile", "writing file", err)
	}
	return n, nil
}

// writeTablespaceSymlinks recreates every pg_tblspc/<oid> entry as a
// symlink into its (possibly mapped) restore target, after all regular
// file content has already been extracted into that target.
func writeTablespaceSymlinks(m manifest.Manifest, opts Options) error {
	for name, ts := range m.Tablespaces {
		if ts.OIDPath == "" {
			continue
		}
		target := opts.TablespaceDirs[name]
		if target == "" {
			target = ts.Path
		}

		linkPath := filepath.Join(opts.TargetDir, ts.OIDPath)
		if err := os.MkdirAll(filepath.Dir(linkPath), 0o700); err != nil {
			return backuperrors.Wrap(backuperrors.Fatal, "restore.writeTablespaceSymlinks", "creating pg_tblspc directory", err)
		}
		if err := os.RemoveAll(linkPath); err != nil {
			return backuperrors.Wrap(backuperrors.Fatal, "restore.writeTablespaceSymlinks", "clearing existing tablespace entry", err)
		}
		if err := os.Symlink(target, linkPath); err != nil {
			return backuperrors.Wrap(backuperrors.Fatal, "restore.writeTablespaceSymlinks", "creating tablespace symlink", err)
		}
	}
	return nil
}

// materializeWALSegment ensures the WAL directory for the server's major
// version exists and contains a placeholder for the backup's start
// segment. Fetching the segment's actual bytes is the WAL
// receiver/archiver's job, out of this module's scope; this only gives
// standalone_hot_backup mode the directory layout it expects before
// recovery starts replaying.
func materializeWALSegment(targetDir, pgVersion, segment string) error {
	if segment == "" {
		return nil
	}
	walDir := filepath.Join(targetDir, walDirName(pgVersion))
	if err := os.MkdirAll(walDir, 0o700); err != nil {
		return backuperrors.Wrap(backuperrors.Fatal, "restore.materializeWALSegment", "creating WAL directory", err)
	}
	placeholder := filepath.Join(walDir, segment)
	if _, err := os.Stat(placeholder); err == nil {
		return nil
	}
	f, err := os.OpenFile(placeholder, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return backuperrors.Wrap(backuperrors.Fatal, "restore.materializeWALSegment", "creating WAL segment placeholder", err)
	}
	return f.Close()
}

// walDirName returns "pg_wal" for PostgreSQL 10+ and "pg_xlog" for older
// versions, which renamed the directory in the 10.0 release.
func walDirName(pgVersion string) string {
	if pgMajorVersion(pgVersion) >= 10 {
		return "pg_wal"
	}
	return "pg_xlog"
}

func pgMajorVersion(pgVersion string) int {
	major := pgVersion
	if i := strings.IndexByte(pgVersion, '.'); i >= 0 {
		major = pgVersion[:i]
	}
	n, err := strconv.Atoi(strings.TrimSpace(major))
	if err != nil {
		return 0
	}
	return n
}

// writeRecoveryConfig writes the recovery configuration appropriate to
// the server version: PostgreSQL 12 dropped recovery.conf in favor of
// recovery.signal plus an ordinary GUC, so restore_command goes into
// postgresql.auto.conf instead.
func writeRecoveryConfig(targetDir, pgVersion, restoreCommand string) error {
	if pgMajorVersion(pgVersion) >= 12 {
		if restoreCommand != "" {
			if err := appendLine(filepath.Join(targetDir, "postgresql.auto.conf"), restoreCommandLine(restoreCommand)); err != nil {
				return err
			}
		}
		if err := os.WriteFile(filepath.Join(targetDir, "recovery.signal"), nil, 0o600); err != nil {
			return backuperrors.Wrap(backuperrors.Fatal, "restore.writeRecoveryConfig", "writing recovery.signal", err)
		}
		return nil
	}

	content := ""
	if restoreCommand != "" {
		content = restoreCommandLine(restoreCommand)
	}
	if err := os.WriteFile(filepath.Join(targetDir, "recovery.conf"), []byte(content), 0o600); err != nil {
		return backuperrors.Wrap(backuperrors.Fatal, "restore.writeRecoveryConfig", "writing recovery.conf", err)
	}
	return nil
}

func restoreCommandLine(cmd string) string {
	return fmt.Sprintf("restore_command = '%s'\n", cmd)
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return backuperrors.Wrap(backuperrors.Fatal, "restore.appendLine", "opening config file", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return backuperrors.Wrap(backuperrors.Fatal, "restore.appendLine", "appending to config file", err)
	}
	return nil
}
