// Package executor implements the backup executor (spec.md §4.D): the
// state machine that drives one backup attempt through its five
// possible modes. Run returns the attempt's outcome as a single Result
// value; pkg/agent carries that value back to its control loop over a
// typed channel rather than a callback queue (spec.md §9's design note).
package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pgbasebackup/agent/internal/logger"
	"github.com/pgbasebackup/agent/pkg/backuperrors"
	"github.com/pgbasebackup/agent/pkg/chunkwriter"
	"github.com/pgbasebackup/agent/pkg/delta"
	"github.com/pgbasebackup/agent/pkg/executor/pgconn"
	"github.com/pgbasebackup/agent/pkg/labelparse"
	"github.com/pgbasebackup/agent/pkg/manifest"
	"github.com/pgbasebackup/agent/pkg/objectstore"
	"github.com/pgbasebackup/agent/pkg/walker"
)

// Mode selects the source of backup bytes (spec.md §4.D).
type Mode string

const (
	ModeBasic              Mode = "basic"
	ModePipe               Mode = "pipe"
	ModeLocalTar           Mode = "local-tar"
	ModeDelta              Mode = "delta"
	ModeLocalTarDeltaStats Mode = "local-tar-delta-stats"
)

// State names a point in the executor's state machine (spec.md §4.D).
type State string

const (
	StateIdle       State = "idle"
	StatePreparing  State = "preparing"
	StateRunning    State = "running"
	StateFinalizing State = "finalizing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Result is the outcome of one backup attempt; Run returns exactly one
// per call.
type Result struct {
	Success    bool
	Exception  error
	Manifest   manifest.Manifest
	Metadata   map[string]string
	BackupName string
}

// Config holds the per-attempt parameters an Executor needs, independent
// of which site or schedule triggered it.
type Config struct {
	Mode             Mode
	Site             string
	Prefix           string // object-store key prefix for this site
	BackupName       string
	PGData           string
	Tablespaces      []walker.Tablespace
	ConnString       string // used for liveness probing and basic/pipe streaming
	PGVersion        string
	ActiveBackupMode string // e.g. "archive_command", "standalone_hot_backup"
	TargetChunkSize  int64
	Compression      chunkwriter.CompressionConfig
	Encryption       *chunkwriter.EncryptionKey
	MaxParallel      int // bounded worker count for RUNNING
	DeltaConfig      delta.Config
	// ScheduleStub is the scheduler's metadata stub (backup-reason,
	// backup-decision-time, normalized-backup-time) which FINALIZING
	// augments with the fields the scheduler cannot know in advance.
	ScheduleStub map[string]string
}

// Executor drives one backup attempt. Callers construct a fresh Executor
// (or at least a fresh Config) per attempt; it holds no per-attempt state
// between calls to Run.
type Executor struct {
	store objectstore.Store
	live  func(ctx context.Context, connString string) bool
}

// New returns an Executor bound to store. liveCheck defaults to
// pgconn.CheckConnectionAlive; tests substitute a fake to exercise the
// S6 lost-connection scenario without a real PostgreSQL connection.
func New(store objectstore.Store, liveCheck func(ctx context.Context, connString string) bool) *Executor {
	if liveCheck == nil {
		liveCheck = pgconn.CheckConnectionAlive
	}
	return &Executor{store: store, live: liveCheck}
}

// connectionLostErr is the exact message spec.md's S6 scenario requires.
func connectionLostErr() error {
	return backuperrors.Fatalf("executor.Run", "PostgreSQL connection was lost during backup process.")
}

// Run executes one backup attempt end to end, returning the terminal
// Result. An unknown mode fails immediately with a Fatal
// UnsupportedMode-style error, matching spec.md §4.D; PREPARING and
// RUNNING each re-check liveness before doing any work, since FAILED can
// be entered from either state once the connection is gone.
func (e *Executor) Run(ctx context.Context, cfg Config) Result {
	lc := logger.NewLogContext(cfg.Site).WithBackupName(cfg.BackupName).WithBackupMode(string(cfg.Mode))
	ctx = logger.WithContext(ctx, lc)
	logger.InfoCtx(ctx, "backup attempt starting", logger.Operation("executor.Run"))

	switch cfg.Mode {
	case ModeBasic, ModePipe, ModeLocalTar, ModeDelta, ModeLocalTarDeltaStats:
	default:
		err := backuperrors.Fatalf("executor.Run", "unsupported backup mode %q", cfg.Mode)
		return e.fail(ctx, cfg, err)
	}

	if requiresLocalWalk(cfg.Mode) {
		if _, err := os.Stat(cfg.PGData); err != nil {
			return e.fail(ctx, cfg, backuperrors.Wrap(backuperrors.Fatal, "executor.Run", "pgdata not accessible", err))
		}
	}

	if !e.live(ctx, cfg.ConnString) {
		return e.fail(ctx, cfg, connectionLostErr())
	}

	label, segment, startTime, err := e.preparingLabel(cfg)
	if err != nil {
		return e.fail(ctx, cfg, err)
	}

	logger.InfoCtx(ctx, "entering RUNNING", logger.Operation("executor.Run"))
	if !e.live(ctx, cfg.ConnString) {
		return e.fail(ctx, cfg, connectionLostErr())
	}

	m, err := e.runMode(ctx, cfg)
	if err != nil {
		return e.fail(ctx, cfg, err)
	}

	logger.InfoCtx(ctx, "entering FINALIZING", logger.Operation("executor.Run"))
	m.BackupLabel = label

	endTime := time.Now().UTC().Format(time.RFC3339)
	var totalSizePlain, totalSizeEnc int64
	for _, c := range m.Chunks {
		totalSizeEnc += c.Size
	}

	meta := map[string]string{
		"start-time":         startTime,
		"start-wal-segment":  segment,
		"pg-version":         cfg.PGVersion,
		"basebackup-mode":    string(cfg.Mode),
		"active-backup-mode": cfg.ActiveBackupMode,
		"format":             string(m.Format),
		"end-time":           endTime,
		"total-size-enc":     fmt.Sprintf("%d", totalSizeEnc),
		"total-size-plain":   fmt.Sprintf("%d", totalSizePlain),
	}
	for k, v := range cfg.ScheduleStub {
		meta[k] = v
	}

	encoded, err := manifest.Encode(m)
	if err != nil {
		return e.fail(ctx, cfg, err)
	}
	key := objectstore.ManifestKey(cfg.Prefix, cfg.BackupName)
	if err := e.store.Put(ctx, key, newByteReader(encoded), int64(len(encoded)), meta); err != nil {
		return e.fail(ctx, cfg, backuperrors.Wrap(backuperrors.Transient, "executor.Run", "writing manifest", err))
	}

	logger.InfoCtx(ctx, "backup attempt finished", logger.Operation("executor.Run"), logger.DurationMs(lc.DurationMs()))
	return Result{Success: true, Manifest: m, Metadata: meta, BackupName: cfg.BackupName}
}

func (e *Executor) fail(ctx context.Context, cfg Config, err error) Result {
	logger.ErrorCtx(ctx, "backup attempt failed", logger.Operation("executor.Run"), logger.Err(err))
	return Result{Success: false, Exception: err, BackupName: cfg.BackupName}
}

func requiresLocalWalk(mode Mode) bool {
	switch mode {
	case ModeLocalTar, ModeDelta, ModeLocalTarDeltaStats:
		return true
	default:
		return false
	}
}

// preparingLabel extracts backup_label during PREPARING. For the local
// modes it is read from <PGData>/backup_label. For basic and pipe it
// returns an empty label, segment and start time without error: the
// label is not read from the replication stream.
func (e *Executor) preparingLabel(cfg Config) (label, segment, isoTime string, err error) {
	if !requiresLocalWalk(cfg.Mode) {
		return "", "", "", nil
	}

	path := filepath.Join(cfg.PGData, "backup_label")
	raw, readErr := os.ReadFile(path)
	if readErr != nil {
		return "", "", "", backuperrors.Wrap(backuperrors.Fatal, "executor.preparingLabel", "reading backup_label", readErr)
	}
	label = string(raw)

	segment, isoTime, err = labelparse.ParseText(label)
	if err != nil {
		return "", "", "", backuperrors.Wrap(backuperrors.Fatal, "executor.preparingLabel", "parsing backup_label", err)
	}
	return label, segment, isoTime, nil
}

// runMode performs the RUNNING phase for cfg.Mode, returning a manifest
// with its Chunks/DeltaStats populated (BackupLabel is filled in by the
// caller during FINALIZING).
func (e *Executor) runMode(ctx context.Context, cfg Config) (manifest.Manifest, error) {
	var m manifest.Manifest
	var err error
	switch cfg.Mode {
	case ModeBasic, ModePipe:
		m, err = e.runStreamingMode(ctx, cfg)
	case ModeLocalTar, ModeLocalTarDeltaStats:
		m, err = e.runLocalTarMode(ctx, cfg, false)
	case ModeDelta:
		m, err = e.runLocalTarMode(ctx, cfg, true)
	default:
		return manifest.Manifest{}, backuperrors.Fatalf("executor.runMode", "unsupported backup mode %q", cfg.Mode)
	}
	if err != nil {
		return manifest.Manifest{}, err
	}
	m.Tablespaces = tablespaceManifest(cfg.Tablespaces)
	return m, nil
}

// tablespaceManifest converts the caller-supplied tablespace list into the
// manifest's form, keyed by logical name (what a restore's
// --tablespace-dir mapping names), deriving oid_path the way every
// pg_tblspc entry is actually named on disk: "pg_tblspc/<oid>".
func tablespaceManifest(tablespaces []walker.Tablespace) map[string]manifest.Tablespace {
	if len(tablespaces) == 0 {
		return nil
	}
	out := make(map[string]manifest.Tablespace, len(tablespaces))
	for _, ts := range tablespaces {
		out[ts.Name] = manifest.Tablespace{
			OID:     ts.OID,
			Path:    ts.Path,
			OIDPath: "pg_tblspc/" + ts.OID,
		}
	}
	return out
}

// runStreamingMode implements `basic` and `pipe`: the whole archive
// arrives over the replication protocol rather than via a local walk.
// The two differ in the source implementation only by how aggressively
// the driver buffers before upload; both are modeled here as one
// continuous pipe from the replication stream through to the object
// store, since this agent always compresses/encrypts in flight.
func (e *Executor) runStreamingMode(ctx context.Context, cfg Config) (manifest.Manifest, error) {
	streamer, err := pgconn.Dial(ctx, cfg.ConnString)
	if err != nil {
		return manifest.Manifest{}, backuperrors.Wrap(backuperrors.Transient, "executor.runStreamingMode", "connecting for base backup", err)
	}
	defer streamer.Close(context.Background())

	pr, pw := io.Pipe()
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer pw.Close()
		return streamer.StreamBaseBackup(gctx, pw)
	})

	key := objectstore.ChunkKey(cfg.Prefix, cfg.BackupName, 0)
	var size int64
	group.Go(func() error {
		counted := &countingReader{r: pr}
		if err := e.store.Put(gctx, key, counted, -1, nil); err != nil {
			return err
		}
		size = counted.n
		return nil
	})

	if err := group.Wait(); err != nil {
		return manifest.Manifest{}, backuperrors.Wrap(backuperrors.Transient, "executor.runStreamingMode", "streaming base backup", err)
	}

	return manifest.Manifest{
		Format: manifest.FormatV2,
		Chunks: []manifest.Chunk{{Name: "0", Size: size}},
	}, nil
}

// runLocalTarMode implements `local-tar`, `local-tar-delta-stats`, and
// `delta`: walk the snapshotted data directory, split it into
// self-contained chunks (spec.md §4.C.1), and upload each chunk in
// parallel with a bounded worker count. When withDelta is true,
// applyDelta takes every file of at least MinDeltaFileSize out of the
// chunks: content not in the delta engine's union hash set is uploaded as
// a content-addressed blob, known content is only referenced, and smaller
// files stay in the chunks.
func (e *Executor) runLocalTarMode(ctx context.Context, cfg Config, withDelta bool) (manifest.Manifest, error) {
	var union map[string]int64
	var engine *delta.Engine
	if withDelta {
		engine = delta.New(e.store, cfg.Prefix, cfg.DeltaConfig)
		var err error
		union, err = engine.FetchAllHashes(ctx)
		if err != nil {
			return manifest.Manifest{}, err
		}
	}

	chunkSize := cfg.TargetChunkSize
	if withDelta && cfg.DeltaConfig.ChunkSize > 0 {
		chunkSize = cfg.DeltaConfig.ChunkSize
	}

	_, chunks, err := walker.FindAndSplit(cfg.PGData, cfg.Tablespaces, chunkSize)
	if err != nil {
		return manifest.Manifest{}, backuperrors.Wrap(backuperrors.Fatal, "executor.runLocalTarMode", "walking pgdata", err)
	}

	hashes := map[string]int64{}
	var deltaFiles []manifest.DeltaFileRef
	toWrite := chunks
	switch {
	case withDelta:
		toWrite, hashes, deltaFiles, err = e.applyDelta(ctx, engine, union, chunks)
		if err != nil {
			return manifest.Manifest{}, err
		}
	case cfg.Mode == ModeLocalTarDeltaStats:
		// Records hashes for future delta backups to discover via
		// fetch_all_hashes, but — unlike `delta` — never removes a file
		// from its chunk or uploads a separate delta blob.
		hashes, err = statsOnlyHashes(chunks, cfg.DeltaConfig.MinDeltaFileSize)
		if err != nil {
			return manifest.Manifest{}, err
		}
	}

	results := make([]chunkwriter.Result, len(toWrite))
	writer := chunkwriter.New(e.store, cfg.Compression, cfg.Encryption)
	group, gctx := errgroup.WithContext(ctx)
	limit := cfg.MaxParallel
	if limit <= 0 {
		limit = 4
	}
	group.SetLimit(limit)

	for i, entries := range toWrite {
		i, entries := i, entries
		if len(entries) == 0 {
			continue
		}
		group.Go(func() error {
			if !e.live(gctx, cfg.ConnString) {
				return connectionLostErr()
			}
			key := keyForMode(cfg, i, withDelta)
			res, err := writer.WriteChunk(gctx, key, entries)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return manifest.Manifest{}, err
	}

	m := manifest.Manifest{Format: formatForMode(cfg.Mode)}
	for i, res := range results {
		if res.Key == "" {
			continue
		}
		m.Chunks = append(m.Chunks, manifest.Chunk{Name: fmt.Sprintf("%d", i), Size: res.CompressedSize})
	}
	if withDelta || cfg.Mode == ModeLocalTarDeltaStats {
		m.DeltaStats = &manifest.DeltaStats{Hashes: hashes}
	}
	if withDelta {
		m.DeltaFiles = deltaFiles
	}
	return m, nil
}

// applyDelta evaluates every file referenced by chunks against the union
// hash set, removing already-known files from the chunks that get
// written and uploading novel content-addressed blobs directly. It
// returns the (possibly smaller) chunk groups still needing a regular
// chunk upload, the hashes this backup contributes, and a DeltaFileRef
// for every file it referenced by hash (reused or newly uploaded) so
// restore can place each one at its original path.
func (e *Executor) applyDelta(ctx context.Context, engine *delta.Engine, union map[string]int64, chunks [][]walker.Entry) ([][]walker.Entry, map[string]int64, []manifest.DeltaFileRef, error) {
	contributed := map[string]int64{}
	var deltaFiles []manifest.DeltaFileRef
	remaining := make([][]walker.Entry, len(chunks))

	for i, group := range chunks {
		var keep []walker.Entry
		for _, entry := range group {
			if entry.IsDir {
				keep = append(keep, entry)
				continue
			}
			info, err := os.Stat(entry.LocalPath)
			if err != nil {
				if entry.MissingOk && os.IsNotExist(err) {
					continue
				}
				keep = append(keep, entry)
				continue
			}
			if engine.ShouldInline(info.Size()) {
				keep = append(keep, entry)
				continue
			}

			digest, length, err := hashFile(entry.LocalPath)
			if err != nil {
				return nil, nil, nil, backuperrors.Wrap(backuperrors.Fatal, "executor.applyDelta", "hashing candidate file", err)
			}

			decision := delta.Evaluate(digest, length, union)
			if decision.NeedUpload {
				if err := uploadDeltaBlob(ctx, engine, entry.LocalPath, digest, length); err != nil {
					return nil, nil, nil, err
				}
			}
			contributed[digest] = length
			deltaFiles = append(deltaFiles, manifest.DeltaFileRef{
				ArchivePath: entry.ArchivePath,
				Digest:      digest,
				Size:        length,
			})
		}
		remaining[i] = keep
	}

	return remaining, contributed, deltaFiles, nil
}

// statsOnlyHashes hashes every file of at least minInlineSize that
// `local-tar-delta-stats` walks (smaller files are skipped), without
// consulting or mutating anything: the mode's whole point is to seed
// future delta backups' union hash set while itself staying a plain,
// fully-inlined local-tar backup.
func statsOnlyHashes(chunks [][]walker.Entry, minInlineSize int64) (map[string]int64, error) {
	hashes := map[string]int64{}
	for _, group := range chunks {
		for _, entry := range group {
			if entry.IsDir {
				continue
			}
			info, err := os.Stat(entry.LocalPath)
			if err != nil {
				if entry.MissingOk && os.IsNotExist(err) {
					continue
				}
				return nil, backuperrors.Wrap(backuperrors.Fatal, "executor.statsOnlyHashes", "stat candidate file", err)
			}
			if info.Size() < minInlineSize {
				continue
			}
			digest, length, err := hashFile(entry.LocalPath)
			if err != nil {
				return nil, backuperrors.Wrap(backuperrors.Fatal, "executor.statsOnlyHashes", "hashing candidate file", err)
			}
			hashes[digest] = length
		}
	}
	return hashes, nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return delta.HashReader(f)
}

func uploadDeltaBlob(ctx context.Context, engine *delta.Engine, path, digest string, length int64) error {
	f, err := os.Open(path)
	if err != nil {
		return backuperrors.Wrap(backuperrors.Fatal, "executor.applyDelta", "reopening candidate file for upload", err)
	}
	defer f.Close()
	return engine.UploadBlobIfNew(ctx, digest, length, f)
}

func keyForMode(cfg Config, index int, withDelta bool) string {
	if withDelta {
		return objectstore.DeltaChunkKey(cfg.Prefix, cfg.BackupName, index)
	}
	return objectstore.ChunkKey(cfg.Prefix, cfg.BackupName, index)
}

func formatForMode(mode Mode) manifest.Format {
	switch mode {
	case ModeDelta:
		return manifest.FormatDeltaV2
	case ModeLocalTarDeltaStats:
		return manifest.FormatLocalTarDeltaStats
	default:
		return manifest.FormatV2
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(b []byte) *byteReader { return &byteReader{data: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
