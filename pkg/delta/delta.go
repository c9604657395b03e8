// Package delta implements the delta dedup engine (spec.md §4.E): it
// maintains a union set of content hashes already uploaded by recent
// backups, decides per-file whether a candidate is worth hashing at all,
// and uploads only genuinely novel content-addressed blobs.
package delta

import (
	"context"
	"io"
	"time"

	"github.com/pgbasebackup/agent/pkg/backuperrors"
	"github.com/pgbasebackup/agent/pkg/manifest"
	"github.com/pgbasebackup/agent/pkg/objectstore"
)

// Config holds the per-site delta-mode parameters from spec.md §6.
type Config struct {
	MinDeltaFileSize int64
	ChunkSize        int64
	MaxRetries       int
}

// Engine mediates delta-mode file handling for one site against its
// object store.
type Engine struct {
	store  objectstore.Store
	prefix string
	cfg    Config
}

// New returns an Engine scoped to one site's key prefix.
func New(store objectstore.Store, prefix string, cfg Config) *Engine {
	return &Engine{store: store, prefix: prefix, cfg: cfg}
}

// FetchAllHashes lists every existing manifest under the engine's prefix
// and merges the delta_stats.hashes of every one whose format
// manifest.ContributesHashes accepts, skipping the rest (notably v1,
// which predates delta bookkeeping — see manifest.SkippedHashFormats).
// Each manifest's format is read from its object metadata (from the
// listing, or via GetMetadata when the backend's listing carries none)
// so this never downloads a manifest it is going to ignore.
func (e *Engine) FetchAllHashes(ctx context.Context) (map[string]int64, error) {
	entries, err := e.store.List(ctx, objectstore.BaseBackupPrefix(e.prefix))
	if err != nil {
		return nil, err
	}

	union := make(map[string]int64)
	for _, entry := range entries {
		md := entry.Metadata
		if md == nil {
			md, err = e.store.GetMetadata(ctx, entry.Key)
			if err != nil {
				return nil, err
			}
		}
		format := manifest.Format(md["format"])
		if !manifest.ContributesHashes(format) {
			continue
		}

		r, err := e.store.Get(ctx, entry.Key)
		if err != nil {
			return nil, err
		}
		raw, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			return nil, err
		}

		m, err := manifest.Decode(raw)
		if err != nil {
			return nil, err
		}
		if m.DeltaStats == nil {
			continue
		}

		for hash, length := range m.DeltaStats.Hashes {
			if existing, ok := union[hash]; ok && existing != length {
				return nil, backuperrors.Fatalf("delta.FetchAllHashes", "hash %s recorded with conflicting lengths %d and %d across manifests", hash, existing, length)
			}
			union[hash] = length
		}
	}

	return union, nil
}

// ShouldInline reports whether a candidate file is small enough to skip
// hashing entirely and go straight into a regular chunk.
func (e *Engine) ShouldInline(size int64) bool {
	return size < e.cfg.MinDeltaFileSize
}

// Decision is the outcome of evaluating one candidate file against the
// union hash set.
type Decision struct {
	Inline     bool   // too small for delta handling; chunk it normally
	Reused     bool   // hash already known; emit a manifest reference only
	NeedUpload bool   // hash is novel; caller must upload the blob
	Digest     string
	Length     int64
}

// Evaluate decides what to do with a hashed candidate file against the
// union set fetched by FetchAllHashes. Invariant 8 (delta reuse): if hash
// h is already in the union set, Evaluate reports Reused and never
// NeedUpload, so no redundant blob is written for content already held by
// a prior backup.
func Evaluate(digest string, length int64, unionHashes map[string]int64) Decision {
	if _, ok := unionHashes[digest]; ok {
		return Decision{Reused: true, Digest: digest, Length: length}
	}
	return Decision{NeedUpload: true, Digest: digest, Length: length}
}

// UploadBlobIfNew uploads r under the content-addressed delta blob key
// for digest, unless another backup has already written it. Upload is
// idempotent (same digest implies same bytes), so a loser of a concurrent
// upload race simply observes the existing blob and skips reupload
// rather than treating the conflict as an error.
func (e *Engine) UploadBlobIfNew(ctx context.Context, digest string, length int64, r io.Reader) error {
	key := objectstore.DeltaBlobKey(e.prefix, digest)

	if _, err := e.store.GetMetadata(ctx, key); err == nil {
		return nil
	}

	return e.store.Put(ctx, key, r, length, map[string]string{"digest": digest})
}

// FailureRecord tracks a site's delta-mode failure budget across wake-ups.
type FailureRecord struct {
	Retries        int
	LastFailedTime time.Time
}

// ShouldSuppressScheduled implements the failure-budget cooldown: once
// retries exceeds cfg.MaxRetries and the last failure is still within one
// scheduled interval, scheduled (non-manual) delta attempts are
// suppressed until the cooldown elapses. Explicit requests always
// proceed regardless of this record; callers only consult this for
// scheduled attempts.
func ShouldSuppressScheduled(rec FailureRecord, now time.Time, cfg Config, intervalHours float64) bool {
	if rec.Retries <= cfg.MaxRetries {
		return false
	}
	if rec.LastFailedTime.IsZero() {
		return false
	}
	elapsed := now.Sub(rec.LastFailedTime)
	interval := time.Duration(intervalHours * float64(time.Hour))
	return elapsed < interval
}
