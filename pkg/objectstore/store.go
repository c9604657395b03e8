// Package objectstore defines the object-store gateway that every other
// component of the backup agent talks to: the chunk writer, the delta
// engine, the restore engine, and the preservation registry all operate
// purely against this interface, never against a specific backend SDK. A
// backend (s3, memory, fs) implements Store once and the rest of the agent
// is backend-agnostic, matching spec.md §4.A/§9's polymorphism design note.
package objectstore

import (
	"context"
	"io"
	"time"
)

// Entry describes a single object returned by List.
type Entry struct {
	Key          string
	Size         int64
	LastModified time.Time
	Metadata     map[string]string
}

// Store is the gateway every backup/restore component uses to read and
// write backup artifacts (chunks, delta blobs, manifests, preservation
// markers). All methods block until completion or ctx is cancelled; there
// is no background queueing in the interface itself (§5: suspension only at
// I/O wait points).
//
// Implementations must classify failures using pkg/backuperrors: network
// blips and throttling as Transient, permission/not-found/bucket-missing as
// Fatal, so callers never have to string-match a backend's native error
// type.
type Store interface {
	// Put uploads the full contents of r under key, with optional metadata
	// attached (used for preservation markers and manifest sidecar info).
	Put(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string) error

	// PutEmpty uploads a zero-length object, used for preservation request
	// markers (spec.md §4.H / S5).
	PutEmpty(ctx context.Context, key string, metadata map[string]string) error

	// Get returns a reader for the object at key. The caller must Close it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// GetMetadata returns the metadata attached to key without downloading
	// its body.
	GetMetadata(ctx context.Context, key string) (map[string]string, error)

	// List returns every object whose key has the given prefix. Order is
	// not guaranteed; callers that need a stable order (e.g. the restore
	// CLI's listing) sort client-side.
	List(ctx context.Context, prefix string) ([]Entry, error)

	// Delete removes the object at key. Deleting a missing key is not an
	// error (idempotent, matching the teacher's delete-is-idempotent
	// convention and pghoard's cancel_backup_preservation semantics).
	Delete(ctx context.Context, key string) error
}
