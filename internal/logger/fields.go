package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across the backup agent.
// Use these keys consistently across all log statements for log aggregation
// and querying.
const (
	// ========================================================================
	// Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // correlation ID for a scheduler decision / backup run

	// ========================================================================
	// Site & backup identity
	// ========================================================================
	KeySite        = "site"         // backup site name
	KeyBackupName  = "backup_name"  // backup-id / entry name
	KeyBackupMode  = "backup_mode"  // basic, pipe, local-tar, delta
	KeyFormat      = "format"       // v1, v2, delta-v1, delta-v2
	KeyBackupReason = "backup_reason" // scheduled, requested

	// ========================================================================
	// Chunking & manifest
	// ========================================================================
	KeyChunkIndex = "chunk_index" // ordinal of the chunk within a backup
	KeyChunkCount = "chunk_count" // total chunks emitted for a backup
	KeyPath       = "path"        // filesystem path under pgdata
	KeySize       = "size"        // byte size
	KeyDigest     = "digest"      // content hash (delta dedup)

	// ========================================================================
	// Object store
	// ========================================================================
	KeyBucket    = "bucket"     // cloud bucket name
	KeyKey       = "key"        // object key
	KeyStoreType = "store_type" // s3, memory, fs
	KeyAttempt   = "attempt"    // retry attempt number

	// ========================================================================
	// Scheduler
	// ========================================================================
	KeyNormalizedTime = "normalized_time" // scheduler window normalization result
	KeyIntervalHours  = "interval_hours"

	// ========================================================================
	// Operation metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorKind  = "error_kind" // transient, fatal, validation, advisory
	KeyOperation  = "operation"
)

// Site returns a slog.Attr for the backup site name
func Site(name string) slog.Attr {
	return slog.String(KeySite, name)
}

// BackupName returns a slog.Attr for the backup entry name
func BackupName(name string) slog.Attr {
	return slog.String(KeyBackupName, name)
}

// BackupMode returns a slog.Attr for the active backup mode
func BackupMode(mode string) slog.Attr {
	return slog.String(KeyBackupMode, mode)
}

// Format returns a slog.Attr for the manifest format
func Format(format string) slog.Attr {
	return slog.String(KeyFormat, format)
}

// ChunkIndex returns a slog.Attr for a chunk's ordinal index
func ChunkIndex(i int) slog.Attr {
	return slog.Int(KeyChunkIndex, i)
}

// Path returns a slog.Attr for a filesystem path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Size returns a slog.Attr for a byte size
func Size(s uint64) slog.Attr {
	return slog.Uint64(KeySize, s)
}

// Digest returns a slog.Attr for a content hash
func Digest(d string) slog.Attr {
	return slog.String(KeyDigest, d)
}

// Bucket returns a slog.Attr for the object store bucket name
func Bucket(name string) slog.Attr {
	return slog.String(KeyBucket, name)
}

// Key returns a slog.Attr for an object store key
func Key(k string) slog.Attr {
	return slog.String(KeyKey, k)
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// DurationMs returns a slog.Attr for a duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorKind returns a slog.Attr for a backuperrors.Kind string
func ErrorKind(kind string) slog.Attr {
	return slog.String(KeyErrorKind, kind)
}

// Operation returns a slog.Attr for a sub-operation name
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}
