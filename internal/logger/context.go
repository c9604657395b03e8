package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context carried through a single
// backup or restore operation.
type LogContext struct {
	TraceID    string    // correlation ID for a single scheduler decision / backup run
	Site       string    // backup site name
	BackupName string    // basebackup_chunk/<backup-id> style name, once assigned
	BackupMode string    // basic, pipe, local-tar, delta
	StartTime  time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext scoped to a site
func NewLogContext(site string) *LogContext {
	return &LogContext{
		Site:      site,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:    lc.TraceID,
		Site:       lc.Site,
		BackupName: lc.BackupName,
		BackupMode: lc.BackupMode,
		StartTime:  lc.StartTime,
	}
}

// WithBackupName returns a copy with the backup name set
func (lc *LogContext) WithBackupName(name string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.BackupName = name
	}
	return clone
}

// WithBackupMode returns a copy with the backup mode set
func (lc *LogContext) WithBackupMode(mode string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.BackupMode = mode
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
