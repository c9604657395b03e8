// Package preservation implements the preservation registry (spec.md
// §4.H): zero-length marker blobs that tell retention to keep a backup,
// and the delta blobs it references, past its normal expiry.
package preservation

import (
	"context"
	"fmt"
	"time"

	"github.com/pgbasebackup/agent/internal/logger"
	"github.com/pgbasebackup/agent/pkg/objectstore"
)

// preserveUntilLayout mirrors Python's bare str(datetime) rendering for a
// timezone-aware timestamp ("2022-12-18 10:20:30.123456+00:00"), which the
// preservation marker's metadata and request name are built from.
const preserveUntilLayout = "2006-01-02 15:04:05.000000-07:00"

// Registry requests and cancels preservation markers for one site.
type Registry struct {
	store  objectstore.Store
	prefix string
}

// New returns a Registry that stores markers under prefix via store.
func New(store objectstore.Store, prefix string) *Registry {
	return &Registry{store: store, prefix: prefix}
}

// Request writes a preservation marker for backupName and returns the
// marker's name (backupName + "_" + formatted preserveUntil), which Cancel
// later needs to remove it. The marker itself carries no body, only the
// preserve-backup/preserve-until metadata a retention sweep checks before
// expiring a backup.
func (r *Registry) Request(ctx context.Context, backupName string, preserveUntil time.Time) (string, error) {
	stamp := preserveUntil.UTC().Format(preserveUntilLayout)
	requestName := fmt.Sprintf("%s_%s", backupName, stamp)
	key := objectstore.PreservationRequestKey(r.prefix, backupName, stamp)

	metadata := map[string]string{
		"preserve-backup": backupName,
		"preserve-until":  stamp,
	}
	if err := r.store.PutEmpty(ctx, key, metadata); err != nil {
		return "", fmt.Errorf("preservation: request backup preservation: %w", err)
	}
	return requestName, nil
}

// TryRequest is Request's advisory variant: a caller that only wants to
// extend a backup's life on a best-effort basis logs and swallows a
// failure here instead of letting it fail the surrounding operation.
func (r *Registry) TryRequest(ctx context.Context, backupName string, preserveUntil time.Time) (string, bool) {
	name, err := r.Request(ctx, backupName, preserveUntil)
	if err != nil {
		logger.ErrorCtx(ctx, "could not request backup preservation",
			logger.Operation("preservation.Request"), logger.BackupName(backupName), logger.Err(err))
		return "", false
	}
	return name, true
}

// Cancel deletes a preservation marker by the name Request returned.
func (r *Registry) Cancel(ctx context.Context, requestName string) error {
	key := objectstore.PreservationRequestPrefix(r.prefix) + requestName
	if err := r.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("preservation: cancel backup preservation: %w", err)
	}
	return nil
}

// TryCancel is Cancel's advisory variant: it logs and swallows failures
// rather than propagating them.
func (r *Registry) TryCancel(ctx context.Context, requestName string) {
	if err := r.Cancel(ctx, requestName); err != nil {
		logger.ErrorCtx(ctx, "could not cancel backup preservation",
			logger.Operation("preservation.Cancel"), logger.Err(err))
	}
}
