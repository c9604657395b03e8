package config

import (
	"context"
	"fmt"

	"github.com/pgbasebackup/agent/pkg/objectstore"
	"github.com/pgbasebackup/agent/pkg/objectstore/fs"
	"github.com/pgbasebackup/agent/pkg/objectstore/s3"
)

// BuildObjectStore constructs the pkg/objectstore.Store a site's
// configuration names, verifying backend reachability (S3's bucket HEAD
// check; fs's directory creation) the same way New does for each backend.
func BuildObjectStore(ctx context.Context, cfg ObjectStoreConfig) (objectstore.Store, error) {
	switch cfg.Type {
	case "s3":
		client, err := s3.NewClientFromConfig(ctx,
			cfg.S3.Endpoint, cfg.S3.Region, cfg.S3.AccessKeyID, cfg.S3.SecretAccessKey, cfg.S3.ForcePathStyle)
		if err != nil {
			return nil, fmt.Errorf("build s3 client: %w", err)
		}
		return s3.New(ctx, s3.Config{
			Client:    client,
			Bucket:    cfg.S3.Bucket,
			KeyPrefix: cfg.S3.KeyPrefix,
		})
	case "fs":
		return fs.New(cfg.FS.Root)
	default:
		return nil, fmt.Errorf("unknown object store type %q", cfg.Type)
	}
}
