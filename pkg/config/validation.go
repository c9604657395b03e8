package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks cfg against its struct tags and the cross-field
// constraints struct tags can't express (site-specific object-store
// backend fields, tablespace-free sanity checks).
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w", err)
	}

	if len(cfg.Sites) == 0 {
		return fmt.Errorf("at least one site must be configured")
	}

	for name, site := range cfg.Sites {
		if err := validate.Struct(site); err != nil {
			return fmt.Errorf("site %q: %w", name, err)
		}
		if err := validateSiteObjectStore(site); err != nil {
			return fmt.Errorf("site %q: %w", name, err)
		}
	}
	return nil
}

func validateSiteObjectStore(site SiteConfig) error {
	switch site.ObjectStore.Type {
	case "s3":
		if site.ObjectStore.S3.Bucket == "" {
			return fmt.Errorf("object_store.s3.bucket is required")
		}
	case "fs":
		if site.ObjectStore.FS.Root == "" {
			return fmt.Errorf("object_store.fs.root is required")
		}
	}
	return nil
}
