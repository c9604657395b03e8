package config

import (
	"encoding/base64"
	"fmt"

	"github.com/pgbasebackup/agent/pkg/chunkwriter"
)

// ResolveEncryptionKey looks up site's configured key id in cfg's keyring
// and decodes it into the 32-byte secretbox key chunkwriter needs. A site
// with no encryption_key_id returns (nil, nil): the chunk pipeline treats
// a nil key as "write plaintext".
func ResolveEncryptionKey(cfg *Config, site SiteConfig) (*chunkwriter.EncryptionKey, error) {
	if site.Encryption.KeyID == "" {
		return nil, nil
	}

	encoded, ok := cfg.EncryptionKeys[site.Encryption.KeyID]
	if !ok {
		return nil, fmt.Errorf("encryption key id %q has no entry in encryption_keys", site.Encryption.KeyID)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key %q: %w", site.Encryption.KeyID, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("encryption key %q must decode to 32 bytes, got %d", site.Encryption.KeyID, len(raw))
	}

	key := &chunkwriter.EncryptionKey{ID: site.Encryption.KeyID}
	copy(key.Key[:], raw)
	return key, nil
}
