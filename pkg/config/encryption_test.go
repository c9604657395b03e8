package config

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEncryptionKeyReturnsNilWhenSiteHasNoKeyID(t *testing.T) {
	cfg := &Config{}
	key, err := ResolveEncryptionKey(cfg, SiteConfig{})
	require.NoError(t, err)
	assert.Nil(t, key)
}

func TestResolveEncryptionKeyDecodesConfiguredKey(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	cfg := &Config{EncryptionKeys: map[string]string{"primary": encoded}}
	site := SiteConfig{Encryption: EncryptionConfig{KeyID: "primary"}}

	key, err := ResolveEncryptionKey(cfg, site)
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.Equal(t, "primary", key.ID)
	assert.Equal(t, raw, key.Key[:])
}

func TestResolveEncryptionKeyErrorsOnMissingEntry(t *testing.T) {
	cfg := &Config{}
	site := SiteConfig{Encryption: EncryptionConfig{KeyID: "missing"}}

	_, err := ResolveEncryptionKey(cfg, site)
	assert.Error(t, err)
}

func TestResolveEncryptionKeyErrorsOnWrongLength(t *testing.T) {
	cfg := &Config{EncryptionKeys: map[string]string{"short": base64.StdEncoding.EncodeToString([]byte("too-short"))}}
	site := SiteConfig{Encryption: EncryptionConfig{KeyID: "short"}}

	_, err := ResolveEncryptionKey(cfg, site)
	assert.Error(t, err)
}
