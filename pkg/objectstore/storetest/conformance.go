// Package storetest exercises the objectstore.Store contract against any
// driver, so memory, fs, and s3 (where reachable) are all checked against
// the same behavioral expectations instead of duplicating assertions per
// driver.
package storetest

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgbasebackup/agent/pkg/objectstore"
)

// Run exercises the full Store contract against a freshly constructed
// store returned by newStore.
func Run(t *testing.T, newStore func() objectstore.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutThenGetRoundTrips", func(t *testing.T) {
		s := newStore()
		body := "chunk payload bytes"
		require.NoError(t, s.Put(ctx, "site/basebackup_chunk/b1/0", strings.NewReader(body), int64(len(body)), nil))

		r, err := s.Get(ctx, "site/basebackup_chunk/b1/0")
		require.NoError(t, err)
		defer r.Close()

		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, body, string(got))
	})

	t.Run("PutEmptyProducesZeroLengthObject", func(t *testing.T) {
		s := newStore()
		require.NoError(t, s.PutEmpty(ctx, "site/preservation_request/b1_123", map[string]string{"reason": "legal-hold"}))

		r, err := s.Get(ctx, "site/preservation_request/b1_123")
		require.NoError(t, err)
		defer r.Close()

		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("GetMetadataReturnsWhatWasPut", func(t *testing.T) {
		s := newStore()
		md := map[string]string{"digest": "abc123", "format": "delta-v2"}
		require.NoError(t, s.Put(ctx, "site/basebackup/b1", strings.NewReader("manifest"), 8, md))

		got, err := s.GetMetadata(ctx, "site/basebackup/b1")
		require.NoError(t, err)
		assert.Equal(t, "abc123", got["digest"])
		assert.Equal(t, "delta-v2", got["format"])
	})

	t.Run("GetMissingKeyFails", func(t *testing.T) {
		s := newStore()
		_, err := s.Get(ctx, "site/basebackup/does-not-exist")
		assert.Error(t, err)
	})

	t.Run("ListReturnsOnlyMatchingPrefix", func(t *testing.T) {
		s := newStore()
		require.NoError(t, s.Put(ctx, "site/basebackup_chunk/b1/0", strings.NewReader("a"), 1, nil))
		require.NoError(t, s.Put(ctx, "site/basebackup_chunk/b1/1", strings.NewReader("b"), 1, nil))
		require.NoError(t, s.Put(ctx, "site/basebackup_chunk/b2/0", strings.NewReader("c"), 1, nil))

		entries, err := s.List(ctx, "site/basebackup_chunk/b1/")
		require.NoError(t, err)
		require.Len(t, entries, 2)

		keys := []string{entries[0].Key, entries[1].Key}
		assert.Contains(t, keys, "site/basebackup_chunk/b1/0")
		assert.Contains(t, keys, "site/basebackup_chunk/b1/1")
	})

	t.Run("ListOnEmptyPrefixReturnsEmpty", func(t *testing.T) {
		s := newStore()
		entries, err := s.List(ctx, "site/basebackup/")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("DeleteRemovesObject", func(t *testing.T) {
		s := newStore()
		require.NoError(t, s.Put(ctx, "site/basebackup/b1", strings.NewReader("x"), 1, nil))
		require.NoError(t, s.Delete(ctx, "site/basebackup/b1"))

		_, err := s.Get(ctx, "site/basebackup/b1")
		assert.Error(t, err)
	})

	t.Run("DeleteOfMissingKeyIsNotAnError", func(t *testing.T) {
		s := newStore()
		assert.NoError(t, s.Delete(ctx, "site/basebackup/never-existed"))
	})
}
