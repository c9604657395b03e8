package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgbasebackup/agent/pkg/httpapi"
	"github.com/pgbasebackup/agent/pkg/objectstore"
	"github.com/pgbasebackup/agent/pkg/objectstore/memory"
)

func seedBasebackups(t *testing.T, store *memory.Store, prefix string) {
	t.Helper()
	ctx := context.Background()
	for _, name := range []string{"2022_12_10_0", "2022_12_18_0"} {
		key := objectstore.BaseBackupPrefix(prefix) + name
		err := store.Put(ctx, key, bytes.NewReader(nil), 0, map[string]string{
			"backup-name": name,
			"pg-version":  "140",
		})
		require.NoError(t, err)
	}
}

func TestListBasebackupsReturnsAllEntriesWithMetadata(t *testing.T) {
	store := memory.New()
	seedBasebackups(t, store, "site1")

	backups, err := httpapi.ListBasebackups(context.Background(), httpapi.SiteBackend{
		Store:  store,
		Prefix: "site1",
	})
	require.NoError(t, err)
	assert.Len(t, backups, 2)
	for _, b := range backups {
		assert.Equal(t, "140", b.Metadata["pg-version"])
	}
}

func TestHandleListBasebackupsServesJSON(t *testing.T) {
	store := memory.New()
	seedBasebackups(t, store, "site1")

	srv := httpapi.NewServer(map[string]httpapi.SiteBackend{
		"site1": {Store: store, Prefix: "site1"},
	})

	req := httptest.NewRequest(http.MethodGet, "/site1/basebackup", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Basebackups []httpapi.Basebackup `json:"basebackups"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Basebackups, 2)
}

func TestHandleListBasebackupsUnknownSiteReturns404(t *testing.T) {
	srv := httpapi.NewServer(map[string]httpapi.SiteBackend{})

	req := httptest.NewRequest(http.MethodGet, "/missing-site/basebackup", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
