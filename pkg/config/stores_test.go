package config_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgbasebackup/agent/pkg/config"
)

func TestBuildObjectStoreFS(t *testing.T) {
	store, err := config.BuildObjectStore(context.Background(), config.ObjectStoreConfig{
		Type: "fs",
		FS:   config.FSConfig{Root: t.TempDir()},
	})
	require.NoError(t, err)
	require.NotNil(t, store)
}

func TestBuildObjectStoreRejectsUnknownType(t *testing.T) {
	_, err := config.BuildObjectStore(context.Background(), config.ObjectStoreConfig{Type: "azure"})
	require.Error(t, err)
}
