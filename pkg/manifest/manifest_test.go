package manifest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgbasebackup/agent/pkg/manifest"
)

func TestEncodeDecodeRoundTrips(t *testing.T) {
	m := manifest.Manifest{
		Format: manifest.FormatDeltaV2,
		Chunks: []manifest.Chunk{
			{Name: "0", Size: 1024, Digest: "abc"},
		},
		DeltaStats: &manifest.DeltaStats{
			Hashes: map[string]int64{"deadbeef": 4096},
		},
		DeltaFiles: []manifest.DeltaFileRef{
			{ArchivePath: "pgdata/base/1/1234", Digest: "deadbeef", Size: 4096},
		},
		Tablespaces: map[string]manifest.Tablespace{
			"ts1": {OID: "16401", Path: "/mnt/ts1", OIDPath: "pg_tblspc/16401"},
		},
		BackupLabel: "START WAL LOCATION: 0/4000028 (file 000000010000000000000004)\n",
	}

	encoded, err := manifest.Encode(m)
	require.NoError(t, err)

	decoded, err := manifest.Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, m.Format, decoded.Format)
	assert.Equal(t, m.Chunks, decoded.Chunks)
	assert.Equal(t, m.DeltaStats.Hashes, decoded.DeltaStats.Hashes)
	assert.Equal(t, m.DeltaFiles, decoded.DeltaFiles)
	assert.Equal(t, m.Tablespaces, decoded.Tablespaces)
	assert.Equal(t, m.BackupLabel, decoded.BackupLabel)
}

func TestDecodeRejectsShortBlob(t *testing.T) {
	_, err := manifest.Decode([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	encoded, err := manifest.Encode(manifest.Manifest{Format: manifest.FormatV2})
	require.NoError(t, err)
	tampered := append(encoded, 0xFF)
	_, err = manifest.Decode(tampered)
	assert.Error(t, err)
}

func TestContributesHashes(t *testing.T) {
	assert.False(t, manifest.ContributesHashes(manifest.FormatV1))
	assert.True(t, manifest.ContributesHashes(manifest.FormatV2))
	assert.True(t, manifest.ContributesHashes(manifest.FormatDeltaV1))
	assert.True(t, manifest.ContributesHashes(manifest.FormatDeltaV2))
	assert.True(t, manifest.ContributesHashes(manifest.FormatLocalTarDeltaStats))
}

func TestCheckHashLength(t *testing.T) {
	assert.NoError(t, manifest.CheckHashLength("abc", 10, 10))
	assert.Error(t, manifest.CheckHashLength("abc", 10, 11))
}
