package labelparse_test

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgbasebackup/agent/pkg/labelparse"
)

const sampleLabel = `START WAL LOCATION: 0/4000028 (file 000000010000000000000004)
CHECKPOINT LOCATION: 0/4000060
BACKUP METHOD: streamed
BACKUP FROM: master
START TIME: 2015-02-12 14:07:19 GMT
LABEL: pg_basebackup base backup
`

// S2 — Label parse.
func TestParseTextExtractsSegmentAndTime(t *testing.T) {
	segment, isoTime, err := labelparse.ParseText(sampleLabel)
	require.NoError(t, err)
	assert.Equal(t, "000000010000000000000004", segment)
	assert.Equal(t, "2015-02-12T14:07:19+00:00", isoTime)
}

// Invariant 4 — label round-trip: tar and text parses agree.
func TestParseTarMatchesParseText(t *testing.T) {
	dir := t.TempDir()
	tarPath := filepath.Join(dir, "backup.tar")

	f, err := os.Create(tarPath)
	require.NoError(t, err)
	tw := tar.NewWriter(f)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "backup_label",
		Mode: 0o644,
		Size: int64(len(sampleLabel)),
	}))
	_, err = tw.Write([]byte(sampleLabel))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, f.Close())

	tarSegment, tarTime, err := labelparse.ParseTar(tarPath)
	require.NoError(t, err)

	textSegment, textTime, err := labelparse.ParseText(sampleLabel)
	require.NoError(t, err)

	assert.Equal(t, textSegment, tarSegment)
	assert.Equal(t, textTime, tarTime)
}

func TestParseTextMissingWALLocation(t *testing.T) {
	_, _, err := labelparse.ParseText("START TIME: 2015-02-12 14:07:19 GMT\n")
	assert.ErrorIs(t, err, labelparse.ErrNoWALLocation)
}

func TestParseTextMissingStartTime(t *testing.T) {
	_, _, err := labelparse.ParseText("START WAL LOCATION: 0/4000028 (file 000000010000000000000004)\n")
	assert.ErrorIs(t, err, labelparse.ErrNoStartTime)
}

func TestParseTarMissingEntry(t *testing.T) {
	dir := t.TempDir()
	tarPath := filepath.Join(dir, "empty.tar")

	f, err := os.Create(tarPath)
	require.NoError(t, err)
	tw := tar.NewWriter(f)
	require.NoError(t, tw.Close())
	require.NoError(t, f.Close())

	_, _, err = labelparse.ParseTar(tarPath)
	assert.Error(t, err)
}
