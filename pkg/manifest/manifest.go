// Package manifest defines the backup manifest document written at the
// end of a successful backup (spec.md §6) and its stable on-disk byte
// layout: a length-prefixed, gzip-compressed JSON blob.
package manifest

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pgbasebackup/agent/pkg/backuperrors"
)

// Format names the manifest's chunk/delta layout. All five are accepted
// on read. This agent writes v2, delta-v2, and local-tar-delta-stats
// (which carries delta_stats like a delta format without itself being
// delta-mode); it never writes v1 or delta-v1.
type Format string

const (
	FormatV1                 Format = "v1"
	FormatV2                 Format = "v2"
	FormatDeltaV1            Format = "delta-v1"
	FormatDeltaV2            Format = "delta-v2"
	FormatLocalTarDeltaStats Format = "local-tar-delta-stats"
)

// Chunk describes one chunk blob referenced by a manifest.
type Chunk struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Digest string `json:"digest"`
}

// DeltaStats carries the hash→length map a delta (or delta-stats) backup
// contributes to the union set fetch_all_hashes merges across backups.
type DeltaStats struct {
	Hashes map[string]int64 `json:"hashes"`
}

// DeltaFileRef records one file a delta-mode backup chose to reference
// by content hash rather than inline into a chunk — whether the hash was
// already known (reused from a prior backup) or newly uploaded by this
// one. Restore needs this list to place each such file at the right
// path; DeltaStats.Hashes alone (hash→length, no path) only serves
// fetch_all_hashes's cross-manifest dedup bookkeeping.
type DeltaFileRef struct {
	ArchivePath string `json:"archive_path"`
	Digest      string `json:"digest"`
	Size        int64  `json:"size"`
}

// Tablespace records where a tablespace's symlink pointed at backup time,
// so restore can recreate or remap it.
type Tablespace struct {
	OID     string `json:"oid"`
	Path    string `json:"path"`
	OIDPath string `json:"oid_path"`
}

// Manifest is the durable document that names a backup and lists every
// blob needed to restore it.
type Manifest struct {
	Format      Format                `json:"format"`
	Chunks      []Chunk               `json:"chunks"`
	DeltaStats  *DeltaStats           `json:"delta_stats,omitempty"`
	DeltaFiles  []DeltaFileRef        `json:"delta_files,omitempty"`
	Tablespaces map[string]Tablespace `json:"tablespaces,omitempty"`
	BackupLabel string                `json:"backup_label"`
}

// Encode serializes m as length-prefixed gzip-compressed JSON: a 4-byte
// big-endian length header followed by exactly that many compressed
// bytes. The header lets a reader size a single allocation instead of
// streaming an unbounded gzip body from an untrusted blob size.
func Encode(m Manifest) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, backuperrors.Wrap(backuperrors.Fatal, "manifest.Encode", "marshaling JSON", err)
	}

	var compressed bytes.Buffer
	gw := gzip.NewWriter(&compressed)
	if _, err := gw.Write(raw); err != nil {
		return nil, backuperrors.Wrap(backuperrors.Fatal, "manifest.Encode", "compressing", err)
	}
	if err := gw.Close(); err != nil {
		return nil, backuperrors.Wrap(backuperrors.Fatal, "manifest.Encode", "closing compressor", err)
	}

	out := make([]byte, 4+compressed.Len())
	binary.BigEndian.PutUint32(out[:4], uint32(compressed.Len()))
	copy(out[4:], compressed.Bytes())
	return out, nil
}

// Decode parses the byte layout Encode produces.
func Decode(data []byte) (Manifest, error) {
	if len(data) < 4 {
		return Manifest{}, backuperrors.Validationf("manifest.Decode", "blob too short to contain a length header")
	}

	length := binary.BigEndian.Uint32(data[:4])
	body := data[4:]
	if uint32(len(body)) != length {
		return Manifest{}, backuperrors.Validationf("manifest.Decode", "length header %d does not match body length %d", length, len(body))
	}

	gr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return Manifest{}, backuperrors.Wrap(backuperrors.Fatal, "manifest.Decode", "opening compressed body", err)
	}
	defer gr.Close()

	raw, err := io.ReadAll(gr)
	if err != nil {
		return Manifest{}, backuperrors.Wrap(backuperrors.Fatal, "manifest.Decode", "decompressing", err)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, backuperrors.Wrap(backuperrors.Fatal, "manifest.Decode", "unmarshaling JSON", err)
	}

	if err := m.validateDeltaStats(); err != nil {
		return Manifest{}, err
	}

	return m, nil
}

// validateDeltaStats enforces the open-question decision that a hash
// whose recorded length disagrees with its stored blob is a data
// integrity error, not a warning; callers that also have the blob's
// actual size should call CheckHashLength for each chunk they fetch.
func (m Manifest) validateDeltaStats() error {
	if m.DeltaStats == nil {
		return nil
	}
	for hash, length := range m.DeltaStats.Hashes {
		if length < 0 {
			return backuperrors.Fatalf("manifest.validateDeltaStats", "hash %s has negative recorded length %d", hash, length)
		}
	}
	return nil
}

// CheckHashLength reports a Fatal integrity error if a delta blob's
// actual byte length disagrees with the length recorded in
// delta_stats.hashes when it was uploaded.
func CheckHashLength(hash string, recordedLength, actualLength int64) error {
	if recordedLength != actualLength {
		return backuperrors.Fatalf("manifest.CheckHashLength", "delta blob %s: recorded length %d disagrees with actual length %d", hash, recordedLength, actualLength)
	}
	return nil
}

// SkippedHashFormats lists manifest formats fetch_all_hashes must ignore
// when building the union hash set: v1 manifests predate delta-dedup
// bookkeeping, so their delta_stats (if any) cannot be trusted. Whether
// this exclusion is deliberate policy or a legacy accident of the
// original implementation is not documented upstream; the behavior is
// preserved here and named explicitly per that open question.
var SkippedHashFormats = map[Format]bool{
	FormatV1: true,
}

// ContributesHashes reports whether a manifest of the given format
// should have its delta_stats merged into the union hash set.
func ContributesHashes(format Format) bool {
	return !SkippedHashFormats[format] && format != ""
}

func init() {
	// Guard against an accidental future rename of these constants
	// silently changing behavior: the set of formats fetch_all_hashes
	// consults must remain exactly {v2, delta-v1, delta-v2,
	// local-tar-delta-stats}.
	expected := []Format{FormatV2, FormatDeltaV1, FormatDeltaV2, FormatLocalTarDeltaStats}
	for _, f := range expected {
		if SkippedHashFormats[f] {
			panic(fmt.Sprintf("manifest: format %q must contribute hashes, not be skipped", f))
		}
	}
}
