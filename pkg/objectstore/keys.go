package objectstore

import "fmt"

// Key layout (spec.md §6), all rooted under a site's configured prefix:
//
//	<prefix>/basebackup/<name>                     manifest blob
//	<prefix>/basebackup_chunk/<name>/<index>       chunk blob
//	<prefix>/basebackup_delta/<hex-digest>         content-addressed delta blob
//	<prefix>/basebackup_delta_chunk/<name>/<index> delta-mode inlined chunks
//	<prefix>/preservation_request/<name>_<ts>      preservation marker

// ManifestKey returns the key for a backup's manifest blob.
func ManifestKey(prefix, name string) string {
	return join(prefix, "basebackup", name)
}

// ChunkKey returns the key for a plain (non-delta) chunk blob.
func ChunkKey(prefix, name string, index int) string {
	return join(prefix, "basebackup_chunk", name, fmt.Sprintf("%d", index))
}

// ChunkPrefix returns the key prefix under which all chunks of a backup live.
func ChunkPrefix(prefix, name string) string {
	return join(prefix, "basebackup_chunk", name) + "/"
}

// DeltaChunkKey returns the key for a delta-mode inlined chunk blob.
func DeltaChunkKey(prefix, name string, index int) string {
	return join(prefix, "basebackup_delta_chunk", name, fmt.Sprintf("%d", index))
}

// DeltaChunkPrefix returns the key prefix for a backup's delta-mode chunks.
func DeltaChunkPrefix(prefix, name string) string {
	return join(prefix, "basebackup_delta_chunk", name) + "/"
}

// DeltaBlobKey returns the content-addressed key for a delta file blob.
func DeltaBlobKey(prefix, hexDigest string) string {
	return join(prefix, "basebackup_delta", hexDigest)
}

// DeltaBlobPrefix returns the key prefix under which all delta blobs for a
// site live.
func DeltaBlobPrefix(prefix string) string {
	return join(prefix, "basebackup_delta") + "/"
}

// BaseBackupPrefix returns the key prefix under which all manifest blobs for
// a site live; used by Store.List to enumerate existing backups.
func BaseBackupPrefix(prefix string) string {
	return join(prefix, "basebackup") + "/"
}

// PreservationRequestKey returns the key for a preservation marker.
func PreservationRequestKey(prefix, backupName, timestamp string) string {
	return join(prefix, "preservation_request", backupName+"_"+timestamp)
}

// PreservationRequestPrefix returns the key prefix under which all
// preservation markers for a site live.
func PreservationRequestPrefix(prefix string) string {
	return join(prefix, "preservation_request") + "/"
}

func join(parts ...string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		if out == "" {
			out = p
			continue
		}
		out += "/" + p
	}
	return out
}
