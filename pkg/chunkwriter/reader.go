package chunkwriter

import "io"

// OpenChunk reverses WriteChunk's pipeline: it wraps src (the raw chunk
// blob bytes) in a decrypt stage (if key is non-nil) followed by a
// decompress stage, yielding the plain tar stream the restore engine
// feeds to archive/tar. Closing the returned ReadCloser releases any
// resources the decompressor holds; it does not close src.
func OpenChunk(src io.Reader, compression Algorithm, key *EncryptionKey) (io.ReadCloser, error) {
	if key != nil {
		src = newDecryptReader(src, key.Key)
	}
	return newDecompressReader(src, compression)
}
