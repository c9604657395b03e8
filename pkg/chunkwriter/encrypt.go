package chunkwriter

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// plainBlockSize is the block size each box seals, counted in bytes of
// the compressor's output (the encryptor sits after the compressor).
// Sealing in bounded blocks (rather than one box for the whole chunk)
// keeps memory use flat regardless of chunk size and lets a future
// streaming decrypt start output before the whole chunk is read.
const plainBlockSize = 64 * 1024

const (
	keySize   = 32
	nonceSize = 24
)

// EncryptionKey is a named nacl secretbox key, keyed by the config's
// encryption_key_id so a chunk can record which key sealed it.
type EncryptionKey struct {
	ID  string
	Key [keySize]byte
}

type secretboxWriter struct {
	dst io.Writer
	key [keySize]byte
	buf []byte
}

func newEncryptWriter(dst io.Writer, key [keySize]byte) io.WriteCloser {
	return &secretboxWriter{dst: dst, key: key, buf: make([]byte, 0, plainBlockSize)}
}

func (w *secretboxWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := copy(w.buf[len(w.buf):cap(w.buf)], p)
		w.buf = w.buf[:len(w.buf)+n]
		p = p[n:]
		written += n

		if len(w.buf) == cap(w.buf) {
			if err := w.sealBlock(w.buf); err != nil {
				return written, err
			}
			w.buf = w.buf[:0]
		}
	}
	return written, nil
}

func (w *secretboxWriter) Close() error {
	if len(w.buf) > 0 {
		if err := w.sealBlock(w.buf); err != nil {
			return err
		}
		w.buf = w.buf[:0]
	}
	return nil
}

func (w *secretboxWriter) sealBlock(plain []byte) error {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("chunkwriter: generating nonce: %w", err)
	}

	sealed := secretbox.Seal(nil, plain, &nonce, &w.key)

	var header [nonceSize + 4]byte
	copy(header[:nonceSize], nonce[:])
	binary.BigEndian.PutUint32(header[nonceSize:], uint32(len(sealed)))

	if _, err := w.dst.Write(header[:]); err != nil {
		return err
	}
	_, err := w.dst.Write(sealed)
	return err
}

type secretboxReader struct {
	src   io.Reader
	key   [keySize]byte
	plain []byte
}

func newDecryptReader(src io.Reader, key [keySize]byte) io.Reader {
	return &secretboxReader{src: src, key: key}
}

func (r *secretboxReader) Read(p []byte) (int, error) {
	for len(r.plain) == 0 {
		var header [nonceSize + 4]byte
		if _, err := io.ReadFull(r.src, header[:]); err != nil {
			return 0, err
		}

		var nonce [nonceSize]byte
		copy(nonce[:], header[:nonceSize])
		sealedLen := binary.BigEndian.Uint32(header[nonceSize:])

		sealed := make([]byte, sealedLen)
		if _, err := io.ReadFull(r.src, sealed); err != nil {
			return 0, fmt.Errorf("chunkwriter: truncated encrypted block: %w", err)
		}

		plain, ok := secretbox.Open(nil, sealed, &nonce, &r.key)
		if !ok {
			return 0, fmt.Errorf("chunkwriter: secretbox authentication failed")
		}
		r.plain = plain
	}

	n := copy(p, r.plain)
	r.plain = r.plain[n:]
	return n, nil
}
