// Package chunkwriter streams an ordered list of walker entries into a
// size-bounded tar chunk, compresses and optionally encrypts it, and
// uploads the result through the object-store gateway.
package chunkwriter

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pgbasebackup/agent/internal/logger"
	"github.com/pgbasebackup/agent/pkg/backuperrors"
	"github.com/pgbasebackup/agent/pkg/objectstore"
	"github.com/pgbasebackup/agent/pkg/walker"
)

// Result reports the outcome of writing one chunk.
type Result struct {
	Key            string
	PlainSize      int64
	CompressedSize int64
}

// Writer packs entries into a chunk and uploads it via store. It holds no
// per-chunk state between calls; a single Writer is reused across an
// entire backup's chunks.
type Writer struct {
	store       objectstore.Store
	compression CompressionConfig
	encryption  *EncryptionKey
}

// New returns a Writer. encryption may be nil to disable encryption.
func New(store objectstore.Store, compression CompressionConfig, encryption *EncryptionKey) *Writer {
	return &Writer{store: store, compression: compression, encryption: encryption}
}

// countingWriter tracks how many bytes have passed through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// WriteChunk writes entries as a tar stream through the compression and
// (if configured) encryption stages, uploading the result to key. Per
// spec.md §4.B: directories are added non-recursively; a missing
// non-missing-ok file fails the whole chunk.
func (w *Writer) WriteChunk(ctx context.Context, key string, entries []walker.Entry) (Result, error) {
	pr, pw := io.Pipe()

	finalCounter := &countingWriter{w: pw}
	plainCounter := &countingWriter{}
	uploadErrCh := make(chan error, 1)

	go func() {
		uploadErrCh <- w.store.Put(ctx, key, pr, -1, nil)
	}()

	err := w.writeTarStream(entries, finalCounter, plainCounter)
	closeErr := pw.CloseWithError(err)
	if err == nil {
		err = closeErr
	}

	uploadErr := <-uploadErrCh
	if err != nil {
		return Result{}, err
	}
	if uploadErr != nil {
		return Result{}, uploadErr
	}

	return Result{
		Key:            key,
		PlainSize:      plainCounter.n,
		CompressedSize: finalCounter.n,
	}, nil
}

// writeTarStream builds the tar(entries) → compress → [encrypt] → finalDst
// pipeline. plainCounter is wired between the tar writer and the
// compressor so its byte count reflects the uncompressed archive size;
// finalCounter (already wrapping finalDst by the caller) reflects what
// actually goes over the wire.
func (w *Writer) writeTarStream(entries []walker.Entry, finalDst io.Writer, plainCounter *countingWriter) error {
	sink := finalDst

	var encW io.WriteCloser
	if w.encryption != nil {
		encW = newEncryptWriter(sink, w.encryption.Key)
		sink = encW
	}

	compW, err := newCompressWriter(sink, w.compression)
	if err != nil {
		return err
	}

	plainCounter.w = compW
	tw := tar.NewWriter(plainCounter)

	if err := w.addEntries(tw, entries); err != nil {
		tw.Close()
		compW.Close()
		if encW != nil {
			encW.Close()
		}
		return err
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("chunkwriter: closing tar writer: %w", err)
	}
	if err := compW.Close(); err != nil {
		return fmt.Errorf("chunkwriter: closing compressor: %w", err)
	}
	if encW != nil {
		if err := encW.Close(); err != nil {
			return fmt.Errorf("chunkwriter: closing encryptor: %w", err)
		}
	}
	return nil
}

func (w *Writer) addEntries(tw *tar.Writer, entries []walker.Entry) error {
	for _, e := range entries {
		if e.IsDir {
			if err := addDirEntry(tw, e); err != nil {
				return err
			}
			continue
		}
		if err := addFileEntry(tw, e); err != nil {
			return err
		}
	}
	return nil
}

func addDirEntry(tw *tar.Writer, e walker.Entry) error {
	info, err := os.Stat(e.LocalPath)
	if err != nil {
		if os.IsNotExist(err) && e.MissingOk {
			return nil
		}
		return backuperrors.Wrap(backuperrors.Fatal, "chunkwriter.addDirEntry", fmt.Sprintf("path=%s", e.ArchivePath), err)
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return backuperrors.Wrap(backuperrors.Fatal, "chunkwriter.addDirEntry", "building header", err)
	}
	hdr.Name = e.ArchivePath + "/"

	return tw.WriteHeader(hdr)
}

// addFileEntry opens and streams a single file into tw non-recursively.
// If the file has vanished since enumeration, missing_ok decides whether
// that is tolerated (invariant 2: top-level fragility).
func addFileEntry(tw *tar.Writer, e walker.Entry) error {
	f, err := os.Open(e.LocalPath)
	if err != nil {
		if os.IsNotExist(err) && e.MissingOk {
			logger.Debug("chunkwriter: skipping vanished file", logger.Path(e.ArchivePath))
			return nil
		}
		return backuperrors.Wrap(backuperrors.Fatal, "chunkwriter.addFileEntry", fmt.Sprintf("path=%s", e.ArchivePath), err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		if os.IsNotExist(err) && e.MissingOk {
			return nil
		}
		return backuperrors.Wrap(backuperrors.Fatal, "chunkwriter.addFileEntry", fmt.Sprintf("path=%s", e.ArchivePath), err)
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return backuperrors.Wrap(backuperrors.Fatal, "chunkwriter.addFileEntry", "building header", err)
	}
	hdr.Name = e.ArchivePath

	if err := tw.WriteHeader(hdr); err != nil {
		return backuperrors.Wrap(backuperrors.Fatal, "chunkwriter.addFileEntry", "writing header", err)
	}

	if _, err := io.Copy(tw, f); err != nil {
		if os.IsNotExist(err) && e.MissingOk {
			return nil
		}
		return backuperrors.Wrap(backuperrors.Fatal, "chunkwriter.addFileEntry", fmt.Sprintf("path=%s", e.ArchivePath), err)
	}

	return nil
}
