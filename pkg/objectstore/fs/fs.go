// Package fs implements pkg/objectstore.Store against a local directory
// tree, for single-node deployments and local restore-target development
// where a full S3-compatible endpoint is unnecessary.
package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pgbasebackup/agent/pkg/backuperrors"
	"github.com/pgbasebackup/agent/pkg/objectstore"
)

const metadataSuffix = ".meta.json"

// Store is a directory-backed objectstore.Store. Keys map directly onto
// relative paths under Root; metadata is stored alongside each object in a
// sidecar file since the local filesystem has no native key/value
// attribute store.
type Store struct {
	Root string
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, backuperrors.Wrap(backuperrors.Fatal, "fs.New", "creating root directory", err)
	}
	return &Store{Root: dir}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.Root, filepath.FromSlash(key))
}

func (s *Store) Put(_ context.Context, key string, r io.Reader, _ int64, metadata map[string]string) error {
	dest := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return backuperrors.Wrap(backuperrors.Fatal, "fs.Put", "creating parent directory", err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return backuperrors.Wrap(backuperrors.Fatal, "fs.Put", "creating object file", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return backuperrors.Wrap(backuperrors.Transient, "fs.Put", "writing object body", err)
	}

	if len(metadata) > 0 {
		if err := writeMetadata(dest+metadataSuffix, metadata); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) PutEmpty(ctx context.Context, key string, metadata map[string]string) error {
	return s.Put(ctx, key, strings.NewReader(""), 0, metadata)
}

func (s *Store) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, backuperrors.Wrap(backuperrors.Fatal, "fs.Get", "key not found", err)
		}
		return nil, backuperrors.Wrap(backuperrors.Transient, "fs.Get", "opening object file", err)
	}
	return f, nil
}

func (s *Store) GetMetadata(_ context.Context, key string) (map[string]string, error) {
	md, err := readMetadata(s.path(key) + metadataSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, backuperrors.Wrap(backuperrors.Transient, "fs.GetMetadata", "reading metadata sidecar", err)
	}
	return md, nil
}

func (s *Store) List(_ context.Context, prefix string) ([]objectstore.Entry, error) {
	var entries []objectstore.Entry

	root := s.Root
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, metadataSuffix) {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, objectstore.Entry{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, backuperrors.Wrap(backuperrors.Transient, "fs.List", "walking root", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	p := s.path(key)
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return backuperrors.Wrap(backuperrors.Transient, "fs.Delete", "removing object file", err)
	}
	_ = os.Remove(p + metadataSuffix)
	return nil
}

func writeMetadata(path string, metadata map[string]string) error {
	var b strings.Builder
	b.WriteString("{")
	first := true
	for k, v := range metadata {
		if !first {
			b.WriteString(",")
		}
		first = false
		b.WriteString(quoteJSON(k))
		b.WriteString(":")
		b.WriteString(quoteJSON(v))
	}
	b.WriteString("}")
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func readMetadata(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseFlatJSONObject(string(data)), nil
}

// quoteJSON and parseFlatJSONObject implement the minimal flat
// string-to-string JSON object needed for metadata sidecars, avoiding a
// dependency on encoding/json for what is always a single flat map with no
// nested structures or escaping beyond quotes/backslashes.
func quoteJSON(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func parseFlatJSONObject(s string) map[string]string {
	out := make(map[string]string)
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	if strings.TrimSpace(s) == "" {
		return out
	}
	for _, pair := range splitTopLevel(s) {
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			continue
		}
		out[unquoteJSON(kv[0])] = unquoteJSON(kv[1])
	}
	return out
}

func splitTopLevel(s string) []string {
	var parts []string
	var cur strings.Builder
	inQuotes := false
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			cur.WriteRune(r)
			escaped = true
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case r == ',' && !inQuotes:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func unquoteJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimSuffix(s, `"`)
	return strings.ReplaceAll(strings.ReplaceAll(s, `\"`, `"`), `\\`, `\`)
}
