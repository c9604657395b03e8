// Package memory implements pkg/objectstore.Store in-process, for unit
// tests across the agent that need a Store without a real S3 bucket
// (executor, delta engine, restore engine, preservation registry tests).
package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pgbasebackup/agent/pkg/backuperrors"
	"github.com/pgbasebackup/agent/pkg/objectstore"
)

type object struct {
	data         []byte
	metadata     map[string]string
	lastModified time.Time
}

// Store is an in-memory objectstore.Store.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
}

// New returns an empty Store.
func New() *Store {
	return &Store{objects: make(map[string]object)}
}

func (s *Store) Put(_ context.Context, key string, r io.Reader, _ int64, metadata map[string]string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return backuperrors.Wrap(backuperrors.Transient, "memory.Put", "reading body", err)
	}

	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}

	s.mu.Lock()
	s.objects[key] = object{data: data, metadata: md, lastModified: time.Now()}
	s.mu.Unlock()
	return nil
}

func (s *Store) PutEmpty(ctx context.Context, key string, metadata map[string]string) error {
	return s.Put(ctx, key, bytes.NewReader(nil), 0, metadata)
}

func (s *Store) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, backuperrors.Fatalf("memory.Get", "key %q not found", key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *Store) GetMetadata(_ context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, backuperrors.Fatalf("memory.GetMetadata", "key %q not found", key)
	}
	return obj.metadata, nil
}

func (s *Store) List(_ context.Context, prefix string) ([]objectstore.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []objectstore.Entry
	for key, obj := range s.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		entries = append(entries, objectstore.Entry{
			Key:          key,
			Size:         int64(len(obj.data)),
			LastModified: obj.lastModified,
			Metadata:     obj.metadata,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}
