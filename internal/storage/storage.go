// Package storage provides the blob-storage collaborator used to persist
// generated output. The pipeline only needs "upload bytes, get a URL back";
// the concrete backend is MinIO/S3, with an in-memory store for tests.
package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Object describes a stored blob.
type Object struct {
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// Store uploads opaque bytes and returns a stable URL for them.
type Store interface {
	Put(ctx context.Context, data []byte, contentType string) (*Object, error)
}

// MemoryStore keeps blobs in a map. Test double for Store.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Put stores the bytes under a generated key.
func (s *MemoryStore) Put(_ context.Context, data []byte, _ string) (*Object, error) {
	key := uuid.NewString()
	s.mu.Lock()
	s.blobs[key] = data
	s.mu.Unlock()
	return &Object{
		URL:  fmt.Sprintf("memory://%s", key),
		Size: int64(len(data)),
	}, nil
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}
