// Package blobstore stores X-ray image files. Store has a MinIO (S3
// compatible) implementation for deployments and an in-memory one for
// development and tests.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
	// ErrPresignUnsupported is returned by stores that cannot hand out
	// direct download URLs; callers fall back to a signed API link.
	ErrPresignUnsupported = errors.New("store does not support presigned URLs")
)

// Object describes a stored blob.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, *Object, error)
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ObjectKey builds the storage key for an upload: xrays/YYYY/MM/DD/<uuid><ext>.
func ObjectKey(now time.Time, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	return fmt.Sprintf("xrays/%s/%s%s", now.UTC().Format("2006/01/02"), uuid.NewString(), ext)
}

type memoryBlob struct {
	obj  Object
	data []byte
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]*memoryBlob
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]*memoryBlob), now: time.Now}
}

func (s *MemoryStore) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) (*Object, error) {
	if key == "" {
		return nil, ErrMissingFileName
	}
	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	obj := Object{
		Key:         key,
		ContentType: contentType,
		Size:        int64(buf.Len()),
		SHA256:      hex.EncodeToString(sum[:]),
		CreatedAt:   s.now().UTC(),
	}

	s.mu.Lock()
	s.blobs[key] = &memoryBlob{obj: obj, data: buf.Bytes()}
	s.mu.Unlock()

	out := obj
	return &out, nil
}

func (s *MemoryStore) Open(_ context.Context, key string) (io.ReadCloser, *Object, error) {
	s.mu.RLock()
	b, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	obj := b.obj
	return io.NopCloser(bytes.NewReader(b.data)), &obj, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}

func (s *MemoryStore) PresignGet(context.Context, string, time.Duration) (string, error) {
	return "", ErrPresignUnsupported
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
