// Package filestore stores partner files (payer accumulation reports and
// responses) under slash-separated keys. S3Store is used in production and
// MemoryStore in development and tests.
package filestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrEmptyKey       = errors.New("object key is required")
	ErrFileTooLarge   = errors.New("file exceeds maximum allowed size")
)

// MaxFileSize is the largest object accepted by Put (100 MB).
const MaxFileSize = 100 * 1024 * 1024

// Object describes a stored file.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash,omitempty"`
	ModifiedAt  time.Time `json:"modified_at"`
}

type Store interface {
	Put(ctx context.Context, key, contentType string, content io.Reader) (*Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Object, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]*Object, error)
}

func readLimited(content io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	return data, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type storedObject struct {
	meta    Object
	content []byte
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*storedObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*storedObject)}
}

func (s *MemoryStore) Put(_ context.Context, key, contentType string, content io.Reader) (*Object, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	data, err := readLimited(content)
	if err != nil {
		return nil, err
	}
	meta := Object{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        checksum(data),
		ModifiedAt:  time.Now().UTC(),
	}
	s.mu.Lock()
	s.objects[key] = &storedObject{meta: meta, content: data}
	s.mu.Unlock()
	return &meta, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, *Object, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrObjectNotFound
	}
	meta := obj.meta
	return io.NopCloser(bytes.NewReader(obj.content)), &meta, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return ErrObjectNotFound
	}
	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Object
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			meta := obj.meta
			out = append(out, &meta)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
