package filestore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestMemoryStore_PutGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	obj, err := s.Put(ctx, "payer_accumulation/cigna/a.txt", "text/plain", strings.NewReader("HEADER\n"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if obj.Size != 7 || len(obj.Hash) != 64 {
		t.Errorf("unexpected metadata: %+v", obj)
	}

	rc, meta, err := s.Get(ctx, "payer_accumulation/cigna/a.txt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "HEADER\n" || meta.ContentType != "text/plain" {
		t.Errorf("got %q %+v", data, meta)
	}
}

func TestMemoryStore_Errors(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Put(ctx, "", "text/plain", strings.NewReader("x")); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("expected ErrEmptyKey, got %v", err)
	}
	if _, _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "missing"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestMemoryStore_ListAndDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, key := range []string{"a/2.txt", "a/1.txt", "b/1.txt"} {
		s.Put(ctx, key, "text/plain", strings.NewReader(key))
	}

	objs, err := s.List(ctx, "a/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(objs) != 2 || objs[0].Key != "a/1.txt" || objs[1].Key != "a/2.txt" {
		t.Fatalf("unexpected listing: %+v", objs)
	}

	if err := s.Delete(ctx, "a/1.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	objs, _ = s.List(ctx, "a/")
	if len(objs) != 1 {
		t.Errorf("expected 1 object after delete, got %d", len(objs))
	}
}
