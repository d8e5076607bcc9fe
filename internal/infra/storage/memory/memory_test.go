package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/vietddude/outbox/internal/infra/storage"
)

func TestMemoryStorage_GetSetRemove(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	if _, found, err := s.Get(ctx, "k"); err != nil || found {
		t.Fatalf("expected missing key, got found=%v err=%v", found, err)
	}

	if err := s.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, found, err := s.Get(ctx, "k")
	if err != nil || !found || v != "v2" {
		t.Errorf("expected v2, got %q found=%v err=%v", v, found, err)
	}

	if err := s.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := s.Remove(ctx, "k"); err != nil {
		t.Errorf("removing a missing key should not fail: %v", err)
	}
	if _, found, _ := s.Get(ctx, "k"); found {
		t.Error("key still present after Remove")
	}
}

func TestMemoryStorage_Prefix(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryStorage()
	s := storage.WithPrefix(base, "outbox:")

	if err := s.Set(ctx, "queue", "[]"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, found, _ := base.Get(ctx, "outbox:queue"); !found {
		t.Errorf("expected prefixed key in base store, keys=%v", base.Keys())
	}
}

func TestMemoryStorage_Closed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	_ = s.Close()

	if err := s.Set(ctx, "k", "v"); !errors.Is(err, storage.ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}
