package cachelayer

import (
	"context"
	"testing"
	"time"
)

func TestKeyDeterministic(t *testing.T) {
	a := Key("prompt", "gpt-4o-mini", map[string]any{"temp": 0.3})
	b := Key("prompt", "gpt-4o-mini", map[string]any{"temp": 0.3})
	if a != b {
		t.Fatalf("expected identical keys, got %q vs %q", a, b)
	}
	if len(a) != 32 { // 16 bytes hex-encoded
		t.Fatalf("expected 128-bit (32 hex char) key, got %d chars", len(a))
	}
}

func TestLocalLRUGetSetAndExpiry(t *testing.T) {
	c := NewLocalLRU(10)
	ctx := context.Background()
	c.Set(ctx, "k1", []byte("v1"), time.Hour)
	e, ok := c.Get(ctx, "k1")
	if !ok || string(e.Value) != "v1" {
		t.Fatalf("expected hit with v1, got %v %v", e, ok)
	}

	c.Set(ctx, "k2", []byte("v2"), -time.Hour) // already expired
	if _, ok := c.Get(ctx, "k2"); ok {
		t.Fatalf("expected expired entry to miss")
	}
}

func TestLocalLRUEvictsOldest(t *testing.T) {
	c := NewLocalLRU(2)
	ctx := context.Background()
	c.Set(ctx, "a", []byte("1"), time.Hour)
	c.Set(ctx, "b", []byte("2"), time.Hour)
	c.Set(ctx, "c", []byte("3"), time.Hour) // evicts "a"
	if _, ok := c.Get(ctx, "a"); ok {
		t.Fatalf("expected a to be evicted")
	}
	if _, ok := c.Get(ctx, "c"); !ok {
		t.Fatalf("expected c to be present")
	}
}
