package storage

import (
	"context"
	"testing"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	if err := store.Put(ctx, "raw/orders.csv", []byte("a,b\n1,2\n"), "text/csv"); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	body, err := store.Get(ctx, "raw/orders.csv")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(body) != "a,b\n1,2\n" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestLocalStoreListByPrefix(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	for _, key := range []string{"raw/a.csv", "raw/b.csv", "processed/a.csv"} {
		if err := store.Put(ctx, key, []byte("x"), "text/csv"); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	keys, err := store.List(ctx, "raw/")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "raw/a.csv" || keys[1] != "raw/b.csv" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestLocalStoreListEmptyBase(t *testing.T) {
	store := NewLocalStore(t.TempDir() + "/missing")
	keys, err := store.List(context.Background(), "raw/")
	if err != nil {
		t.Fatalf("list on missing base: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no keys, got %v", keys)
	}
}

func TestSanitizeKeyStripsTraversal(t *testing.T) {
	if got := sanitizeKey("../../etc/passwd"); got != "etc/passwd" {
		t.Fatalf("traversal survived sanitize: %q", got)
	}
	if got := sanitizeKey("./raw/x.csv"); got != "raw/x.csv" {
		t.Fatalf("unexpected sanitize: %q", got)
	}
}
