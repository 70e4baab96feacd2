package kvstore

import (
	"errors"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T, store Store) {
	t.Helper()

	if _, err := store.Get("tasks", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Put("tasks", "t1", []byte(`{"task_id":"t1"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.Get("tasks", "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"task_id":"t1"}` {
		t.Fatalf("got %s", got)
	}

	if err := store.Put("tasks", "t2", []byte("v2")); err != nil {
		t.Fatalf("put t2: %v", err)
	}
	all, err := store.GetAll("tasks")
	if err != nil {
		t.Fatalf("getall: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d entries", len(all))
	}

	if err := store.Delete("tasks", "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get("tasks", "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting an absent key is not an error.
	if err := store.Delete("tasks", "never-existed"); err != nil {
		t.Fatalf("delete absent: %v", err)
	}

	// Collections are independent namespaces.
	if err := store.Put("services", "svc1", []byte("def")); err != nil {
		t.Fatalf("put services: %v", err)
	}
	if _, err := store.Get("tasks", "svc1"); !errors.Is(err, ErrNotFound) {
		t.Fatal("expected collections to be isolated")
	}
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestBoltStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBoltStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	testStore(t, store)
}
