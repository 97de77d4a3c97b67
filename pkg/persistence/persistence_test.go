package persistence

import (
	"testing"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestJSONFileStore_SaveLoad(t *testing.T) {
	svc := NewJSONFileService(t.TempDir())
	store := svc.NewStore("snapshot", "apigate", "cache")

	want := payload{Name: "cache", Count: 7}
	if err := store.Save(want); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	var got payload
	if err := store.Load(&got); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got != want {
		t.Fatalf("roundtrip mismatch: got %+v want %+v", got, want)
	}
}

func TestJSONFileStore_LoadMissing(t *testing.T) {
	svc := NewJSONFileService(t.TempDir())
	store := svc.NewStore("snapshot", "apigate", "missing")

	var got payload
	if err := store.Load(&got); err != ErrNotExists {
		t.Fatalf("expected ErrNotExists, got %v", err)
	}
}

func TestJSONFileStore_KeysIsolated(t *testing.T) {
	svc := NewJSONFileService(t.TempDir())
	a := svc.NewStore("snapshot", "apigate", "a")
	b := svc.NewStore("snapshot", "apigate", "b")

	if err := a.Save(payload{Name: "a"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	var got payload
	if err := b.Load(&got); err != ErrNotExists {
		t.Fatalf("different tag must not see other store's data, got %v", err)
	}
}
