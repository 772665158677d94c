package layout

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *PositionStore {
	t.Helper()
	store, err := OpenPositionStore(filepath.Join(t.TempDir(), "layout.db"))
	if err != nil {
		t.Fatalf("OpenPositionStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPositionStore_SaveLoad(t *testing.T) {
	store := openTestStore(t)

	saved := map[string]Position{
		"main":  {X: 10.5, Y: -20.25, Manual: true},
		"psych": {X: 0, Y: -220},
	}
	for id, p := range saved {
		if err := store.Save(id, p); err != nil {
			t.Fatalf("Save(%s): %v", id, err)
		}
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for id, want := range saved {
		got, ok := loaded[id]
		if !ok {
			t.Fatalf("%s missing after load", id)
		}
		if got != want {
			t.Fatalf("%s = %+v, want %+v", id, got, want)
		}
	}
}

func TestPositionStore_SaveReplacesPrior(t *testing.T) {
	store := openTestStore(t)

	if err := store.Save("a", Position{X: 1, Y: 2, Manual: true}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save("a", Position{X: 3, Y: 4}); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 {
		t.Fatalf("rows = %d, want 1", len(loaded))
	}
	if got := loaded["a"]; got != (Position{X: 3, Y: 4}) {
		t.Fatalf("a = %+v, want replacement", got)
	}
}

func TestPositionStore_Clear(t *testing.T) {
	store := openTestStore(t)

	if err := store.Save("a", Position{X: 1, Y: 1, Manual: true}); err != nil {
		t.Fatal(err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 0 {
		t.Fatalf("rows after clear = %d, want 0", len(loaded))
	}
}

func TestEngine_LoadsPersistedManualPositions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.db")

	store, err := OpenPositionStore(path)
	if err != nil {
		t.Fatal(err)
	}
	first, err := NewEngine(Options{}, store, nil)
	if err != nil {
		t.Fatal(err)
	}
	first.Place([]string{"main", "a"})
	if err := first.SetManual("main", 42, 43); err != nil {
		t.Fatal(err)
	}
	// Automatic positions must not be persisted.
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = OpenPositionStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	second, err := NewEngine(Options{}, store, nil)
	if err != nil {
		t.Fatal(err)
	}
	p, ok := second.Position("main")
	if !ok {
		t.Fatal("manual position not restored from disk")
	}
	if p.X != 42 || p.Y != 43 || !p.Manual {
		t.Fatalf("restored = %+v, want (42, 43, manual)", p)
	}
	if _, ok := second.Position("a"); ok {
		t.Fatal("automatic position should not survive restart")
	}

	// A fresh Place must still honor the restored override.
	second.Place([]string{"main", "a", "b"})
	p, _ = second.Position("main")
	if p.X != 42 || p.Y != 43 {
		t.Fatalf("restored position moved by Place: %+v", p)
	}
}
