package jsonstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Strob0t/ClawDeck/internal/domain/instance"
)

func TestLoadMissingFile(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "instances.json"))

	got, err := s.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty slice, got %d records", len(got))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "instances.json")
	s := New(path)

	in := []instance.Instance{
		{ID: "i1", Name: "alpha", Endpoint: "http://a:18789", Token: "secret", Status: instance.StatusOffline},
		{ID: "i2", Name: "beta", Endpoint: "wss://b", Status: instance.StatusOffline},
	}
	if err := s.Save(in); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].ID != "i1" || got[0].Name != "alpha" || got[0].Endpoint != "http://a:18789" || got[0].Token != "secret" {
		t.Fatalf("identity fields did not round-trip: %+v", got[0])
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "instances.json"))

	if err := s.Save([]instance.Instance{{ID: "i1"}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "instances.json.tmp")); !os.IsNotExist(err) {
		t.Fatal("temp file left behind after save")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instances.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := New(path).Load(); err == nil {
		t.Fatal("expected error for corrupt snapshot")
	}
}
