package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dnsscience/submapper/internal/statusdb"
)

func TestSaveLoad_Roundtrip(t *testing.T) {
	db := statusdb.New(statusdb.Config{})
	defer db.Close()

	now := time.Now()
	db.Add("a.example.com", statusdb.Entry{Host: "a.example.com", Resolver: "8.8.8.8", State: statusdb.StateOk, Time: now})
	db.Add("b.example.com", statusdb.Entry{Host: "b.example.com", Resolver: "1.1.1.1", State: statusdb.StateWildFiltered, Time: now})

	path := filepath.Join(t.TempDir(), "state.json")
	if err := Save(db, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	db2 := statusdb.New(statusdb.Config{})
	defer db2.Close()
	n, err := Load(db2, path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("Load() n = %d, want 2", n)
	}

	a, ok := db2.Get("a.example.com")
	if !ok || a.State != statusdb.StateOk {
		t.Errorf("a.example.com = %+v, %v, want State=Ok", a, ok)
	}
	b, ok := db2.Get("b.example.com")
	if !ok || b.State != statusdb.StateWildFiltered {
		t.Errorf("b.example.com = %+v, %v, want State=WildFiltered", b, ok)
	}
}

func TestLoad_MissingFileIsNotError(t *testing.T) {
	db := statusdb.New(statusdb.Config{})
	defer db.Close()

	n, err := Load(db, filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if n != 0 {
		t.Fatalf("Load() n = %d, want 0", n)
	}
}

func TestLoad_CorruptFileYieldsZeroEntries(t *testing.T) {
	db := statusdb.New(statusdb.Config{})
	defer db.Close()

	path := filepath.Join(t.TempDir(), "corrupt.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := Load(db, path)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil (lenient)", err)
	}
	if n != 0 {
		t.Fatalf("Load() n = %d, want 0", n)
	}
}

func TestLoad_BareArrayShape(t *testing.T) {
	db := statusdb.New(statusdb.Config{})
	defer db.Close()

	path := filepath.Join(t.TempDir(), "bare.json")
	bare := `[{"domain":"legacy.example.com","dns":"9.9.9.9","retry":0,"domain_level":0,"state":"Ok","ts_sec":1700000000}]`
	if err := os.WriteFile(path, []byte(bare), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := Load(db, path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("Load() n = %d, want 1", n)
	}
	e, ok := db.Get("legacy.example.com")
	if !ok || e.State != statusdb.StateOk {
		t.Errorf("legacy.example.com = %+v, %v, want State=Ok", e, ok)
	}
}
