package statusdb

import (
	"testing"
	"time"
)

func TestAdd_IncrementsLengthOnlyOnFirstInsert(t *testing.T) {
	db := New(Config{})
	defer db.Close()

	db.Add("a.example.com", Entry{Host: "a.example.com", State: StateOk, Time: time.Now()})
	if db.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", db.Len())
	}

	db.Add("a.example.com", Entry{Host: "a.example.com", State: StateFailed, Time: time.Now()})
	if db.Len() != 1 {
		t.Fatalf("Len() after overwrite = %d, want 1", db.Len())
	}

	e, ok := db.Get("a.example.com")
	if !ok || e.State != StateFailed {
		t.Fatalf("Get() = %+v, %v, want State=Failed", e, ok)
	}
}

func TestDelete_DecrementsLength(t *testing.T) {
	db := New(Config{})
	defer db.Close()

	db.Add("b.example.com", Entry{Host: "b.example.com", State: StateOk, Time: time.Now()})
	db.Delete("b.example.com")
	if db.Len() != 0 {
		t.Fatalf("Len() after delete = %d, want 0", db.Len())
	}
	if _, ok := db.Get("b.example.com"); ok {
		t.Fatal("Get() found deleted entry")
	}
}

func TestShardDistribution(t *testing.T) {
	db := New(Config{})
	defer db.Close()

	seen := make(map[int]bool)
	for i := 0; i < 500; i++ {
		host := hostFor(i)
		seen[shardIndex(host)] = true
	}
	if len(seen) < shardCount/2 {
		t.Errorf("only %d/%d shards touched by 500 distinct hosts, expected wide spread", len(seen), shardCount)
	}
}

func hostFor(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return string(letters[i%len(letters)]) + string(rune('0'+i%10)) + ".example.com"
}

func TestForEachOk_OnlyVisitsOkEntries(t *testing.T) {
	db := New(Config{})
	defer db.Close()

	db.Add("ok.example.com", Entry{Host: "ok.example.com", State: StateOk, Time: time.Now()})
	db.Add("failed.example.com", Entry{Host: "failed.example.com", State: StateFailed, Time: time.Now()})
	db.Add("wild.example.com", Entry{Host: "wild.example.com", State: StateWildFiltered, Time: time.Now()})

	var visited []string
	db.ForEachOk(func(e Entry) { visited = append(visited, e.Host) })

	if len(visited) != 1 || visited[0] != "ok.example.com" {
		t.Errorf("ForEachOk visited = %v, want [ok.example.com]", visited)
	}
}

func TestSweep_RemovesExpiredEntries(t *testing.T) {
	db := New(Config{Expiration: 20 * time.Millisecond, CleanupInterval: 10 * time.Millisecond})
	defer db.Close()

	db.Add("stale.example.com", Entry{Host: "stale.example.com", State: StateOk, Time: time.Now().Add(-time.Hour)})
	if db.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", db.Len())
	}

	time.Sleep(60 * time.Millisecond)

	if db.Len() != 0 {
		t.Errorf("Len() after sweep = %d, want 0", db.Len())
	}
	if _, ok := db.Get("stale.example.com"); ok {
		t.Error("expired entry was not swept")
	}
}

func TestSnapshot_ReturnsAllEntries(t *testing.T) {
	db := New(Config{})
	defer db.Close()

	db.Add("x.example.com", Entry{Host: "x.example.com", State: StateOk, Time: time.Now()})
	db.Add("y.example.com", Entry{Host: "y.example.com", State: StateFailed, Time: time.Now()})

	snap := db.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len(Snapshot()) = %d, want 2", len(snap))
	}
}
