// Package persistence saves and loads a statusdb snapshot to/from a
// JSON file, so a scan can resume without re-querying hosts that
// already reached a terminal state.
package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/dnsscience/submapper/internal/statusdb"
)

// currentVersion is bumped if the on-disk shape ever changes in a way
// that isn't forward-compatible with the lenient loader below.
const currentVersion = 1

type record struct {
	Host        string `json:"domain"`
	Resolver    string `json:"dns"`
	Retry       int    `json:"retry"`
	DomainLevel int    `json:"domain_level"`
	State       string `json:"state"`
	TimeUnix    int64  `json:"ts_sec"`
}

type envelope struct {
	Version int      `json:"version"`
	Entries []record `json:"entries"`
}

func toRecord(e statusdb.Entry) record {
	return record{
		Host:        e.Host,
		Resolver:    e.Resolver,
		Retry:       e.Retry,
		DomainLevel: e.DomainLevel,
		State:       string(e.State),
		TimeUnix:    e.Time.Unix(),
	}
}

func fromRecord(r record) statusdb.Entry {
	return statusdb.Entry{
		Host:        r.Host,
		Resolver:    r.Resolver,
		Retry:       r.Retry,
		DomainLevel: r.DomainLevel,
		State:       statusdb.State(r.State),
		Time:        time.Unix(r.TimeUnix, 0),
	}
}

// Save writes every entry in db to path as a versioned JSON envelope.
func Save(db *statusdb.DB, path string) error {
	entries := db.Snapshot()
	records := make([]record, 0, len(entries))
	for _, e := range entries {
		records = append(records, toRecord(e))
	}

	data, err := json.MarshalIndent(envelope{Version: currentVersion, Entries: records}, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Load populates db from path. A missing file is not an error (zero
// entries loaded). A file that fails to parse as either the versioned
// envelope or a bare array also loads zero entries rather than
// failing the scan outright — a corrupt resume file should degrade to
// a cold start, not block the run.
func Load(db *statusdb.DB, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err == nil && env.Entries != nil {
		for _, r := range env.Entries {
			db.Add(r.Host, fromRecord(r))
		}
		return len(env.Entries), nil
	}

	var bare []record
	if err := json.Unmarshal(data, &bare); err != nil {
		return 0, nil
	}
	for _, r := range bare {
		db.Add(r.Host, fromRecord(r))
	}
	return len(bare), nil
}
