package candidates

import (
	"os"
	"strings"
	"testing"
)

func TestDefault_NonEmpty(t *testing.T) {
	words := Default()
	if len(words) == 0 {
		t.Fatal("Default() returned no words")
	}
	for _, w := range words {
		if strings.TrimSpace(w) != w || w == "" {
			t.Errorf("word %q is not a clean trimmed label", w)
		}
	}
}

func TestLoadFile_SkipsBlankAndComments(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/words.txt"
	content := "www\n\n# comment\nadmin\n  \napi\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	words, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	want := []string{"www", "admin", "api"}
	if len(words) != len(want) {
		t.Fatalf("LoadFile() = %v, want %v", words, want)
	}
	for i := range want {
		if words[i] != want[i] {
			t.Errorf("words[%d] = %q, want %q", i, words[i], want[i])
		}
	}
}

func TestDynamicExtend_ExcludesBaseIncludesFrequent(t *testing.T) {
	discovered := []string{
		"api.example.com",
		"api.example.org",
		"cdn.example.com",
		"edge.example.com",
		"edge.example.net",
		"metrics.example.com",
	}
	base := BasicSeeds()
	extended := DynamicExtend(discovered, base, 5)

	if !contains(extended, "edge") {
		t.Error("expected 'edge' (frequency 2) in extended set")
	}
	if !contains(extended, "metrics") {
		t.Error("expected 'metrics' in extended set (via common service tokens)")
	}
	if contains(extended, "api") {
		t.Error("base seed 'api' should not be duplicated into extended set")
	}
}

func TestGenerateHeuristics_RespectsMax(t *testing.T) {
	out := GenerateHeuristics([]string{"corp", "acme"}, 10)
	if len(out) > 10 {
		t.Fatalf("len(out) = %d, want <= 10", len(out))
	}
	if len(out) == 0 {
		t.Fatal("GenerateHeuristics returned nothing")
	}
}

func TestGenerateHeuristics_Deterministic(t *testing.T) {
	a := GenerateHeuristics([]string{"corp"}, 50)
	b := GenerateHeuristics([]string{"corp"}, 50)
	if len(a) != len(b) {
		t.Fatalf("len mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("output differs at index %d: %q vs %q", i, a[i], b[i])
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
