package output

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuild_TxtWritesTabSeparated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	ws, err := Build("txt", Options{Path: path})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	w := ws[0]
	if err := w.Write(Result{Subdomain: "www.example.com", Answers: []string{"1.2.3.4"}}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	line := strings.TrimSpace(string(data))
	if line != "www.example.com\t1.2.3.4" {
		t.Errorf("got %q", line)
	}
}

func TestBuild_TxtDomainOmitsAnswers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	ws, err := Build("txt-domain", Options{Path: path})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	w := ws[0]
	w.Write(Result{Subdomain: "api.example.com", Answers: []string{"1.2.3.4"}})
	w.Close()

	data, _ := os.ReadFile(path)
	if strings.TrimSpace(string(data)) != "api.example.com" {
		t.Errorf("got %q", string(data))
	}
}

func TestBuild_JsonlRequiresPathOrStdout(t *testing.T) {
	if _, err := Build("jsonl", Options{}); err == nil {
		t.Fatal("expected error when neither path nor stdout is set")
	}
}

func TestBuild_CsvRequiresPath(t *testing.T) {
	if _, err := Build("csv", Options{}); err == nil {
		t.Fatal("expected error when csv has no path")
	}
}

func TestBuild_UnsupportedType(t *testing.T) {
	if _, err := Build("parquet", Options{ToStdout: true}); err == nil {
		t.Fatal("expected error for unsupported output type")
	}
}

func TestJsonLinesWriter_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	ws, err := Build("jsonl", Options{Path: path})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	w := ws[0]
	in := Result{Subdomain: "mail.example.com", Answers: []string{"5.6.7.8"}, Records: []Record{{Type: "A", Data: "5.6.7.8"}}}
	w.Write(in)
	w.Close()

	data, _ := os.ReadFile(path)
	var got Result
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &got); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if got.Subdomain != in.Subdomain || len(got.Records) != 1 {
		t.Errorf("got %+v, want %+v", got, in)
	}
}

func TestCsvWriter_FileSinkIsSemicolonDelimited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	ws, err := Build("csv", Options{Path: path})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	w := ws[0]
	if err := w.Write(Result{Subdomain: "cdn.example.com", Answers: []string{"9.9.9.9"}}); err != nil {
		t.Fatal(err)
	}
	w.Close()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "cdn.example.com") {
		t.Errorf("missing subdomain in csv output: %q", string(data))
	}
	if !strings.Contains(string(data), "cdn.example.com;9.9.9.9") {
		t.Errorf("csv file sink should be ';'-delimited like the stdout echo, got: %q", string(data))
	}
}

func TestKsWriter_ChainsCnamesThenIPs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	ws, err := Build("txt-ks", Options{Path: path})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	w := ws[0]
	r := Result{
		Subdomain: "shop.example.com",
		Records: []Record{
			{Type: "CNAME", Data: "shop.cdn.example.net."},
			{Type: "A", Data: "10.0.0.1"},
			{Type: "A", Data: "10.0.0.2"},
		},
	}
	if err := w.Write(r); err != nil {
		t.Fatal(err)
	}
	w.Close()

	data, _ := os.ReadFile(path)
	line := strings.TrimSpace(string(data))
	want := "shop.example.com => CNAME shop.cdn.example.net => 10.0.0.1 => 10.0.0.2"
	if line != want {
		t.Errorf("got %q, want %q", line, want)
	}
}

func TestKsWriter_FallsBackToAnswersWithoutRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	ws, _ := Build("txt-ks", Options{Path: path})
	w := ws[0]
	w.Write(Result{Subdomain: "x.example.com", Answers: []string{"1.1.1.1"}})
	w.Close()

	data, _ := os.ReadFile(path)
	if strings.TrimSpace(string(data)) != "x.example.com => 1.1.1.1" {
		t.Errorf("got %q", string(data))
	}
}

func TestPlainWriter_GzipWrapsOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	ws, err := Build("txt", Options{Path: path, Gzip: true})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	w := ws[0]
	w.Write(Result{Subdomain: "gz.example.com", Answers: []string{"2.2.2.2"}})
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader() error = %v", err)
	}
	sc := bufio.NewScanner(gr)
	sc.Scan()
	if !strings.Contains(sc.Text(), "gz.example.com") {
		t.Errorf("got %q", sc.Text())
	}
}

func TestPlainWriter_OnlyAliveSkipsEmptyResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	ws, _ := Build("txt", Options{Path: path, OnlyAlive: true})
	w := ws[0]
	w.Write(Result{Subdomain: "dead.example.com"})
	w.Write(Result{Subdomain: "alive.example.com", Answers: []string{"3.3.3.3"}})
	w.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], "alive.example.com") {
		t.Errorf("got %v", lines)
	}
}
