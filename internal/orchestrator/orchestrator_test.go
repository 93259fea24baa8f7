package orchestrator

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/dnsscience/submapper/internal/codec"
	"github.com/dnsscience/submapper/internal/eventbus"
	"github.com/dnsscience/submapper/internal/metrics"
	"github.com/dnsscience/submapper/internal/output"
	"github.com/dnsscience/submapper/internal/ratelimit"
	"github.com/dnsscience/submapper/internal/resolverpool"
	"github.com/dnsscience/submapper/internal/statusdb"
	"github.com/dnsscience/submapper/internal/worker"
)

// fakeServer starts a UDP DNS server driven by handler and returns its
// address, stopping it when the test ends.
func fakeServer(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket() error = %v", err)
	}
	srv := &dns.Server{PacketConn: pc, Handler: handler}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })
	return pc.LocalAddr().String()
}

type recordingWriter struct {
	results []output.Result
}

func (w *recordingWriter) Write(r output.Result) error {
	w.results = append(w.results, r)
	return nil
}
func (w *recordingWriter) Close() error { return nil }

func newTestOrchestrator(t *testing.T, words, domains []string, resolverAddr string) (*Orchestrator, *recordingWriter) {
	t.Helper()
	rw := &recordingWriter{}
	pool := worker.NewPool(worker.Config{Workers: 4})
	t.Cleanup(func() { pool.Close() })

	rp := resolverpool.New([]string{resolverAddr})
	limiter := ratelimit.New(0) // bypass, no rate cap in tests
	db := statusdb.New(statusdb.Config{})
	t.Cleanup(db.Close)

	cfg := Config{
		Domains:     domains,
		Words:       words,
		Concurrency: 10,
		Retry:       0,
		DNSOpts:     codec.Options{Timeout: 2 * time.Second},
	}
	o := New(cfg, rp, limiter, pool, db, &metrics.Counters{}, []output.Writer{rw}, eventbus.New(4))
	return o, rw
}

func TestRun_RecordsSuccessfulAnswer(t *testing.T) {
	addr := fakeServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		rr, _ := dns.NewRR(r.Question[0].Name + " 60 IN A 1.2.3.4")
		m.Answer = append(m.Answer, rr)
		w.WriteMsg(m)
	})

	o, rw := newTestOrchestrator(t, []string{"www"}, []string{"example.com"}, addr)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(rw.results) != 1 {
		t.Fatalf("got %d results, want 1", len(rw.results))
	}
	if rw.results[0].Subdomain != "www.example.com" {
		t.Errorf("got subdomain %q", rw.results[0].Subdomain)
	}
	if len(rw.results[0].Answers) != 1 || rw.results[0].Answers[0] != "1.2.3.4" {
		t.Errorf("got answers %v", rw.results[0].Answers)
	}
}

func TestRun_NXDomainIsTerminalNoRetry(t *testing.T) {
	var queries int
	addr := fakeServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		queries++
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeNameError)
		w.WriteMsg(m)
	})

	o, rw := newTestOrchestrator(t, []string{"nope"}, []string{"example.com"}, addr)
	o.cfg.Retry = 3
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if queries != 1 {
		t.Errorf("got %d queries, want 1 (NXDomain should not retry)", queries)
	}
	if len(rw.results) != 1 || len(rw.results[0].Answers) != 0 {
		t.Errorf("expected one empty-answer failure result, got %v", rw.results)
	}
}

func TestRun_SkipsHostAlreadyMarkedOK(t *testing.T) {
	var queries int
	addr := fakeServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		queries++
		m := new(dns.Msg)
		m.SetReply(r)
		w.WriteMsg(m)
	})

	o, _ := newTestOrchestrator(t, []string{"cached"}, []string{"example.com"}, addr)
	o.db.Add("cached.example.com", statusdb.Entry{Host: "cached.example.com", State: statusdb.StateOk})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if queries != 0 {
		t.Errorf("got %d queries, want 0 (cached OK entries must be skipped)", queries)
	}
	if o.counters.Skipped.Load() != 1 {
		t.Errorf("Skipped = %d, want 1", o.counters.Skipped.Load())
	}
}
