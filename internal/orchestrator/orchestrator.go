// Package orchestrator drives the actual scan: for every candidate
// host it runs the retry policy, checks results against the apex's
// wildcard set, records outcomes in the status database, and hands
// live results to the configured output writers.
package orchestrator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dnsscience/submapper/internal/candidates"
	"github.com/dnsscience/submapper/internal/codec"
	"github.com/dnsscience/submapper/internal/eventbus"
	"github.com/dnsscience/submapper/internal/metrics"
	"github.com/dnsscience/submapper/internal/output"
	"github.com/dnsscience/submapper/internal/ratelimit"
	"github.com/dnsscience/submapper/internal/resolverpool"
	"github.com/dnsscience/submapper/internal/statusdb"
	"github.com/dnsscience/submapper/internal/wildcard"
	"github.com/dnsscience/submapper/internal/worker"
)

// WildcardMode selects how (or whether) each apex domain is probed
// for catch-all answers before the word list runs against it.
type WildcardMode string

const (
	WildcardOff      WildcardMode = ""
	WildcardBasic    WildcardMode = "basic"
	WildcardAdvanced WildcardMode = "advanced"
)

// Config holds everything a Run needs beyond its wired dependencies.
type Config struct {
	Domains       []string
	Words         []string
	Concurrency   int
	Retry         int // -1 infinite, 0 smart-protect, k>0 means k+1 attempts
	WildcardMode  WildcardMode
	OnlyAlive     bool
	NotPrint      bool
	Predict       bool
	PredictRounds int
	PredictTopN   int
	Enable0x20    bool
	DNSOpts       codec.Options
}

// Orchestrator wires the scan state machine to its collaborators.
type Orchestrator struct {
	cfg       Config
	resolvers *resolverpool.Pool
	limiter   *ratelimit.Limiter
	pool      *worker.Pool
	db        *statusdb.DB
	counters  *metrics.Counters
	writers   []output.Writer
	bus       *eventbus.Bus

	sem chan struct{}

	discMu     sync.Mutex
	discovered []string
	wordSetMu  sync.Mutex
	wordSet    map[string]struct{}
}

// New builds an Orchestrator from already-constructed dependencies.
func New(cfg Config, resolvers *resolverpool.Pool, limiter *ratelimit.Limiter, pool *worker.Pool, db *statusdb.DB, counters *metrics.Counters, writers []output.Writer, bus *eventbus.Bus) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 100
	}
	ws := make(map[string]struct{}, len(cfg.Words))
	for _, w := range cfg.Words {
		ws[w] = struct{}{}
	}
	o := &Orchestrator{
		cfg:       cfg,
		resolvers: resolvers,
		limiter:   limiter,
		pool:      pool,
		db:        db,
		counters:  counters,
		writers:   writers,
		bus:       bus,
		sem:       make(chan struct{}, cfg.Concurrency),
		wordSet:   ws,
	}
	if bus != nil {
		resolvers.OnDisable(func(addr string) {
			bus.Publish(eventbus.TopicResolverDisabled, eventbus.ResolverEvent{Addr: addr})
		})
	}
	return o
}

// Run executes the initial pass across every domain/word pair, then
// iterates predictor rounds if configured.
func (o *Orchestrator) Run(ctx context.Context) error {
	total := uint64(len(o.cfg.Words)) * uint64(len(o.cfg.Domains))
	o.counters.Total.Store(total)

	showAll := !o.cfg.NotPrint && !o.cfg.OnlyAlive

	for _, domain := range o.cfg.Domains {
		apex := normalizeDomain(domain)
		wc := o.detectWildcard(ctx, apex)
		o.runRound(ctx, apex, o.cfg.Words, wc, showAll)
	}

	if o.cfg.Predict && o.cfg.PredictRounds > 0 {
		o.runPredictorRounds(ctx, showAll)
	}

	for _, w := range o.writers {
		_ = w.Close()
	}
	return nil
}

func normalizeDomain(d string) string {
	return strings.TrimSuffix(strings.TrimSpace(d), ".")
}

func (o *Orchestrator) detectWildcard(ctx context.Context, apex string) wildcard.Set {
	resolvers := o.resolvers.Snapshot()
	addrs := make([]string, 0, len(resolvers))
	for _, r := range resolvers {
		addrs = append(addrs, r.Addr)
	}
	q := func(ctx context.Context, host, resolver string, qtype codec.RecordType) (codec.Answer, error) {
		return codec.Query(ctx, host, resolver, qtype, o.cfg.DNSOpts)
	}
	switch o.cfg.WildcardMode {
	case WildcardBasic:
		return wildcard.Detect(ctx, apex, addrs, q)
	case WildcardAdvanced:
		return wildcard.DetectAdvanced(ctx, apex, addrs, q, 0.6)
	default:
		return wildcard.Set{}
	}
}

func (o *Orchestrator) runRound(ctx context.Context, apex string, words []string, wc wildcard.Set, showAll bool) {
	var wg sync.WaitGroup
	for _, word := range words {
		host := word + "." + apex
		select {
		case o.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			defer func() { <-o.sem }()
			o.scanHost(ctx, host, wc, showAll)
		}(host)
	}
	wg.Wait()
}

func (o *Orchestrator) runPredictorRounds(ctx context.Context, showAll bool) {
	for round := 0; round < o.cfg.PredictRounds; round++ {
		o.discMu.Lock()
		snapshot := append([]string(nil), o.discovered...)
		o.discMu.Unlock()
		if len(snapshot) == 0 {
			return
		}

		base := candidates.BasicSeeds()
		topN := o.cfg.PredictTopN
		if topN <= 0 {
			topN = 32
		}
		extended := candidates.DynamicExtend(snapshot, base, topN)

		o.wordSetMu.Lock()
		var fresh []string
		for _, s := range extended {
			if _, exists := o.wordSet[s]; !exists {
				o.wordSet[s] = struct{}{}
				fresh = append(fresh, s)
			}
		}
		o.wordSetMu.Unlock()

		if len(fresh) == 0 {
			return
		}
		o.counters.Total.Add(uint64(len(fresh)) * uint64(len(o.cfg.Domains)))

		for _, domain := range o.cfg.Domains {
			apex := normalizeDomain(domain)
			wc := o.detectWildcard(ctx, apex)
			o.runRound(ctx, apex, fresh, wc, showAll)
		}

		if o.bus != nil {
			o.bus.Publish(eventbus.TopicRoundBoundary, eventbus.RoundEvent{Round: round + 1, Seeds: len(fresh)})
		}
	}
}

// smartProtectAttempts is the total number of attempts (one extra
// beyond the first) granted under --retry 0's transient-error
// compensation.
const smartProtectAttempts = 2

func (o *Orchestrator) scanHost(ctx context.Context, host string, wc wildcard.Set, showAll bool) {
	if e, ok := o.db.Get(host); ok && (e.State == statusdb.StateOk || e.State == statusdb.StateWildFiltered) {
		o.counters.Skipped.Add(1)
		o.counters.Finished.Add(1)
		return
	}

	smartProtect := o.cfg.Retry == 0
	var attempt int
	success := false

	for o.cfg.Retry < 0 || attempt <= o.cfg.Retry || (smartProtect && attempt < smartProtectAttempts) {
		attempt++

		if err := o.limiter.Acquire(ctx); err != nil {
			return
		}
		o.counters.Sent.Add(1)

		resolverAddr, hasResolver := o.resolvers.ChooseRandom()
		if !hasResolver {
			if o.fallbackLookup(ctx, host, attempt) {
				success = true
			}
			break
		}

		ans, penalized := o.exchange(ctx, host, resolverAddr)

		if ans.Rcode == codec.NXDomain {
			success = false
			break
		}

		if len(ans.Records) > 0 {
			ips := extractIPs(ans.Records)
			if !wc.IsWildcard(ans) {
				o.recordSuccess(host, resolverAddr, attempt, ips, ans.Records)
				o.resolvers.ReportOK(resolverAddr)
				success = true
				break
			}
			o.counters.Filtered.Add(1)
			o.db.Add(host, statusdb.Entry{Host: host, Resolver: resolverAddr, Retry: attempt, State: statusdb.StateWildFiltered, Time: time.Now()})
			break
		}

		if !penalized {
			o.resolvers.ReportFail(resolverAddr)
		}
		o.db.Set(host, statusdb.Entry{Host: host, Resolver: resolverAddr, Retry: attempt, State: statusdb.StateFailed, Time: time.Now()})

		if o.cfg.Retry >= 0 && attempt > o.cfg.Retry {
			if smartProtect && attempt == 1 {
				continue
			}
			break
		}
	}

	if !success {
		o.counters.Finished.Add(1)
	}
	if !success && showAll {
		for _, w := range o.writers {
			_ = w.Write(output.Result{Subdomain: host})
		}
		o.counters.Failed.Add(1)
		o.db.Set(host, statusdb.Entry{Host: host, Retry: attempt, State: statusdb.StateFailed, Time: time.Now()})
	}
}

// exchange runs one blocking DNS exchange through the worker pool and
// classifies the result, reporting the resolver as failing when the
// rcode indicates transient trouble (ServFail/Refused/Timeout).
func (o *Orchestrator) exchange(ctx context.Context, host, resolverAddr string) (codec.Answer, bool) {
	var ans codec.Answer
	job := worker.JobFunc(func(jctx context.Context) error {
		a, err := codec.Query(jctx, host, resolverAddr, codec.TypeA, o.cfg.DNSOpts)
		ans = a
		return err
	})
	_ = o.pool.Submit(ctx, job)

	penalized := false
	switch ans.Rcode {
	case codec.NXDomain:
	case codec.ServFail:
		o.counters.ServFail.Add(1)
		penalized = true
	case codec.Refused:
		o.counters.Refused.Add(1)
		penalized = true
	case codec.Timeout:
		o.counters.Timeouts.Add(1)
		penalized = true
	}
	if ans.Rcode == codec.NXDomain {
		o.counters.NXDomain.Add(1)
	}
	if penalized {
		o.resolvers.ReportFail(resolverAddr)
	}
	return ans, penalized
}

func (o *Orchestrator) recordSuccess(host, resolverAddr string, attempt int, ips []string, records []codec.Record) {
	o.counters.OK.Add(1)
	o.counters.Finished.Add(1)
	o.db.Add(host, statusdb.Entry{Host: host, Resolver: resolverAddr, Retry: attempt, State: statusdb.StateOk, Time: time.Now()})

	out := output.Result{Subdomain: host, Answers: ips}
	for _, r := range records {
		out.Records = append(out.Records, output.Record{Type: string(r.Type), Data: r.Data})
	}
	for _, w := range o.writers {
		_ = w.Write(out)
	}

	o.discMu.Lock()
	o.discovered = append(o.discovered, host)
	o.discMu.Unlock()

	if o.bus != nil {
		o.bus.Publish(eventbus.TopicDiscovered, eventbus.DiscoveredEvent{Host: host, Records: len(records)})
	}
}

func (o *Orchestrator) fallbackLookup(ctx context.Context, host string, attempt int) bool {
	o.counters.Fallback.Add(1)
	addrs, err := codec.SystemLookup(ctx, host)
	if err != nil || len(addrs) == 0 {
		return false
	}
	sort.Strings(addrs)
	addrs = dedupe(addrs)

	o.counters.OK.Add(1)
	o.counters.Finished.Add(1)
	o.db.Add(host, statusdb.Entry{Host: host, Resolver: "system", Retry: attempt, State: statusdb.StateOk, Time: time.Now()})
	for _, w := range o.writers {
		_ = w.Write(output.Result{Subdomain: host, Answers: addrs})
	}
	o.discMu.Lock()
	o.discovered = append(o.discovered, host)
	o.discMu.Unlock()

	if o.bus != nil {
		o.bus.Publish(eventbus.TopicDiscovered, eventbus.DiscoveredEvent{Host: host})
	}
	return true
}

func extractIPs(records []codec.Record) []string {
	var ips []string
	for _, r := range records {
		if r.Type == codec.TypeA || r.Type == codec.TypeAAAA {
			ips = append(ips, r.Data)
		}
	}
	sort.Strings(ips)
	return dedupe(ips)
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	var prev string
	first := true
	for _, s := range sorted {
		if first || s != prev {
			out = append(out, s)
			prev = s
			first = false
		}
	}
	return out
}
