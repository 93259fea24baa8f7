package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dnsscience/submapper/internal/adaptive"
	"github.com/dnsscience/submapper/internal/bandwidth"
	"github.com/dnsscience/submapper/internal/buildinfo"
	"github.com/dnsscience/submapper/internal/candidates"
	"github.com/dnsscience/submapper/internal/codec"
	"github.com/dnsscience/submapper/internal/config"
	"github.com/dnsscience/submapper/internal/control"
	"github.com/dnsscience/submapper/internal/eventbus"
	"github.com/dnsscience/submapper/internal/metrics"
	"github.com/dnsscience/submapper/internal/orchestrator"
	"github.com/dnsscience/submapper/internal/output"
	"github.com/dnsscience/submapper/internal/persistence"
	"github.com/dnsscience/submapper/internal/ratelimit"
	"github.com/dnsscience/submapper/internal/resolverpool"
	"github.com/dnsscience/submapper/internal/statusdb"
	"github.com/dnsscience/submapper/internal/worker"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "enum":
		err = runEnum(os.Args[2:])
	case "verify":
		err = runVerify(os.Args[2:])
	case "test":
		err = runTest(os.Args[2:])
	case "device":
		runDevice()
	case "-version", "--version", "version":
		fmt.Println(buildinfo.String())
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: submapperd <enum|verify|test|device> [flags]")
}

// sharedFlags are the options common to enum, verify, and test.
type sharedFlags struct {
	domains       string
	configPath    string
	wordlist      string
	resolvers     string
	concurrency   int
	retry         int
	timeout       int
	band          string
	adaptiveRate  bool
	wildcardMode  string
	outputType    string
	outputPath    string
	onlyAlive     bool
	notPrint      bool
	predict       bool
	predictRounds int
	predictTopN   int
	heuristic     bool
	heuristicMax  int
	statusFile    string
	cooldownSecs  int
	metricsAddr   string
	healthAddr    string
	progressSecs  int
	detail        bool
	gzipOut       bool
	appendOut     bool
	enable0x20    bool

	statusFlushSecs   int
	resolverStatsFile string
	resolverStatsSecs int
	progressJSONFile  string
	noProgress        bool
	progressWide      bool
	progressLegacy    bool
}

func bindSharedFlags(fs *flag.FlagSet) *sharedFlags {
	f := &sharedFlags{}
	fs.StringVar(&f.domains, "domain", "", "comma-separated apex domains to scan")
	fs.StringVar(&f.configPath, "config", "", "optional YAML config file")
	fs.StringVar(&f.wordlist, "wordlist", "", "path to a subdomain wordlist (default: built-in)")
	fs.StringVar(&f.resolvers, "resolvers", "", "comma-separated resolver IPs (default: built-in public set)")
	fs.IntVar(&f.concurrency, "concurrency", 100, "maximum number of in-flight host scans")
	fs.IntVar(&f.retry, "retry", 0, "retry count per host (-1 infinite, 0 smart-protect)")
	fs.IntVar(&f.timeout, "timeout", 6, "per-query timeout in seconds")
	fs.StringVar(&f.band, "band", "", "bandwidth cap, e.g. 10mbps, 5000pps, 2M (default: unlimited)")
	fs.BoolVar(&f.adaptiveRate, "adaptive-rate", false, "enable the adaptive rate controller")
	fs.StringVar(&f.wildcardMode, "wildcard-mode", "", "wildcard filtering: basic, advanced, or empty to disable")
	fs.StringVar(&f.outputType, "output-type", "txt", "txt, txt-domain, txt-ks, json, jsonl, csv")
	fs.StringVar(&f.outputPath, "output", "", "output file path")
	fs.BoolVar(&f.onlyAlive, "only-alive", false, "only emit hosts with live answers")
	fs.BoolVar(&f.notPrint, "not-print", false, "suppress per-host output entirely")
	fs.BoolVar(&f.predict, "predict", false, "seed and iteratively extend the word list from discovered hosts")
	fs.IntVar(&f.predictRounds, "predict-rounds", 0, "number of predictor extension rounds")
	fs.IntVar(&f.predictTopN, "predict-topn", 32, "top-N frequent labels kept per predictor round")
	fs.BoolVar(&f.heuristic, "heuristic", false, "expand the word list with deterministic env/service/region heuristics")
	fs.IntVar(&f.heuristicMax, "heuristic-max", 2000, "cap on heuristic-generated words")
	fs.StringVar(&f.statusFile, "status-file", "", "path to persist/resume scan status")
	fs.IntVar(&f.cooldownSecs, "resolver-cooldown-secs", 60, "seconds before a disabled resolver is re-enabled")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "optional Prometheus /metrics listen address")
	fs.StringVar(&f.healthAddr, "grpc-health-addr", "", "optional gRPC health/reflection listen address")
	fs.IntVar(&f.progressSecs, "progress-interval", 2, "stderr progress print interval in seconds")
	fs.BoolVar(&f.detail, "detail", false, "include per-record type breakdown in output")
	fs.BoolVar(&f.gzipOut, "gzip", false, "gzip-wrap the output file")
	fs.BoolVar(&f.appendOut, "append", false, "append to the output file instead of truncating")
	fs.BoolVar(&f.enable0x20, "0x20", false, "enable 0x20 case-randomization anti-spoofing")
	fs.IntVar(&f.statusFlushSecs, "status-flush-interval", 0, "seconds between periodic status-db flushes to --status-file (0 disables)")
	fs.StringVar(&f.resolverStatsFile, "resolver-stats-file", "", "path to periodically write per-resolver health stats as JSON")
	fs.IntVar(&f.resolverStatsSecs, "resolver-stats-interval", 30, "seconds between --resolver-stats-file writes")
	fs.StringVar(&f.progressJSONFile, "progress-json-file", "", "path to periodically write the progress snapshot as JSON")
	fs.BoolVar(&f.noProgress, "no-progress", false, "suppress the stderr progress line")
	fs.BoolVar(&f.progressWide, "progress-wide", false, "use the wide stderr progress layout")
	fs.BoolVar(&f.progressLegacy, "progress-legacy", false, "use the legacy stderr progress layout")
	return f
}

func resolveConfig(fs *flag.FlagSet, f *sharedFlags) (*config.File, error) {
	var fileCfg *config.File
	if f.configPath != "" {
		c, err := config.Load(f.configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		fileCfg = c
	}

	set := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	flagCfg := config.File{
		Domains:           config.SplitList(f.domains),
		Wordlist:          f.wordlist,
		Resolvers:         config.SplitList(f.resolvers),
		Concurrency:       f.concurrency,
		Retry:             f.retry,
		TimeoutSeconds:    f.timeout,
		Band:              f.band,
		AdaptiveRate:      f.adaptiveRate,
		WildcardMode:      f.wildcardMode,
		OutputType:        f.outputType,
		Output:            f.outputPath,
		OnlyAlive:         f.onlyAlive,
		NotPrint:          f.notPrint,
		Predict:           f.predict,
		PredictRounds:     f.predictRounds,
		PredictTopN:       f.predictTopN,
		Heuristic:         f.heuristic,
		HeuristicMax:      f.heuristicMax,
		StatusFile:        f.statusFile,
		ResolverCooldownS: f.cooldownSecs,
		MetricsAddr:       f.metricsAddr,
		GRPCHealthAddr:    f.healthAddr,
		ProgressInterval:  f.progressSecs,
		StatusFlushSecs:   f.statusFlushSecs,
		ResolverStatsFile: f.resolverStatsFile,
		ResolverStatsSecs: f.resolverStatsSecs,
		ProgressJSONFile:  f.progressJSONFile,
		NoProgress:        f.noProgress,
		ProgressWide:      f.progressWide,
		ProgressLegacy:    f.progressLegacy,
	}
	// remap flag.FlagSet names ("domain") onto config.Merge's keys ("domains")
	if set["domain"] {
		set["domains"] = true
	}

	merged := config.Merge(fileCfg, flagCfg, set)
	return &merged, nil
}

func runEnum(args []string) error {
	fs := flag.NewFlagSet("enum", flag.ExitOnError)
	sf := bindSharedFlags(fs)
	fs.Parse(args)

	cfg, err := resolveConfig(fs, sf)
	if err != nil {
		return err
	}
	ratePPS, err := cfg.Validate()
	if err != nil {
		return err
	}

	words, err := loadWords(cfg)
	if err != nil {
		return err
	}

	fmt.Println(buildinfo.String())
	fmt.Printf("domains=%v words=%d concurrency=%d retry=%d\n", cfg.Domains, len(words), cfg.Concurrency, cfg.Retry)

	db := statusdb.New(statusdb.Config{})
	defer db.Close()
	if cfg.StatusFile != "" {
		if n, err := persistence.Load(db, cfg.StatusFile); err == nil && n > 0 {
			fmt.Fprintf(os.Stderr, "[statusdb] loaded %d entries from %s\n", n, cfg.StatusFile)
		}
	}

	resolvers := resolverpool.New(cfg.Resolvers)
	resolvers.SetCooldown(time.Duration(cfg.ResolverCooldownS) * time.Second)
	resolvers.OnDisable(func(addr string) {
		fmt.Fprintf(os.Stderr, "\n[resolver] disabled %s\n", addr)
	})

	limiter := ratelimit.New(int(ratePPS))
	counters := &metrics.Counters{}
	pool := worker.NewPool(worker.Config{})
	defer pool.Close()
	bus := eventbus.New(64)

	writers, err := output.Build(cfg.OutputType, output.Options{
		Path: cfg.Output, ToStdout: !cfg.NotPrint, Detail: sf.detail, Gzip: sf.gzipOut, Append: sf.appendOut, OnlyAlive: cfg.OnlyAlive,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigCh; cancel() }()

	limiterCtx, limiterCancel := context.WithCancel(ctx)
	defer limiterCancel()
	go limiter.Run(limiterCtx)

	if cfg.AdaptiveRate && ratePPS > 0 {
		ctrl := adaptive.New(counters, limiter, adaptive.Config{
			MinRate:        10,
			MaxRate:        int(ratePPS) * 4,
			ErrorThreshold: 0.15,
			DecFactor:      0.7,
			IncFactor:      1.1,
		})
		go ctrl.Run(time.Duration(cfg.ProgressInterval)*time.Second, limiterCtx.Done())
	}

	if cfg.MetricsAddr != "" {
		go func() { _ = control.ServeMetrics(ctx, cfg.MetricsAddr) }()
	}
	var gh *control.GRPCHealth
	if cfg.GRPCHealthAddr != "" {
		gh = control.NewGRPCHealth()
		go func() { _ = gh.Serve(ctx, cfg.GRPCHealthAddr) }()
	}

	layout := metrics.LayoutDefault
	if cfg.ProgressWide {
		layout = metrics.LayoutWide
	} else if cfg.ProgressLegacy {
		layout = metrics.LayoutLegacy
	}
	reporter := metrics.NewReporter(counters, resolvers, time.Duration(cfg.ProgressInterval)*time.Second, layout)
	reporterStop := make(chan struct{})
	if !cfg.NoProgress {
		go reporter.Run(reporterStop)
	}
	defer close(reporterStop)

	if cfg.ProgressJSONFile != "" {
		go writeJSONPeriodically(ctx, cfg.ProgressJSONFile, time.Duration(cfg.ProgressInterval)*time.Second, func() any {
			return reporter.Snapshot()
		})
	}
	if cfg.ResolverStatsFile != "" {
		go writeJSONPeriodically(ctx, cfg.ResolverStatsFile, time.Duration(cfg.ResolverStatsSecs)*time.Second, func() any {
			return resolvers.Snapshot()
		})
	}
	if cfg.StatusFile != "" && cfg.StatusFlushSecs > 0 {
		go flushStatusPeriodically(ctx, db, cfg.StatusFile, time.Duration(cfg.StatusFlushSecs)*time.Second)
	}

	o := orchestrator.New(orchestrator.Config{
		Domains:       cfg.Domains,
		Words:         words,
		Concurrency:   cfg.Concurrency,
		Retry:         cfg.Retry,
		WildcardMode:  orchestrator.WildcardMode(cfg.WildcardMode),
		OnlyAlive:     cfg.OnlyAlive,
		NotPrint:      cfg.NotPrint,
		Predict:       cfg.Predict,
		PredictRounds: cfg.PredictRounds,
		PredictTopN:   cfg.PredictTopN,
		Enable0x20:    sf.enable0x20,
		DNSOpts:       codec.Options{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second, Enable0x20: sf.enable0x20},
	}, resolvers, limiter, pool, db, counters, writers, bus)

	if err := o.Run(ctx); err != nil {
		return err
	}
	if gh != nil {
		gh.SetNotServing()
	}

	if cfg.StatusFile != "" {
		if err := persistence.Save(db, cfg.StatusFile); err != nil {
			fmt.Fprintf(os.Stderr, "[statusdb] save error: %v\n", err)
		}
	}
	return nil
}

// writeJSONPeriodically serializes snapshot() to path on every tick
// until ctx is cancelled. A write error is logged, not fatal — a
// stats file is a diagnostic aid, not part of the scan's correctness.
func writeJSONPeriodically(ctx context.Context, path string, interval time.Duration, snapshot func() any) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			data, err := json.MarshalIndent(snapshot(), "", "  ")
			if err != nil {
				continue
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				fmt.Fprintf(os.Stderr, "[progress] write %s: %v\n", path, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// flushStatusPeriodically persists db to path on every tick until ctx
// is cancelled, so a killed long-running scan only loses progress made
// since the last flush rather than the whole run.
func flushStatusPeriodically(ctx context.Context, db *statusdb.DB, path string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := persistence.Save(db, path); err != nil {
				fmt.Fprintf(os.Stderr, "[statusdb] periodic flush error: %v\n", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func loadWords(cfg *config.File) ([]string, error) {
	var words []string
	var err error
	if cfg.Wordlist != "" {
		words, err = candidates.LoadFile(cfg.Wordlist)
	} else {
		words = candidates.Default()
	}
	if err != nil {
		return nil, err
	}

	if cfg.Predict {
		words = append(words, candidates.BasicSeeds()...)
	}
	if cfg.Heuristic {
		max := cfg.HeuristicMax
		if max <= 0 {
			max = 2000
		}
		words = append(words, candidates.GenerateHeuristics(words, max)...)
	}
	return dedupeWords(words), nil
}

func dedupeWords(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	out := words[:0]
	for _, w := range words {
		if _, ok := seen[w]; !ok {
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}

// runVerify re-resolves every host the status database holds in
// StateOk, to confirm a previous scan's results still stand.
func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	sf := bindSharedFlags(fs)
	fs.Parse(args)

	cfg, err := resolveConfig(fs, sf)
	if err != nil {
		return err
	}
	if _, err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.StatusFile == "" {
		return fmt.Errorf("verify requires --status-file")
	}

	db := statusdb.New(statusdb.Config{})
	defer db.Close()
	if _, err := persistence.Load(db, cfg.StatusFile); err != nil {
		return err
	}

	resolvers := resolverpool.New(cfg.Resolvers)
	resolvers.SetCooldown(time.Duration(cfg.ResolverCooldownS) * time.Second)

	writers, err := output.Build(cfg.OutputType, output.Options{
		Path: cfg.Output, ToStdout: !cfg.NotPrint, Detail: sf.detail, Gzip: sf.gzipOut, Append: sf.appendOut,
	})
	if err != nil {
		return err
	}
	defer func() {
		for _, w := range writers {
			_ = w.Close()
		}
	}()

	dnsOpts := codec.Options{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second, Enable0x20: sf.enable0x20}
	ctx := context.Background()

	db.ForEachOk(func(e statusdb.Entry) {
		verifyHost(ctx, e.Host, cfg.Retry, resolvers, writers, dnsOpts)
	})
	return nil
}

func verifyHost(ctx context.Context, host string, retry int, resolvers *resolverpool.Pool, writers []output.Writer, opts codec.Options) {
	attempt := 0
	success := false
	for retry < 0 || attempt <= retry {
		attempt++
		resolverAddr, ok := resolvers.ChooseRandom()
		if !ok {
			break
		}
		ans, err := codec.Query(ctx, host, resolverAddr, codec.TypeA, opts)
		if err != nil {
			continue
		}
		penalized := ans.Rcode == codec.ServFail || ans.Rcode == codec.Refused || ans.Rcode == codec.Timeout
		if penalized {
			resolvers.ReportFail(resolverAddr)
		}
		if ans.Rcode == codec.NXDomain {
			success = true
			break
		}
		if len(ans.Records) > 0 {
			ips := extractIPsLocal(ans.Records)
			res := output.Result{Subdomain: host, Answers: ips}
			for _, r := range ans.Records {
				res.Records = append(res.Records, output.Record{Type: string(r.Type), Data: r.Data})
			}
			for _, w := range writers {
				_ = w.Write(res)
			}
			resolvers.ReportOK(resolverAddr)
			success = true
			break
		}
		if !penalized {
			resolvers.ReportFail(resolverAddr)
		}
		if retry >= 0 && attempt > retry {
			break
		}
	}
	if !success {
		for _, w := range writers {
			_ = w.Write(output.Result{Subdomain: host})
		}
	}
}

func extractIPsLocal(records []codec.Record) []string {
	var ips []string
	for _, r := range records {
		if r.Type == codec.TypeA || r.Type == codec.TypeAAAA {
			ips = append(ips, r.Data)
		}
	}
	return ips
}

// runTest runs a fixed-3-second-window throughput probe against
// synthetic random-label hosts, to estimate the maximum sustainable
// send rate before committing to a full scan.
func runTest(args []string) error {
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	sf := bindSharedFlags(fs)
	fs.Parse(args)

	cfg, err := resolveConfig(fs, sf)
	if err != nil {
		return err
	}
	ratePPS, _ := cfg.Validate()
	domains := cfg.Domains
	if len(domains) == 0 {
		domains = []string{"example.com"}
	}

	const window = 3 * time.Second
	resolvers := resolverpool.New(cfg.Resolvers)
	resolvers.SetCooldown(time.Duration(cfg.ResolverCooldownS) * time.Second)

	var limiter *ratelimit.Limiter
	if ratePPS > 0 {
		limiter = ratelimit.New(int(ratePPS))
		ctx, cancel := context.WithTimeout(context.Background(), window+time.Second)
		defer cancel()
		go limiter.Run(ctx)
	}

	var sent, ok, nxd, timeouts, errs atomic.Uint64
	opts := codec.Options{Timeout: 1500 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()

	var wg sync.WaitGroup
	start := time.Now()
	for time.Since(start) < window {
		if limiter != nil {
			if err := limiter.Acquire(ctx); err != nil {
				break
			}
		}
		domain := domains[rand.Intn(len(domains))]
		host := randLabel(8) + "." + domain
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			resolverAddr, okResolver := resolvers.ChooseRandom()
			if !okResolver {
				return
			}
			sent.Add(1)
			ans, err := codec.Query(ctx, host, resolverAddr, codec.TypeA, opts)
			if err != nil {
				errs.Add(1)
				return
			}
			switch ans.Rcode {
			case codec.NXDomain:
				nxd.Add(1)
			case codec.ServFail, codec.Refused:
				errs.Add(1)
			case codec.Timeout:
				timeouts.Add(1)
			default:
				if len(ans.Records) > 0 {
					ok.Add(1)
				}
			}
		}(host)
	}
	wg.Wait()

	dur := time.Since(start).Seconds()
	fmt.Printf("window=%.1fs sent=%d ok=%d nxdomain=%d timeouts=%d errors=%d rate=%.0f/s\n",
		dur, sent.Load(), ok.Load(), nxd.Load(), timeouts.Load(), errs.Load(), float64(sent.Load())/dur)
	return nil
}

func randLabel(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}

func runDevice() {
	fmt.Println(buildinfo.String())
	r := buildinfo.Probe()
	fmt.Printf("go=%s os/arch=%s/%s cpus=%d pid=%d euid=%d\n", r.GoVersion, r.GOOS, r.GOARCH, r.NumCPU, r.PID, r.EUID)
	fmt.Println(r.FileLimitHint)
	fmt.Println("default resolvers:", bandwidth.DefaultResolvers())
}
