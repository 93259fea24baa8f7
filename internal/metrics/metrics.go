// Package metrics tracks atomic scan counters and renders periodic
// progress snapshots to stderr and an optional JSON file.
package metrics

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/dnsscience/submapper/internal/resolverpool"
)

// Counters holds every atomic counter the scan increments. Zero value
// is ready to use.
type Counters struct {
	Sent     atomic.Uint64
	OK       atomic.Uint64
	Filtered atomic.Uint64
	Failed   atomic.Uint64
	Skipped  atomic.Uint64
	NXDomain atomic.Uint64
	ServFail atomic.Uint64
	Refused  atomic.Uint64
	Timeouts atomic.Uint64
	Fallback atomic.Uint64
	Total    atomic.Uint64

	// Finished counts hosts that have reached a terminal outcome
	// (OK, Failed, Filtered, or Skipped) — the denominator for
	// percent-complete and ETA, distinct from Sent, which counts
	// individual query attempts and can exceed Finished under retry.
	Finished atomic.Uint64
}

// errDelta sums the transient-failure classes spec §4.7 counts as
// errors for rate purposes: timeouts, SERVFAIL, and REFUSED. Failed
// (a host that exhausted its retries) is a terminal outcome, not a
// per-query error, and is excluded.
func (c *Counters) errDelta() uint64 {
	return c.Timeouts.Load() + c.ServFail.Load() + c.Refused.Load()
}

// Snapshot is a point-in-time read of Counters plus derived rate,
// progress, and resolver-health fields, shaped for both the stderr
// reporter and --progress-json-file.
type Snapshot struct {
	ElapsedSeconds           float64 `json:"elapsed_seconds"`
	Sent                     uint64  `json:"sent"`
	OK                       uint64  `json:"ok"`
	Filtered                 uint64  `json:"filtered"`
	Failed                   uint64  `json:"failed"`
	Skipped                  uint64  `json:"skipped"`
	NXDomain                 uint64  `json:"nxdomain"`
	ServFail                 uint64  `json:"servfail"`
	Refused                  uint64  `json:"refused"`
	Timeouts                 uint64  `json:"timeouts"`
	Fallback                 uint64  `json:"fallback"`
	Total                    uint64  `json:"total"`
	Finished                 uint64  `json:"finished"`
	Rate                     float64 `json:"rate"`
	RateAvg                  float64 `json:"rate_avg"`
	Percent                  float64 `json:"percent"`
	ETASeconds               float64 `json:"eta_seconds"`
	Inflight                 int64   `json:"inflight"`
	ResolversActive          int     `json:"resolvers_active"`
	ResolversTotal           int     `json:"resolvers_total"`
	ResolversDisabledPercent float64 `json:"resolvers_disabled_percent"`
	ErrorRateRecent          float64 `json:"error_rate_recent"`
	ErrorRateTotal           float64 `json:"error_rate_total"`
}

func (c *Counters) snapshot(elapsed time.Duration, rate, rateAvg float64, resolvers *resolverpool.Pool, errRateRecent float64) Snapshot {
	sent := c.Sent.Load()
	finished := c.Finished.Load()
	total := c.Total.Load()
	errTotal := c.errDelta()

	var percent float64
	if total > 0 {
		percent = float64(finished) / float64(total) * 100
	}
	var eta float64
	if rateAvg > 0 && total > finished {
		eta = float64(total-finished) / rateAvg
	}
	var errRateTotal float64
	if sent > 0 {
		errRateTotal = float64(errTotal) / float64(sent)
	}

	resTotal, resActive, resDisabledPct := resolverStats(resolvers)

	return Snapshot{
		ElapsedSeconds:           elapsed.Seconds(),
		Sent:                     sent,
		OK:                       c.OK.Load(),
		Filtered:                 c.Filtered.Load(),
		Failed:                   c.Failed.Load(),
		Skipped:                  c.Skipped.Load(),
		NXDomain:                 c.NXDomain.Load(),
		ServFail:                 c.ServFail.Load(),
		Refused:                  c.Refused.Load(),
		Timeouts:                 c.Timeouts.Load(),
		Fallback:                 c.Fallback.Load(),
		Total:                    total,
		Finished:                 finished,
		Rate:                     rate,
		RateAvg:                  rateAvg,
		Percent:                  percent,
		ETASeconds:               eta,
		Inflight:                 int64(sent) - int64(finished),
		ResolversActive:          resActive,
		ResolversTotal:           resTotal,
		ResolversDisabledPercent: resDisabledPct,
		ErrorRateRecent:          errRateRecent,
		ErrorRateTotal:           errRateTotal,
	}
}

func resolverStats(resolvers *resolverpool.Pool) (total, active int, disabledPct float64) {
	if resolvers == nil {
		return 0, 0, 0
	}
	snaps := resolvers.Snapshot()
	total = len(snaps)
	disabled := 0
	for _, s := range snaps {
		if s.Disabled {
			disabled++
		} else {
			active++
		}
	}
	if total > 0 {
		disabledPct = float64(disabled) / float64(total) * 100
	}
	return total, active, disabledPct
}

// Layout selects the stderr rendering.
type Layout int

const (
	LayoutDefault Layout = iota
	LayoutWide
	LayoutLegacy
)

// Reporter samples Counters on an interval and renders a line to
// stderr, keeping a short sliding window of sent-deltas so the
// printed rate is smoothed rather than instantaneous.
type Reporter struct {
	counters  *Counters
	resolvers *resolverpool.Pool
	interval  time.Duration
	layout    Layout
	start     time.Time
	out       *os.File

	window    []float64
	lastSent  uint64
	lastErr   uint64
	lastTime  time.Time
	lastErrRt float64
	lastRate  float64
}

// NewReporter creates a Reporter. out defaults to os.Stderr. resolvers
// may be nil, in which case the resolver-health fields of Snapshot
// stay zero.
func NewReporter(c *Counters, resolvers *resolverpool.Pool, interval time.Duration, layout Layout) *Reporter {
	if interval <= 0 {
		interval = time.Second
	}
	now := time.Now()
	return &Reporter{
		counters:  c,
		resolvers: resolvers,
		interval:  interval,
		layout:    layout,
		start:     now,
		out:       os.Stderr,
		lastTime:  now,
	}
}

const windowSize = 5

// Run samples and prints until stop is closed.
func (r *Reporter) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.tick()
		case <-stop:
			return
		}
	}
}

func (r *Reporter) tick() {
	now := time.Now()
	sent := r.counters.Sent.Load()
	errs := r.counters.errDelta()
	elapsed := now.Sub(r.lastTime).Seconds()

	var instant, errRateRecent float64
	if elapsed > 0 {
		instant = float64(sent-r.lastSent) / elapsed
	}
	if sentDelta := sent - r.lastSent; sentDelta > 0 {
		errRateRecent = float64(errs-r.lastErr) / float64(sentDelta)
	}
	r.lastSent = sent
	r.lastErr = errs
	r.lastErrRt = errRateRecent
	r.lastRate = instant
	r.lastTime = now

	r.window = append(r.window, instant)
	if len(r.window) > windowSize {
		r.window = r.window[len(r.window)-windowSize:]
	}
	var sum float64
	for _, v := range r.window {
		sum += v
	}
	avg := sum / float64(len(r.window))

	snap := r.counters.snapshot(now.Sub(r.start), instant, avg, r.resolvers, errRateRecent)
	fmt.Fprintln(r.out, r.render(snap))
}

func (r *Reporter) render(s Snapshot) string {
	switch r.layout {
	case LayoutLegacy:
		return fmt.Sprintf("[%0.fs] sent=%d ok=%d fail=%d", s.ElapsedSeconds, s.Sent, s.OK, s.Failed)
	case LayoutWide:
		return fmt.Sprintf(
			"t=%6.1fs  sent=%-8d ok=%-8d filtered=%-8d failed=%-8d nx=%-8d servfail=%-6d refused=%-6d timeout=%-6d fallback=%-6d "+
				"rate=%.0f/s avg=%.0f/s pct=%5.1f%% eta=%.0fs inflight=%-6d resolvers=%d/%d (%.0f%% disabled) err_recent=%.3f err_total=%.3f",
			s.ElapsedSeconds, s.Sent, s.OK, s.Filtered, s.Failed, s.NXDomain, s.ServFail, s.Refused, s.Timeouts, s.Fallback,
			s.Rate, s.RateAvg, s.Percent, s.ETASeconds, s.Inflight, s.ResolversActive, s.ResolversTotal, s.ResolversDisabledPercent,
			s.ErrorRateRecent, s.ErrorRateTotal,
		)
	default:
		return fmt.Sprintf("sent=%d ok=%d filtered=%d failed=%d rate=%.0f/s pct=%.1f%% eta=%.0fs", s.Sent, s.OK, s.Filtered, s.Failed, s.RateAvg, s.Percent, s.ETASeconds)
	}
}

// Snapshot returns the current counters without advancing the
// reporter's sliding window, with the rate from the latest tick; used
// by --progress-json-file.
func (r *Reporter) Snapshot() Snapshot {
	return r.counters.snapshot(time.Since(r.start), r.lastRate, r.currentRateAvg(), r.resolvers, r.lastErrRt)
}

func (r *Reporter) currentRateAvg() float64 {
	if len(r.window) == 0 {
		return 0
	}
	var sum float64
	for _, v := range r.window {
		sum += v
	}
	return sum / float64(len(r.window))
}
