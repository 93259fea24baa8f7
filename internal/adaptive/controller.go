// Package adaptive implements the optional feedback loop that backs
// off the send rate when errors climb and eases it back up when
// they subside.
package adaptive

import (
	"math"
	"time"

	"github.com/dnsscience/submapper/internal/metrics"
	"github.com/dnsscience/submapper/internal/ratelimit"
)

// Config tunes the controller.
type Config struct {
	MinRate        int
	MaxRate        int
	ErrorThreshold float64
	DecFactor      float64
	IncFactor      float64

	// MinSample is the minimum Δsent between samples before the
	// controller trusts the error ratio enough to act (default 100).
	MinSample uint64
}

// Controller samples Counters on an interval and adjusts a Limiter's
// rate based on the rolling error ratio.
type Controller struct {
	counters *metrics.Counters
	limiter  *ratelimit.Limiter
	cfg      Config

	lastSent uint64
	lastErr  uint64
}

// New creates a Controller. Defaults: MinSample=100, DecFactor=0.7,
// IncFactor=1.1, ErrorThreshold=0.15 if left zero.
func New(counters *metrics.Counters, limiter *ratelimit.Limiter, cfg Config) *Controller {
	if cfg.MinSample == 0 {
		cfg.MinSample = 100
	}
	if cfg.DecFactor <= 0 {
		cfg.DecFactor = 0.7
	}
	if cfg.IncFactor <= 0 {
		cfg.IncFactor = 1.1
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = 0.15
	}
	return &Controller{counters: counters, limiter: limiter, cfg: cfg}
}

// errorCount sums the same transient-failure classes as
// metrics.Counters.errDelta: timeouts, SERVFAIL, and REFUSED. Failed
// (a host that exhausted its retries) is a terminal outcome, not a
// per-query error, and is excluded.
func (c *Controller) errorCount() uint64 {
	return c.counters.Timeouts.Load() + c.counters.ServFail.Load() + c.counters.Refused.Load()
}

// Run samples at 2*interval and adjusts the limiter's rate until stop
// is closed.
func (c *Controller) Run(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(2 * interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sample()
		case <-stop:
			return
		}
	}
}

func (c *Controller) sample() {
	sent := c.counters.Sent.Load()
	errs := c.errorCount()

	deltaSent := sent - c.lastSent
	deltaErr := errs - c.lastErr
	c.lastSent = sent
	c.lastErr = errs

	if deltaSent < c.cfg.MinSample {
		return
	}

	ratio := float64(deltaErr) / float64(deltaSent)
	rate := c.limiter.Rate()
	if rate <= 0 {
		return
	}

	var next int
	if ratio > c.cfg.ErrorThreshold {
		next = int(float64(rate) * c.cfg.DecFactor)
	} else {
		next = int(math.Ceil(float64(rate) * c.cfg.IncFactor))
	}

	if c.cfg.MinRate > 0 && next < c.cfg.MinRate {
		next = c.cfg.MinRate
	}
	if c.cfg.MaxRate > 0 && next > c.cfg.MaxRate {
		next = c.cfg.MaxRate
	}
	if next != rate {
		c.limiter.SetRate(next)
	}
}
