// Package ratelimit implements the scanner's single global send-rate
// cap: a counting semaphore refilled once a second, sized so the
// number of permits added per tick never exceeds the configured rate.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter gates outbound query attempts to at most Rate() per second,
// averaged over 1-second steps rather than smoothed continuously.
// Setting the rate to 0 bypasses the limiter entirely (unthrottled
// best-effort sends): Acquire then returns immediately.
type Limiter struct {
	rate atomic.Int64
	sem  chan struct{}
	cap  int
	mu   sync.Mutex
	stop chan struct{}
	once sync.Once
}

// semCapacity bounds the permit buffer. Permits are struct{} (zero
// width), so a large fixed capacity costs nothing at rest; it exists
// only so SetRate can raise the rate at runtime without the buffer
// itself becoming the bottleneck.
const semCapacity = 1 << 20

// New creates a Limiter starting at rate packets/sec. A rate of 0
// starts the limiter in bypass mode.
func New(rate int) *Limiter {
	if rate < 0 {
		rate = 0
	}
	l := &Limiter{
		sem:  make(chan struct{}, semCapacity),
		cap:  semCapacity,
		stop: make(chan struct{}),
	}
	l.rate.Store(int64(rate))
	l.refill()
	return l
}

// Bypassed reports whether the limiter is currently configured with
// rate 0, i.e. every Acquire returns immediately without consuming a
// permit.
func (l *Limiter) Bypassed() bool {
	return l.rate.Load() <= 0
}

// Rate returns the current configured rate in packets/sec.
func (l *Limiter) Rate() int {
	return int(l.rate.Load())
}

// SetRate changes the rate. Takes effect on the next refill tick; does
// not retroactively grant or revoke already-issued permits.
func (l *Limiter) SetRate(rate int) {
	if rate < 0 {
		rate = 0
	}
	l.rate.Store(int64(rate))
}

// Acquire blocks until a send permit is available, the limiter is
// bypassed, or ctx is canceled.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.Bypassed() {
		return nil
	}
	select {
	case <-l.sem:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the 1-second refill loop. It blocks until ctx is
// canceled or Stop is called; run it in its own goroutine.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.refill()
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		}
	}
}

// refill tops the bucket up to the current rate by adding
// max(0, rate - len(sem)) tokens, where len(sem) is the count of
// permits Acquire hasn't drained yet this step.
func (l *Limiter) refill() {
	rate := int(l.rate.Load())
	if rate <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	available := len(l.sem)
	add := rate - available
	if add <= 0 {
		return
	}
	for i := 0; i < add; i++ {
		select {
		case l.sem <- struct{}{}:
		default:
			return
		}
	}
}

// Stop terminates the refill goroutine started by Run.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}
