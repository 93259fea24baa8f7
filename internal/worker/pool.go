// Package worker provides a bounded pool of goroutines for running
// blocking jobs (here, DNS exchange attempts) without letting the
// number of in-flight blocking syscalls track the number of
// orchestrator-level concurrency permits 1:1.
package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed = errors.New("worker pool closed")
	ErrJobTimeout = errors.New("job timed out waiting in queue")
	ErrQueueFull  = errors.New("job queue is full")
)

// Job is a unit of blocking work.
type Job interface {
	Execute(ctx context.Context) error
}

type JobFunc func(ctx context.Context) error

func (f JobFunc) Execute(ctx context.Context) error { return f(ctx) }

// Config holds worker pool configuration.
type Config struct {
	// Workers is the number of goroutines (default runtime.NumCPU()*4).
	Workers int

	// QueueSize bounds the pending-job buffer (default Workers*100).
	QueueSize int

	// QueueTimeout bounds how long Submit waits for a free slot.
	// 0 means no timeout.
	QueueTimeout time.Duration

	// PanicHandler, if set, is invoked when a job panics.
	PanicHandler func(interface{})
}

// Pool is a bounded worker pool.
type Pool struct {
	workers      int
	queue        chan *jobWrapper
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	closed       atomic.Bool
	queueSize    int
	queueTimeout time.Duration

	panicHandler func(interface{})

	jobsSubmitted atomic.Uint64
	jobsCompleted atomic.Uint64
	jobsRejected  atomic.Uint64
	jobsFailed    atomic.Uint64
	jobsTimedOut  atomic.Uint64
	totalLatency  atomic.Uint64
}

type jobWrapper struct {
	job        Job
	ctx        context.Context
	resultCh   chan error
	submitTime time.Time
}

func NewPool(cfg Config) *Pool {
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU() * 4
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = cfg.Workers * 100
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		workers:      cfg.Workers,
		queue:        make(chan *jobWrapper, cfg.QueueSize),
		ctx:          ctx,
		cancel:       cancel,
		queueSize:    cfg.QueueSize,
		queueTimeout: cfg.QueueTimeout,
		panicHandler: cfg.PanicHandler,
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case wrapper, ok := <-p.queue:
			if !ok {
				return
			}
			p.executeJob(wrapper)
		}
	}
}

func (p *Pool) executeJob(wrapper *jobWrapper) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			select {
			case wrapper.resultCh <- errors.New("job panicked"):
			default:
			}
			p.jobsFailed.Add(1)
		}
	}()

	start := time.Now()
	err := wrapper.job.Execute(wrapper.ctx)
	p.totalLatency.Add(uint64(time.Since(start).Nanoseconds()))

	select {
	case wrapper.resultCh <- err:
	default:
	}

	if err != nil {
		p.jobsFailed.Add(1)
	} else {
		p.jobsCompleted.Add(1)
	}
}

// Submit queues job and blocks until it completes or ctx is canceled.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.jobsSubmitted.Add(1)

	wrapper := &jobWrapper{
		job:        job,
		ctx:        ctx,
		resultCh:   make(chan error, 1),
		submitTime: time.Now(),
	}

	var timeoutCtx context.Context
	if p.queueTimeout > 0 {
		var cancel context.CancelFunc
		timeoutCtx, cancel = context.WithTimeout(ctx, p.queueTimeout)
		defer cancel()
	} else {
		timeoutCtx = ctx
	}

	select {
	case p.queue <- wrapper:
		select {
		case err := <-wrapper.resultCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-timeoutCtx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		p.jobsTimedOut.Add(1)
		return ErrJobTimeout
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// TrySubmit queues job without waiting for a queue slot, returning
// ErrQueueFull if the queue has no free slot. Once queued, it waits
// for the job's result or ctx cancellation, like Submit.
func (p *Pool) TrySubmit(ctx context.Context, job Job) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.jobsSubmitted.Add(1)

	wrapper := &jobWrapper{
		job:        job,
		ctx:        ctx,
		resultCh:   make(chan error, 1),
		submitTime: time.Now(),
	}

	select {
	case p.queue <- wrapper:
		select {
		case err := <-wrapper.resultCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		p.jobsRejected.Add(1)
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for in-flight jobs to finish.
func (p *Pool) Close() error {
	if p.closed.Swap(true) {
		return ErrPoolClosed
	}
	close(p.queue)
	p.wg.Wait()
	p.cancel()
	return nil
}

// CloseTimeout is Close bounded by timeout; workers keep running in the
// background if the deadline is exceeded.
func (p *Pool) CloseTimeout(timeout time.Duration) error {
	if p.closed.Swap(true) {
		return ErrPoolClosed
	}
	close(p.queue)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		return errors.New("shutdown timeout exceeded")
	}
}

// Stats reports pool counters.
type Stats struct {
	Workers      int
	QueueSize    int
	QueueDepth   int
	Submitted    uint64
	Completed    uint64
	Rejected     uint64
	Failed       uint64
	TimedOut     uint64
	AvgLatencyNs uint64
}

func (p *Pool) GetStats() Stats {
	completed := p.jobsCompleted.Load()
	totalLatency := p.totalLatency.Load()

	var avgLatency uint64
	if completed > 0 {
		avgLatency = totalLatency / completed
	}

	return Stats{
		Workers:      p.workers,
		QueueSize:    p.queueSize,
		QueueDepth:   len(p.queue),
		Submitted:    p.jobsSubmitted.Load(),
		Completed:    completed,
		Rejected:     p.jobsRejected.Load(),
		Failed:       p.jobsFailed.Load(),
		TimedOut:     p.jobsTimedOut.Load(),
		AvgLatencyNs: avgLatency,
	}
}

func (p *Pool) QueueDepth() int { return len(p.queue) }
