// Package worker runs pipeline items on a bounded set of goroutines.
package worker

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"newsrelay/internal/pipeline"
)

// Processor runs the pipeline for one item.
type Processor interface {
	ProcessItem(ctx context.Context, itemID int64) (*pipeline.Result, error)
}

// Pool is a fixed number of workers fed by a bounded queue.
type Pool struct {
	proc    Processor
	workers int
	queue   chan int64
	log     *slog.Logger

	mu     sync.Mutex
	queued map[int64]bool
}

// New creates a Pool. Workers start with Run.
func New(proc Processor, workers, queueSize int, log *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		proc:    proc,
		workers: workers,
		queue:   make(chan int64, queueSize),
		log:     log.With("component", "worker"),
		queued:  make(map[int64]bool),
	}
}

// Submit enqueues an item without blocking. It returns false when the queue
// is full or ctx is done; the item stays PENDING and is picked up by a later
// sweep. Submitting an item that is already queued is a no-op.
func (p *Pool) Submit(ctx context.Context, itemID int64) bool {
	if ctx.Err() != nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queued[itemID] {
		return true
	}
	select {
	case p.queue <- itemID:
		p.queued[itemID] = true
		return true
	default:
		p.log.Debug("queue full", "item_id", itemID)
		return false
	}
}

// Run starts the workers and blocks until ctx is cancelled and every
// in-flight item has finished.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.work(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			p.mu.Lock()
			delete(p.queued, id)
			p.mu.Unlock()
			p.process(ctx, id)
		}
	}
}

func (p *Pool) process(ctx context.Context, id int64) {
	res, err := p.proc.ProcessItem(ctx, id)
	if err != nil {
		p.log.Error("process item", "item_id", id, "error", err)
		return
	}
	switch res.Outcome {
	case pipeline.OutcomeClaimConflict:
		p.log.Debug("claim conflict", "item_id", id, "status", res.Status)
	case pipeline.OutcomeTenantInactive:
		p.log.Debug("tenant inactive, item left pending", "item_id", id)
	default:
		p.log.Debug("item processed", "item_id", id, "outcome", res.Outcome, "status", res.Status)
	}
}
