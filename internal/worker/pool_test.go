package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"newsrelay/internal/pipeline"
)

type recordingProcessor struct {
	mu      sync.Mutex
	seen    []int64
	release chan struct{}
}

func (r *recordingProcessor) ProcessItem(_ context.Context, id int64) (*pipeline.Result, error) {
	if r.release != nil {
		<-r.release
	}
	r.mu.Lock()
	r.seen = append(r.seen, id)
	r.mu.Unlock()
	if id < 0 {
		return nil, errors.New("boom")
	}
	return &pipeline.Result{ItemID: id, Outcome: pipeline.OutcomePublished}, nil
}

func (r *recordingProcessor) processed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]int64(nil), r.seen...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPoolProcessesSubmittedItems(t *testing.T) {
	proc := &recordingProcessor{}
	pool := New(proc, 3, 10, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	for _, id := range []int64{1, 2, 3, -4, 5} {
		if !pool.Submit(ctx, id) {
			t.Fatalf("submit %d rejected", id)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(proc.processed()) < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out, processed %v", proc.processed())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	if diff := cmp.Diff([]int64{-4, 1, 2, 3, 5}, proc.processed()); diff != "" {
		t.Errorf("processed mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitFullQueue(t *testing.T) {
	pool := New(&recordingProcessor{}, 1, 2, discard())
	ctx := context.Background()

	if !pool.Submit(ctx, 1) || !pool.Submit(ctx, 2) {
		t.Fatal("submit rejected before queue was full")
	}
	if pool.Submit(ctx, 3) {
		t.Error("submit accepted on a full queue")
	}
	if !pool.Submit(ctx, 1) {
		t.Error("resubmitting a queued item should be accepted as a no-op")
	}
	if diff := cmp.Diff(2, len(pool.queue)); diff != "" {
		t.Errorf("queue length mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitAfterCancel(t *testing.T) {
	pool := New(&recordingProcessor{}, 1, 2, discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if pool.Submit(ctx, 1) {
		t.Error("submit accepted on cancelled context")
	}
}

func TestRunWaitsForInFlightItems(t *testing.T) {
	proc := &recordingProcessor{release: make(chan struct{})}
	pool := New(proc, 1, 1, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	pool.Submit(ctx, 7)
	deadline := time.Now().Add(5 * time.Second)
	for len(pool.queue) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("item was never picked up")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while an item was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(proc.release)
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff([]int64{7}, proc.processed()); diff != "" {
		t.Errorf("processed mismatch (-want +got):\n%s", diff)
	}
}
