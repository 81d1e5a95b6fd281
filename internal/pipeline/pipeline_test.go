package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"newsrelay/internal/dedup"
	"newsrelay/internal/extract"
	"newsrelay/internal/fingerprint"
	"newsrelay/internal/model"
	"newsrelay/internal/publish"
	"newsrelay/internal/recovery"
	"newsrelay/internal/rewrite"
	"newsrelay/internal/sanity"
	"newsrelay/internal/storage"
)

var loremText = strings.Repeat("Lorem ipsum dolor sit amet, consectetur adipiscing elit. ", 11)

type fakeExtractor struct {
	mu    sync.Mutex
	texts map[string]string
	err   error
	block bool
}

func (f *fakeExtractor) Extract(ctx context.Context, url string) (*extract.Article, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	text, ok := f.texts[url]
	if !ok {
		return nil, extract.ErrEmpty
	}
	return &extract.Article{Title: "Extracted title", Text: text}, nil
}

type fakeRewriter struct {
	calls atomic.Int32
	err   error
	last  rewrite.Request
	mu    sync.Mutex
}

func (f *fakeRewriter) Rewrite(_ context.Context, in rewrite.Request) (*rewrite.Result, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = in
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &rewrite.Result{
		Title:   "Rewritten: " + in.Title,
		Content: "<p>" + in.Text + "</p>",
		Excerpt: "Excerpt",
	}, nil
}

type fakePublisher struct {
	calls   atomic.Int32
	err     error
	release chan struct{}
}

func (f *fakePublisher) Publish(_ context.Context, tenant model.Tenant, _ publish.Post) (*publish.Result, error) {
	n := f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return &publish.Result{
		PostID: fmt.Sprintf("%d", 100+n),
		URL:    fmt.Sprintf("https://%s.example/?p=%d", tenant.Slug, 100+n),
	}, nil
}

type harness struct {
	store     *storage.SQLite
	tenant    *model.Tenant
	engine    *dedup.Engine
	extractor *fakeExtractor
	rewriter  *fakeRewriter
	publisher *fakePublisher
	orch      *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	tenant := &model.Tenant{
		Slug:            "gdansk",
		Name:            "Gdansk Today",
		City:            "Gdansk",
		FeedURL:         "https://gdansk.example/rss",
		PublishEndpoint: "https://gdansk.example/wp-json",
		IsActive:        true,
	}
	if err := store.CreateTenant(context.Background(), tenant); err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	checker, err := sanity.New(sanity.DefaultMinLength, sanity.DefaultRules())
	if err != nil {
		t.Fatalf("sanity: %v", err)
	}

	h := &harness{
		store:     store,
		tenant:    tenant,
		engine:    dedup.New(store),
		extractor: &fakeExtractor{texts: map[string]string{}},
		rewriter:  &fakeRewriter{},
		publisher: &fakePublisher{},
	}
	h.orch = New(store, h.engine, Collaborators{
		Extractor: h.extractor,
		Rewriter:  h.rewriter,
		Validator: checker,
		Publisher: h.publisher,
	}, Timeouts{Extract: time.Second, Rewrite: time.Second, Publish: time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

func (h *harness) admit(t *testing.T, url, text string) *model.Item {
	t.Helper()
	return h.admitTo(t, h.tenant, url, text)
}

func (h *harness) admitTo(t *testing.T, tenant *model.Tenant, url, text string) *model.Item {
	t.Helper()
	item, created, err := h.engine.Admit(context.Background(), *tenant, url, "Original title")
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if !created {
		t.Fatalf("item %s already exists", url)
	}
	h.extractor.mu.Lock()
	h.extractor.texts[url] = text
	h.extractor.mu.Unlock()
	return item
}

func (h *harness) item(t *testing.T, id int64) *model.Item {
	t.Helper()
	item, err := h.store.GetItem(context.Background(), id)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	return item
}

func (h *harness) process(t *testing.T, id int64) *Result {
	t.Helper()
	res, err := h.orch.ProcessItem(context.Background(), id)
	if err != nil {
		t.Fatalf("process item %d: %v", id, err)
	}
	return res
}

func TestScenarioPublished(t *testing.T) {
	h := newHarness(t)
	a := h.admit(t, "https://example.com/a", loremText)

	res := h.process(t, a.ID)
	if diff := cmp.Diff(OutcomePublished, res.Outcome); diff != "" {
		t.Fatalf("outcome mismatch (-want +got):\n%s", diff)
	}

	got := h.item(t, a.ID)
	if diff := cmp.Diff(model.StatusPublished, got.Status); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	if got.PostID == "" || got.PublishedURL == "" || got.PublishedAt == nil {
		t.Errorf("publication not recorded: %+v", got)
	}
	if diff := cmp.Diff(fingerprint.Content(loremText), got.ContentHash); diff != "" {
		t.Errorf("content hash mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("Rewritten: Original title", got.TitleRewritten); diff != "" {
		t.Errorf("rewritten title mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("Gdansk", h.rewriter.last.City); diff != "" {
		t.Errorf("rewrite city mismatch (-want +got):\n%s", diff)
	}

	entries, err := h.store.ListLog(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("list log: %v", err)
	}
	var steps []string
	for _, e := range entries {
		steps = append(steps, e.Step+":"+string(e.Outcome))
		if e.RunID != res.RunID {
			t.Errorf("log entry %s has run id %q, want %q", e.Step, e.RunID, res.RunID)
		}
	}
	wantSteps := []string{"claim:ok", "extract:ok", "dedup:ok", "rewrite:ok", "sanity:ok", "publish:ok", "finalize:ok"}
	if diff := cmp.Diff(wantSteps, steps); diff != "" {
		t.Errorf("processing log mismatch (-want +got):\n%s", diff)
	}

	// A finished item cannot be claimed again.
	again := h.process(t, a.ID)
	if diff := cmp.Diff(OutcomeClaimConflict, again.Outcome); diff != "" {
		t.Errorf("reprocess outcome mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(int32(1), h.publisher.calls.Load()); diff != "" {
		t.Errorf("publish calls mismatch (-want +got):\n%s", diff)
	}
}

func TestScenarioDuplicateContent(t *testing.T) {
	h := newHarness(t)
	a := h.admit(t, "https://example.com/a", loremText)
	b := h.admit(t, "https://example.com/b", "  "+strings.ReplaceAll(loremText, ". ", ".\n"))

	h.process(t, a.ID)
	res := h.process(t, b.ID)

	if diff := cmp.Diff(OutcomeSkippedDuplicate, res.Outcome); diff != "" {
		t.Fatalf("outcome mismatch (-want +got):\n%s", diff)
	}
	got := h.item(t, b.ID)
	if diff := cmp.Diff(model.StatusSkippedDuplicate, got.Status); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("", got.ErrorMessage); diff != "" {
		t.Errorf("duplicate skip recorded an error (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(int32(1), h.publisher.calls.Load()); diff != "" {
		t.Errorf("publish calls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(int32(1), h.rewriter.calls.Load()); diff != "" {
		t.Errorf("rewrite calls mismatch (-want +got):\n%s", diff)
	}
}

func TestDuplicateDetectedBeforeOriginalFinishes(t *testing.T) {
	h := newHarness(t)
	a := h.admit(t, "https://example.com/a", loremText)
	b := h.admit(t, "https://example.com/b", loremText)

	// a fails after its fingerprint is recorded; b must still be caught.
	h.publisher.err = errors.New("wordpress returned 500")
	resA := h.process(t, a.ID)
	if diff := cmp.Diff(model.StatusFailedWP, resA.Status); diff != "" {
		t.Fatalf("status of a mismatch (-want +got):\n%s", diff)
	}

	resB := h.process(t, b.ID)
	if diff := cmp.Diff(OutcomeSkippedDuplicate, resB.Outcome); diff != "" {
		t.Errorf("outcome of b mismatch (-want +got):\n%s", diff)
	}
}

func TestRequeuedOwnerPublishesAfterDuplicateSkip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.admit(t, "https://example.com/a", loremText)
	b := h.admit(t, "https://example.com/b", loremText)

	h.publisher.err = errors.New("wordpress returned 503")
	if diff := cmp.Diff(model.StatusFailedWP, h.process(t, a.ID).Status); diff != "" {
		t.Fatalf("status of a mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(OutcomeSkippedDuplicate, h.process(t, b.ID).Outcome); diff != "" {
		t.Fatalf("outcome of b mismatch (-want +got):\n%s", diff)
	}

	requeued, err := recovery.New(h.store, slog.New(slog.NewTextHandler(io.Discard, nil))).RequeueFailed(ctx, a.ID)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if diff := cmp.Diff(model.StatusPending, requeued.Status); diff != "" {
		t.Fatalf("requeued status mismatch (-want +got):\n%s", diff)
	}

	h.publisher.err = nil
	res := h.process(t, a.ID)
	if diff := cmp.Diff(OutcomePublished, res.Outcome); diff != "" {
		t.Fatalf("outcome after requeue mismatch (-want +got):\n%s", diff)
	}
	got := h.item(t, a.ID)
	if diff := cmp.Diff(model.StatusPublished, got.Status); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, got.RetryCount); diff != "" {
		t.Errorf("retry count mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("", got.ErrorMessage); diff != "" {
		t.Errorf("stale error message (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(model.StatusSkippedDuplicate, h.item(t, b.ID).Status); diff != "" {
		t.Errorf("status of b mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(int32(2), h.publisher.calls.Load()); diff != "" {
		t.Errorf("publish calls mismatch (-want +got):\n%s", diff)
	}
}

func TestDuplicateStillBlockedAfterOwnerTenantRemoved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	krakow := &model.Tenant{
		Slug:            "krakow",
		Name:            "Krakow Today",
		City:            "Krakow",
		FeedURL:         "https://krakow.example/rss",
		PublishEndpoint: "https://krakow.example/wp-json",
		IsActive:        true,
	}
	if err := h.store.CreateTenant(ctx, krakow); err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	a := h.admitTo(t, krakow, "https://krakow.example/story", loremText)
	b := h.admit(t, "https://gdansk.example/story", loremText)
	if diff := cmp.Diff(OutcomePublished, h.process(t, a.ID).Outcome); diff != "" {
		t.Fatalf("outcome of a mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(OutcomeSkippedDuplicate, h.process(t, b.ID).Outcome); diff != "" {
		t.Fatalf("outcome of b mismatch (-want +got):\n%s", diff)
	}

	if err := h.store.DeleteTenant(ctx, krakow.ID); err != nil {
		t.Fatalf("delete tenant: %v", err)
	}

	c := h.admit(t, "https://gdansk.example/story-again", loremText)
	res := h.process(t, c.ID)
	if diff := cmp.Diff(OutcomeSkippedDuplicate, res.Outcome); diff != "" {
		t.Errorf("outcome of c mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(int32(1), h.publisher.calls.Load()); diff != "" {
		t.Errorf("publish calls mismatch (-want +got):\n%s", diff)
	}
}

type ownerLookupFails struct {
	storage.Storage
}

func (ownerLookupFails) FingerprintOwner(context.Context, model.FingerprintKind, string) (int64, bool, error) {
	return 0, false, errors.New("database is locked")
}

func TestDuplicateDetailWithoutOwner(t *testing.T) {
	h := newHarness(t)
	a := h.admit(t, "https://example.com/a", loremText)
	b := h.admit(t, "https://example.com/b", loremText)
	h.process(t, a.ID)

	h.orch.store = ownerLookupFails{Storage: h.store}
	if diff := cmp.Diff(OutcomeSkippedDuplicate, h.process(t, b.ID).Outcome); diff != "" {
		t.Fatalf("outcome mismatch (-want +got):\n%s", diff)
	}

	entries, err := h.store.ListLog(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("list log: %v", err)
	}
	var detail string
	for _, e := range entries {
		if e.Step == "dedup" {
			detail = e.Detail
		}
	}
	if diff := cmp.Diff("duplicate content: same text as another item", detail); diff != "" {
		t.Errorf("dedup detail mismatch (-want +got):\n%s", diff)
	}
}

func TestScenarioSanityFailure(t *testing.T) {
	h := newHarness(t)
	c := h.admit(t, "https://example.com/c", strings.Repeat("x", 120))

	res := h.process(t, c.ID)
	if diff := cmp.Diff(OutcomeFailed, res.Outcome); diff != "" {
		t.Fatalf("outcome mismatch (-want +got):\n%s", diff)
	}
	if !errors.Is(res.Err, ErrSanity) || !errors.Is(res.Err, sanity.ErrTooShort) {
		t.Errorf("expected sanity error, got %v", res.Err)
	}

	got := h.item(t, c.ID)
	if diff := cmp.Diff(model.StatusFailedSanity, got.Status); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	if got.TitleRewritten != "" || got.Excerpt != "" || got.PostID != "" || got.PublishedURL != "" || got.PublishedAt != nil {
		t.Errorf("rewrite result fields populated: %+v", got)
	}
	if !strings.HasPrefix(got.ErrorMessage, "sanity: ") {
		t.Errorf("error message %q does not name the step", got.ErrorMessage)
	}
	if diff := cmp.Diff(int32(0), h.publisher.calls.Load()); diff != "" {
		t.Errorf("publish calls mismatch (-want +got):\n%s", diff)
	}
}

func TestStepFailures(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(h *harness)
		wantStatus model.Status
		wantKind   error
	}{
		{
			name:       "extraction error",
			setup:      func(h *harness) { h.extractor.err = errors.New("unexpected status 404") },
			wantStatus: model.StatusFailedCrawl,
			wantKind:   ErrCrawl,
		},
		{
			name:       "extraction timeout",
			setup:      func(h *harness) { h.extractor.block = true },
			wantStatus: model.StatusFailedCrawl,
			wantKind:   context.DeadlineExceeded,
		},
		{
			name:       "rewrite error",
			setup:      func(h *harness) { h.rewriter.err = fmt.Errorf("%w: empty title", rewrite.ErrMalformed) },
			wantStatus: model.StatusFailedAI,
			wantKind:   rewrite.ErrMalformed,
		},
		{
			name:       "publish error",
			setup:      func(h *harness) { h.publisher.err = errors.New("wordpress returned 401") },
			wantStatus: model.StatusFailedWP,
			wantKind:   ErrPublish,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.orch.timeouts.Extract = 50 * time.Millisecond
			h.orch.steps = h.orch.stepTable()
			tt.setup(h)
			item := h.admit(t, "https://example.com/a", loremText)

			res := h.process(t, item.ID)
			if diff := cmp.Diff(OutcomeFailed, res.Outcome); diff != "" {
				t.Fatalf("outcome mismatch (-want +got):\n%s", diff)
			}
			if !errors.Is(res.Err, tt.wantKind) {
				t.Errorf("expected %v in %v", tt.wantKind, res.Err)
			}
			var stepErr *StepError
			if !errors.As(res.Err, &stepErr) {
				t.Fatalf("expected *StepError, got %T", res.Err)
			}

			got := h.item(t, item.ID)
			if diff := cmp.Diff(tt.wantStatus, got.Status); diff != "" {
				t.Errorf("status mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(stepErr.Error(), got.ErrorMessage); diff != "" {
				t.Errorf("error message mismatch (-want +got):\n%s", diff)
			}
			if got.PublishedAt != nil {
				t.Error("failed item has published_at")
			}
		})
	}
}

func TestConcurrentProcessSameItem(t *testing.T) {
	h := newHarness(t)
	h.publisher.release = make(chan struct{})
	item := h.admit(t, "https://example.com/a", loremText)

	const callers = 5
	results := make(chan *Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.orch.ProcessItem(context.Background(), item.ID)
			if err != nil {
				t.Errorf("process: %v", err)
				return
			}
			results <- res
		}()
	}

	// Let the winner finish only after every loser has returned.
	waitFor(t, func() bool { return len(results) == callers-1 })
	close(h.publisher.release)
	wg.Wait()
	close(results)

	counts := map[Outcome]int{}
	for res := range results {
		counts[res.Outcome]++
	}
	want := map[Outcome]int{OutcomePublished: 1, OutcomeClaimConflict: callers - 1}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(int32(1), h.publisher.calls.Load()); diff != "" {
		t.Errorf("publish calls mismatch (-want +got):\n%s", diff)
	}

	entries, _ := h.store.ListLog(context.Background(), item.ID)
	runs := map[string]bool{}
	for _, e := range entries {
		runs[e.RunID] = true
	}
	if diff := cmp.Diff(1, len(runs)); diff != "" {
		t.Errorf("run count mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentDuplicateContent(t *testing.T) {
	h := newHarness(t)
	a := h.admit(t, "https://example.com/a", loremText)
	b := h.admit(t, "https://example.com/b", loremText)

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	for i, id := range []int64{a.ID, b.ID} {
		i, id := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.orch.ProcessItem(context.Background(), id)
			if err != nil {
				t.Errorf("process: %v", err)
				return
			}
			results[i] = res
		}()
	}
	wg.Wait()

	counts := map[Outcome]int{}
	for _, res := range results {
		if res != nil {
			counts[res.Outcome]++
		}
	}
	want := map[Outcome]int{OutcomePublished: 1, OutcomeSkippedDuplicate: 1}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
}

func TestInactiveTenant(t *testing.T) {
	h := newHarness(t)
	item := h.admit(t, "https://example.com/a", loremText)

	h.tenant.IsActive = false
	if err := h.store.UpsertTenant(context.Background(), h.tenant); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	res := h.process(t, item.ID)
	if diff := cmp.Diff(OutcomeTenantInactive, res.Outcome); diff != "" {
		t.Errorf("outcome mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(model.StatusPending, h.item(t, item.ID).Status); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	if entries, _ := h.store.ListLog(context.Background(), item.ID); len(entries) != 0 {
		t.Errorf("inactive tenant run wrote %d log entries", len(entries))
	}
}

func TestCancelledCallerDoesNotInterruptClaimedRun(t *testing.T) {
	h := newHarness(t)
	h.publisher.release = make(chan struct{})
	item := h.admit(t, "https://example.com/a", loremText)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *Result, 1)
	go func() {
		res, err := h.orch.ProcessItem(ctx, item.ID)
		if err != nil {
			t.Errorf("process: %v", err)
		}
		done <- res
	}()

	waitFor(t, func() bool { return h.publisher.calls.Load() == 1 })
	cancel()
	close(h.publisher.release)

	res := <-done
	if res == nil {
		t.Fatal("no result")
	}
	if diff := cmp.Diff(OutcomePublished, res.Outcome); diff != "" {
		t.Errorf("outcome mismatch (-want +got):\n%s", diff)
	}
}

func TestUnknownItem(t *testing.T) {
	h := newHarness(t)
	if _, err := h.orch.ProcessItem(context.Background(), 42); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
