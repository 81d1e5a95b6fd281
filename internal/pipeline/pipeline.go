// Package pipeline drives an item from PENDING to a terminal state: claim,
// extract, content dedup, rewrite, sanity check, publish and finalize.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"newsrelay/internal/dedup"
	"newsrelay/internal/extract"
	"newsrelay/internal/model"
	"newsrelay/internal/publish"
	"newsrelay/internal/rewrite"
	"newsrelay/internal/storage"
)

// Outcome is how a ProcessItem call ended.
type Outcome string

// Pipeline outcomes.
const (
	OutcomePublished        Outcome = "published"
	OutcomeSkippedDuplicate Outcome = "skipped_duplicate"
	OutcomeFailed           Outcome = "failed"
	OutcomeClaimConflict    Outcome = "claim_conflict"
	OutcomeTenantInactive   Outcome = "tenant_inactive"
)

// Extractor fetches the article text of a source URL.
type Extractor interface {
	Extract(ctx context.Context, sourceURL string) (*extract.Article, error)
}

// Rewriter produces the post from the extracted text.
type Rewriter interface {
	Rewrite(ctx context.Context, in rewrite.Request) (*rewrite.Result, error)
}

// Validator checks a rewritten post before it is published.
type Validator interface {
	Check(title, content string) error
}

// Publisher creates the post on the tenant's site.
type Publisher interface {
	Publish(ctx context.Context, tenant model.Tenant, post publish.Post) (*publish.Result, error)
}

// Timeouts bound the external calls of a run. Zero means no limit.
type Timeouts struct {
	Extract time.Duration
	Rewrite time.Duration
	Publish time.Duration
}

// Collaborators are the external services a run calls.
type Collaborators struct {
	Extractor Extractor
	Rewriter  Rewriter
	Validator Validator
	Publisher Publisher
}

// Result describes a finished ProcessItem call. Err is the step error of a
// failed run.
type Result struct {
	ItemID  int64
	RunID   string
	Outcome Outcome
	Status  model.Status
	Err     error
}

// Orchestrator runs the pipeline.
type Orchestrator struct {
	store    storage.Storage
	dedup    *dedup.Engine
	collab   Collaborators
	timeouts Timeouts
	steps    []step
	log      *slog.Logger
}

// New creates an Orchestrator.
func New(store storage.Storage, engine *dedup.Engine, collab Collaborators, timeouts Timeouts, log *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		dedup:    engine,
		collab:   collab,
		timeouts: timeouts,
		log:      log.With("component", "pipeline"),
	}
	o.steps = o.stepTable()
	return o
}

// run is the state carried between the steps of one pipeline run.
type run struct {
	id      string
	item    *model.Item
	tenant  *model.Tenant
	article *extract.Article
	post    *rewrite.Result
	remote  *publish.Result
	log     *slog.Logger
}

// ProcessItem runs the pipeline for one item. Concurrent calls for the same
// item are safe: exactly one claims it, the others return
// OutcomeClaimConflict without writing anything. A returned error means the
// run could not record its result; the item may then be left PROCESSING.
func (o *Orchestrator) ProcessItem(ctx context.Context, itemID int64) (*Result, error) {
	item, err := o.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("load item %d: %w", itemID, err)
	}
	tenant, err := o.store.GetTenant(ctx, item.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant of item %d: %w", itemID, err)
	}

	res := &Result{ItemID: itemID, Status: item.Status}
	if !tenant.IsActive {
		res.Outcome = OutcomeTenantInactive
		return res, nil
	}

	claimed, err := o.store.ClaimItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		res.Outcome = OutcomeClaimConflict
		return res, nil
	}

	// From here on the item is ours; only step timeouts bound the run.
	ctx = context.WithoutCancel(ctx)

	r := &run{
		id:     uuid.NewString(),
		item:   item,
		tenant: tenant,
	}
	r.log = o.log.With("item_id", itemID, "tenant", tenant.Slug, "run_id", r.id)
	res.RunID = r.id
	res.Status = model.StatusProcessing

	r.log.Info("item claimed", "url", item.SourceURL, "retry", item.RetryCount)
	o.appendLog(ctx, r, "claim", model.OutcomeOK, "")

	for _, st := range o.steps {
		err := o.runStep(ctx, r, st)
		if err == nil {
			o.appendLog(ctx, r, st.name, model.OutcomeOK, "")
			continue
		}

		if errors.Is(err, errDuplicate) {
			o.appendLog(ctx, r, st.name, model.OutcomeSkipped, err.Error())
			if err := o.store.FinishItem(ctx, itemID, model.StatusSkippedDuplicate, ""); err != nil {
				return o.abort(r, res, "skip duplicate", err)
			}
			r.log.Info("duplicate content, skipped")
			res.Outcome = OutcomeSkippedDuplicate
			res.Status = model.StatusSkippedDuplicate
			return res, nil
		}

		if st.failStatus == "" {
			o.appendLog(ctx, r, st.name, model.OutcomeFailed, err.Error())
			return o.abort(r, res, st.name, err)
		}

		stepErr := &StepError{Step: st.name, Kind: st.kind, Err: err}
		o.appendLog(ctx, r, st.name, model.OutcomeFailed, err.Error())
		if err := o.store.FinishItem(ctx, itemID, st.failStatus, stepErr.Error()); err != nil {
			return o.abort(r, res, "record failure", err)
		}
		r.log.Warn("step failed", "step", st.name, "status", st.failStatus, "error", err)
		res.Outcome = OutcomeFailed
		res.Status = st.failStatus
		res.Err = stepErr
		return res, nil
	}

	pub := model.Publication{
		PostID:         r.remote.PostID,
		URL:            r.remote.URL,
		TitleRewritten: r.post.Title,
		Excerpt:        r.post.Excerpt,
		PublishedAt:    time.Now().UTC(),
	}
	if err := o.store.PublishItem(ctx, itemID, pub); err != nil {
		o.appendLog(ctx, r, "finalize", model.OutcomeFailed, err.Error())
		return o.abort(r, res, "finalize", err)
	}
	o.appendLog(ctx, r, "finalize", model.OutcomeOK, "post "+pub.PostID)
	r.log.Info("item published", "post_id", pub.PostID, "url", pub.URL)

	res.Outcome = OutcomePublished
	res.Status = model.StatusPublished
	return res, nil
}

func (o *Orchestrator) runStep(ctx context.Context, r *run, st step) error {
	if st.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, st.timeout)
		defer cancel()
	}
	start := time.Now()
	err := st.fn(ctx, r)
	r.log.Debug("step done", "step", st.name, "duration", time.Since(start), "error", err)
	return err
}

func (o *Orchestrator) abort(r *run, res *Result, stage string, err error) (*Result, error) {
	r.log.Error("pipeline run aborted, item left in PROCESSING", "stage", stage, "error", err)
	return res, fmt.Errorf("item %d %s: %w", res.ItemID, stage, err)
}

func (o *Orchestrator) appendLog(ctx context.Context, r *run, stepName string, outcome model.LogOutcome, detail string) {
	entry := &model.LogEntry{
		ItemID:  r.item.ID,
		RunID:   r.id,
		Step:    stepName,
		Outcome: outcome,
		Detail:  detail,
	}
	if err := o.store.AppendLog(ctx, entry); err != nil {
		r.log.Warn("append processing log", "step", stepName, "error", err)
	}
}
