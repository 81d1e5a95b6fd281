package pipeline

import (
	"context"
	"fmt"
	"time"

	"newsrelay/internal/fingerprint"
	"newsrelay/internal/model"
	"newsrelay/internal/publish"
	"newsrelay/internal/rewrite"
)

// step is one stage of a run. A step with an empty failStatus cannot fail
// the item; its errors abort the run.
type step struct {
	name       string
	failStatus model.Status
	kind       error
	timeout    time.Duration
	fn         func(ctx context.Context, r *run) error
}

func (o *Orchestrator) stepTable() []step {
	return []step{
		{name: "extract", failStatus: model.StatusFailedCrawl, kind: ErrCrawl, timeout: o.timeouts.Extract, fn: o.fetchArticle},
		{name: "dedup", fn: o.checkContent},
		{name: "rewrite", failStatus: model.StatusFailedAI, kind: ErrAI, timeout: o.timeouts.Rewrite, fn: o.rewritePost},
		{name: "sanity", failStatus: model.StatusFailedSanity, kind: ErrSanity, fn: o.checkSanity},
		{name: "publish", failStatus: model.StatusFailedWP, kind: ErrPublish, timeout: o.timeouts.Publish, fn: o.publishPost},
	}
}

func (o *Orchestrator) fetchArticle(ctx context.Context, r *run) error {
	article, err := o.collab.Extractor.Extract(ctx, r.item.SourceURL)
	if err != nil {
		return err
	}
	r.article = article
	return nil
}

// checkContent records the content fingerprint before asking whether it is
// unique, so two runs racing on the same text cannot both pass.
func (o *Orchestrator) checkContent(ctx context.Context, r *run) error {
	hash := fingerprint.Content(r.article.Text)
	if err := o.store.RecordContentHash(ctx, r.item.ID, hash); err != nil {
		return err
	}
	unique, err := o.dedup.CheckContentUnique(ctx, hash, r.item.ID)
	if err != nil {
		return err
	}
	if !unique {
		owner, ok, err := o.store.FingerprintOwner(ctx, model.FingerprintContent, hash)
		if err != nil || !ok {
			r.log.Warn("content fingerprint owner lookup", "hash", hash, "found", ok, "error", err)
			return fmt.Errorf("%w: same text as another item", errDuplicate)
		}
		return fmt.Errorf("%w: same text as item %d", errDuplicate, owner)
	}
	return nil
}

func (o *Orchestrator) rewritePost(ctx context.Context, r *run) error {
	title := r.item.TitleOriginal
	if title == "" {
		title = r.article.Title
	}
	post, err := o.collab.Rewriter.Rewrite(ctx, rewrite.Request{
		Title: title,
		Text:  r.article.Text,
		City:  r.tenant.City,
		Site:  r.tenant.Name,
	})
	if err != nil {
		return err
	}
	r.post = post
	return nil
}

func (o *Orchestrator) checkSanity(_ context.Context, r *run) error {
	return o.collab.Validator.Check(r.post.Title, r.post.Content)
}

func (o *Orchestrator) publishPost(ctx context.Context, r *run) error {
	remote, err := o.collab.Publisher.Publish(ctx, *r.tenant, publish.Post{
		Title:   r.post.Title,
		Content: r.post.Content,
		Excerpt: r.post.Excerpt,
	})
	if err != nil {
		return err
	}
	r.remote = remote
	return nil
}
