// Package scheduler polls tenant feeds, feeds pending items to the workers
// and watches for items stuck in PROCESSING.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"newsrelay/internal/bot"
	"newsrelay/internal/dedup"
	"newsrelay/internal/fetcher"
	"newsrelay/internal/model"
	"newsrelay/internal/recovery"
	"newsrelay/internal/storage"
)

const defaultSweepBatch = 100

// Sender is the interface for sending Telegram messages.
type Sender interface {
	SendMessage(chatID int64, text string)
}

// Submitter queues items for processing.
type Submitter interface {
	Submit(ctx context.Context, itemID int64) bool
}

// Scheduler periodically discovers new articles and re-submits pending ones.
type Scheduler struct {
	store      storage.Storage
	fetcher    *fetcher.Fetcher
	dedup      *dedup.Engine
	recovery   *recovery.Coordinator
	pool       Submitter
	log        *slog.Logger
	tick       time.Duration
	stuckAfter time.Duration
	sweepBatch int

	sender    Sender
	adminChat int64
	alerted   map[int64]bool
}

// New creates a Scheduler with a 15-minute tick and a 30-minute stuck
// threshold.
func New(store storage.Storage, f *fetcher.Fetcher, engine *dedup.Engine, coord *recovery.Coordinator, pool Submitter, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:      store,
		fetcher:    f,
		dedup:      engine,
		recovery:   coord,
		pool:       pool,
		log:        log.With("component", "scheduler"),
		tick:       15 * time.Minute,
		stuckAfter: 30 * time.Minute,
		sweepBatch: defaultSweepBatch,
		alerted:    make(map[int64]bool),
	}
}

// SetTickInterval overrides the default poll interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// SetStuckThreshold overrides how long an item may stay PROCESSING.
func (s *Scheduler) SetStuckThreshold(d time.Duration) {
	s.stuckAfter = d
}

// SetAlerts enables stuck-item alerts to chatID.
func (s *Scheduler) SetAlerts(sender Sender, chatID int64) {
	s.sender = sender
	s.adminChat = chatID
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.checkAll(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkAll(ctx)
		}
	}
}

func (s *Scheduler) checkAll(ctx context.Context) {
	tenants, err := s.store.ListActiveTenants(ctx)
	if err != nil {
		s.log.Error("list active tenants", "error", err)
		return
	}

	for _, tenant := range tenants {
		if ctx.Err() != nil {
			return
		}
		s.pollTenant(ctx, tenant)
	}

	s.sweepPending(ctx)
	s.checkStuck(ctx)
}

func (s *Scheduler) pollTenant(ctx context.Context, tenant model.Tenant) {
	log := s.log.With("tenant", tenant.Slug)
	log.Debug("polling feed", "url", tenant.FeedURL)
	defer s.markPolled(ctx, tenant)

	feed, err := s.fetcher.Fetch(ctx, tenant.FeedURL)
	if err != nil {
		log.Error("fetch feed", "url", tenant.FeedURL, "error", err)
		return
	}

	admitted, queued := 0, 0
	for _, entry := range fetcher.Entries(feed.Items) {
		item, created, err := s.dedup.Admit(ctx, tenant, entry.Link, entry.Title)
		if err != nil {
			log.Warn("admit entry", "url", entry.Link, "error", err)
			continue
		}
		if !created {
			continue
		}
		admitted++
		if s.pool.Submit(ctx, item.ID) {
			queued++
		}
	}

	if admitted > 0 {
		log.Info("new items discovered", "count", admitted, "queued", queued)
	}
}

func (s *Scheduler) markPolled(ctx context.Context, tenant model.Tenant) {
	if err := s.store.MarkPolled(ctx, tenant.ID, time.Now().UTC()); err != nil {
		s.log.Error("mark polled", "tenant", tenant.Slug, "error", err)
	}
}

// sweepPending submits items left PENDING by a requeue, a full queue or a
// restart. Items already being processed lose the claim and are skipped.
func (s *Scheduler) sweepPending(ctx context.Context) {
	items, err := s.store.ListItems(ctx, storage.ItemFilter{
		Statuses:    []model.Status{model.StatusPending},
		Limit:       s.sweepBatch,
		OldestFirst: true,
	})
	if err != nil {
		s.log.Error("list pending items", "error", err)
		return
	}

	queued := 0
	for _, item := range items {
		if !s.pool.Submit(ctx, item.ID) {
			break
		}
		queued++
	}
	if queued > 0 {
		s.log.Debug("pending items submitted", "count", queued)
	}
}

func (s *Scheduler) checkStuck(ctx context.Context) {
	items, err := s.recovery.StuckItems(ctx, s.stuckAfter)
	if err != nil {
		s.log.Error("list stuck items", "error", err)
		return
	}

	current := make(map[int64]bool, len(items))
	var fresh []model.Item
	for _, item := range items {
		current[item.ID] = true
		s.log.Warn("item stuck in PROCESSING", "item_id", item.ID, "since", item.UpdatedAt)
		if !s.alerted[item.ID] {
			fresh = append(fresh, item)
		}
	}
	s.alerted = current

	if len(fresh) > 0 && s.sender != nil && s.adminChat != 0 {
		s.sender.SendMessage(s.adminChat, bot.FormatStuckAlert(fresh, s.stuckAfter))
	}
}
