// Package recovery re-admits failed items and reports items that stopped
// making progress.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"newsrelay/internal/model"
	"newsrelay/internal/storage"
)

// Coordinator performs operator-driven recovery. Nothing is retried
// automatically.
type Coordinator struct {
	store storage.Storage
	log   *slog.Logger
	now   func() time.Time
}

// New creates a Coordinator.
func New(store storage.Storage, log *slog.Logger) *Coordinator {
	return &Coordinator{
		store: store,
		log:   log.With("component", "recovery"),
		now:   time.Now,
	}
}

// RequeueFailed resets a FAILED_* item to PENDING, increments its retry
// counter and clears its error. It returns model.ErrInvalidState for items
// in any other state and model.ErrNotFound for unknown ids.
func (c *Coordinator) RequeueFailed(ctx context.Context, itemID int64) (*model.Item, error) {
	if err := c.store.RequeueItem(ctx, itemID); err != nil {
		return nil, fmt.Errorf("requeue item %d: %w", itemID, err)
	}
	item, err := c.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	c.log.Info("item requeued", "item_id", itemID, "retry", item.RetryCount)
	return item, nil
}

// StuckItems returns PROCESSING items whose last transition is older than
// threshold.
func (c *Coordinator) StuckItems(ctx context.Context, threshold time.Duration) ([]model.Item, error) {
	return c.store.ListStuckItems(ctx, c.now().Add(-threshold))
}

// CanRequeue reports whether an operator may requeue item under a retry
// limit. maxRetries <= 0 means no limit.
func CanRequeue(item model.Item, maxRetries int) bool {
	if !item.Status.Failed() {
		return false
	}
	return maxRetries <= 0 || item.RetryCount < maxRetries
}
