package bot

import (
	"context"
	"errors"
	"fmt"

	"newsrelay/internal/model"
	"newsrelay/internal/recovery"
	"newsrelay/internal/storage"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `NewsRelay admin bot.

Watch the pipeline and recover failed items.

Quick start:
1. /stats — items per status
2. /items failed — list failed items
3. /requeue <id> — send a failed item through the pipeline again

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Overview:
/stats — item counts per status
/tenants — registered tenants
/stuck — items stuck in PROCESSING

Items:
/items [STATUS...] [-t slug] — latest items (FAILED = all failures)
/item <id> — item details and processing log
/requeue <id> — reset a failed item to PENDING

Statuses: PENDING PROCESSING PUBLISHED SKIPPED_DUPLICATE
FAILED_CRAWL FAILED_AI FAILED_SANITY FAILED_WP`)
}

func (b *Bot) handleStats(ctx context.Context, chatID int64) {
	counts, err := b.store.CountByStatus(ctx, 0)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	tenants, err := b.store.ListActiveTenants(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatStats(counts, len(tenants)))
}

func (b *Bot) handleTenants(ctx context.Context, chatID int64) {
	tenants, err := b.store.ListTenants(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatTenantList(tenants))
}

func (b *Bot) handleItems(ctx context.Context, chatID int64, args string) {
	parsed, err := ParseItemsArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	filter := storage.ItemFilter{Statuses: parsed.Statuses, Limit: defaultItemsLimit}
	if parsed.Tenant != "" {
		tenant, err := b.store.GetTenantBySlug(ctx, parsed.Tenant)
		if err != nil {
			b.reply(chatID, fmt.Sprintf("Tenant %q not found.", parsed.Tenant))
			return
		}
		filter.TenantID = tenant.ID
	}

	items, err := b.store.ListItems(ctx, filter)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatItemList(items))
}

func (b *Bot) handleItem(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /item <id>")
		return
	}

	item, err := b.store.GetItem(ctx, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Item #%d not found.", id))
		return
	}
	tenant, _ := b.store.GetTenant(ctx, item.TenantID)
	entries, _ := b.store.ListLog(ctx, id)

	text := FormatItem(item, tenant, entries)
	if item.Status.Failed() {
		b.replyWithButtons(chatID, text, itemButtons(id))
		return
	}
	b.reply(chatID, text)
}

func (b *Bot) handleLog(ctx context.Context, chatID int64, id int64) {
	entries, err := b.store.ListLog(ctx, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("#%d\n%s", id, FormatLog(entries)))
}

func (b *Bot) handleRequeue(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /requeue <id>")
		return
	}

	item, err := b.store.GetItem(ctx, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Item #%d not found.", id))
		return
	}
	if !item.Status.Failed() {
		b.reply(chatID, fmt.Sprintf("Item #%d is %s; only failed items can be requeued.", id, item.Status))
		return
	}
	if !recovery.CanRequeue(*item, b.cfg.MaxRetries) {
		b.reply(chatID, fmt.Sprintf("Item #%d reached the retry limit (%d).", id, b.cfg.MaxRetries))
		return
	}

	requeued, err := b.recovery.RequeueFailed(ctx, id)
	switch {
	case errors.Is(err, model.ErrInvalidState):
		b.reply(chatID, fmt.Sprintf("Item #%d changed state, try again.", id))
		return
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	queued := b.queue != nil && b.queue.Submit(ctx, id)
	text := fmt.Sprintf("Item #%d requeued (retry %d).", id, requeued.RetryCount)
	if !queued {
		text += " It will be picked up on the next poll."
	}
	b.reply(chatID, text)
}

func (b *Bot) handleStuck(ctx context.Context, chatID int64) {
	items, err := b.recovery.StuckItems(ctx, b.cfg.StuckAfter)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if len(items) == 0 {
		b.reply(chatID, "No stuck items.")
		return
	}
	b.reply(chatID, FormatStuckAlert(items, b.cfg.StuckAfter))
}
