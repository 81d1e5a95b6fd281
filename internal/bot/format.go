package bot

import (
	"fmt"
	"strings"
	"time"

	"newsrelay/internal/model"
)

const (
	statusActive   = "active"
	statusInactive = "inactive"

	timeLayout = "2006-01-02 15:04 UTC"
)

// FormatStats formats item counts per status and the number of active tenants.
func FormatStats(counts []model.StatusCount, activeTenants int) string {
	byStatus := make(map[model.Status]int, len(counts))
	total := 0
	for _, c := range counts {
		byStatus[c.Status] = c.Count
		total += c.Count
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Active tenants: %d\nItems: %d\n", activeTenants, total)
	for _, st := range model.AllStatuses {
		if n := byStatus[st]; n > 0 {
			fmt.Fprintf(&b, "  %s: %d\n", st, n)
		}
	}
	return b.String()
}

// FormatTenantList formats the registered tenants.
func FormatTenantList(tenants []model.Tenant) string {
	if len(tenants) == 0 {
		return "No tenants registered. Add them to the tenant file."
	}
	var b strings.Builder
	b.WriteString("Tenants:\n")
	for _, t := range tenants {
		status := statusActive
		if !t.IsActive {
			status = statusInactive
		}
		fmt.Fprintf(&b, "\n%s  %s [%s]\n", t.Slug, t.Name, status)
		fmt.Fprintf(&b, "   feed: %s\n", t.FeedURL)
		if t.LastPolledAt != nil {
			fmt.Fprintf(&b, "   last poll: %s\n", t.LastPolledAt.Format(timeLayout))
		}
	}
	return b.String()
}

// FormatItemList formats a short listing of items, newest first.
func FormatItemList(items []model.Item) string {
	if len(items) == 0 {
		return "No items."
	}
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "#%d [%s] %s\n", it.ID, it.Status, itemLabel(it))
	}
	return b.String()
}

// FormatItem formats one item with its processing log.
func FormatItem(item *model.Item, tenant *model.Tenant, entries []model.LogEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d [%s]\n", item.ID, item.Status)
	if tenant != nil {
		fmt.Fprintf(&b, "Tenant: %s\n", tenant.Slug)
	}
	if item.TitleOriginal != "" {
		fmt.Fprintf(&b, "Title: %s\n", item.TitleOriginal)
	}
	fmt.Fprintf(&b, "Source: %s\n", item.SourceURL)
	if item.RetryCount > 0 {
		fmt.Fprintf(&b, "Retries: %d\n", item.RetryCount)
	}
	if item.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error: %s\n", item.ErrorMessage)
	}
	if item.PublishedAt != nil {
		fmt.Fprintf(&b, "Published: %s (post %s)\n", item.PublishedAt.Format(timeLayout), item.PostID)
		if item.PublishedURL != "" {
			fmt.Fprintf(&b, "URL: %s\n", item.PublishedURL)
		}
	}
	fmt.Fprintf(&b, "Updated: %s\n", item.UpdatedAt.Format(timeLayout))

	if len(entries) > 0 {
		b.WriteString("\n")
		b.WriteString(FormatLog(entries))
	}
	return b.String()
}

// FormatLog formats processing log entries in insertion order.
func FormatLog(entries []model.LogEntry) string {
	if len(entries) == 0 {
		return "No log entries."
	}
	var b strings.Builder
	b.WriteString("Log:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "  %s %s %s", e.CreatedAt.Format("15:04:05"), e.Step, e.Outcome)
		if e.Detail != "" {
			fmt.Fprintf(&b, ": %s", e.Detail)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatStuckAlert formats the admin alert for items stuck in PROCESSING.
func FormatStuckAlert(items []model.Item, after time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d item(s) stuck in PROCESSING for more than %s:\n", len(items), after)
	for _, it := range items {
		fmt.Fprintf(&b, "\n#%d %s\n   since %s\n", it.ID, it.SourceURL, it.UpdatedAt.Format(timeLayout))
	}
	b.WriteString("\nInspect with /item <id>.")
	return b.String()
}

func itemLabel(it model.Item) string {
	if it.TitleRewritten != "" {
		return it.TitleRewritten
	}
	if it.TitleOriginal != "" {
		return it.TitleOriginal
	}
	return it.SourceURL
}
