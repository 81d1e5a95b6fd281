package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"newsrelay/internal/model"
)

const itemColumns = `id, tenant_id, source_url, url_hash, title_original, content_hash, status,
	retry_count, error_message, title_rewritten, excerpt, wp_post_id, published_url,
	created_at, updated_at, published_at`

// CreateItem inserts a new PENDING item together with its URL fingerprint.
func (s *SQLite) CreateItem(ctx context.Context, item *model.Item) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now())
	res, err := tx.ExecContext(ctx,
		`INSERT INTO items (tenant_id, source_url, url_hash, title_original, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (url_hash) DO NOTHING`,
		item.TenantID, item.SourceURL, item.URLHash, item.TitleOriginal, string(model.StatusPending), now, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert item: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		var existing int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM items WHERE url_hash = ?`, item.URLHash).Scan(&existing)
		if err != nil {
			return false, fmt.Errorf("lookup existing item: %w", err)
		}
		item.ID = existing
		return false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO fingerprints (kind, hash, item_id, created_at) VALUES (?, ?, ?, ?)`,
		string(model.FingerprintURL), item.URLHash, id, now,
	); err != nil {
		return false, fmt.Errorf("insert url fingerprint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	item.ID = id
	item.Status = model.StatusPending
	item.CreatedAt = parseTime(now)
	item.UpdatedAt = item.CreatedAt
	return true, nil
}

// GetItem returns a single item by its ID.
func (s *SQLite) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	return scanItem(row)
}

// FindItemByURLHash returns the item registered under a URL fingerprint.
func (s *SQLite) FindItemByURLHash(ctx context.Context, urlHash string) (*model.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE url_hash = ?`, urlHash)
	return scanItem(row)
}

// ListItems returns items matching the filter, newest first unless
// OldestFirst is set.
func (s *SQLite) ListItems(ctx context.Context, f ItemFilter) ([]model.Item, error) {
	q := sq.Select(itemColumns).From("items").PlaceholderFormat(sq.Question)

	if f.TenantID != 0 {
		q = q.Where(sq.Eq{"tenant_id": f.TenantID})
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where(sq.Eq{"status": statuses})
	}
	if f.OldestFirst {
		q = q.OrderBy("created_at ASC", "id ASC")
	} else {
		q = q.OrderBy("created_at DESC", "id DESC")
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build items query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanItems(rows)
}

// ListStuckItems returns PROCESSING items not updated since updatedBefore.
func (s *SQLite) ListStuckItems(ctx context.Context, updatedBefore time.Time) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE status = ? AND updated_at < ?
		 ORDER BY updated_at`,
		string(model.StatusProcessing), formatTime(updatedBefore),
	)
	if err != nil {
		return nil, fmt.Errorf("query stuck items: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanItems(rows)
}

// CountByStatus returns item counts per status, for one tenant or for all
// tenants when tenantID is zero.
func (s *SQLite) CountByStatus(ctx context.Context, tenantID int64) ([]model.StatusCount, error) {
	q := sq.Select("status", "COUNT(*)").From("items").GroupBy("status").OrderBy("status")
	if tenantID != 0 {
		q = q.Where(sq.Eq{"tenant_id": tenantID})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var counts []model.StatusCount
	for rows.Next() {
		var c model.StatusCount
		var status string
		if err := rows.Scan(&status, &c.Count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		c.Status = model.Status(status)
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// ClaimItem is a compare-and-swap on the status column.
func (s *SQLite) ClaimItem(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.StatusProcessing), formatTime(time.Now()), id, string(model.StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("claim item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// RecordContentHash stores the content fingerprint of a PROCESSING item and
// registers it in the fingerprint store unless another item owns it.
func (s *SQLite) RecordContentHash(ctx context.Context, id int64, hash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now())
	res, err := tx.ExecContext(ctx,
		`UPDATE items SET content_hash = ?, updated_at = ? WHERE id = ? AND status = ?`,
		hash, now, id, string(model.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("set content hash: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("item %d: %w", id, model.ErrStaleTransition)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO fingerprints (kind, hash, item_id, created_at) VALUES (?, ?, ?, ?)`,
		string(model.FingerprintContent), hash, id, now,
	); err != nil {
		return fmt.Errorf("register content fingerprint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// FingerprintOwner returns the item that registered the fingerprint first.
func (s *SQLite) FingerprintOwner(ctx context.Context, kind model.FingerprintKind, hash string) (int64, bool, error) {
	var owner int64
	err := s.db.QueryRowContext(ctx,
		`SELECT item_id FROM fingerprints WHERE kind = ? AND hash = ?`, string(kind), hash,
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup fingerprint: %w", err)
	}
	return owner, true, nil
}

// FinishItem moves a PROCESSING item into a terminal state other than
// PUBLISHED. errMsg is stored as the last error, or cleared when empty.
func (s *SQLite) FinishItem(ctx context.Context, id int64, to model.Status, errMsg string) error {
	if to == model.StatusPublished || !model.CanTransition(model.StatusProcessing, to) {
		return fmt.Errorf("finish item %d as %s: %w", id, to, model.ErrInvalidTransition)
	}

	var msg sql.NullString
	if errMsg != "" {
		msg = sql.NullString{String: errMsg, Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), msg, formatTime(time.Now()), id, string(model.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("finish item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("item %d: %w", id, model.ErrStaleTransition)
	}
	return nil
}

// PublishItem sets PUBLISHED together with the post reference, URL and
// published_at in one statement.
func (s *SQLite) PublishItem(ctx context.Context, id int64, pub model.Publication) error {
	publishedAt := pub.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE items
		 SET status = ?, wp_post_id = ?, published_url = ?, title_rewritten = ?, excerpt = ?,
		     error_message = NULL, published_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND published_at IS NULL`,
		string(model.StatusPublished), pub.PostID, pub.URL, pub.TitleRewritten, pub.Excerpt,
		formatTime(publishedAt), formatTime(time.Now()), id, string(model.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("publish item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("item %d: %w", id, model.ErrStaleTransition)
	}
	return nil
}

// RequeueItem resets a FAILED_* item to PENDING, bumps its retry counter and
// clears its error. Items in any other state are left untouched.
func (s *SQLite) RequeueItem(ctx context.Context, id int64) error {
	failed := make([]string, len(model.FailedStatuses))
	for i, st := range model.FailedStatuses {
		failed[i] = string(st)
	}

	query, args, err := sq.Update("items").
		Set("status", string(model.StatusPending)).
		Set("retry_count", sq.Expr("retry_count + 1")).
		Set("error_message", nil).
		Set("updated_at", formatTime(time.Now())).
		Where(sq.Eq{"id": id, "status": failed}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build requeue query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("requeue item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	item, err := s.GetItem(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("item %d is %s: %w", id, item.Status, model.ErrInvalidState)
}

// AppendLog inserts a processing log entry.
func (s *SQLite) AppendLog(ctx context.Context, e *model.LogEntry) error {
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO processing_log (item_id, run_id, step, outcome, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ItemID, e.RunID, e.Step, string(e.Outcome), e.Detail, now,
	)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	e.ID = id
	e.CreatedAt = parseTime(now)
	return nil
}

// ListLog returns the processing log of an item in insertion order.
func (s *SQLite) ListLog(ctx context.Context, itemID int64) ([]model.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_id, run_id, step, outcome, detail, created_at
		 FROM processing_log WHERE item_id = ? ORDER BY id`, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("query log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		var outcome, created string
		if err := rows.Scan(&e.ID, &e.ItemID, &e.RunID, &e.Step, &outcome, &e.Detail, &created); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.Outcome = model.LogOutcome(outcome)
		e.CreatedAt = parseTime(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanItem(row scannable) (*model.Item, error) {
	var it model.Item
	var status, created, updated string
	var contentHash, errMsg, postID, publishedURL, publishedAt sql.NullString
	err := row.Scan(&it.ID, &it.TenantID, &it.SourceURL, &it.URLHash, &it.TitleOriginal, &contentHash,
		&status, &it.RetryCount, &errMsg, &it.TitleRewritten, &it.Excerpt, &postID, &publishedURL,
		&created, &updated, &publishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item: %w", model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}
	it.Status = model.Status(status)
	it.ContentHash = contentHash.String
	it.ErrorMessage = errMsg.String
	it.PostID = postID.String
	it.PublishedURL = publishedURL.String
	it.CreatedAt = parseTime(created)
	it.UpdatedAt = parseTime(updated)
	it.PublishedAt = parseNullTime(publishedAt)
	return &it, nil
}

func scanItems(rows *sql.Rows) ([]model.Item, error) {
	var items []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}
