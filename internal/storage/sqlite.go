package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"newsrelay/internal/model"
	"newsrelay/migrations"
)

// Fixed width, so stored timestamps compare correctly as strings.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const memoryDSN = ":memory:"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", withBusyTimeout(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if dsn == memoryDSN {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

func withBusyTimeout(dsn string) string {
	if dsn == memoryDSN || strings.Contains(dsn, "_pragma=busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

const tenantColumns = `id, slug, name, city, feed_url, publish_endpoint, publish_username,
	publish_password, is_active, last_polled_at, created_at`

// CreateTenant inserts a new tenant and populates its ID and CreatedAt.
func (s *SQLite) CreateTenant(ctx context.Context, t *model.Tenant) error {
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (slug, name, city, feed_url, publish_endpoint, publish_username,
		                      publish_password, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Slug, t.Name, t.City, t.FeedURL, t.PublishEndpoint, t.Credentials.Username,
		t.Credentials.Password, boolToInt(t.IsActive), now,
	)
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	t.ID = id
	t.CreatedAt = parseTime(now)
	return nil
}

// UpsertTenant creates the tenant or updates the configuration of the tenant
// with the same slug. LastPolledAt is left untouched.
func (s *SQLite) UpsertTenant(ctx context.Context, t *model.Tenant) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (slug, name, city, feed_url, publish_endpoint, publish_username,
		                      publish_password, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (slug) DO UPDATE SET
		     name = excluded.name,
		     city = excluded.city,
		     feed_url = excluded.feed_url,
		     publish_endpoint = excluded.publish_endpoint,
		     publish_username = excluded.publish_username,
		     publish_password = excluded.publish_password,
		     is_active = excluded.is_active`,
		t.Slug, t.Name, t.City, t.FeedURL, t.PublishEndpoint, t.Credentials.Username,
		t.Credentials.Password, boolToInt(t.IsActive), now,
	)
	if err != nil {
		return fmt.Errorf("upsert tenant: %w", err)
	}

	stored, err := s.GetTenantBySlug(ctx, t.Slug)
	if err != nil {
		return err
	}
	t.ID = stored.ID
	t.CreatedAt = stored.CreatedAt
	t.LastPolledAt = stored.LastPolledAt
	return nil
}

// GetTenant returns a single tenant by its ID.
func (s *SQLite) GetTenant(ctx context.Context, id int64) (*model.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id)
	return scanTenant(row)
}

// GetTenantBySlug returns a single tenant by its slug.
func (s *SQLite) GetTenantBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE slug = ?`, slug)
	return scanTenant(row)
}

// ListTenants returns every tenant ordered by slug.
func (s *SQLite) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTenants(rows)
}

// ListActiveTenants returns the tenants whose feeds should be polled.
func (s *SQLite) ListActiveTenants(ctx context.Context) ([]model.Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE is_active = 1 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query active tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTenants(rows)
}

// MarkPolled records the time of the last feed poll.
func (s *SQLite) MarkPolled(ctx context.Context, tenantID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET last_polled_at = ? WHERE id = ?`, formatTime(at), tenantID,
	)
	if err != nil {
		return fmt.Errorf("mark polled: %w", err)
	}
	return nil
}

// DeleteTenant removes a tenant together with its items, their fingerprints
// and their processing log. Content fingerprints still carried by items of
// other tenants are handed over to the oldest such item.
func (s *SQLite) DeleteTenant(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	itemIDs := `SELECT id FROM items WHERE tenant_id = ?`
	if _, err := tx.ExecContext(ctx, `DELETE FROM processing_log WHERE item_id IN (`+itemIDs+`)`, id); err != nil {
		return fmt.Errorf("delete processing_log: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fingerprints WHERE item_id IN (`+itemIDs+`)`, id); err != nil {
		return fmt.Errorf("delete fingerprints: %w", err)
	}
	// Content fingerprints pass to the oldest surviving item carrying them,
	// so other tenants' duplicates keep blocking the same text.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO fingerprints (kind, hash, item_id, created_at)
		 SELECT ?, content_hash, MIN(id), ? FROM items
		 WHERE tenant_id <> ? AND content_hash IN (
		     SELECT content_hash FROM items WHERE tenant_id = ? AND content_hash IS NOT NULL)
		 GROUP BY content_hash`,
		string(model.FingerprintContent), formatTime(time.Now()), id, id,
	); err != nil {
		return fmt.Errorf("reassign content fingerprints: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE tenant_id = ?`, id); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tenant %d: %w", id, model.ErrNotFound)
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTenant(row scannable) (*model.Tenant, error) {
	var t model.Tenant
	var isActive int
	var lastPolled sql.NullString
	var created string
	err := row.Scan(&t.ID, &t.Slug, &t.Name, &t.City, &t.FeedURL, &t.PublishEndpoint,
		&t.Credentials.Username, &t.Credentials.Password, &isActive, &lastPolled, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant: %w", model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	t.IsActive = isActive == 1
	t.LastPolledAt = parseNullTime(lastPolled)
	t.CreatedAt = parseTime(created)
	return &t, nil
}

func scanTenants(rows *sql.Rows) ([]model.Tenant, error) {
	var tenants []model.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, *t)
	}
	return tenants, rows.Err()
}
