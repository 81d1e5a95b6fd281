// Package storage defines the persistence interface and its implementations:
// the tenant registry, the item store, the fingerprint store and the
// processing log.
package storage

import (
	"context"
	"time"

	"newsrelay/internal/model"
)

// ItemFilter narrows ListItems. Zero values mean "no restriction".
type ItemFilter struct {
	TenantID    int64
	Statuses    []model.Status
	Limit       int
	OldestFirst bool
}

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateTenant(ctx context.Context, t *model.Tenant) error
	UpsertTenant(ctx context.Context, t *model.Tenant) error
	GetTenant(ctx context.Context, id int64) (*model.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*model.Tenant, error)
	ListTenants(ctx context.Context) ([]model.Tenant, error)
	ListActiveTenants(ctx context.Context) ([]model.Tenant, error)
	MarkPolled(ctx context.Context, tenantID int64, at time.Time) error
	DeleteTenant(ctx context.Context, id int64) error

	// CreateItem inserts a PENDING item and its URL fingerprint atomically.
	// When the URL fingerprint is already taken nothing is written, created
	// is false and item.ID is set to the existing item.
	CreateItem(ctx context.Context, item *model.Item) (created bool, err error)
	GetItem(ctx context.Context, id int64) (*model.Item, error)
	FindItemByURLHash(ctx context.Context, urlHash string) (*model.Item, error)
	ListItems(ctx context.Context, f ItemFilter) ([]model.Item, error)
	ListStuckItems(ctx context.Context, updatedBefore time.Time) ([]model.Item, error)
	CountByStatus(ctx context.Context, tenantID int64) ([]model.StatusCount, error)

	// ClaimItem moves an item from PENDING to PROCESSING. Exactly one of
	// several concurrent callers gets true.
	ClaimItem(ctx context.Context, id int64) (bool, error)
	// RecordContentHash stores the content fingerprint on a PROCESSING item
	// and registers it in the fingerprint store if no item owns it yet.
	RecordContentHash(ctx context.Context, id int64, hash string) error
	// FingerprintOwner returns the item that first registered a fingerprint.
	FingerprintOwner(ctx context.Context, kind model.FingerprintKind, hash string) (int64, bool, error)
	FinishItem(ctx context.Context, id int64, to model.Status, errMsg string) error
	PublishItem(ctx context.Context, id int64, pub model.Publication) error
	RequeueItem(ctx context.Context, id int64) error

	AppendLog(ctx context.Context, e *model.LogEntry) error
	ListLog(ctx context.Context, itemID int64) ([]model.LogEntry, error)

	Close() error
}
