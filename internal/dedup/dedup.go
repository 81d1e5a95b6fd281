// Package dedup decides whether a discovered URL or an extracted text has
// been seen before.
package dedup

import (
	"context"
	"fmt"
	"strings"

	"newsrelay/internal/fingerprint"
	"newsrelay/internal/model"
	"newsrelay/internal/storage"
)

// URLCheck is the result of a URL uniqueness lookup.
type URLCheck struct {
	IsNew      bool
	ExistingID int64
}

// Engine answers uniqueness questions against the fingerprint store.
type Engine struct {
	store storage.Storage
}

// New creates an Engine backed by store.
func New(store storage.Storage) *Engine {
	return &Engine{store: store}
}

// CheckURLUnique reports whether rawURL has been admitted before. It is a
// point-in-time answer; Admit is the only race-free way to register a URL.
func (e *Engine) CheckURLUnique(ctx context.Context, rawURL string) (URLCheck, error) {
	hash, err := fingerprint.URL(rawURL)
	if err != nil {
		return URLCheck{}, err
	}
	owner, ok, err := e.store.FingerprintOwner(ctx, model.FingerprintURL, hash)
	if err != nil {
		return URLCheck{}, err
	}
	if !ok {
		return URLCheck{IsNew: true}, nil
	}
	return URLCheck{ExistingID: owner}, nil
}

// CheckContentUnique reports whether no item other than excludeID owns the
// content fingerprint. The fingerprint must already be recorded on
// excludeID, so that of two items racing on the same text exactly one is
// unique.
func (e *Engine) CheckContentUnique(ctx context.Context, hash string, excludeID int64) (bool, error) {
	owner, ok, err := e.store.FingerprintOwner(ctx, model.FingerprintContent, hash)
	if err != nil {
		return false, err
	}
	return !ok || owner == excludeID, nil
}

// Admit registers a discovered article for tenant. When the URL is already
// known nothing is written and the existing item is returned with
// created=false.
func (e *Engine) Admit(ctx context.Context, tenant model.Tenant, rawURL, title string) (*model.Item, bool, error) {
	hash, err := fingerprint.URL(rawURL)
	if err != nil {
		return nil, false, err
	}

	item := &model.Item{
		TenantID:      tenant.ID,
		SourceURL:     strings.TrimSpace(rawURL),
		URLHash:       hash,
		TitleOriginal: strings.TrimSpace(title),
	}
	created, err := e.store.CreateItem(ctx, item)
	if err != nil {
		return nil, false, fmt.Errorf("admit %s: %w", rawURL, err)
	}
	if created {
		return item, true, nil
	}

	existing, err := e.store.GetItem(ctx, item.ID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}
