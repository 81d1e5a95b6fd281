// Package registry keeps the stored tenants in line with the tenant file.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"newsrelay/internal/model"
	"newsrelay/internal/storage"
)

// SyncResult summarizes a Sync call.
type SyncResult struct {
	Upserted    int
	Deactivated []string
}

// Registry manages tenant configuration.
type Registry struct {
	store storage.Storage
	log   *slog.Logger
}

// New creates a Registry.
func New(store storage.Storage, log *slog.Logger) *Registry {
	return &Registry{store: store, log: log.With("component", "registry")}
}

// Sync upserts every seed by slug. Stored tenants that are missing from
// seeds are deactivated, never deleted, so their items stay available.
func (r *Registry) Sync(ctx context.Context, seeds []model.Tenant) (SyncResult, error) {
	var res SyncResult
	wanted := make(map[string]bool, len(seeds))
	for i := range seeds {
		seed := seeds[i]
		if err := r.store.UpsertTenant(ctx, &seed); err != nil {
			return res, fmt.Errorf("sync tenant %s: %w", seed.Slug, err)
		}
		wanted[seed.Slug] = true
		res.Upserted++
		r.log.Debug("tenant synced", "tenant", seed.Slug, "active", seed.IsActive, "credentials", seed.Credentials)
	}

	stored, err := r.store.ListTenants(ctx)
	if err != nil {
		return res, err
	}
	for _, t := range stored {
		if wanted[t.Slug] || !t.IsActive {
			continue
		}
		t.IsActive = false
		if err := r.store.UpsertTenant(ctx, &t); err != nil {
			return res, fmt.Errorf("deactivate tenant %s: %w", t.Slug, err)
		}
		res.Deactivated = append(res.Deactivated, t.Slug)
		r.log.Warn("tenant missing from tenant file, deactivated", "tenant", t.Slug)
	}
	return res, nil
}

// Remove deletes a tenant and everything that belongs to it.
func (r *Registry) Remove(ctx context.Context, slug string) error {
	t, err := r.store.GetTenantBySlug(ctx, slug)
	if err != nil {
		return err
	}
	if err := r.store.DeleteTenant(ctx, t.ID); err != nil {
		return err
	}
	r.log.Info("tenant removed", "tenant", slug)
	return nil
}
