package dedup

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"newsrelay/internal/fingerprint"
	"newsrelay/internal/model"
	"newsrelay/internal/storage"
)

func setup(t *testing.T) (*Engine, *storage.SQLite, model.Tenant) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	tn := model.Tenant{Slug: "lodz", Name: "Lodz", FeedURL: "https://lodz.example/rss", PublishEndpoint: "https://lodz.example/wp-json", IsActive: true}
	if err := store.CreateTenant(context.Background(), &tn); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	return New(store), store, tn
}

func TestAdmitAndCheckURL(t *testing.T) {
	ctx := context.Background()
	e, _, tn := setup(t)

	check, err := e.CheckURLUnique(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if diff := cmp.Diff(URLCheck{IsNew: true}, check); diff != "" {
		t.Errorf("check before admit (-want +got):\n%s", diff)
	}

	item, created, err := e.Admit(ctx, tn, " https://example.com/a ", " Headline ")
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if !created {
		t.Fatal("first admit reported existing item")
	}
	if diff := cmp.Diff("Headline", item.TitleOriginal); diff != "" {
		t.Errorf("title mismatch (-want +got):\n%s", diff)
	}

	tests := []struct {
		name string
		url  string
	}{
		{name: "same url", url: "https://example.com/a"},
		{name: "upper-case host", url: "https://EXAMPLE.com/a"},
		{name: "tracking params", url: "https://example.com/a?utm_source=feed&fbclid=x"},
		{name: "fragment and slash", url: "https://example.com/a/#comments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check, err := e.CheckURLUnique(ctx, tt.url)
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if diff := cmp.Diff(URLCheck{ExistingID: item.ID}, check); diff != "" {
				t.Errorf("check mismatch (-want +got):\n%s", diff)
			}

			again, created, err := e.Admit(ctx, tn, tt.url, "other title")
			if err != nil {
				t.Fatalf("admit: %v", err)
			}
			if created {
				t.Fatal("duplicate URL admitted as new")
			}
			if diff := cmp.Diff(item.ID, again.ID); diff != "" {
				t.Errorf("existing id mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff("Headline", again.TitleOriginal); diff != "" {
				t.Errorf("existing item overwritten (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAdmitRejectsRelativeURL(t *testing.T) {
	e, _, tn := setup(t)
	if _, _, err := e.Admit(context.Background(), tn, "/news/1", ""); err == nil {
		t.Fatal("expected error for relative URL")
	}
}

func TestCheckContentUnique(t *testing.T) {
	ctx := context.Background()
	e, store, tn := setup(t)

	a, _, err := e.Admit(ctx, tn, "https://example.com/a", "")
	if err != nil {
		t.Fatalf("admit a: %v", err)
	}
	b, _, err := e.Admit(ctx, tn, "https://example.com/b", "")
	if err != nil {
		t.Fatalf("admit b: %v", err)
	}
	for _, id := range []int64{a.ID, b.ID} {
		if ok, err := store.ClaimItem(ctx, id); err != nil || !ok {
			t.Fatalf("claim %d: ok=%v err=%v", id, ok, err)
		}
	}

	hash := fingerprint.Content("syndicated story text")

	unique, err := e.CheckContentUnique(ctx, hash, a.ID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !unique {
		t.Error("unregistered fingerprint reported as duplicate")
	}

	// b reaches the checkpoint first.
	if err := store.RecordContentHash(ctx, b.ID, hash); err != nil {
		t.Fatalf("record b: %v", err)
	}
	if err := store.RecordContentHash(ctx, a.ID, hash); err != nil {
		t.Fatalf("record a: %v", err)
	}

	tests := []struct {
		name string
		id   int64
		want bool
	}{
		{name: "first to record", id: b.ID, want: true},
		{name: "second to record", id: a.ID, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.CheckContentUnique(ctx, hash, tt.id)
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("unique mismatch (-want +got):\n%s", diff)
			}
		})
	}

	other := fingerprint.Content("different text")
	if got, _ := e.CheckContentUnique(ctx, other, a.ID); !got {
		t.Error("different text reported as duplicate")
	}
}
