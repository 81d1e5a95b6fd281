package fetcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mmcdole/gofeed"
)

type mockTransport struct {
	body       string
	statusCode int
	err        error
}

func (m *mockTransport) Do(_ *http.Request) (*http.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func loadFixture(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test-only fixture loading
	if err != nil {
		t.Fatalf("read fixture %s: %v", path, err)
	}
	return string(data)
}

func TestFetch(t *testing.T) {
	xml := loadFixture(t, "../../testdata/sample.xml")

	tests := []struct {
		name      string
		transport *mockTransport
		wantTitle string
		wantItems int
		wantErr   bool
	}{
		{
			name:      "successful fetch",
			transport: &mockTransport{body: xml, statusCode: 200},
			wantTitle: "Gdansk City News",
			wantItems: 5,
		},
		{
			name:      "http error status",
			transport: &mockTransport{body: "not found", statusCode: 404},
			wantErr:   true,
		},
		{
			name:      "network error",
			transport: &mockTransport{err: io.ErrUnexpectedEOF},
			wantErr:   true,
		},
		{
			name:      "invalid xml",
			transport: &mockTransport{body: "not xml at all", statusCode: 200},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.transport)
			feed, err := f.Fetch(context.Background(), "https://news.gdansk.example/rss")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if diff := cmp.Diff(tt.wantTitle, feed.Title); diff != "" {
				t.Errorf("title mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantItems, len(feed.Items)); diff != "" {
				t.Errorf("item count mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEntriesFromFixture(t *testing.T) {
	feed, err := gofeed.NewParser().ParseString(loadFixture(t, "../../testdata/sample.xml"))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}

	want := []Entry{
		{Title: "Council approves new tram line", Link: "https://news.gdansk.example/2026/10/tram-line?utm_source=rss"},
		{Title: "Shipyard museum extends opening hours", Link: "https://news.gdansk.example/2026/10/shipyard-museum"},
		{Title: "Road works on the main avenue", Link: "https://news.gdansk.example/2026/10/road-works"},
		{Title: "Beach season closes early", Link: "https://news.gdansk.example/2026/10/beach-season"},
	}
	if diff := cmp.Diff(want, Entries(feed.Items)); diff != "" {
		t.Errorf("Entries() mismatch (-want +got):\n%s", diff)
	}
}

func TestEntries(t *testing.T) {
	tests := []struct {
		name  string
		items []*gofeed.Item
		want  []Entry
	}{
		{name: "no items", items: nil, want: nil},
		{
			name:  "link preferred over guid",
			items: []*gofeed.Item{{Title: "A", Link: "https://a/1", GUID: "https://a/guid"}},
			want:  []Entry{{Title: "A", Link: "https://a/1"}},
		},
		{
			name:  "opaque guid is not a link",
			items: []*gofeed.Item{{Title: "A", GUID: "tag:a,2026:1"}},
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Entries(tt.items)); diff != "" {
				t.Errorf("Entries() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
