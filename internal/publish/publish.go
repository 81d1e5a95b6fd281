// Package publish creates posts on a tenant's WordPress site through the
// REST API.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"newsrelay/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Post is the content to publish.
type Post struct {
	Title   string
	Content string
	Excerpt string
}

// Result is the reference to a created post.
type Result struct {
	PostID string
	URL    string
}

// WordPress publishes posts using application-password basic auth.
type WordPress struct {
	client HTTPClient
}

// New creates a WordPress publisher.
func New(client HTTPClient) *WordPress {
	return &WordPress{client: client}
}

type postRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Excerpt string `json:"excerpt,omitempty"`
	Status  string `json:"status"`
}

type postResponse struct {
	ID   int64  `json:"id"`
	Link string `json:"link"`
}

// Publish creates a published post on the tenant's site.
func (w *WordPress) Publish(ctx context.Context, tenant model.Tenant, post Post) (*Result, error) {
	body, err := json.Marshal(postRequest{
		Title:   post.Title,
		Content: post.Content,
		Excerpt: post.Excerpt,
		Status:  "publish",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal post: %w", err)
	}

	endpoint := strings.TrimRight(tenant.PublishEndpoint, "/") + "/wp/v2/posts"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(tenant.Credentials.Username, tenant.Credentials.Password)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := truncate(strings.TrimSpace(string(raw)), 300)
		return nil, fmt.Errorf("wordpress returned %d: %s", resp.StatusCode, msg)
	}

	var created postResponse
	if err := json.Unmarshal(raw, &created); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if created.ID == 0 {
		return nil, fmt.Errorf("wordpress response has no post id")
	}

	return &Result{PostID: strconv.FormatInt(created.ID, 10), URL: created.Link}, nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
