// Package rewrite turns extracted article text into a localized news post
// through an OpenAI-compatible chat completions API.
package rewrite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

const maxPromptText = 12000

// ErrMalformed is returned when the model reply cannot be used as a post.
var ErrMalformed = errors.New("malformed rewrite response")

const defaultSystemPrompt = `You are an editor of a local news site. Rewrite the article you are given
in your own words for readers in the given city. Keep every fact, name and number; add nothing.
Reply with a JSON object with the keys "title", "content" and "excerpt".
"content" is HTML using only <p>, <h2>, <ul>, <li>, <strong> and <em>. Never use Markdown.
"excerpt" is one or two plain sentences.`

var residualMarkdown = []struct {
	name string
	re   *regexp.Regexp
}{
	{"heading", regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s`)},
	{"bold", regexp.MustCompile(`\*\*[^*\n]+\*\*`)},
	{"code fence", regexp.MustCompile("```")},
	{"link", regexp.MustCompile(`\[[^\]\n]+\]\([^)\s]+\)`)},
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request is the input of one rewrite.
type Request struct {
	Title string
	Text  string
	City  string
	Site  string
}

// Result is a rewritten post.
type Result struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Excerpt string `json:"excerpt"`
}

// Client calls the chat completions endpoint.
type Client struct {
	client       HTTPClient
	endpoint     string
	apiKey       string
	model        string
	systemPrompt string
}

// New creates a Client. endpoint is the API base, e.g. https://api.openai.com/v1.
func New(client HTTPClient, endpoint, apiKey, model string) *Client {
	return &Client{
		client:       client,
		endpoint:     strings.TrimRight(endpoint, "/"),
		apiKey:       apiKey,
		model:        model,
		systemPrompt: defaultSystemPrompt,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Rewrite sends the article to the model and validates the reply.
func (c *Client) Rewrite(ctx context.Context, in Request) (*Result, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: c.systemPrompt},
			{Role: "user", Content: userPrompt(in)},
		},
		Temperature:    0.4,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("llm error %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(raw)), 300))
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return nil, fmt.Errorf("%w: decode completion: %v", ErrMalformed, err)
	}
	if chat.Error != nil {
		return nil, fmt.Errorf("llm error: %s", chat.Error.Message)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformed)
	}

	return Parse(chat.Choices[0].Message.Content)
}

// Parse decodes and validates the JSON reply of the model.
func Parse(content string) (*Result, error) {
	var res Result
	if err := json.Unmarshal([]byte(stripCodeFences(content)), &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	res.Title = strings.TrimSpace(res.Title)
	res.Content = strings.TrimSpace(res.Content)
	res.Excerpt = strings.TrimSpace(res.Excerpt)

	if res.Title == "" {
		return nil, fmt.Errorf("%w: empty title", ErrMalformed)
	}
	if res.Content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrMalformed)
	}
	for _, md := range residualMarkdown {
		if md.re.MatchString(res.Title) || md.re.MatchString(res.Content) {
			return nil, fmt.Errorf("%w: residual markdown %s", ErrMalformed, md.name)
		}
	}
	return &res, nil
}

func userPrompt(in Request) string {
	var b strings.Builder
	if in.City != "" {
		fmt.Fprintf(&b, "City: %s\n", in.City)
	}
	if in.Site != "" {
		fmt.Fprintf(&b, "Site: %s\n", in.Site)
	}
	if in.Title != "" {
		fmt.Fprintf(&b, "Original title: %s\n", in.Title)
	}
	b.WriteString("\nArticle:\n")
	b.WriteString(truncate(in.Text, maxPromptText))
	return b.String()
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
