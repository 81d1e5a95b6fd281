// Package extract downloads an article and reduces it to plain paragraph text.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const maxBodySize = 5 * 1024 * 1024

// ErrEmpty is returned when a page yields no article text.
var ErrEmpty = errors.New("no article text found")

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Article is the extracted text of a page.
type Article struct {
	Title string
	Text  string
}

// Extractor fetches pages, optionally through a reader service that is
// addressed by prefixing the article URL (e.g. https://r.jina.ai/).
type Extractor struct {
	client    HTTPClient
	readerURL string
}

// New creates an Extractor. An empty readerURL fetches pages directly.
func New(client HTTPClient, readerURL string) *Extractor {
	return &Extractor{client: client, readerURL: readerURL}
}

// Extract downloads sourceURL and returns its article text. HTML is reduced
// to paragraph text; any other content type is used as is.
func (e *Extractor) Extract(ctx context.Context, sourceURL string) (*Article, error) {
	target := sourceURL
	if e.readerURL != "" {
		target = e.readerURL + sourceURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "NewsRelay/1.0")
	req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.5")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var article *Article
	if isHTML(resp.Header.Get("Content-Type"), body) {
		article, err = fromHTML(body)
		if err != nil {
			return nil, err
		}
	} else {
		article = &Article{Text: strings.TrimSpace(string(body))}
	}

	if article.Text == "" {
		return nil, ErrEmpty
	}
	return article, nil
}

func isHTML(contentType string, body []byte) bool {
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			return mediaType == "text/html" || mediaType == "application/xhtml+xml"
		}
	}
	return strings.Contains(http.DetectContentType(body), "text/html")
}

func fromHTML(body []byte) (*Article, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, nav, header, footer, aside, form").Remove()

	paragraphs := doc.Find("article p")
	if paragraphs.Length() == 0 {
		paragraphs = doc.Find("p")
	}

	var parts []string
	paragraphs.Each(func(_ int, s *goquery.Selection) {
		if text := collapse(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})

	return &Article{
		Title: pageTitle(doc),
		Text:  strings.Join(parts, "\n\n"),
	}, nil
}

func pageTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return collapse(og)
	}
	if h1 := collapse(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return collapse(doc.Find("title").First().Text())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
