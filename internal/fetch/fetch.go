// Package fetch implements the web_fetch tool: download a page and reduce
// it to readable text the model can quote from.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/ponder/internal/httpkit"
)

// Defaults.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxBytes int64 = 2 * 1024 * 1024
	DefaultMaxChars       = 8000
)

// Result is the readable form of a fetched page.
type Result struct {
	URL         string
	Title       string
	Content     string
	ContentType string
	StatusCode  int
	Truncated   bool
}

// Fetcher downloads pages and extracts their text.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	maxChars int
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithMaxChars sets the default output limit in characters.
func WithMaxChars(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxChars = n
		}
	}
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.client = httpkit.NewClient(httpkit.WithTimeout(d))
		}
	}
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   httpkit.NewClient(httpkit.WithTimeout(DefaultTimeout)),
		maxBytes: DefaultMaxBytes,
		maxChars: DefaultMaxChars,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch downloads rawURL and extracts its readable text. A bare host such
// as "example.com" is fetched over https. maxChars <= 0 uses the
// Fetcher's default.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Result, error) {
	target, err := normalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	if maxChars <= 0 {
		maxChars = f.maxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s returned HTTP %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	res := &Result{
		URL:         target,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}

	switch {
	case isHTML(res.ContentType):
		res.Title, res.Content = extractHTML(string(body))
	case utf8.Valid(body):
		res.Content = strings.TrimSpace(string(body))
	default:
		res.Content = fmt.Sprintf("Binary content (%s), %d bytes", res.ContentType, len(body))
	}

	if utf8.RuneCountInString(res.Content) > maxChars {
		res.Content = truncateRunes(res.Content, maxChars)
		res.Truncated = true
	}
	return res, nil
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	return u.String(), nil
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// truncateRunes cuts s to at most n runes without splitting a character.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
