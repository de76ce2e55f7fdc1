// Package fetch loads result pages from a URL or a reader.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"titlesearch/internal/metrics"

	"golang.org/x/net/html/charset"
)

// DefaultUserAgent is sent when NewLoader gets an empty user agent.
const DefaultUserAgent = "titlesearch/1.0"

// Input describes where HTML should come from.
type Input struct {
	// URL, if provided, is fetched via HTTP GET.
	URL string

	// Stdin is used when URL is empty. If nil, stdin reads as empty.
	Stdin io.Reader
}

// Loader fetches or reads HTML with a consistent timeout policy.
type Loader struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// NewLoader creates a Loader. If client is nil, http.DefaultClient is used.
func NewLoader(client *http.Client, timeout time.Duration, userAgent string) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Loader{
		client:    client,
		timeout:   timeout,
		userAgent: userAgent,
	}
}

// Load returns the HTML source for either stdin (when input.URL is empty)
// or a fetched URL. Fetched bodies are decoded to UTF-8 using the
// Content-Type charset or the document's meta tags.
//
// On non-2xx HTTP responses, Load returns an error that includes the status
// code and up to 4KB of the response body for debugging.
func (l *Loader) Load(ctx context.Context, input Input) (string, error) {
	if strings.TrimSpace(input.URL) == "" {
		if input.Stdin == nil {
			return "", nil
		}
		b, err := io.ReadAll(input.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	start := time.Now()
	html, status, n, err := l.get(ctx, input.URL)
	metrics.RecordHTTP(status, err, time.Since(start), n)
	return html, err
}

func (l *Loader) get(ctx context.Context, rawURL string) (string, int, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", 0, 0, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", resp.StatusCode, int64(len(body)),
			fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	r, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", resp.StatusCode, 0, fmt.Errorf("detect charset: %w", err)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", resp.StatusCode, int64(len(b)), fmt.Errorf("read body: %w", err)
	}
	return string(b), resp.StatusCode, int64(len(b)), nil
}
