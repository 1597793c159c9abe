package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"sharepipe/internal/config"
	"sharepipe/internal/ratelimit"
	"sharepipe/internal/services"
)

// Result is the outcome of fetching one URL. Headers carry the upstream
// response headers so callers can feed rate limit state.
type Result struct {
	Title           string
	Description     string
	MediaURL        string
	AudioOnly       bool
	HasCaptions     bool
	DurationSeconds int
	Author          string
	Headers         http.Header
}

// Fetcher retrieves metadata for one platform's URLs.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Result, error)
}

// Registry routes a platform name to its fetcher, with the article fetcher
// as the fallback for anything unrecognized.
type Registry struct {
	fetchers map[string]Fetcher
	fallback Fetcher
}

// NewRegistry wires the built-in platform fetchers over a shared HTTP client.
func NewRegistry(cfg *config.Config) *Registry {
	client := &http.Client{
		Timeout: time.Duration(cfg.Fetch.RequestTimeoutSeconds) * time.Second,
	}
	userAgent := cfg.Fetch.UserAgent
	return &Registry{
		fetchers: map[string]Fetcher{
			"youtube":   newOEmbedFetcher(client, userAgent, "https://www.youtube.com/oembed?format=json&url="),
			"tiktok":    newOEmbedFetcher(client, userAgent, "https://www.tiktok.com/oembed?url="),
			"instagram": newArticleFetcher(client, userAgent),
		},
		fallback: newArticleFetcher(client, userAgent),
	}
}

// For returns the fetcher responsible for a platform.
func (r *Registry) For(platform string) Fetcher {
	if f, ok := r.fetchers[platform]; ok {
		return f
	}
	return r.fallback
}

// classifyStatus turns an upstream HTTP status into the shared error
// taxonomy. 429 becomes a rate limit error carrying the declared retry-after;
// 4xx client errors are terminal; everything 5xx is retryable.
func classifyStatus(platform string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &services.RateLimitError{
			Platform:   platform,
			RetryAfter: ratelimit.RetryAfterFromHeaders(resp.Header, time.Now()),
		}
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return services.Wrap(services.ErrNotFound, "fetch", "request",
			fmt.Sprintf("upstream returned %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return services.Wrap(services.ErrForbidden, "fetch", "request",
			fmt.Sprintf("upstream returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= 500:
		return services.Wrap(services.ErrTransient, "fetch", "request",
			fmt.Sprintf("upstream returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return services.Wrap(services.ErrValidation, "fetch", "request",
			fmt.Sprintf("upstream returned %d", resp.StatusCode), nil)
	}
	return nil
}

// get performs one GET with the shared request shape. The caller owns the
// response body on success.
func get(ctx context.Context, client *http.Client, userAgent, url string, platform string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "fetch", "request",
			"build request for "+url, err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "fetch", "request",
			"request to "+url+" failed", err)
	}
	if err := classifyStatus(platform, resp); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}
