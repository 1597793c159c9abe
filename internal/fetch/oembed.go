package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"sharepipe/internal/services"
)

// oembedFetcher reads the public oEmbed endpoint platforms expose for embeds.
// It costs no API key and returns enough metadata to classify and summarize.
type oembedFetcher struct {
	client    *http.Client
	userAgent string
	endpoint  string
	platform  string
}

func newOEmbedFetcher(client *http.Client, userAgent, endpoint string) *oembedFetcher {
	return &oembedFetcher{client: client, userAgent: userAgent, endpoint: endpoint}
}

type oembedDocument struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	ProviderName string `json:"provider_name"`
	ThumbnailURL string `json:"thumbnail_url"`
}

func (f *oembedFetcher) Fetch(ctx context.Context, target string) (*Result, error) {
	resp, err := get(ctx, f.client, f.userAgent, f.endpoint+url.QueryEscape(target), f.platform)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var doc oembedDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, services.Wrap(services.ErrTransient, "fetch", "oembed",
			"decode oembed response", err)
	}
	if doc.Title == "" {
		return nil, services.Wrap(services.ErrNotFound, "fetch", "oembed",
			"oembed response carried no title", nil)
	}
	return &Result{
		Title:    doc.Title,
		Author:   doc.AuthorName,
		MediaURL: target,
		Headers:  resp.Header,
	}, nil
}
