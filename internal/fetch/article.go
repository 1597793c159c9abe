package fetch

import (
	"context"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"sharepipe/internal/services"
)

// articleFetcher extracts title and description from arbitrary HTML pages.
// It prefers Open Graph tags and falls back to the document head.
type articleFetcher struct {
	client    *http.Client
	userAgent string
}

func newArticleFetcher(client *http.Client, userAgent string) *articleFetcher {
	return &articleFetcher{client: client, userAgent: userAgent}
}

func (f *articleFetcher) Fetch(ctx context.Context, target string) (*Result, error) {
	resp, err := get(ctx, f.client, f.userAgent, target, "article")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "fetch", "article",
			"parse document at "+target, err)
	}

	result := &Result{Headers: resp.Header}
	result.Title = firstNonEmpty(
		metaContent(doc, `meta[property="og:title"]`),
		strings.TrimSpace(doc.Find("title").First().Text()),
	)
	result.Description = firstNonEmpty(
		metaContent(doc, `meta[property="og:description"]`),
		metaContent(doc, `meta[name="description"]`),
	)
	video := metaContent(doc, `meta[property="og:video"]`)
	audio := metaContent(doc, `meta[property="og:audio"]`)
	result.MediaURL = firstNonEmpty(video, audio)
	result.AudioOnly = video == "" && audio != ""
	result.Author = metaContent(doc, `meta[name="author"]`)

	if result.Title == "" {
		return nil, services.Wrap(services.ErrNotFound, "fetch", "article",
			"page at "+target+" carries no usable title", nil)
	}
	return result, nil
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
