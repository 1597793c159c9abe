package orchestrator

import (
	"net/url"
	"strings"

	"sharepipe/internal/services"
)

// ClassifyPlatform maps a submitted URL onto a platform name. Unrecognized
// hosts are treated as generic articles rather than rejected.
func ClassifyPlatform(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", services.Wrap(services.ErrValidation, "orchestrator", "classify",
			"submitted URL is not an absolute http(s) URL", err)
	}

	host := strings.ToLower(parsed.Hostname())
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")

	switch {
	case host == "youtu.be" || host == "youtube.com" || strings.HasSuffix(host, ".youtube.com"):
		return "youtube", nil
	case host == "tiktok.com" || strings.HasSuffix(host, ".tiktok.com"):
		return "tiktok", nil
	case host == "instagram.com" || strings.HasSuffix(host, ".instagram.com"):
		return "instagram", nil
	}
	return "article", nil
}
