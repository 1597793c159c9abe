package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// limitInfo is the parsed form of upstream rate-limit headers. remaining is -1
// when the header was absent so callers can distinguish "zero left" from
// "not reported".
type limitInfo struct {
	limit     int
	remaining int
	resetAt   time.Time
}

// parseHeaders extracts rate-limit fields from a response. Platforms differ in
// precision: reset may be a unix timestamp or a delta in seconds, and any
// header may be missing entirely.
func parseHeaders(headers http.Header, now time.Time) (limitInfo, bool) {
	info := limitInfo{limit: 0, remaining: -1}
	found := false

	if raw := headerValue(headers, "X-RateLimit-Limit", "RateLimit-Limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			info.limit = v
			found = true
		}
	}
	if raw := headerValue(headers, "X-RateLimit-Remaining", "RateLimit-Remaining"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			info.remaining = v
			found = true
		}
	}
	if raw := headerValue(headers, "X-RateLimit-Reset", "RateLimit-Reset"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
			info.resetAt = resolveReset(v, now)
			found = true
		}
	}
	return info, found
}

// RetryAfterFromHeaders parses a Retry-After header (delta seconds or HTTP
// date), returning zero when absent or unparseable.
func RetryAfterFromHeaders(headers http.Header, now time.Time) time.Duration {
	raw := strings.TrimSpace(headers.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if wait := at.Sub(now); wait > 0 {
			return wait
		}
	}
	return 0
}

// resolveReset interprets a reset value as a unix timestamp when it is far in
// the future relative to now, otherwise as a delta in seconds.
func resolveReset(value int64, now time.Time) time.Time {
	if value > now.Unix()/2 {
		return time.Unix(value, 0).UTC()
	}
	return now.Add(time.Duration(value) * time.Second)
}

func headerValue(headers http.Header, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(headers.Get(name)); v != "" {
			return v
		}
	}
	return ""
}
