// Package fetch retrieves content metadata for submitted URLs. Each supported
// platform has a fetcher that knows its public metadata surface; everything
// else falls through to a generic HTML article fetcher. Fetchers classify
// upstream responses into the shared error taxonomy so the scheduler can tell
// a retryable hiccup from a dead link, and they surface response headers so
// the rate limit tracker can learn real platform budgets.
package fetch
