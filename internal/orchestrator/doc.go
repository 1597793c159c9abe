// Package orchestrator is the entry point for new shares and the owner of
// the scheduler job handlers. Submission validates and classifies the URL,
// persists the share, and enqueues the fetch job; the handlers gate each job
// behind the per-user slot counter and the platform rate limit budget before
// touching the network, releasing jobs back to their queue when capacity is
// not available.
package orchestrator
