// Package ratelimit gates outbound platform calls behind per-platform call
// budgets. Upstream rate-limit response headers are the authoritative source
// of truth; until a platform has reported headers, a conservative local pacer
// stands in. Each budget is partitioned across priority tiers so queued
// low-tier backlogs cannot consume headroom reserved for high-tier work.
package ratelimit
