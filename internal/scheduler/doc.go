// Package scheduler runs the background job machinery for shares. Jobs are
// enqueued onto per-platform, per-tier Redis queues drained with weighted
// fairness (high 3, normal 2, low 1), with per-tier concurrency ceilings and
// per-user in-flight slots enforced at dequeue time. Jobs that cannot run yet
// are released back to their queue with a delay rather than counted as
// failures.
package scheduler
