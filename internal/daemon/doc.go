// Package daemon assembles the long-running sharepipe process: the scheduler
// workers, the broker link and its reconnect loop, the periodic maintenance
// jobs, and the HTTP API. It enforces single-instance execution through a
// lock file and owns graceful shutdown ordering.
package daemon
