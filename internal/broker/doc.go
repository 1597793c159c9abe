// Package broker maintains the single logical link to the ML task broker and
// the publish path over it. The link is modelled as an explicit state machine
// (disconnected, connecting, connected, closing, closed) driven by a
// reconnection loop with exponential backoff, and the publish path is wrapped
// in a circuit breaker so repeated downstream failures fail fast instead of
// stacking timeouts in workers.
package broker
