// Package notifications delivers operator alerts via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. The events cover conditions that need a human: a broker link that
// exhausted its reconnect budget, a circuit breaker stuck open, and shares
// that settled in error.
package notifications
