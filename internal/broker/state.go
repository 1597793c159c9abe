package broker

import "time"

// ConnectionState tracks where the broker link is in its lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateClosing      ConnectionState = "closing"
	StateClosed       ConnectionState = "closed"

	// StateNeedsIntervention is terminal short of a restart: the reconnect
	// loop exhausted its attempt budget and gave up.
	StateNeedsIntervention ConnectionState = "needs_intervention"
)

// Status is a point-in-time view of the broker link for the status surface.
type Status struct {
	State            ConnectionState `json:"state"`
	ReconnectAttempt int             `json:"reconnect_attempt,omitempty"`
	ConnectedSince   time.Time       `json:"connected_since,omitzero"`
	LastError        string          `json:"last_error,omitempty"`
	Breaker          BreakerStatus   `json:"breaker"`
}

// reconnectMaxDelay caps the exponential backoff between connect attempts.
const reconnectMaxDelay = 60 * time.Second

// ReconnectDelay returns the wait before reconnect attempt n (1-based):
// 1s, 2s, 4s, 8s, 16s, 32s, then 60s.
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		return reconnectMaxDelay
	}
	d := time.Duration(1<<(attempt-1)) * time.Second
	if d > reconnectMaxDelay {
		return reconnectMaxDelay
	}
	return d
}
