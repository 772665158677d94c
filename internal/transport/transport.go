// Package transport maintains the live feed from the remote fleet over one
// of three strategies: a primary WebSocket push transport, a fallback SSE
// push transport, and interval polling of the full-state endpoint. The
// manager owns exactly one live handle at a time, reconnects with
// exponential backoff, and emits connectivity transitions and normalized
// updates on the event bus. No transport-specific payload shape leaks past
// this package.
package transport

import (
	"context"
	"encoding/json"
)

// Stream is one live push connection delivering raw payloads in arrival
// order. Receive blocks until a payload arrives, the stream breaks, or ctx
// is done. Close tears the handle down; a closed stream's Receive returns
// an error and never delivers again, so a lingering handle cannot cause
// duplicate delivery.
type Stream interface {
	Receive(ctx context.Context) (json.RawMessage, error)
	Close() error
}

// Dialer opens a Stream to the remote system.
type Dialer interface {
	// Name identifies the transport kind in logs and connectivity events.
	Name() string
	Dial(ctx context.Context) (Stream, error)
}

// StateFetcher retrieves the complete current entity collections. Used once
// at startup and on the polling fallback path.
type StateFetcher interface {
	FetchState(ctx context.Context) (json.RawMessage, error)
}

// State is the manager's connection state machine position.
type State string

const (
	StateDisconnected      State = "disconnected"
	StateConnecting        State = "connecting"
	StateConnectedPrimary  State = "connected-primary"
	StateConnectedFallback State = "connected-fallback"
	StatePolling           State = "polling"
	StateBackoffWait       State = "backoff-wait"
)
