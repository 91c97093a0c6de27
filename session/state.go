// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package session

import (
	"fmt"
	"time"

	"github.com/btcsuite/electrumx/transport"
)

// State is the lifecycle state of a Session.
type State int32

// Session states.
const (
	// StateUnconnected is the state of a new Session.
	StateUnconnected State = iota

	// StateConnected means both connections are open but no handshake
	// has completed on them.
	StateConnected

	// StateHandshaked means a handshake completed on the current
	// connections.
	StateHandshaked

	// StateDisconnected follows an explicit Disconnect.
	StateDisconnected

	// StateFailed follows a failed Connect.  It behaves as
	// StateUnconnected.
	StateFailed
)

// Map of states back to their constant names for pretty printing.
var stateStrings = map[State]string{
	StateUnconnected:  "Unconnected",
	StateConnected:    "Connected",
	StateHandshaked:   "Handshaked",
	StateDisconnected: "Disconnected",
	StateFailed:       "Failed",
}

// String returns the State as a human-readable name.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("Unknown State (%d)", int32(s))
}

// HandshakeState records the outcome of the last successful handshake.
type HandshakeState struct {
	At              time.Time
	ServerVersion   string
	ProtocolVersion string
}

// IsZero reports whether no handshake has completed.
func (h HandshakeState) IsZero() bool {
	return h.At.IsZero()
}

// Fresh reports whether the handshake is younger than ttl at now.
func (h HandshakeState) Fresh(now time.Time, ttl time.Duration) bool {
	return !h.IsZero() && now.Sub(h.At) < ttl
}

// HandshakeError describes a failed or rejected server.version exchange.
type HandshakeError struct {
	Endpoint transport.Endpoint
	Reason   string
	Err      error
}

// Error satisfies the error interface.
func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handshake with %v: %s: %v", e.Endpoint,
			e.Reason, e.Err)
	}
	return fmt.Sprintf("handshake with %v: %s", e.Endpoint, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *HandshakeError) Unwrap() error {
	return e.Err
}
