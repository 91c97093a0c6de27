// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned by ReceiveLine when no complete line arrived
	// before the timeout elapsed.  The connection remains usable.
	ErrTimeout = errors.New("transport: receive timed out")

	// ErrClosed is returned by ReceiveLine when the peer closed the
	// connection or the Conn was closed locally.
	ErrClosed = errors.New("transport: connection closed")

	// ErrNotConnected is returned when an operation requires a Conn but
	// none has been established.
	ErrNotConnected = errors.New("transport: not connected")
)

// ConnectError describes a failure to establish a connection, whether from
// name resolution, a refused connection, a proxy, a TLS handshake or a
// timeout.
type ConnectError struct {
	Endpoint Endpoint
	Err      error
}

// Error satisfies the error interface.
func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %v: %v", e.Endpoint, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConnectError) Unwrap() error {
	return e.Err
}

// SendError describes a failed write, typically a broken pipe.  The
// connection should be replaced.
type SendError struct {
	Endpoint Endpoint
	Err      error
}

// Error satisfies the error interface.
func (e *SendError) Error() string {
	return fmt.Sprintf("send to %v: %v", e.Endpoint, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SendError) Unwrap() error {
	return e.Err
}
