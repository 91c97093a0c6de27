// Copyright (c) 2014 The btcsuite developers
// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoResponse is returned by Interpret when there is no response to
// interpret, for instance after a timeout.
var ErrNoResponse = errors.New("jsonrpc: no response")

// RPCErrorCode represents an error code to be used as a part of an RPCError
// which is in turn used in a JSON-RPC Response object.
type RPCErrorCode int

// Standard JSON-RPC 2.0 error codes plus the application codes ElectrumX
// uses.
const (
	ErrCodeParse          RPCErrorCode = -32700
	ErrCodeInvalidRequest RPCErrorCode = -32600
	ErrCodeMethodNotFound RPCErrorCode = -32601
	ErrCodeInvalidParams  RPCErrorCode = -32602
	ErrCodeInternal       RPCErrorCode = -32603

	// ErrCodeBadRequest is returned by ElectrumX when a request is
	// well formed but cannot be served, such as an unknown scripthash
	// format or an unsupported protocol version.
	ErrCodeBadRequest RPCErrorCode = 1

	// ErrCodeDaemon indicates the server's backing node rejected the
	// request, most commonly a transaction broadcast.
	ErrCodeDaemon RPCErrorCode = 2
)

// RPCError represents an error that is used as a part of a JSON-RPC Response
// object.
type RPCError struct {
	Code    RPCErrorCode `json:"code,omitempty"`
	Message string       `json:"message,omitempty"`
}

// Guarantee RPCError satisfies the builtin error interface.
var _, _ error = RPCError{}, (*RPCError)(nil)

// Error returns a string describing the RPC error.  This satisfies the
// builtin error interface.
func (e RPCError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// NewRPCError constructs and returns a new JSON-RPC error that is suitable
// for use in a JSON-RPC Response object.
func NewRPCError(code RPCErrorCode, message string) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
	}
}

// decodeRPCError accepts the usual {"code":..,"message":..} object as well
// as the bare strings some older servers send.
func decodeRPCError(raw json.RawMessage) *RPCError {
	var rpcErr RPCError
	if err := json.Unmarshal(raw, &rpcErr); err == nil &&
		(rpcErr.Code != 0 || rpcErr.Message != "") {

		return &rpcErr
	}

	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		return &RPCError{Message: msg}
	}

	return &RPCError{Message: string(raw)}
}
