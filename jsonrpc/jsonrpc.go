// Copyright (c) 2014 The btcsuite developers
// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// RPCVersion is a type to indicate RPC versions.
type RPCVersion string

// RpcVersion2 is the only version ElectrumX speaks.
const RpcVersion2 RPCVersion = "2.0"

// String returns the version as a string.
func (r RPCVersion) String() string {
	return string(r)
}

// Request is a JSON-RPC request.  ElectrumX requires positional params, so
// Params is always an array, and ids are integers.
type Request struct {
	Jsonrpc RPCVersion        `json:"jsonrpc"`
	ID      int64             `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// NewRequest returns a new JSON-RPC request object given the provided id,
// method, and parameters.  The parameters are marshalled into a
// json.RawMessage each so the request keeps their order.
func NewRequest(id int64, method string, params []interface{}) (*Request, error) {
	if method == "" {
		return nil, errors.New("jsonrpc: empty method")
	}

	rawParams, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: marshal params for %s: %w",
			method, err)
	}

	return &Request{
		Jsonrpc: RpcVersion2,
		ID:      id,
		Method:  method,
		Params:  rawParams,
	}, nil
}

// MarshalRequest serializes the request and appends the newline delimiter so
// the result can be written to the wire as is.
func MarshalRequest(r *Request) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Response is the general form of a JSON-RPC response.  Exactly one of
// Result and Error is set on a response produced by ParseMessage.  The ID
// field is a pointer since some servers reply to unparseable requests with a
// null id.
type Response struct {
	Jsonrpc RPCVersion      `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// HasID reports whether the response carries the given request id.
func (r *Response) HasID(id int64) bool {
	return r.ID != nil && *r.ID == id
}

// Notification is a server initiated message without an id, such as a new
// block header or a scripthash status change.
type Notification struct {
	Jsonrpc RPCVersion        `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// NewNotification builds a notification, mostly useful to tests and fake
// servers.
func NewNotification(method string, params []interface{}) (*Notification, error) {
	rawParams, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Notification{
		Jsonrpc: RpcVersion2,
		Method:  method,
		Params:  rawParams,
	}, nil
}

// Message is one parsed line.  Exactly one of Response and Notification is
// non-nil.
type Message struct {
	Response     *Response
	Notification *Notification
}

// MalformedMessageError describes a line which is not valid JSON or which
// is neither a response nor a notification.
type MalformedMessageError struct {
	Line []byte
	Err  error
}

// Error satisfies the error interface.
func (e *MalformedMessageError) Error() string {
	const maxShown = 128
	line := e.Line
	suffix := ""
	if len(line) > maxShown {
		line = line[:maxShown]
		suffix = "..."
	}
	return fmt.Sprintf("malformed message %q%s: %v", line, suffix, e.Err)
}

// Unwrap returns the underlying cause.
func (e *MalformedMessageError) Unwrap() error {
	return e.Err
}

var (
	errNoResultOrError = errors.New("neither result nor error present")
	errNotAnObject     = errors.New("not a JSON object")
	errBadID           = errors.New("id is not an integer")
)

// ParseMessage classifies a single line.  A line holding a "method" and no
// "id" is a notification.  Anything else must carry a result or an error to
// be a response; a line with neither is malformed.  A present but null
// error is treated as absent.
func ParseMessage(line []byte) (*Message, error) {
	line = bytes.TrimSpace(line)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, &MalformedMessageError{Line: line, Err: err}
	}
	if fields == nil {
		return nil, &MalformedMessageError{Line: line, Err: errNotAnObject}
	}

	rawID, hasID := fields["id"]
	rawResult, hasResult := fields["result"]
	rawError, hasError := fields["error"]
	rawMethod, hasMethod := fields["method"]
	if hasError && isNull(rawError) {
		hasError = false
	}

	if hasMethod && !hasResult && !hasError && (!hasID || isNull(rawID)) {
		var n Notification
		if err := json.Unmarshal(rawMethod, &n.Method); err != nil {
			return nil, &MalformedMessageError{Line: line, Err: err}
		}
		if rawParams, ok := fields["params"]; ok && !isNull(rawParams) {
			if err := json.Unmarshal(rawParams, &n.Params); err != nil {
				// Some servers send a single object instead of
				// an array.  Keep it as the only param.
				n.Params = []json.RawMessage{rawParams}
			}
		}
		n.Jsonrpc = versionOf(fields)
		return &Message{Notification: &n}, nil
	}

	if !hasResult && !hasError {
		return nil, &MalformedMessageError{Line: line, Err: errNoResultOrError}
	}

	resp := Response{Jsonrpc: versionOf(fields)}
	if hasID && !isNull(rawID) {
		var id int64
		if err := json.Unmarshal(rawID, &id); err != nil {
			return nil, &MalformedMessageError{Line: line, Err: errBadID}
		}
		resp.ID = &id
	}
	if hasError {
		resp.Error = decodeRPCError(rawError)
	} else {
		resp.Result = rawResult
	}

	return &Message{Response: &resp}, nil
}

// Interpret returns the result carried by resp, or the server's error.  A
// nil response yields ErrNoResponse.
func Interpret(resp *Response) (json.RawMessage, error) {
	if resp == nil {
		return nil, ErrNoResponse
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// InterpretInto decodes the result of resp into v.
func InterpretInto(resp *Response, v interface{}) error {
	result, err := Interpret(resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(result, v); err != nil {
		return fmt.Errorf("jsonrpc: decode result: %w", err)
	}
	return nil
}

func marshalParams(params []interface{}) ([]json.RawMessage, error) {
	rawParams := make([]json.RawMessage, 0, len(params))
	for _, param := range params {
		marshalledParam, err := json.Marshal(param)
		if err != nil {
			return nil, err
		}
		rawParams = append(rawParams, json.RawMessage(marshalledParam))
	}
	return rawParams, nil
}

func versionOf(fields map[string]json.RawMessage) RPCVersion {
	var v string
	if raw, ok := fields["jsonrpc"]; ok {
		_ = json.Unmarshal(raw, &v)
	}
	return RPCVersion(v)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
