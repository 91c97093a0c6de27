// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package transporttest provides an in-memory transport.Conn and
// transport.Dialer for tests.  A Conn records every payload sent to it and
// lets the test script server lines, either directly with Push or in reply
// to requests through a Handler.
package transporttest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/electrumx/jsonrpc"
	"github.com/btcsuite/electrumx/transport"
)

// Handler is invoked synchronously for every request sent on a Conn.  req is
// nil when the payload is not a valid request.
type Handler func(c *Conn, req *jsonrpc.Request)

// Conn is a scripted transport.Conn.
type Conn struct {
	ep     transport.Endpoint
	lines  chan []byte
	closed chan struct{}
	once   sync.Once

	mtx     sync.Mutex
	handler Handler
	sent    [][]byte
	events  []string
	sendErr error
}

// Ensure Conn satisfies the transport.Conn interface.
var _ transport.Conn = (*Conn)(nil)

// NewConn returns an open Conn for ep.
func NewConn(ep transport.Endpoint, handler Handler) *Conn {
	return &Conn{
		ep:      ep,
		lines:   make(chan []byte, 1024),
		closed:  make(chan struct{}),
		handler: handler,
	}
}

// SetHandler replaces the request handler.
func (c *Conn) SetHandler(h Handler) {
	c.mtx.Lock()
	c.handler = h
	c.mtx.Unlock()
}

// FailSends makes every following Send fail with err.  A nil err restores
// normal operation.
func (c *Conn) FailSends(err error) {
	c.mtx.Lock()
	c.sendErr = err
	c.mtx.Unlock()
}

// Send records payload and hands the decoded request to the handler.
func (c *Conn) Send(payload []byte) error {
	if !c.IsConnected() {
		return &transport.SendError{Endpoint: c.ep, Err: transport.ErrClosed}
	}

	c.mtx.Lock()
	if c.sendErr != nil {
		err := c.sendErr
		c.mtx.Unlock()
		return &transport.SendError{Endpoint: c.ep, Err: err}
	}
	p := append([]byte(nil), payload...)
	c.sent = append(c.sent, p)
	c.events = append(c.events, "send "+string(trimNewline(p)))
	handler := c.handler
	c.mtx.Unlock()

	if handler != nil {
		var req jsonrpc.Request
		if err := json.Unmarshal(p, &req); err != nil {
			handler(c, nil)
		} else {
			handler(c, &req)
		}
	}
	return nil
}

// ReceiveLine returns the next pushed line.  Lines pushed before Close was
// called are still delivered.
func (c *Conn) ReceiveLine(timeout time.Duration) ([]byte, error) {
	select {
	case line := <-c.lines:
		return c.received(line), nil
	default:
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case line := <-c.lines:
		return c.received(line), nil
	case <-c.closed:
		return nil, transport.ErrClosed
	case <-timer:
		return nil, transport.ErrTimeout
	}
}

func (c *Conn) received(line []byte) []byte {
	c.mtx.Lock()
	c.events = append(c.events, "recv "+string(line))
	c.mtx.Unlock()
	return line
}

// IsConnected reports whether Close has not been called.
func (c *Conn) IsConnected() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

// Close marks the Conn closed, waking any pending ReceiveLine.  It also
// serves to simulate the peer hanging up.
func (c *Conn) Close() {
	c.once.Do(func() { close(c.closed) })
}

// Endpoint returns the endpoint the Conn was created for.
func (c *Conn) Endpoint() transport.Endpoint {
	return c.ep
}

// Push queues a raw line for ReceiveLine.
func (c *Conn) Push(line string) {
	c.lines <- []byte(line)
}

// Reply queues a successful response carrying the raw JSON result.
func (c *Conn) Reply(id int64, result string) {
	c.Push(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, id, result))
}

// ReplyError queues an error response.
func (c *Conn) ReplyError(id int64, code int, message string) {
	c.Push(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":%d,"message":%q}}`,
		id, code, message))
}

// Notify queues a notification with raw JSON params.
func (c *Conn) Notify(method, params string) {
	c.Push(fmt.Sprintf(`{"jsonrpc":"2.0","method":%q,"params":%s}`,
		method, params))
}

// Sent returns a copy of every payload sent so far.
func (c *Conn) Sent() [][]byte {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	sent := make([][]byte, len(c.sent))
	copy(sent, c.sent)
	return sent
}

// Methods returns the method of every valid request sent so far, in order.
func (c *Conn) Methods() []string {
	var methods []string
	for _, p := range c.Sent() {
		var req jsonrpc.Request
		if json.Unmarshal(p, &req) == nil {
			methods = append(methods, req.Method)
		}
	}
	return methods
}

// Count returns how many requests for method were sent.
func (c *Conn) Count(method string) int {
	n := 0
	for _, m := range c.Methods() {
		if m == method {
			n++
		}
	}
	return n
}

// Events returns the interleaved send and receive log.  Entries are
// "send <payload>" and "recv <line>".
func (c *Conn) Events() []string {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	events := make([]string, len(c.events))
	copy(events, c.events)
	return events
}

// Results returns a Handler that answers each method with a fixed raw JSON
// result.  Unknown methods receive a method-not-found error.
func Results(results map[string]string) Handler {
	return func(c *Conn, req *jsonrpc.Request) {
		if req == nil {
			return
		}
		result, ok := results[req.Method]
		if !ok {
			c.ReplyError(req.ID, int(jsonrpc.ErrCodeMethodNotFound),
				"unknown method "+req.Method)
			return
		}
		c.Reply(req.ID, result)
	}
}

// ServerVersion is the server.version result used by ElectrumX.
const ServerVersion = `["ElectrumX 1.16.0","1.10"]`

// Dialer hands out a new Conn on every Dial.
type Dialer struct {
	mtx     sync.Mutex
	conns   []*Conn
	handler Handler
	err     error
	refused map[string]error
	onDial  func(n int, c *Conn)
}

// Ensure Dialer satisfies the transport.Dialer interface.
var _ transport.Dialer = (*Dialer)(nil)

// NewDialer returns a Dialer whose Conns use handler.
func NewDialer(handler Handler) *Dialer {
	return &Dialer{handler: handler}
}

// Dial returns a fresh Conn, or the error set with FailDials.
func (d *Dialer) Dial(ctx context.Context, ep transport.Endpoint) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, &transport.ConnectError{Endpoint: ep, Err: err}
	}

	d.mtx.Lock()
	err := d.err
	if err == nil {
		err = d.refused[ep.String()]
	}
	if err != nil {
		d.mtx.Unlock()
		return nil, &transport.ConnectError{Endpoint: ep, Err: err}
	}
	c := NewConn(ep, d.handler)
	n := len(d.conns)
	d.conns = append(d.conns, c)
	onDial := d.onDial
	d.mtx.Unlock()

	if onDial != nil {
		onDial(n, c)
	}
	return c, nil
}

// FailDials makes every following Dial fail with err.  A nil err restores
// normal operation.
func (d *Dialer) FailDials(err error) {
	d.mtx.Lock()
	d.err = err
	d.mtx.Unlock()
}

// Refuse makes every following Dial to ep fail with err.  A nil err
// accepts ep again.
func (d *Dialer) Refuse(ep transport.Endpoint, err error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if err == nil {
		delete(d.refused, ep.String())
		return
	}
	if d.refused == nil {
		d.refused = make(map[string]error)
	}
	d.refused[ep.String()] = err
}

// OnDial registers fn to run with the zero-based dial index and new Conn
// after each successful Dial.
func (d *Dialer) OnDial(fn func(n int, c *Conn)) {
	d.mtx.Lock()
	d.onDial = fn
	d.mtx.Unlock()
}

// Conns returns every Conn handed out so far.
func (d *Dialer) Conns() []*Conn {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	conns := make([]*Conn, len(d.conns))
	copy(conns, d.conns)
	return conns
}

// Last returns the most recent Conn or nil.
func (d *Dialer) Last() *Conn {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func trimNewline(p []byte) []byte {
	for len(p) > 0 && (p[len(p)-1] == '\n' || p[len(p)-1] == '\r') {
		p = p[:len(p)-1]
	}
	return p
}
