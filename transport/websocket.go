// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/electrumx/framer"
	"github.com/gorilla/websocket"
)

// dialWebSocket performs the WebSocket upgrade against the endpoint root.
func (d *NetDialer) dialWebSocket(ctx context.Context, ep Endpoint) (Conn, error) {
	u := url.URL{Scheme: ep.Scheme(), Host: ep.Address(), Path: "/"}

	dialer := websocket.Dialer{
		HandshakeTimeout: ep.DialTimeout(),
		TLSClientConfig:  insecureTLSConfig(ep.Host),
		NetDialContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
			return dialRaw(ctx, ep, addr)
		},
	}

	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	return &wsConn{
		ep:     ep,
		ws:     ws,
		log:    d.logger(),
		framer: framer.New(d.MaxLineSize),
	}, nil
}

// wsConn is a Conn over a WebSocket.  Each text frame carries one or more
// JSON messages; a frame without a trailing newline is treated as a single
// complete line.
//
// The underlying WebSocket cannot be read again after a read deadline
// expires, so on ErrTimeout the connection is closed and subsequent calls
// return ErrClosed.
type wsConn struct {
	ep  Endpoint
	ws  *websocket.Conn
	log btclog.Logger

	closed    int32 // atomic
	closeOnce sync.Once

	writeMtx sync.Mutex

	readMtx sync.Mutex
	framer  *framer.Framer
}

// Ensure wsConn satisfies the Conn interface.
var _ Conn = (*wsConn)(nil)

// Send writes payload as a single text frame without its trailing newline.
func (c *wsConn) Send(payload []byte) error {
	if !c.IsConnected() {
		return &SendError{Endpoint: c.ep, Err: ErrClosed}
	}

	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.ep.DialTimeout())); err != nil {
		return &SendError{Endpoint: c.ep, Err: err}
	}
	msg := bytes.TrimRight(payload, "\r\n")
	if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		c.log.Debugf("Write to %v failed: %v", c.ep, err)
		return &SendError{Endpoint: c.ep, Err: err}
	}

	c.log.Tracef("Sent %d bytes to %v", len(msg), c.ep)
	return nil
}

// ReceiveLine returns the next complete line.
func (c *wsConn) ReceiveLine(timeout time.Duration) ([]byte, error) {
	c.readMtx.Lock()
	defer c.readMtx.Unlock()

	if line, ok := c.framer.Next(); ok {
		return line, nil
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if !c.IsConnected() {
			return nil, ErrClosed
		}
		if err := c.ws.SetReadDeadline(deadline); err != nil {
			return nil, c.readError(err)
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, c.readError(err)
		}
		if len(data) == 0 {
			continue
		}
		if data[len(data)-1] != framer.Delim {
			data = append(data, framer.Delim)
		}
		if ferr := c.framer.Feed(data); ferr != nil {
			c.log.Warnf("Discarding input from %v: %v", c.ep, ferr)
		}
		if line, ok := c.framer.Next(); ok {
			return line, nil
		}
	}
}

func (c *wsConn) readError(err error) error {
	if !c.IsConnected() {
		return ErrClosed
	}

	c.Close()
	switch {
	case isTimeout(err):
		return ErrTimeout
	case isClosed(err), websocket.IsCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway):

		c.log.Debugf("Connection to %v closed by peer", c.ep)
		return ErrClosed
	}
	c.log.Debugf("Read from %v failed: %v", c.ep, err)
	return fmt.Errorf("%w: %v", ErrClosed, err)
}

// IsConnected reports whether the Conn is still open.
func (c *wsConn) IsConnected() bool {
	return atomic.LoadInt32(&c.closed) == 0
}

// Close sends a close frame on a best-effort basis and releases the socket.
func (c *wsConn) Close() {
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.closed, 1)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg,
			time.Now().Add(time.Second))

		if err := c.ws.Close(); err != nil {
			c.log.Tracef("Close %v: %v", c.ep, err)
		}
	})
}

// Endpoint returns the endpoint the Conn was dialed to.
func (c *wsConn) Endpoint() Endpoint {
	return c.ep
}
