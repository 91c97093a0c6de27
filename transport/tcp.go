// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/electrumx/framer"
)

// streamConn is a Conn over a byte stream, either plain TCP or TLS.
type streamConn struct {
	ep   Endpoint
	conn net.Conn
	log  btclog.Logger

	closed    int32 // atomic
	closeOnce sync.Once

	writeMtx sync.Mutex

	readMtx sync.Mutex
	framer  *framer.Framer
	readBuf []byte
}

// Ensure streamConn satisfies the Conn interface.
var _ Conn = (*streamConn)(nil)

func newStreamConn(ep Endpoint, conn net.Conn, maxLine int, logger btclog.Logger) *streamConn {
	return &streamConn{
		ep:      ep,
		conn:    conn,
		log:     logger,
		framer:  framer.New(maxLine),
		readBuf: make([]byte, readBufferSize),
	}
}

// Send writes payload in full.
func (c *streamConn) Send(payload []byte) error {
	if !c.IsConnected() {
		return &SendError{Endpoint: c.ep, Err: ErrClosed}
	}

	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.ep.DialTimeout())); err != nil {
		return &SendError{Endpoint: c.ep, Err: err}
	}
	if _, err := c.conn.Write(payload); err != nil {
		c.log.Debugf("Write to %v failed: %v", c.ep, err)
		return &SendError{Endpoint: c.ep, Err: err}
	}

	c.log.Tracef("Sent %d bytes to %v", len(payload), c.ep)
	return nil
}

// ReceiveLine returns the next complete line.  Partial data is retained
// across timeouts.
func (c *streamConn) ReceiveLine(timeout time.Duration) ([]byte, error) {
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
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return nil, c.readError(err)
		}

		n, err := c.conn.Read(c.readBuf)
		if n > 0 {
			if ferr := c.framer.Feed(c.readBuf[:n]); ferr != nil {
				c.log.Warnf("Discarding input from %v: %v", c.ep, ferr)
			}
			if line, ok := c.framer.Next(); ok {
				return line, nil
			}
		}
		if err != nil {
			return nil, c.readError(err)
		}
	}
}

// readError maps a read failure onto ErrTimeout or ErrClosed.  Anything
// other than a timeout leaves the stream unusable, so the Conn is closed.
func (c *streamConn) readError(err error) error {
	if !c.IsConnected() {
		return ErrClosed
	}
	if isTimeout(err) {
		return ErrTimeout
	}

	c.Close()
	if isClosed(err) {
		c.log.Debugf("Connection to %v closed by peer", c.ep)
		return ErrClosed
	}
	c.log.Debugf("Read from %v failed: %v", c.ep, err)
	return fmt.Errorf("%w: %v", ErrClosed, err)
}

// IsConnected reports whether the Conn is still open.
func (c *streamConn) IsConnected() bool {
	return atomic.LoadInt32(&c.closed) == 0
}

// Close shuts the socket down.  A pending ReceiveLine returns ErrClosed.
func (c *streamConn) Close() {
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.closed, 1)
		if err := c.conn.Close(); err != nil {
			c.log.Tracef("Close %v: %v", c.ep, err)
		}
	})
}

// Endpoint returns the endpoint the Conn was dialed to.
func (c *streamConn) Endpoint() Endpoint {
	return c.ep
}
