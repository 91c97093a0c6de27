// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/electrumx/jsonrpc"
	"github.com/btcsuite/electrumx/transport"
	"github.com/decred/dcrd/lru"
)

// abandonedIDsLimit bounds how many timed out request ids are remembered.
const abandonedIDsLimit = 64

// Config describes a Client.
type Config struct {
	// Endpoint is the server to connect to.
	Endpoint transport.Endpoint

	// Dialer opens the connection.  Defaults to transport.DefaultDialer.
	Dialer transport.Dialer

	// Timeout bounds the wait for a response.  Defaults to the endpoint
	// timeout.
	Timeout time.Duration

	// StrictIDs rejects responses with unknown ids instead of returning
	// them.
	StrictIDs bool

	// IDs overrides the process-wide request id source.
	IDs *IDSource

	// Observer, when set, is notified of every call.
	Observer Observer

	// Logger overrides the package logger.
	Logger btclog.Logger
}

// Client is a JSON-RPC client bound to one connection at a time.
type Client struct {
	cfg Config
	log btclog.Logger
	ids *IDSource

	// connMtx guards conn and endpoint.
	connMtx  sync.RWMutex
	conn     transport.Conn
	endpoint transport.Endpoint

	// callMtx serializes the send and receive of every call.
	callMtx sync.Mutex

	abandoned lru.Cache
}

// New returns an unconnected client.
func New(cfg Config) *Client {
	if cfg.Dialer == nil {
		cfg.Dialer = transport.DefaultDialer
	}
	c := &Client{
		cfg:       cfg,
		endpoint:  cfg.Endpoint,
		log:       cfg.Logger,
		ids:       cfg.IDs,
		abandoned: lru.NewCache(abandonedIDsLimit),
	}
	if c.log == nil {
		c.log = log
	}
	if c.ids == nil {
		c.ids = &processIDs
	}
	return c
}

// Endpoint returns the endpoint the client connects to.
func (c *Client) Endpoint() transport.Endpoint {
	c.connMtx.RLock()
	defer c.connMtx.RUnlock()
	return c.endpoint
}

// SetEndpoint changes the server used by the next Connect.  An open
// connection is left alone.
func (c *Client) SetEndpoint(ep transport.Endpoint) {
	c.connMtx.Lock()
	c.endpoint = ep
	c.connMtx.Unlock()
}

// Connect replaces any existing connection with a new one.  It does not
// retry.
func (c *Client) Connect(ctx context.Context) error {
	c.Disconnect()

	ep := c.Endpoint()
	conn, err := c.cfg.Dialer.Dial(ctx, ep)
	if err != nil {
		c.log.Warnf("Unable to connect to %v: %v", ep, err)
		return err
	}

	c.connMtx.Lock()
	c.conn = conn
	c.connMtx.Unlock()

	c.log.Debugf("Connected to %v", ep)
	return nil
}

// Disconnect closes the current connection, if any.  It is safe to call at
// any time, any number of times.
func (c *Client) Disconnect() {
	c.connMtx.Lock()
	conn := c.conn
	c.conn = nil
	c.connMtx.Unlock()

	if conn != nil {
		conn.Close()
		c.log.Debugf("Disconnected from %v", c.Endpoint())
	}
}

// IsConnected reports whether the client holds an open connection.  It
// does not probe the server.
func (c *Client) IsConnected() bool {
	conn := c.connection()
	return conn != nil && conn.IsConnected()
}

func (c *Client) connection() transport.Conn {
	c.connMtx.RLock()
	defer c.connMtx.RUnlock()
	return c.conn
}

func (c *Client) timeout() time.Duration {
	if c.cfg.Timeout > 0 {
		return c.cfg.Timeout
	}
	return c.Endpoint().DialTimeout()
}

// Call sends a request and waits up to the configured timeout for its
// response.  Stale replies to abandoned requests are skipped.  A reply
// carrying any other unexpected id is returned as the response with a
// warning, unless StrictIDs is set, in which case Call fails with
// ErrIDMismatch.
func (c *Client) Call(method string, params ...interface{}) (*jsonrpc.Response, error) {
	return c.CallTimeout(c.timeout(), method, params...)
}

// CallTimeout is Call with an explicit timeout.  A non-positive timeout
// selects the configured one.
func (c *Client) CallTimeout(timeout time.Duration, method string,
	params ...interface{}) (*jsonrpc.Response, error) {

	if timeout <= 0 {
		timeout = c.timeout()
	}

	start := time.Now()
	resp, err := c.call(timeout, method, params)
	if c.cfg.Observer != nil {
		observed := err
		if err == nil && resp != nil && resp.Error != nil {
			observed = resp.Error
		}
		c.cfg.Observer.ObserveCall(c.Endpoint().String(), method,
			time.Since(start), observed)
	}
	return resp, err
}

func (c *Client) call(timeout time.Duration, method string,
	params []interface{}) (*jsonrpc.Response, error) {

	conn := c.connection()
	if conn == nil {
		return nil, transport.ErrNotConnected
	}
	id, payload, err := c.marshal(method, params)
	if err != nil {
		return nil, err
	}

	c.callMtx.Lock()
	defer c.callMtx.Unlock()

	if err := conn.Send(payload); err != nil {
		c.log.Warnf("Failed to send %s to %v: %v", method,
			c.Endpoint(), err)
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.abandon(id, method)
			return nil, transport.ErrTimeout
		}

		line, err := conn.ReceiveLine(remaining)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				c.abandon(id, method)
			} else {
				c.log.Warnf("Connection to %v lost waiting for %s: %v",
					c.Endpoint(), method, err)
			}
			return nil, err
		}

		msg, err := jsonrpc.ParseMessage(line)
		if err != nil {
			c.log.Warnf("Dropping reply to %s from %v: %v", method,
				c.Endpoint(), err)
			c.abandon(id, method)
			return nil, err
		}

		if n := msg.Notification; n != nil {
			c.log.Debugf("Dropping %s notification received on the "+
				"call path from %v", n.Method, c.Endpoint())
			continue
		}

		resp := msg.Response
		switch {
		case resp.HasID(id):
			return resp, nil

		case resp.ID != nil && c.abandoned.Contains(*resp.ID):
			c.log.Debugf("Dropping stale response %d from %v", *resp.ID,
				c.Endpoint())
			c.abandoned.Delete(*resp.ID)
			continue

		case c.cfg.StrictIDs:
			c.abandon(id, method)
			return nil, fmt.Errorf("%w: sent %d to %v, received %s",
				ErrIDMismatch, id, c.Endpoint(), idString(resp.ID))
		}

		c.log.Warnf("Response to %s (id %d) from %v carries id %s",
			method, id, c.Endpoint(), idString(resp.ID))
		return resp, nil
	}
}

// Notify sends a request without waiting for its response and returns the
// request id.  The response is left for whoever reads the connection.
func (c *Client) Notify(method string, params ...interface{}) (int64, error) {
	conn := c.connection()
	if conn == nil {
		return 0, transport.ErrNotConnected
	}
	id, payload, err := c.marshal(method, params)
	if err != nil {
		return 0, err
	}

	if err := conn.Send(payload); err != nil {
		c.log.Warnf("Failed to send %s to %v: %v", method,
			c.Endpoint(), err)
		return 0, err
	}
	return id, nil
}

// Receive reads and parses the next line from the connection.  A
// non-positive timeout blocks until a line arrives or the connection
// closes.  It must not be used concurrently with Call on the same client.
func (c *Client) Receive(timeout time.Duration) (*jsonrpc.Message, error) {
	conn := c.connection()
	if conn == nil {
		return nil, transport.ErrNotConnected
	}

	line, err := conn.ReceiveLine(timeout)
	if err != nil {
		return nil, err
	}
	return jsonrpc.ParseMessage(line)
}

func (c *Client) marshal(method string, params []interface{}) (int64, []byte, error) {
	if method == "" {
		return 0, nil, ErrNoMethod
	}

	id := c.ids.Next()
	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return 0, nil, err
	}
	payload, err := jsonrpc.MarshalRequest(req)
	if err != nil {
		return 0, nil, err
	}
	return id, payload, nil
}

// abandon remembers id so a late response to it can be skipped.
func (c *Client) abandon(id int64, method string) {
	c.log.Debugf("Abandoning %s request %d to %v", method, id,
		c.Endpoint())
	c.abandoned.Add(id)
}

func idString(id *int64) string {
	if id == nil {
		return "null"
	}
	return fmt.Sprintf("%d", *id)
}
