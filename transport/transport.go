// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/go-socks/socks"
)

// readBufferSize is the size of a single socket read.
const readBufferSize = 16 * 1024

// Conn is a live connection to an ElectrumX server that delivers complete
// lines.
type Conn interface {
	// Send writes the entire payload or returns a *SendError.
	Send(payload []byte) error

	// ReceiveLine returns the next complete line without its delimiter.
	// A non-positive timeout waits forever.  It returns ErrTimeout when
	// the timeout elapses first and ErrClosed when the peer closed the
	// connection or Close was called.
	ReceiveLine(timeout time.Duration) ([]byte, error)

	// IsConnected reports whether Close has not been called and no fatal
	// read or write error has been observed.
	IsConnected() bool

	// Close releases the socket.  It never fails and is idempotent.
	Close()

	// Endpoint returns the endpoint the Conn was dialed to.
	Endpoint() Endpoint
}

// Dialer opens connections to endpoints.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Conn, error)
}

// NetDialer is the Dialer backed by real sockets.
type NetDialer struct {
	// Logger overrides the package logger for connections from this
	// dialer.
	Logger btclog.Logger

	// MaxLineSize bounds a single buffered line.  Zero selects
	// framer.DefaultMaxLineSize.
	MaxLineSize int
}

// DefaultDialer is the NetDialer used when no other is configured.
var DefaultDialer = &NetDialer{}

// Ensure NetDialer satisfies the Dialer interface.
var _ Dialer = (*NetDialer)(nil)

func (d *NetDialer) logger() btclog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log
}

// Dial opens a connection to ep within ep.DialTimeout.  All failures are
// returned as *ConnectError.
func (d *NetDialer) Dial(ctx context.Context, ep Endpoint) (Conn, error) {
	if err := ep.Validate(); err != nil {
		return nil, &ConnectError{Endpoint: ep, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, ep.DialTimeout())
	defer cancel()

	var (
		conn Conn
		err  error
	)
	switch ep.Protocol {
	case ProtocolWebSocket:
		conn, err = d.dialWebSocket(ctx, ep)
	default:
		conn, err = d.dialStream(ctx, ep)
	}
	if err != nil {
		d.logger().Debugf("Unable to connect to %v: %v", ep, err)
		return nil, &ConnectError{Endpoint: ep, Err: err}
	}

	d.logger().Debugf("Connected to %v", ep)
	return conn, nil
}

// dialStream opens a raw stream and wraps it in TLS when required.
func (d *NetDialer) dialStream(ctx context.Context, ep Endpoint) (Conn, error) {
	raw, err := dialRaw(ctx, ep, ep.Address())
	if err != nil {
		return nil, err
	}

	if ep.UseTLS() {
		tlsConn := tls.Client(raw, insecureTLSConfig(ep.Host))
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, err
		}
		raw = tlsConn
	}

	return newStreamConn(ep, raw, d.MaxLineSize, d.logger()), nil
}

// dialRaw connects to addr directly or through the endpoint's proxy.
func dialRaw(ctx context.Context, ep Endpoint, addr string) (net.Conn, error) {
	if ep.Proxy == nil {
		var nd net.Dialer
		return nd.DialContext(ctx, "tcp", addr)
	}

	proxy := &socks.Proxy{
		Addr:         ep.Proxy.Addr,
		Username:     ep.Proxy.Username,
		Password:     ep.Proxy.Password,
		TorIsolation: ep.Proxy.TorIsolation,
	}

	// The proxy dialer is not context aware, so abandon it on
	// cancellation and close whatever it eventually returns.
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := proxy.Dial("tcp", addr)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// insecureTLSConfig returns a client configuration that accepts any server
// certificate.  ElectrumX servers commonly run with self-signed certificates.
func insecureTLSConfig(host string) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec
		ServerName:         host,
	}
}

// isTimeout reports whether err is a read or write deadline expiry.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isClosed reports whether err means the stream has ended.
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
