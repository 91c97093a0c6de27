// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTLSPort is the well-known ElectrumX TLS port.  Endpoints on
	// this port always use TLS.
	DefaultTLSPort = 50002

	// DefaultTCPPort is the well-known ElectrumX plain TCP port.
	DefaultTCPPort = 50001

	// DefaultTimeout is used when an Endpoint does not specify one.
	DefaultTimeout = 5 * time.Second
)

// Protocol identifies the framing used on an Endpoint.
type Protocol uint8

const (
	// ProtocolTCP is newline-delimited JSON over a raw (optionally TLS)
	// stream.
	ProtocolTCP Protocol = iota

	// ProtocolWebSocket carries one JSON message per WebSocket frame.
	ProtocolWebSocket
)

// String returns the protocol in human-readable form.
func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolWebSocket:
		return "ws"
	default:
		return fmt.Sprintf("Protocol(%d)", uint8(p))
	}
}

// Proxy describes a SOCKS5 proxy to dial through.
type Proxy struct {
	Addr         string
	Username     string
	Password     string
	TorIsolation bool
}

// Endpoint identifies an ElectrumX server.  It is treated as immutable once
// handed to a Session.
type Endpoint struct {
	Host     string
	Port     int
	TLS      bool
	Timeout  time.Duration
	Protocol Protocol
	Proxy    *Proxy
}

// NewEndpoint returns a TCP endpoint.  TLS is forced on for DefaultTLSPort.
func NewEndpoint(host string, port int, useTLS bool, timeout time.Duration) Endpoint {
	return Endpoint{
		Host:    host,
		Port:    port,
		TLS:     useTLS || port == DefaultTLSPort,
		Timeout: timeout,
	}
}

// UseTLS reports whether connections to the endpoint are wrapped in TLS.
func (e Endpoint) UseTLS() bool {
	return e.TLS || e.Port == DefaultTLSPort
}

// Address returns the host:port pair to dial.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// DialTimeout returns the configured timeout or DefaultTimeout.
func (e Endpoint) DialTimeout() time.Duration {
	if e.Timeout <= 0 {
		return DefaultTimeout
	}
	return e.Timeout
}

// Scheme returns the URL scheme matching the endpoint's protocol and TLS
// setting: tcp, ssl, ws or wss.
func (e Endpoint) Scheme() string {
	switch {
	case e.Protocol == ProtocolWebSocket && e.UseTLS():
		return "wss"
	case e.Protocol == ProtocolWebSocket:
		return "ws"
	case e.UseTLS():
		return "ssl"
	default:
		return "tcp"
	}
}

// String returns the endpoint as scheme://host:port.
func (e Endpoint) String() string {
	return e.Scheme() + "://" + e.Address()
}

// Validate checks that the endpoint can be dialed.
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return errors.New("missing host")
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("invalid port %d", e.Port)
	}
	if e.Protocol > ProtocolWebSocket {
		return fmt.Errorf("unsupported protocol %v", e.Protocol)
	}
	return nil
}

// ParseEndpoint parses a server string of the form [scheme://]host[:port].
// The recognized schemes are tcp, ssl (or tls), ws and wss.  Without a
// scheme the port decides: DefaultTLSPort means TLS, anything else plain
// TCP.  A missing port selects DefaultTLSPort for the TLS schemes and
// DefaultTCPPort otherwise.
func ParseEndpoint(s string) (Endpoint, error) {
	var ep Endpoint

	rest := strings.TrimSpace(s)
	scheme := ""
	if i := strings.Index(rest, "://"); i >= 0 {
		scheme = strings.ToLower(rest[:i])
		rest = rest[i+3:]
	}
	rest = strings.TrimSuffix(rest, "/")

	switch scheme {
	case "", "tcp":
	case "ssl", "tls":
		ep.TLS = true
	case "ws":
		ep.Protocol = ProtocolWebSocket
	case "wss":
		ep.Protocol = ProtocolWebSocket
		ep.TLS = true
	default:
		return Endpoint{}, fmt.Errorf("unsupported scheme %q in %q",
			scheme, s)
	}

	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		// No port given.
		host = strings.Trim(rest, "[]")
		portStr = strconv.Itoa(DefaultTCPPort)
		if ep.TLS {
			portStr = strconv.Itoa(DefaultTLSPort)
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid port in %q: %v", s, err)
	}

	ep.Host = host
	ep.Port = port
	ep.TLS = ep.UseTLS()
	if err := ep.Validate(); err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %v", s, err)
	}

	return ep, nil
}
