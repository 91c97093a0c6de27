// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/electrumx/internal/version"
	"github.com/btcsuite/electrumx/jsonrpc"
	"github.com/btcsuite/electrumx/rpcclient"
	"github.com/btcsuite/electrumx/transport"
)

const (
	// DefaultHandshakeTTL is how long a handshake is trusted.
	DefaultHandshakeTTL = time.Hour

	// DefaultProtocolVersion is the ElectrumX protocol version requested
	// during the handshake.
	DefaultProtocolVersion = "1.10"
)

// Config describes a Session.
type Config struct {
	// Endpoint is the server both connections are made to.
	Endpoint transport.Endpoint

	// Fallbacks are further servers.  A failed Connect, or a failed
	// handshake during Reconnect, moves the session to the next one in
	// the order Endpoint, Fallbacks[0], Fallbacks[1] and so on, wrapping
	// around.
	Fallbacks []transport.Endpoint

	// Dialer opens both connections.  Defaults to transport.DefaultDialer.
	Dialer transport.Dialer

	// ClientName is the first server.version parameter.  Defaults to
	// version.ClientName("").
	ClientName string

	// ProtocolVersion is requested in server.version and must be echoed
	// back by the server.  Defaults to DefaultProtocolVersion.
	ProtocolVersion string

	// ServerPrefix, when set, must prefix the server software version
	// reported in the handshake, for example "ElectrumX".
	ServerPrefix string

	// HandshakeTTL defaults to DefaultHandshakeTTL.
	HandshakeTTL time.Duration

	// Timeout bounds each call on the primary connection.  Defaults to
	// the endpoint timeout.
	Timeout time.Duration

	// StrictIDs is passed to the primary rpcclient.
	StrictIDs bool

	// Observer is notified of every call on the primary connection.
	Observer rpcclient.Observer

	// Clock returns the current time.  Defaults to time.Now.
	Clock func() time.Time

	// Logger overrides the package logger.
	Logger btclog.Logger
}

// Session owns a primary and a subscription connection to one server at a
// time.
type Session struct {
	cfg          Config
	log          btclog.Logger
	primary      *rpcclient.Client
	subscription *rpcclient.Client
	endpoints    []transport.Endpoint

	// connectMtx serializes Connect, Disconnect and the full handshake.
	connectMtx sync.Mutex

	mtx           sync.Mutex
	state         State
	handshake     HandshakeState
	generation    uint64
	subVersionGen uint64
	current       int
}

// New returns an unconnected Session.
func New(cfg Config) *Session {
	if cfg.Dialer == nil {
		cfg.Dialer = transport.DefaultDialer
	}
	if cfg.ClientName == "" {
		cfg.ClientName = version.ClientName("")
	}
	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = DefaultProtocolVersion
	}
	if cfg.HandshakeTTL <= 0 {
		cfg.HandshakeTTL = DefaultHandshakeTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log
	}

	endpoints := make([]transport.Endpoint, 0, 1+len(cfg.Fallbacks))
	endpoints = append(endpoints, cfg.Endpoint)
	endpoints = append(endpoints, cfg.Fallbacks...)

	return &Session{
		cfg:       cfg,
		log:       logger,
		endpoints: endpoints,
		primary: rpcclient.New(rpcclient.Config{
			Endpoint:  cfg.Endpoint,
			Dialer:    cfg.Dialer,
			Timeout:   cfg.Timeout,
			StrictIDs: cfg.StrictIDs,
			Observer:  cfg.Observer,
			Logger:    logger,
		}),
		subscription: rpcclient.New(rpcclient.Config{
			Endpoint: cfg.Endpoint,
			Dialer:   cfg.Dialer,
			Timeout:  cfg.Timeout,
			Logger:   logger,
		}),
	}
}

// Endpoint returns the server the session is, or will next be, connected
// to.
func (s *Session) Endpoint() transport.Endpoint {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.endpoints[s.current]
}

// Endpoints returns every server the session may use, in order.
func (s *Session) Endpoints() []transport.Endpoint {
	return append([]transport.Endpoint(nil), s.endpoints...)
}

// failover makes the next configured server current.  It does nothing
// with a single server.
func (s *Session) failover() {
	if len(s.endpoints) < 2 {
		return
	}
	s.mtx.Lock()
	from := s.endpoints[s.current]
	s.current = (s.current + 1) % len(s.endpoints)
	to := s.endpoints[s.current]
	s.mtx.Unlock()

	s.log.Infof("Switching from %v to %v", from, to)
}

// Primary returns the request and response client.
func (s *Session) Primary() *rpcclient.Client {
	return s.primary
}

// Subscription returns the client dedicated to notifications.  Only the
// subscription listener may read from it.
func (s *Session) Subscription() *rpcclient.Client {
	return s.subscription
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.state
}

// HandshakeState returns the outcome of the last successful handshake on
// the current connections.  It is zero when none has completed.
func (s *Session) HandshakeState() HandshakeState {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.handshake
}

// Generation increases every time Connect succeeds.  Holders of a
// connection-scoped resource compare it to notice a reconnect.
func (s *Session) Generation() uint64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.generation
}

// Connect closes any existing connections and opens both channels afresh.
// It does not retry.
func (s *Session) Connect(ctx context.Context) error {
	s.connectMtx.Lock()
	defer s.connectMtx.Unlock()

	s.closeConnections()

	ep := s.Endpoint()
	s.primary.SetEndpoint(ep)
	s.subscription.SetEndpoint(ep)

	if err := s.primary.Connect(ctx); err != nil {
		s.setFailed()
		s.failover()
		return err
	}
	if err := s.subscription.Connect(ctx); err != nil {
		s.primary.Disconnect()
		s.setFailed()
		s.failover()
		return err
	}

	s.mtx.Lock()
	s.state = StateConnected
	s.generation++
	gen := s.generation
	s.mtx.Unlock()

	s.log.Infof("Session connected to %v (generation %d)", ep, gen)
	return nil
}

func (s *Session) setFailed() {
	s.mtx.Lock()
	s.state = StateFailed
	s.mtx.Unlock()
}

// Disconnect closes both connections.  It never fails and may be called
// in any state.
func (s *Session) Disconnect() {
	s.connectMtx.Lock()
	defer s.connectMtx.Unlock()

	s.closeConnections()

	s.mtx.Lock()
	if s.state != StateUnconnected {
		s.state = StateDisconnected
	}
	s.mtx.Unlock()
}

func (s *Session) closeConnections() {
	s.primary.Disconnect()
	s.subscription.Disconnect()

	s.mtx.Lock()
	s.handshake = HandshakeState{}
	s.mtx.Unlock()
}

// IsHealthy reports whether both connections are open and the server
// answers server.ping on the primary connection.
func (s *Session) IsHealthy() bool {
	if !s.primary.IsConnected() || !s.subscription.IsConnected() {
		return false
	}
	if _, err := s.primary.Call(jsonrpc.MethodServerPing); err != nil {
		s.log.Debugf("Ping to %v failed: %v", s.Endpoint(), err)
		return false
	}
	return true
}

// Handshake ensures a fresh handshake.  Within the freshness window it only
// checks IsHealthy.  Otherwise it performs server.version on the primary
// connection, announces the client on the subscription connection if that
// has not happened since the last Connect, and records the result.  Errors
// are logged and returned as *HandshakeError.
func (s *Session) Handshake() error {
	if s.HandshakeState().Fresh(s.cfg.Clock(), s.cfg.HandshakeTTL) && s.IsHealthy() {
		return nil
	}

	s.connectMtx.Lock()
	defer s.connectMtx.Unlock()

	if err := s.negotiate(); err != nil {
		s.log.Warnf("%v", err)
		return err
	}
	return nil
}

func (s *Session) negotiate() error {
	ep := s.Endpoint()
	name, proto := s.cfg.ClientName, s.cfg.ProtocolVersion

	resp, err := s.primary.Call(jsonrpc.MethodServerVersion, name, proto)
	if err != nil {
		return &HandshakeError{Endpoint: ep, Reason: "server.version failed", Err: err}
	}
	var result []string
	if err := jsonrpc.InterpretInto(resp, &result); err != nil {
		return &HandshakeError{Endpoint: ep, Reason: "server.version rejected", Err: err}
	}
	if len(result) != 2 {
		return &HandshakeError{Endpoint: ep, Reason: "malformed server.version result"}
	}
	serverVersion, negotiated := result[0], result[1]
	if negotiated != proto {
		return &HandshakeError{
			Endpoint: ep,
			Reason: "protocol mismatch: requested " + proto +
				", server negotiated " + negotiated,
		}
	}
	if s.cfg.ServerPrefix != "" && !strings.HasPrefix(serverVersion, s.cfg.ServerPrefix) {
		return &HandshakeError{
			Endpoint: ep,
			Reason: "unexpected server software " + serverVersion +
				", want prefix " + s.cfg.ServerPrefix,
		}
	}

	s.mtx.Lock()
	gen, announced := s.generation, s.subVersionGen
	s.mtx.Unlock()
	if announced != gen {
		if _, err := s.subscription.Notify(jsonrpc.MethodServerVersion, name, proto); err != nil {
			return &HandshakeError{
				Endpoint: ep,
				Reason:   "server.version on subscription connection failed",
				Err:      err,
			}
		}
	}

	s.mtx.Lock()
	s.subVersionGen = gen
	s.handshake = HandshakeState{
		At:              s.cfg.Clock(),
		ServerVersion:   serverVersion,
		ProtocolVersion: negotiated,
	}
	s.state = StateHandshaked
	s.mtx.Unlock()

	s.log.Infof("Handshake with %v complete: %s, protocol %s", ep,
		serverVersion, negotiated)
	return nil
}

// Call issues a request on the primary connection.
func (s *Session) Call(method string, params ...interface{}) (*jsonrpc.Response, error) {
	return s.primary.Call(method, params...)
}

// CallTimeout issues a request on the primary connection with an explicit
// timeout.
func (s *Session) CallTimeout(timeout time.Duration, method string,
	params ...interface{}) (*jsonrpc.Response, error) {

	return s.primary.CallTimeout(timeout, method, params...)
}

// Reconnect runs Connect followed by Handshake under policy.  Each failed
// attempt moves on to the next configured server.
func (s *Session) Reconnect(ctx context.Context, policy RetryPolicy) error {
	return policy.Do(ctx, func() error {
		if err := s.Connect(ctx); err != nil {
			return err
		}
		if err := s.Handshake(); err != nil {
			s.failover()
			return err
		}
		return nil
	})
}

// Ensure runs Handshake and, if it fails, Reconnect under policy.
func (s *Session) Ensure(ctx context.Context, policy RetryPolicy) error {
	if err := s.Handshake(); err == nil {
		return nil
	}
	return s.Reconnect(ctx, policy)
}

// KeepAlive checks the session health every interval and reconnects under
// policy when it is unhealthy.  It returns when ctx is done.
func (s *Session) KeepAlive(ctx context.Context, interval time.Duration, policy RetryPolicy) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.IsHealthy() {
			continue
		}
		ep := s.Endpoint()
		s.log.Infof("Session to %v is unhealthy, reconnecting", ep)
		if err := s.Reconnect(ctx, policy); err != nil {
			s.log.Errorf("Unable to reconnect after %v: %v", ep, err)
		}
	}
}
