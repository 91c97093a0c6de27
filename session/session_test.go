// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/electrumx/internal/transporttest"
	"github.com/btcsuite/electrumx/jsonrpc"
	"github.com/btcsuite/electrumx/transport"
	"github.com/stretchr/testify/require"
)

var testEndpoint = transport.Endpoint{Host: "electrum.test", Port: 50002, TLS: true}

// electrumResults answers the calls a Session makes itself.
var electrumResults = map[string]string{
	jsonrpc.MethodServerVersion: transporttest.ServerVersion,
	jsonrpc.MethodServerPing:    `null`,
}

func newTestSession(t *testing.T, handler transporttest.Handler,
	mutate func(*Config)) (*Session, *transporttest.Dialer) {

	t.Helper()

	dialer := transporttest.NewDialer(handler)
	cfg := Config{
		Endpoint:   testEndpoint,
		Dialer:     dialer,
		ClientName: "test client",
		Timeout:    200 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s := New(cfg)
	t.Cleanup(s.Disconnect)
	return s, dialer
}

func TestConnectOpensBothChannels(t *testing.T) {
	t.Parallel()

	s, dialer := newTestSession(t, transporttest.Results(electrumResults), nil)
	require.Equal(t, StateUnconnected, s.State())

	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, StateConnected, s.State())
	require.Equal(t, uint64(1), s.Generation())

	conns := dialer.Conns()
	require.Len(t, conns, 2)
	require.True(t, s.Primary().IsConnected())
	require.True(t, s.Subscription().IsConnected())
	require.True(t, s.IsHealthy())

	// Reconnecting tears the old pair down first.
	require.NoError(t, s.Connect(context.Background()))
	require.False(t, conns[0].IsConnected())
	require.False(t, conns[1].IsConnected())
	require.Len(t, dialer.Conns(), 4)
	require.Equal(t, uint64(2), s.Generation())
}

func TestConnectFailure(t *testing.T) {
	t.Parallel()

	s, dialer := newTestSession(t, nil, nil)
	dialer.FailDials(errors.New("no route to host"))

	err := s.Connect(context.Background())
	var connErr *transport.ConnectError
	require.True(t, errors.As(err, &connErr))
	require.Equal(t, StateFailed, s.State())
	require.False(t, s.IsHealthy())
	require.Equal(t, uint64(0), s.Generation())
}

func TestConnectSubscriptionFailure(t *testing.T) {
	t.Parallel()

	s, dialer := newTestSession(t, nil, nil)
	dialer.OnDial(func(n int, _ *transporttest.Conn) {
		if n == 0 {
			dialer.FailDials(errors.New("refused"))
		}
	})

	require.Error(t, s.Connect(context.Background()))
	require.Equal(t, StateFailed, s.State())
	require.False(t, s.Primary().IsConnected())
	require.False(t, dialer.Conns()[0].IsConnected())
}

func TestDisconnectIdempotent(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, nil, nil)

	// Never connected.
	s.Disconnect()
	s.Disconnect()
	require.Equal(t, StateUnconnected, s.State())

	require.NoError(t, s.Connect(context.Background()))
	s.Disconnect()
	s.Disconnect()
	require.Equal(t, StateDisconnected, s.State())
	require.False(t, s.IsHealthy())
}

func TestIsHealthy(t *testing.T) {
	t.Parallel()

	var answerPing atomic.Bool
	answerPing.Store(true)
	handler := func(c *transporttest.Conn, req *jsonrpc.Request) {
		if req.Method == jsonrpc.MethodServerPing && answerPing.Load() {
			c.Reply(req.ID, `null`)
		}
	}
	s, dialer := newTestSession(t, handler, nil)
	require.False(t, s.IsHealthy())

	require.NoError(t, s.Connect(context.Background()))
	require.True(t, s.IsHealthy())

	// A half-open connection still looks connected but does not answer.
	answerPing.Store(false)
	require.True(t, s.Primary().IsConnected())
	require.False(t, s.IsHealthy())

	// A dead subscription connection is unhealthy even if ping works.
	answerPing.Store(true)
	require.True(t, s.IsHealthy())
	dialer.Conns()[1].Close()
	require.False(t, s.IsHealthy())
}

func TestHandshakeFreshness(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	s, dialer := newTestSession(t, transporttest.Results(electrumResults),
		func(cfg *Config) {
			cfg.Clock = func() time.Time { return now }
		})
	require.NoError(t, s.Connect(context.Background()))
	primary, subscription := dialer.Conns()[0], dialer.Conns()[1]

	require.NoError(t, s.Handshake())
	require.Equal(t, 1, primary.Count(jsonrpc.MethodServerVersion))
	require.Equal(t, StateHandshaked, s.State())

	hs := s.HandshakeState()
	require.Equal(t, now, hs.At)
	require.Equal(t, "ElectrumX 1.16.0", hs.ServerVersion)
	require.Equal(t, "1.10", hs.ProtocolVersion)

	now = now.Add(10 * time.Minute)
	require.NoError(t, s.Handshake())
	require.Equal(t, 1, primary.Count(jsonrpc.MethodServerVersion))
	require.Equal(t, 1, primary.Count(jsonrpc.MethodServerPing))

	now = now.Add(51 * time.Minute)
	require.NoError(t, s.Handshake())
	require.Equal(t, 2, primary.Count(jsonrpc.MethodServerVersion))

	// The subscription connection is announced once per connection and
	// never pinged.
	require.Equal(t, []string{jsonrpc.MethodServerVersion}, subscription.Methods())
}

func TestHandshakeSendsClientAndProtocol(t *testing.T) {
	t.Parallel()

	var params []string
	handler := func(c *transporttest.Conn, req *jsonrpc.Request) {
		if req.Method == jsonrpc.MethodServerVersion && params == nil {
			for _, p := range req.Params {
				params = append(params, string(p))
			}
		}
		transporttest.Results(electrumResults)(c, req)
	}
	s, _ := newTestSession(t, handler, nil)
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Handshake())
	require.Equal(t, []string{`"test client"`, `"1.10"`}, params)
}

func TestHandshakeReconnectResets(t *testing.T) {
	t.Parallel()

	s, dialer := newTestSession(t, transporttest.Results(electrumResults), nil)
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Handshake())

	require.NoError(t, s.Connect(context.Background()))
	require.True(t, s.HandshakeState().IsZero())
	require.Equal(t, StateConnected, s.State())

	require.NoError(t, s.Handshake())
	conns := dialer.Conns()
	require.Equal(t, 1, conns[2].Count(jsonrpc.MethodServerVersion))
	require.Equal(t, 1, conns[3].Count(jsonrpc.MethodServerVersion))
}

func TestHandshakeRejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		result  string
		rpcErr  bool
		prefix  string
		wantMsg string
	}{
		{
			name:    "protocol mismatch",
			result:  `["ElectrumX 1.16.0","1.4"]`,
			wantMsg: "protocol mismatch",
		},
		{
			name:    "server prefix",
			result:  transporttest.ServerVersion,
			prefix:  "ElectrumX Evrmore",
			wantMsg: "unexpected server software",
		},
		{
			name:    "malformed",
			result:  `["ElectrumX 1.16.0"]`,
			wantMsg: "malformed",
		},
		{
			name:    "wrong type",
			result:  `{"version":"1.10"}`,
			wantMsg: "rejected",
		},
		{
			name:    "server error",
			rpcErr:  true,
			wantMsg: "unsupported protocol version",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			handler := func(c *transporttest.Conn, req *jsonrpc.Request) {
				switch {
				case req.Method != jsonrpc.MethodServerVersion:
					c.Reply(req.ID, `null`)
				case test.rpcErr:
					c.ReplyError(req.ID, 1, "unsupported protocol version: 1.10")
				default:
					c.Reply(req.ID, test.result)
				}
			}
			s, _ := newTestSession(t, handler, func(cfg *Config) {
				cfg.ServerPrefix = test.prefix
			})
			require.NoError(t, s.Connect(context.Background()))

			err := s.Handshake()
			var hsErr *HandshakeError
			require.True(t, errors.As(err, &hsErr), "got %v", err)
			require.Equal(t, testEndpoint, hsErr.Endpoint)
			require.Contains(t, err.Error(), test.wantMsg)
			require.Equal(t, StateConnected, s.State())
			require.True(t, s.HandshakeState().IsZero())
		})
	}
}

func TestHandshakeServerPrefixAccepted(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, transporttest.Results(electrumResults),
		func(cfg *Config) { cfg.ServerPrefix = "ElectrumX" })
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Handshake())
}

func TestHandshakeNotConnected(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, nil, nil)
	err := s.Handshake()
	require.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestEnsureReconnects(t *testing.T) {
	t.Parallel()

	s, dialer := newTestSession(t, transporttest.Results(electrumResults), nil)
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Handshake())

	dialer.Conns()[0].Close()
	policy := RetryPolicy{Attempts: 3, Delay: time.Millisecond}
	require.NoError(t, s.Ensure(context.Background(), policy))
	require.Len(t, dialer.Conns(), 4)
	require.Equal(t, StateHandshaked, s.State())
}

func TestKeepAliveReconnects(t *testing.T) {
	t.Parallel()

	s, dialer := newTestSession(t, transporttest.Results(electrumResults), nil)
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Handshake())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.KeepAlive(ctx, 5*time.Millisecond, RetryPolicy{Attempts: 1})
		close(done)
	}()

	dialer.Conns()[1].Close()
	require.Eventually(t, func() bool {
		return len(dialer.Conns()) >= 4 && s.State() == StateHandshaked
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

var fallbackEndpoint = transport.Endpoint{Host: "backup.test", Port: 50002, TLS: true}

func TestEnsureFailsOver(t *testing.T) {
	t.Parallel()

	s, dialer := newTestSession(t, transporttest.Results(electrumResults), func(cfg *Config) {
		cfg.Fallbacks = []transport.Endpoint{fallbackEndpoint}
	})
	require.Equal(t, []transport.Endpoint{testEndpoint, fallbackEndpoint}, s.Endpoints())
	require.Equal(t, testEndpoint, s.Endpoint())

	// The first server refuses, so the second attempt goes to the backup.
	dialer.Refuse(testEndpoint, errors.New("connection refused"))
	policy := RetryPolicy{Attempts: 3, Delay: time.Millisecond}
	require.NoError(t, s.Ensure(context.Background(), policy))
	require.Equal(t, fallbackEndpoint, s.Endpoint())
	require.Equal(t, StateHandshaked, s.State())

	conns := dialer.Conns()
	require.Len(t, conns, 2)
	for _, c := range conns {
		require.Equal(t, fallbackEndpoint, c.Endpoint())
	}
	require.Equal(t, fallbackEndpoint, s.Primary().Endpoint())
	require.Equal(t, fallbackEndpoint, s.Subscription().Endpoint())

	// Losing the backup wraps around to the first server.
	dialer.Refuse(testEndpoint, nil)
	dialer.Refuse(fallbackEndpoint, errors.New("connection refused"))
	conns[0].Close()
	require.NoError(t, s.Ensure(context.Background(), policy))
	require.Equal(t, testEndpoint, s.Endpoint())
	require.Equal(t, testEndpoint, dialer.Last().Endpoint())
}

func TestReconnectFailsOverOnHandshake(t *testing.T) {
	t.Parallel()

	s, dialer := newTestSession(t, transporttest.Results(electrumResults), func(cfg *Config) {
		cfg.Fallbacks = []transport.Endpoint{fallbackEndpoint}
		cfg.ServerPrefix = "ElectrumX"
	})
	dialer.OnDial(func(_ int, c *transporttest.Conn) {
		if c.Endpoint() == testEndpoint {
			c.SetHandler(transporttest.Results(map[string]string{
				jsonrpc.MethodServerVersion: `["Fulcrum 1.9.0","1.10"]`,
			}))
		}
	})

	policy := RetryPolicy{Attempts: 2, Delay: time.Millisecond}
	require.NoError(t, s.Reconnect(context.Background(), policy))
	require.Equal(t, fallbackEndpoint, s.Endpoint())
	require.Len(t, dialer.Conns(), 4)
	require.Equal(t, "ElectrumX 1.16.0", s.HandshakeState().ServerVersion)
}

func TestConnectFailureSingleServer(t *testing.T) {
	t.Parallel()

	s, dialer := newTestSession(t, nil, nil)
	dialer.Refuse(testEndpoint, errors.New("connection refused"))
	require.Error(t, s.Connect(context.Background()))
	require.Equal(t, testEndpoint, s.Endpoint())
	require.Len(t, s.Endpoints(), 1)
}
