// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/electrumx/internal/transporttest"
	"github.com/btcsuite/electrumx/jsonrpc"
	"github.com/btcsuite/electrumx/session"
	"github.com/btcsuite/electrumx/transport"
	"github.com/stretchr/testify/require"
)

var testEndpoint = transport.Endpoint{Host: "electrum.test", Port: 50002}

var serverResults = map[string]string{
	jsonrpc.MethodServerVersion:         transporttest.ServerVersion,
	jsonrpc.MethodServerPing:            `null`,
	jsonrpc.MethodHeadersSubscribe:      `{"height":100,"hex":"00"}`,
	jsonrpc.MethodScripthashSubscribe:   `"status0"`,
	jsonrpc.MethodHeadersUnsubscribe:    `true`,
	jsonrpc.MethodScripthashUnsubscribe: `true`,
}

// recorder collects notifications delivered to a callback.
type recorder struct {
	mtx  sync.Mutex
	got  []*jsonrpc.Notification
	each chan *jsonrpc.Notification
}

func newRecorder() *recorder {
	return &recorder{each: make(chan *jsonrpc.Notification, 16)}
}

func (r *recorder) callback(n *jsonrpc.Notification) {
	r.mtx.Lock()
	r.got = append(r.got, n)
	r.mtx.Unlock()
	r.each <- n
}

func (r *recorder) count() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.got)
}

func (r *recorder) next(t *testing.T) *jsonrpc.Notification {
	t.Helper()

	select {
	case n := <-r.each:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return nil
	}
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *session.Session, *transporttest.Dialer) {
	t.Helper()

	dialer := transporttest.NewDialer(transporttest.Results(serverResults))
	sess := session.New(session.Config{
		Endpoint: testEndpoint,
		Dialer:   dialer,
		Timeout:  time.Second,
	})
	require.NoError(t, sess.Connect(context.Background()))
	require.NoError(t, sess.Handshake())

	if cfg.Retry.Attempts == 0 {
		cfg.Retry = session.RetryPolicy{Attempts: 3, Delay: time.Millisecond}
	}
	m := New(sess, cfg)
	t.Cleanup(func() {
		m.Stop()
		sess.Disconnect()
	})
	return m, sess, dialer
}

// subscriptionConn returns the most recent subscription connection, which
// is the second of each pair dialed by the session.
func subscriptionConn(d *transporttest.Dialer) *transporttest.Conn {
	conns := d.Conns()
	return conns[len(conns)-1]
}

func TestScripthashDispatchIsolation(t *testing.T) {
	t.Parallel()

	m, _, dialer := newTestManager(t, Config{})

	abc, def, headers := newRecorder(), newRecorder(), newRecorder()
	require.NoError(t, m.Subscribe(NewScripthashTopic("abc123", abc.callback)))
	require.NoError(t, m.Subscribe(NewScripthashTopic("def456", def.callback)))
	require.NoError(t, m.Subscribe(NewHeadersTopic(headers.callback)))
	require.Equal(t, 3, m.Active())

	conn := subscriptionConn(dialer)
	conn.Notify(jsonrpc.MethodScripthashSubscribe, `["abc123","statusHashX"]`)
	conn.Notify(jsonrpc.MethodHeadersSubscribe, `[{"height":101,"hex":"00"}]`)

	n := abc.next(t)
	status, err := ParseScripthashStatus(n)
	require.NoError(t, err)
	require.Equal(t, &ScripthashStatus{Scripthash: "abc123", Status: "statusHashX"}, status)

	// Notifications are dispatched in order, so once the headers callback
	// has run the scripthash notification has been fully handled.
	headers.next(t)
	require.Equal(t, 1, abc.count())
	require.Equal(t, 0, def.count())
}

func TestSubscribeSharesWireSubscription(t *testing.T) {
	t.Parallel()

	m, _, dialer := newTestManager(t, Config{})
	conn := subscriptionConn(dialer)

	first, second := newRecorder(), newRecorder()
	t1 := NewScripthashTopic("abc123", first.callback)
	t2 := NewScripthashTopic("abc123", second.callback)

	require.NoError(t, m.Subscribe(t1))
	require.ErrorIs(t, m.Subscribe(t1), ErrAlreadySubscribed)
	require.NoError(t, m.Subscribe(t2))
	require.Equal(t, 1, conn.Count(jsonrpc.MethodScripthashSubscribe))

	conn.Notify(jsonrpc.MethodScripthashSubscribe, `["abc123",null]`)
	first.next(t)
	second.next(t)

	require.NoError(t, m.Unsubscribe(t1))
	require.ErrorIs(t, m.Unsubscribe(t1), ErrNotSubscribed)
	require.Equal(t, 0, conn.Count(jsonrpc.MethodScripthashUnsubscribe))

	require.NoError(t, m.Unsubscribe(t2))
	require.Equal(t, 1, conn.Count(jsonrpc.MethodScripthashUnsubscribe))
	require.Equal(t, 0, m.Active())

	// A topic may be subscribed again after it was removed.
	require.NoError(t, m.Subscribe(t1))
	require.Equal(t, 2, conn.Count(jsonrpc.MethodScripthashSubscribe))
}

func TestUnsubscribeFailureNotPropagated(t *testing.T) {
	t.Parallel()

	m, _, dialer := newTestManager(t, Config{})
	topic := NewHeadersTopic(nil)
	require.NoError(t, m.Subscribe(topic))

	subscriptionConn(dialer).FailSends(errors.New("broken pipe"))
	require.NoError(t, m.Unsubscribe(topic))
	require.Equal(t, 0, m.Active())
}

func TestSubscribeSendFailure(t *testing.T) {
	t.Parallel()

	m, _, dialer := newTestManager(t, Config{})
	subscriptionConn(dialer).FailSends(errors.New("broken pipe"))

	topic := NewScripthashTopic("abc123", nil)
	var sendErr *transport.SendError
	require.True(t, errors.As(m.Subscribe(topic), &sendErr))
	require.Equal(t, 0, m.Active())
}

func TestIgnoredNotifications(t *testing.T) {
	t.Parallel()

	m, _, dialer := newTestManager(t, Config{})
	headers := newRecorder()
	require.NoError(t, m.Subscribe(NewHeadersTopic(headers.callback)))

	conn := subscriptionConn(dialer)
	conn.Push("not json at all")
	conn.Notify(jsonrpc.MethodScripthashUnsubscribe, `["abc123"]`)
	conn.Notify("server.peers.subscribe", `[]`)
	conn.Notify(jsonrpc.MethodScripthashSubscribe, `["abc123"]`)
	conn.Notify(jsonrpc.MethodScripthashSubscribe, `["zzz",null]`)
	conn.Notify(jsonrpc.MethodHeadersSubscribe, `[{"height":5,"hex":"00"}]`)

	n := headers.next(t)
	require.Equal(t, jsonrpc.MethodHeadersSubscribe, n.Method)
	require.Equal(t, 1, headers.count())
}

func TestInitialState(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t, Config{InitialState: true})

	rec := newRecorder()
	require.NoError(t, m.Subscribe(NewScripthashTopic("abc123", rec.callback)))

	status, err := ParseScripthashStatus(rec.next(t))
	require.NoError(t, err)
	require.Equal(t, "abc123", status.Scripthash)
	require.Equal(t, "status0", status.Status)
}

func TestListenerExitsOnClose(t *testing.T) {
	t.Parallel()

	closed := make(chan error, 1)
	m, sess, _ := newTestManager(t, Config{
		OnClosed: func(err error) { closed <- err },
	})

	select {
	case <-m.Done():
	default:
		t.Fatal("Done must be closed before the listener starts")
	}

	require.NoError(t, m.Subscribe(NewHeadersTopic(nil)))
	done := m.Done()
	select {
	case <-done:
		t.Fatal("listener exited early")
	default:
	}

	sess.Disconnect()
	select {
	case err := <-closed:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("OnClosed not called")
	}
	<-done
}

func TestRecoverResubscribesBeforeDispatch(t *testing.T) {
	t.Parallel()

	closed := make(chan error, 1)
	m, sess, dialer := newTestManager(t, Config{
		OnClosed: func(err error) { closed <- err },
	})

	var (
		mtx       sync.Mutex
		seenSends []string
	)
	headers := newRecorder()
	headersTopic := NewHeadersTopic(func(n *jsonrpc.Notification) {
		mtx.Lock()
		seenSends = subscriptionConn(dialer).Methods()
		mtx.Unlock()
		headers.callback(n)
	})
	abc := newRecorder()
	require.NoError(t, m.Subscribe(headersTopic))
	require.NoError(t, m.Subscribe(NewScripthashTopic("abc123", abc.callback)))

	// The peer hangs up on the subscription connection.
	subscriptionConn(dialer).Close()
	require.ErrorIs(t, <-closed, transport.ErrClosed)

	// A notification waiting on the replacement connection must not be
	// dispatched before every subscription is replayed.
	dialer.OnDial(func(n int, c *transporttest.Conn) {
		if n%2 == 1 {
			c.Notify(jsonrpc.MethodHeadersSubscribe, `[{"height":102,"hex":"00"}]`)
			c.Notify(jsonrpc.MethodScripthashSubscribe, `["abc123","s2"]`)
		}
	})

	require.NoError(t, m.Recover(context.Background()))
	require.Equal(t, uint64(2), sess.Generation())
	require.Len(t, dialer.Conns(), 4)

	headers.next(t)
	abc.next(t)

	want := []string{
		jsonrpc.MethodServerVersion,
		jsonrpc.MethodHeadersSubscribe,
		jsonrpc.MethodScripthashSubscribe,
	}
	mtx.Lock()
	require.Equal(t, want, seenSends)
	mtx.Unlock()
	require.Equal(t, want, subscriptionConn(dialer).Methods())
}

func TestRecoverAfterExternalReconnect(t *testing.T) {
	t.Parallel()

	closed := make(chan error, 1)
	m, sess, dialer := newTestManager(t, Config{
		OnClosed: func(err error) { closed <- err },
	})
	require.NoError(t, m.Subscribe(NewScripthashTopic("abc123", nil)))

	// Someone else, for instance a keep-alive loop, reconnects the session.
	require.NoError(t, sess.Connect(context.Background()))
	<-closed

	require.NoError(t, m.Recover(context.Background()))
	require.Len(t, dialer.Conns(), 4, "Recover must reuse the new connections")
	require.Equal(t, []string{
		jsonrpc.MethodServerVersion,
		jsonrpc.MethodScripthashSubscribe,
	}, subscriptionConn(dialer).Methods())
}

func TestAutoRecover(t *testing.T) {
	t.Parallel()

	recovered := make(chan error, 1)
	m, _, dialer := newTestManager(t, Config{
		AutoRecover: true,
		OnRecovered: func(err error) { recovered <- err },
	})
	rec := newRecorder()
	require.NoError(t, m.Subscribe(NewScripthashTopic("abc123", rec.callback)))

	subscriptionConn(dialer).Close()
	select {
	case err := <-recovered:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("no recovery")
	}

	conn := subscriptionConn(dialer)
	require.Equal(t, 1, conn.Count(jsonrpc.MethodScripthashSubscribe))
	conn.Notify(jsonrpc.MethodScripthashSubscribe, `["abc123","s3"]`)
	rec.next(t)
}

func TestAutoRecoverRetriesAfterFailure(t *testing.T) {
	t.Parallel()

	var (
		mtx      sync.Mutex
		failures int
	)
	recovered := make(chan struct{}, 1)
	m, _, dialer := newTestManager(t, Config{
		Retry:       session.RetryPolicy{Attempts: 2, Delay: time.Millisecond},
		AutoRecover: true,
		OnRecovered: func(err error) {
			if err != nil {
				mtx.Lock()
				failures++
				mtx.Unlock()
				return
			}
			recovered <- struct{}{}
		},
	})
	rec := newRecorder()
	require.NoError(t, m.Subscribe(NewScripthashTopic("abc123", rec.callback)))

	// The server stays unreachable for longer than one Retry run.
	dialer.FailDials(errors.New("refused"))
	subscriptionConn(dialer).Close()
	require.Eventually(t, func() bool {
		mtx.Lock()
		defer mtx.Unlock()
		return failures >= 2
	}, 2*time.Second, time.Millisecond)

	dialer.FailDials(nil)
	select {
	case <-recovered:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriptions were not recovered once dials succeeded")
	}

	conn := subscriptionConn(dialer)
	require.Equal(t, 1, conn.Count(jsonrpc.MethodScripthashSubscribe))
	conn.Notify(jsonrpc.MethodScripthashSubscribe, `["abc123","s4"]`)
	status, err := ParseScripthashStatus(rec.next(t))
	require.NoError(t, err)
	require.Equal(t, "s4", status.Status)
	require.Equal(t, 1, m.Active())
}

func TestAutoRecoverStopsWithManager(t *testing.T) {
	t.Parallel()

	attempts := make(chan error, 64)
	m, _, dialer := newTestManager(t, Config{
		Retry:       session.RetryPolicy{Attempts: 1, Delay: 5 * time.Millisecond},
		AutoRecover: true,
		OnRecovered: func(err error) {
			select {
			case attempts <- err:
			default:
			}
		},
	})
	require.NoError(t, m.Subscribe(NewHeadersTopic(nil)))

	dialer.FailDials(errors.New("refused"))
	subscriptionConn(dialer).Close()
	require.Error(t, <-attempts)

	m.Stop()
	// Drain whatever was in flight, then nothing more may arrive.
	time.Sleep(20 * time.Millisecond)
	for len(attempts) > 0 {
		<-attempts
	}
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, len(attempts))
}

func TestRecoverFailure(t *testing.T) {
	t.Parallel()

	m, _, dialer := newTestManager(t, Config{})
	require.NoError(t, m.Subscribe(NewHeadersTopic(nil)))

	dialer.FailDials(errors.New("refused"))
	subscriptionConn(dialer).Close()

	err := m.Recover(context.Background())
	var connErr *transport.ConnectError
	require.True(t, errors.As(err, &connErr), "got %v", err)
}

func TestStop(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t, Config{})
	m.Stop()
	require.ErrorIs(t, m.Subscribe(NewHeadersTopic(nil)), ErrStopped)
	require.ErrorIs(t, m.Recover(context.Background()), ErrStopped)
}
