// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/electrumx/jsonrpc"
	"github.com/btcsuite/electrumx/rpcclient"
	"github.com/btcsuite/electrumx/session"
)

var (
	// ErrAlreadySubscribed is returned when subscribing an active Topic.
	ErrAlreadySubscribed = errors.New("topic already subscribed")

	// ErrNotSubscribed is returned when unsubscribing an inactive Topic.
	ErrNotSubscribed = errors.New("topic not subscribed")

	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("subscription manager stopped")
)

// Session is the part of a session.Session the Manager needs.
type Session interface {
	Subscription() *rpcclient.Client
	Generation() uint64
	Connect(ctx context.Context) error
	Handshake() error
}

// Ensure session.Session satisfies the Session interface.
var _ Session = (*session.Session)(nil)

// Config describes a Manager.
type Config struct {
	// Retry governs reconnection in Recover.  Defaults to
	// session.DefaultRetryPolicy.
	Retry session.RetryPolicy

	// AutoRecover runs Recover whenever the listener exits because the
	// connection closed, and keeps running it until it succeeds or the
	// Manager is stopped.
	AutoRecover bool

	// InitialState delivers the reply to each subscribe request to the
	// topic callbacks as if it were a notification.  The reply carries
	// the current status or chain tip.
	InitialState bool

	// OnClosed is called from the listener goroutine after it exits
	// because the subscription connection failed.
	OnClosed func(err error)

	// OnRecovered is called after every automatic recovery attempt with
	// its outcome.  Failed attempts are repeated while topics remain
	// active.
	OnRecovered func(err error)

	// Logger overrides the package logger.
	Logger btclog.Logger
}

// Manager tracks active topics and dispatches notifications to them.
type Manager struct {
	sess Session
	cfg  Config
	log  btclog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// recoverMtx allows one Recover at a time.
	recoverMtx sync.Mutex

	mtx        sync.Mutex
	topics     map[topicID][]*Topic
	pending    map[int64]topicID
	listening  bool
	recovering bool
	stopped    bool
	done       chan struct{}
	listenGen  uint64
}

// New returns a Manager for the subscription connection of sess.  No
// listener runs until the first Subscribe.
func New(sess Session, cfg Config) *Manager {
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = session.DefaultRetryPolicy
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log
	}

	done := make(chan struct{})
	close(done)

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sess:    sess,
		cfg:     cfg,
		log:     logger,
		ctx:     ctx,
		cancel:  cancel,
		topics:  make(map[topicID][]*Topic),
		pending: make(map[int64]topicID),
		done:    done,
	}
}

// Subscribe activates t.  The subscribe request is sent if no other active
// topic shares its key.  The listener is started if it is not running.
func (m *Manager) Subscribe(t *Topic) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.stopped {
		return ErrStopped
	}
	if t.active {
		return ErrAlreadySubscribed
	}

	id := t.id()
	if len(m.topics[id]) == 0 {
		if err := m.subscribeLocked(id); err != nil {
			return err
		}
	}
	m.topics[id] = append(m.topics[id], t)
	t.active = true

	if !m.recovering {
		m.startListenerLocked()
	}
	return nil
}

// Unsubscribe deactivates t.  When t was the last topic for its key the
// unsubscribe request is sent on a best-effort basis; failures are logged.
func (m *Manager) Unsubscribe(t *Topic) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if !t.active {
		return ErrNotSubscribed
	}
	t.active = false

	id := t.id()
	topics := m.topics[id]
	for i, other := range topics {
		if other == t {
			topics = append(topics[:i], topics[i+1:]...)
			break
		}
	}
	if len(topics) > 0 {
		m.topics[id] = topics
		return nil
	}
	delete(m.topics, id)

	method := id.unsubscribeMethod()
	if _, err := m.sess.Subscription().Notify(method, id.params()...); err != nil {
		m.log.Warnf("Unable to send %s for %v: %v", method, id, err)
	}
	return nil
}

// Active returns the number of active topics.
func (m *Manager) Active() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	n := 0
	for _, topics := range m.topics {
		n += len(topics)
	}
	return n
}

// Done returns a channel that is closed when the current listener exits.
// It is already closed when no listener runs.
func (m *Manager) Done() <-chan struct{} {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.done
}

// Stop prevents further subscriptions and automatic recovery.  The listener
// itself exits once the session is disconnected.
func (m *Manager) Stop() {
	m.mtx.Lock()
	m.stopped = true
	m.mtx.Unlock()
	m.cancel()
}

func (m *Manager) subscribeLocked(id topicID) error {
	method := id.subscribeMethod()
	reqID, err := m.sess.Subscription().Notify(method, id.params()...)
	if err != nil {
		m.log.Warnf("Unable to send %s for %v: %v", method, id, err)
		return err
	}
	m.pending[reqID] = id
	m.log.Debugf("Subscribed to %v", id)
	return nil
}

func (m *Manager) startListenerLocked() {
	if m.listening || m.stopped {
		return
	}
	m.listening = true
	m.listenGen = m.sess.Generation()
	m.done = make(chan struct{})
	go m.listen(m.sess.Subscription(), m.done)
}

// listen reads the subscription connection until it fails.
func (m *Manager) listen(client *rpcclient.Client, done chan struct{}) {
	var err error
	for {
		var msg *jsonrpc.Message
		msg, err = client.Receive(0)
		if err != nil {
			var malformed *jsonrpc.MalformedMessageError
			if errors.As(err, &malformed) {
				m.log.Warnf("Dropping line from %v: %v",
					client.Endpoint(), err)
				continue
			}
			break
		}
		m.handle(msg)
	}

	m.mtx.Lock()
	m.listening = false
	stopped, recovering := m.stopped, m.recovering
	m.mtx.Unlock()
	close(done)

	m.log.Infof("Subscription listener for %v exited: %v", client.Endpoint(), err)
	if stopped {
		return
	}
	if m.cfg.OnClosed != nil {
		m.cfg.OnClosed(err)
	}
	if m.cfg.AutoRecover && !recovering {
		go m.autoRecover()
	}
}

// autoRecover runs Recover until it succeeds, the manager is stopped or no
// topic remains active.  Failed runs are separated by Config.Retry.Delay.
func (m *Manager) autoRecover() {
	for {
		err := m.Recover(m.ctx)
		if m.cfg.OnRecovered != nil {
			m.cfg.OnRecovered(err)
		}
		if err == nil || errors.Is(err, ErrStopped) || m.ctx.Err() != nil {
			return
		}
		m.log.Errorf("Unable to recover subscriptions: %v", err)

		m.mtx.Lock()
		active := len(m.topics) > 0
		listening := m.listening
		m.mtx.Unlock()
		if !active || listening {
			return
		}

		delay := m.cfg.Retry.Delay
		if delay <= 0 {
			delay = session.DefaultRetryPolicy.Delay
		}
		timer := time.NewTimer(delay)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Manager) handle(msg *jsonrpc.Message) {
	if n := msg.Notification; n != nil {
		m.dispatch(n)
		return
	}

	resp := msg.Response
	var (
		id      topicID
		pending bool
	)
	if resp.ID != nil {
		m.mtx.Lock()
		id, pending = m.pending[*resp.ID]
		delete(m.pending, *resp.ID)
		m.mtx.Unlock()
	}

	switch {
	case resp.Error != nil:
		m.log.Warnf("Subscription request failed: %v", resp.Error)
	case pending && m.cfg.InitialState:
		m.dispatch(initialNotification(id, resp.Result))
	default:
		m.log.Tracef("Ignoring reply %s", idString(resp.ID))
	}
}

func initialNotification(id topicID, result json.RawMessage) *jsonrpc.Notification {
	n := &jsonrpc.Notification{
		Jsonrpc: jsonrpc.RpcVersion2,
		Method:  id.subscribeMethod(),
	}
	if id.kind == KindScripthash {
		key, _ := json.Marshal(id.key)
		n.Params = append(n.Params, key)
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	n.Params = append(n.Params, result)
	return n
}

// dispatch invokes the callbacks of every topic the notification belongs to.
func (m *Manager) dispatch(n *jsonrpc.Notification) {
	var id topicID
	switch n.Method {
	case jsonrpc.MethodScripthashSubscribe:
		status, err := ParseScripthashStatus(n)
		if err != nil {
			m.log.Warnf("Dropping malformed %s notification: %v", n.Method, err)
			return
		}
		id = topicID{kind: KindScripthash, key: status.Scripthash}

	case jsonrpc.MethodHeadersSubscribe:
		id = topicID{kind: KindHeaders}

	case jsonrpc.MethodScripthashUnsubscribe, jsonrpc.MethodHeadersUnsubscribe:
		m.log.Debugf("Ignoring %s notification", n.Method)
		return

	default:
		m.log.Debugf("Ignoring unrecognized notification %s", n.Method)
		return
	}

	m.mtx.Lock()
	topics := append([]*Topic(nil), m.topics[id]...)
	m.mtx.Unlock()

	if len(topics) == 0 {
		m.log.Debugf("No active topic for %v", id)
	}
	for _, t := range topics {
		if t.callback != nil {
			t.callback(n)
		}
	}
}

// Recover restores every active subscription on a working connection.
// Unless the session was already reconnected since the listener started,
// it reconnects it.  It then performs the handshake, waits for the previous
// listener to exit, replays the subscribe requests and starts a new
// listener.  Connection attempts follow Config.Retry.
func (m *Manager) Recover(ctx context.Context) error {
	m.recoverMtx.Lock()
	defer m.recoverMtx.Unlock()

	m.mtx.Lock()
	if m.stopped {
		m.mtx.Unlock()
		return ErrStopped
	}
	m.recovering = true
	gen, done := m.listenGen, m.done
	m.mtx.Unlock()

	defer func() {
		m.mtx.Lock()
		m.recovering = false
		m.mtx.Unlock()
	}()

	connect := m.sess.Generation() == gen || !m.sess.Subscription().IsConnected()
	err := m.cfg.Retry.Do(ctx, func() error {
		if connect {
			if err := m.sess.Connect(ctx); err != nil {
				return err
			}
		}
		if err := m.sess.Handshake(); err != nil {
			connect = true
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.stopped {
		return ErrStopped
	}

	// Replies to requests on the old connection will never arrive.
	m.pending = make(map[int64]topicID)

	ids := make([]topicID, 0, len(m.topics))
	for id := range m.topics {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].kind != ids[j].kind {
			return ids[i].kind > ids[j].kind
		}
		return ids[i].key < ids[j].key
	})
	for _, id := range ids {
		if err := m.subscribeLocked(id); err != nil {
			return err
		}
	}

	m.startListenerLocked()
	m.log.Infof("Recovered %d subscriptions", len(ids))
	return nil
}

func idString(id *int64) string {
	if id == nil {
		return "without id"
	}
	b, _ := json.Marshal(*id)
	return string(b)
}
