// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package subscription manages ElectrumX subscriptions on the subscription
connection of a session.Session.

Two kinds of topic exist: scripthash topics, keyed by the scripthash whose
status changes are wanted, and headers topics, which receive every new chain
tip.  Any number of topics may share a scripthash; the subscribe request is
sent when the first topic for a key is added and the unsubscribe request
when the last one is removed.

A single listener goroutine per Manager reads the subscription connection
with no timeout and invokes topic callbacks sequentially, in notification
order.  Callbacks run on that goroutine and must not block for long.  The
listener exits when the connection closes; Config.OnClosed is then invoked
and Done is closed.

The server forgets subscriptions when a connection is replaced, so Recover
reconnects the session if nobody else has, performs the handshake, replays
every active subscribe request and only then restarts the listener.  With
Config.AutoRecover set this happens automatically, and a failed recovery is
tried again until it succeeds or the Manager is stopped.

The Manager never closes the session's connections itself.
*/
package subscription
