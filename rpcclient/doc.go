// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package rpcclient implements a synchronous JSON-RPC client for a single
ElectrumX connection.

ElectrumX answers requests on a connection in order and this client never
pipelines: Call sends one request and reads until the matching response
arrives, holding a per-client mutex for the whole exchange so a concurrent
caller can never consume another caller's reply.

The id of every response is checked against the request.  A call that times
out abandons its id; if the late response shows up in front of a later
call's response it is recognized and skipped.  Notifications read while a
call is waiting are logged and dropped, since subscriptions belong on a
dedicated connection read with Receive.  A response with an id the client
never issued is returned with a warning, or rejected with ErrIDMismatch when
Config.StrictIDs is set.

Notify sends a request without waiting for a reply.  It is meant for the
subscription connection, whose replies and notifications are consumed by a
single reader calling Receive.

Errors are typed: transport.ErrTimeout, transport.ErrClosed,
transport.ErrNotConnected, *transport.SendError and
*jsonrpc.MalformedMessageError.  A server-side error is not a call failure;
the returned *jsonrpc.Response carries it and jsonrpc.Interpret converts it
to an error.
*/
package rpcclient
