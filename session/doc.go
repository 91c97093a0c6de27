// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package session pairs the two connections an ElectrumX client keeps to a
server: a primary connection for request and response traffic, and a
subscription connection that carries nothing but subscribe requests and the
notifications they produce.

A Session moves through these states:

	Unconnected --Connect--> Connected --Handshake--> Handshaked
	     |                       |                         |
	     +--(dial fails)--> Failed                         |
	                             +-------Disconnect--------+--> Disconnected

Connect never retries; RetryPolicy gives callers the bounded, fixed delay
retry loop they are expected to wrap around it.  When Config.Fallbacks names
further servers, a failed Connect leaves the next server current, so the
following attempt of that loop goes elsewhere.

Handshake negotiates the protocol version with server.version.  A successful
handshake stays fresh for Config.HandshakeTTL (one hour by default); within
that window Handshake only confirms the session is healthy with a
server.ping round trip.  The subscription connection is sent its own
server.version once per connection without waiting for the reply, because
the subscription listener is its only reader.

IsHealthy is deliberately stronger than a socket check: both connections
must be open and server.ping must be answered on the primary connection.
*/
package session
