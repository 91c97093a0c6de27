// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package transport owns the sockets used to talk to ElectrumX servers.

A Dialer opens a Conn to an Endpoint.  Plain TCP, TLS and WebSocket endpoints
are supported, optionally through a SOCKS5 proxy such as Tor.  TLS is always
used on the well-known ElectrumX TLS port 50002, and server certificates are
never validated since public ElectrumX servers almost universally present
self-signed certificates.

A Conn delivers the stream one newline-terminated line at a time:

	conn, err := transport.DefaultDialer.Dial(ctx, ep)
	if err != nil {
		// *ConnectError
	}
	defer conn.Close()

	if err := conn.Send(payload); err != nil {
		// *SendError
	}
	line, err := conn.ReceiveLine(5 * time.Second)
	switch {
	case errors.Is(err, transport.ErrTimeout):
	case errors.Is(err, transport.ErrClosed):
	}

ReceiveLine reports a timeout and a closed peer as distinct errors.  Bytes of
a partially received line are kept across timeouts, so a later call resumes
where the previous one stopped.  Closing a Conn unblocks any pending
ReceiveLine, which then returns ErrClosed.  Close may be called any number of
times.

IsConnected only reports whether the Conn has been closed.  It does not probe
the socket; a half-open connection still reports true until a read or write
fails.
*/
package transport
