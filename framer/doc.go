// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package framer reassembles newline-delimited messages from a byte stream.

ElectrumX speaks JSON-RPC where every message is a single line terminated by
'\n'.  A single socket read may return part of a message, exactly one message,
or several messages at once, so the bytes read from a connection are fed into
a Framer which hands back one complete line at a time.

	var f framer.Framer
	f.Feed(chunk)
	for {
		line, ok := f.Next()
		if !ok {
			break
		}
		// handle line
	}

The Framer does not interpret the lines it returns.  Deciding whether a line
is valid JSON, and what to do when it is not, belongs to the reader that owns
the Framer.
*/
package framer
