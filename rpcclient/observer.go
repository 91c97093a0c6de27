// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcclient

import "time"

// Observer is notified after every completed call.  err is nil on success.
// A call answered with a server error is observed with that *jsonrpc.RPCError
// although Call itself only returns it inside the response.
type Observer interface {
	ObserveCall(endpoint, method string, elapsed time.Duration, err error)
}

// ObserverFunc adapts an ordinary function to the Observer interface.
type ObserverFunc func(endpoint, method string, elapsed time.Duration, err error)

// ObserveCall calls f.
func (f ObserverFunc) ObserveCall(endpoint, method string, elapsed time.Duration, err error) {
	f(endpoint, method, elapsed, err)
}
