// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcclient

import "errors"

var (
	// ErrIDMismatch is returned in strict mode when the response read
	// after a request carries an id other than the request's.
	ErrIDMismatch = errors.New("response id does not match request id")

	// ErrNoMethod is returned when a call is attempted without a method.
	ErrNoMethod = errors.New("empty method")
)
