// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package cache provides a small persistent key/value store used to keep
immutable chain data, such as raw transactions and block headers, across
runs.

Stores are opened by driver name:

	st, err := cache.Open("leveldb", "/path/to/cache")

The "leveldb" and "pebble" drivers persist to disk.  The "memory" driver
keeps everything in process memory and ignores the path, which is handy for
tests and one-shot commands.
*/
package cache
