// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cache

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNotFound is returned by Get when the key is not present.
var ErrNotFound = errors.New("cache: key not found")

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("cache: store closed")

// Store is a persistent key/value store.  Implementations are safe for
// concurrent use.
type Store interface {
	// Get returns a copy of the value stored under key or ErrNotFound.
	Get(key []byte) ([]byte, error)

	// Has reports whether key is present.
	Has(key []byte) (bool, error)

	// Put stores value under key, replacing any previous value.
	Put(key, value []byte) error

	// Delete removes key.  Deleting a missing key is not an error.
	Delete(key []byte) error

	// ForEach calls fn for every key with the given prefix in ascending
	// key order until fn returns false.  The slices passed to fn are only
	// valid for the duration of the call.
	ForEach(prefix []byte, fn func(key, value []byte) bool) error

	// Close releases the store.  Closing twice returns ErrClosed.
	Close() error
}

// OpenFunc opens a store rooted at path.
type OpenFunc func(path string) (Store, error)

var drivers = map[string]OpenFunc{
	"leveldb": openLevelDB,
	"memory":  func(string) (Store, error) { return openMemory() },
	"pebble":  openPebble,
}

// Drivers returns the names of the supported drivers in sorted order.
func Drivers() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens the store at path with the named driver, creating it when it
// does not exist yet.
func Open(driver, path string) (Store, error) {
	open, ok := drivers[driver]
	if !ok {
		return nil, fmt.Errorf("cache: unknown driver %q (supported: %v)",
			driver, Drivers())
	}
	st, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s store at %q: %w", driver,
			path, err)
	}
	log.Debugf("Opened %s cache at %q", driver, path)
	return st, nil
}
