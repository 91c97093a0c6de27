// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cache

import (
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
)

// maxOpenFiles bounds the file handles used by a pebble store.
const maxOpenFiles = 16

// pebbleDB is a Store backed by pebble.
type pebbleDB struct {
	db     *pebble.DB
	closed atomic.Bool
}

// Ensure pebbleDB satisfies the Store interface.
var _ Store = (*pebbleDB)(nil)

func openPebble(path string) (Store, error) {
	opts := &pebble.Options{
		MaxOpenFiles: maxOpenFiles,
		Levels: []pebble.LevelOptions{
			{TargetFileSize: 2 * 1024 * 1024, FilterPolicy: bloom.FilterPolicy(10)},
		},
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return &pebbleDB{db: db}, nil
}

func (p *pebbleDB) Get(key []byte) ([]byte, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	ori, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	val := make([]byte, len(ori))
	copy(val, ori)
	return val, nil
}

func (p *pebbleDB) Has(key []byte) (bool, error) {
	_, err := p.Get(key)
	switch err {
	case nil:
		return true, nil
	case ErrNotFound:
		return false, nil
	default:
		return false, err
	}
}

func (p *pebbleDB) Put(key, value []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return p.db.Set(key, value, pebble.Sync)
}

func (p *pebbleDB) Delete(key []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return p.db.Delete(key, pebble.Sync)
}

func (p *pebbleDB) ForEach(prefix []byte, fn func(key, value []byte) bool) error {
	if p.closed.Load() {
		return ErrClosed
	}
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixLimit(prefix),
	})
	if err != nil {
		return err
	}
	for valid := iter.First(); valid; valid = iter.Next() {
		if !fn(iter.Key(), iter.Value()) {
			break
		}
	}
	return iter.Close()
}

func (p *pebbleDB) Close() error {
	if p.closed.Swap(true) {
		return ErrClosed
	}
	return p.db.Close()
}

// prefixLimit returns the smallest key greater than every key with the
// given prefix, or nil when no such key exists.
func prefixLimit(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if c := prefix[i]; c < 0xff {
			limit := make([]byte, i+1)
			copy(limit, prefix)
			limit[i] = c + 1
			return limit
		}
	}
	return nil
}
