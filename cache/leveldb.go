// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cache

import (
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// levelDB is a Store backed by goleveldb.
type levelDB struct {
	db     *leveldb.DB
	closed atomic.Bool
}

// Ensure levelDB satisfies the Store interface.
var _ Store = (*levelDB)(nil)

func levelDBOptions() *opt.Options {
	return &opt.Options{
		Strict:      opt.DefaultStrict,
		Compression: opt.NoCompression,
		Filter:      filter.NewBloomFilter(10),
	}
}

func openLevelDB(path string) (Store, error) {
	opts := levelDBOptions()
	ldb, err := leveldb.OpenFile(path, opts)
	if ldberrors.IsCorrupted(err) {
		log.Warnf("Cache at %q is corrupted, attempting recovery: %v",
			path, err)
		ldb, err = leveldb.RecoverFile(path, opts)
	}
	if err != nil {
		return nil, err
	}
	return &levelDB{db: ldb}, nil
}

func openMemory() (Store, error) {
	ldb, err := leveldb.Open(storage.NewMemStorage(), levelDBOptions())
	if err != nil {
		return nil, err
	}
	return &levelDB{db: ldb}, nil
}

func (l *levelDB) Get(key []byte) ([]byte, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	val, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return val, err
}

func (l *levelDB) Has(key []byte) (bool, error) {
	if l.closed.Load() {
		return false, ErrClosed
	}
	return l.db.Has(key, nil)
}

func (l *levelDB) Put(key, value []byte) error {
	if l.closed.Load() {
		return ErrClosed
	}
	return l.db.Put(key, value, nil)
}

func (l *levelDB) Delete(key []byte) error {
	if l.closed.Load() {
		return ErrClosed
	}
	return l.db.Delete(key, nil)
}

func (l *levelDB) ForEach(prefix []byte, fn func(key, value []byte) bool) error {
	if l.closed.Load() {
		return ErrClosed
	}
	iter := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		if !fn(iter.Key(), iter.Value()) {
			break
		}
	}
	return iter.Error()
}

func (l *levelDB) Close() error {
	if l.closed.Swap(true) {
		return ErrClosed
	}
	return l.db.Close()
}
