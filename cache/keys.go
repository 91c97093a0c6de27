// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cache

import (
	"encoding/binary"
	"errors"
)

var (
	// TxPrefix prefixes raw transaction keys.
	TxPrefix = []byte("tx/")

	// HeaderPrefix prefixes block header keys.
	HeaderPrefix = []byte("hdr/")
)

// TxKey returns the key of the raw transaction with the given hex id.
func TxKey(txid string) []byte {
	key := make([]byte, 0, len(TxPrefix)+len(txid))
	key = append(key, TxPrefix...)
	return append(key, txid...)
}

// HeaderKey returns the key of the block header at height.  Heights are
// encoded big endian so iteration visits headers in height order.
func HeaderKey(height uint32) []byte {
	key := make([]byte, len(HeaderPrefix)+4)
	copy(key, HeaderPrefix)
	binary.BigEndian.PutUint32(key[len(HeaderPrefix):], height)
	return key
}

// HeaderHeight decodes the height from a key built by HeaderKey.
func HeaderHeight(key []byte) (uint32, error) {
	if len(key) != len(HeaderPrefix)+4 ||
		string(key[:len(HeaderPrefix)]) != string(HeaderPrefix) {

		return 0, errors.New("cache: not a header key")
	}
	return binary.BigEndian.Uint32(key[len(HeaderPrefix):]), nil
}
