// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package subscription

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/electrumx/jsonrpc"
)

// Kind is the kind of a Topic.
type Kind uint8

const (
	// KindScripthash topics follow the status of one scripthash.
	KindScripthash Kind = iota

	// KindHeaders topics follow new chain tips.
	KindHeaders
)

// String returns the kind in human-readable form.
func (k Kind) String() string {
	switch k {
	case KindScripthash:
		return "scripthash"
	case KindHeaders:
		return "headers"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Callback receives a notification for a topic.
type Callback func(n *jsonrpc.Notification)

// Topic is a subscription handle.  A Topic may be subscribed at most once at
// a time.
type Topic struct {
	kind     Kind
	key      string
	callback Callback

	// active is guarded by the owning Manager's mutex.
	active bool
}

// NewScripthashTopic returns a topic for status changes of scripthash.
func NewScripthashTopic(scripthash string, cb Callback) *Topic {
	return &Topic{kind: KindScripthash, key: scripthash, callback: cb}
}

// NewHeadersTopic returns a topic for new block headers.
func NewHeadersTopic(cb Callback) *Topic {
	return &Topic{kind: KindHeaders, callback: cb}
}

// Kind returns the topic kind.
func (t *Topic) Kind() Kind {
	return t.kind
}

// Key returns the scripthash of a scripthash topic and "" for headers.
func (t *Topic) Key() string {
	return t.key
}

func (t *Topic) id() topicID {
	return topicID{kind: t.kind, key: t.key}
}

// topicID identifies everything that shares one subscription on the wire.
type topicID struct {
	kind Kind
	key  string
}

func (id topicID) String() string {
	if id.kind == KindHeaders {
		return "headers"
	}
	return "scripthash " + id.key
}

func (id topicID) subscribeMethod() string {
	if id.kind == KindHeaders {
		return jsonrpc.MethodHeadersSubscribe
	}
	return jsonrpc.MethodScripthashSubscribe
}

func (id topicID) unsubscribeMethod() string {
	if id.kind == KindHeaders {
		return jsonrpc.MethodHeadersUnsubscribe
	}
	return jsonrpc.MethodScripthashUnsubscribe
}

func (id topicID) params() []interface{} {
	if id.kind == KindHeaders {
		return nil
	}
	return []interface{}{id.key}
}

// ScripthashStatus is the payload of a scripthash notification.  Status is
// empty when the scripthash has no history.
type ScripthashStatus struct {
	Scripthash string
	Status     string
}

// ParseScripthashStatus decodes the params [scripthash, status|null] of a
// blockchain.scripthash.subscribe notification.
func ParseScripthashStatus(n *jsonrpc.Notification) (*ScripthashStatus, error) {
	if n == nil || len(n.Params) != 2 {
		return nil, errors.New("scripthash notification needs 2 params")
	}

	var s ScripthashStatus
	if err := json.Unmarshal(n.Params[0], &s.Scripthash); err != nil {
		return nil, fmt.Errorf("scripthash: %w", err)
	}
	var status *string
	if err := json.Unmarshal(n.Params[1], &status); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	if status != nil {
		s.Status = *status
	}
	return &s, nil
}

// Header is a decoded blockchain.headers.subscribe notification.
//
// Block holds the fields common to every header format.  Headers of the
// legacy 80-byte format carry their double-SHA256 Hash.  Extended 120-byte
// KAWPOW headers, as used by Ravencoin and Evrmore, leave Hash nil and expose
// the proof of work fields separately; Block.Nonce is zero for them.
type Header struct {
	Height int32
	Hex    string
	Block  wire.BlockHeader
	Hash   *chainhash.Hash

	PowHeight uint32
	Nonce64   uint64
	MixHash   chainhash.Hash
}

// Header sizes understood by ParseHeader.
const (
	LegacyHeaderSize   = 80
	ExtendedHeaderSize = 120
)

// ParseHeader decodes the params [{"height":h,"hex":header}] of a
// blockchain.headers.subscribe notification.
func ParseHeader(n *jsonrpc.Notification) (*Header, error) {
	if n == nil || len(n.Params) < 1 {
		return nil, errors.New("headers notification needs 1 param")
	}
	return decodeHeader(n.Params[0])
}

func decodeHeader(raw json.RawMessage) (*Header, error) {
	var v struct {
		Height *int32 `json:"height"`
		Hex    string `json:"hex"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	if v.Height == nil {
		return nil, errors.New("header: missing height")
	}
	b, err := hex.DecodeString(v.Hex)
	if err != nil {
		return nil, fmt.Errorf("header hex: %w", err)
	}

	h := &Header{Height: *v.Height, Hex: v.Hex}
	switch len(b) {
	case LegacyHeaderSize, ExtendedHeaderSize:
	default:
		return nil, fmt.Errorf("header: unexpected size %d", len(b))
	}
	if err := h.Block.Deserialize(bytes.NewReader(b[:LegacyHeaderSize])); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}

	if len(b) == LegacyHeaderSize {
		hash := h.Block.BlockHash()
		h.Hash = &hash
		return h, nil
	}

	// The legacy nonce position holds the KAWPOW height.
	h.Block.Nonce = 0
	h.PowHeight = binary.LittleEndian.Uint32(b[76:80])
	h.Nonce64 = binary.LittleEndian.Uint64(b[80:88])
	copy(h.MixHash[:], b[88:120])
	return h, nil
}
