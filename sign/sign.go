// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sign

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/ripemd160"
)

// ChallengeLayout formats the default authentication challenge.
const ChallengeLayout = "2006-01-02 15:04:05.000000"

// ErrWrongNetwork is returned for keys encoded for another network.
var ErrWrongNetwork = errors.New("key is not for this network")

// Signer signs messages with a wallet key.
type Signer interface {
	// Sign returns the compact signature of message.
	Sign(message string) ([]byte, error)

	// PublicKey returns the hex encoded serialized public key.
	PublicKey() string

	// Address returns the pay-to-pubkey-hash address of the key.
	Address() string
}

// Verifier checks message signatures against an address.
type Verifier interface {
	Verify(address, message string, signature []byte) (bool, error)
}

// AddressDeriver turns a hex encoded public key into its address.
type AddressDeriver interface {
	DeriveAddress(pubKey string) (string, error)
}

// Network holds what signing needs to know about a chain.
type Network struct {
	Params *chaincfg.Params
	Magic  string
}

// MessageHash returns the hash signed for message: the double sha256 of the
// magic and message, each prefixed with its varint length.
func (n Network) MessageHash(message string) []byte {
	var buf bytes.Buffer
	wire.WriteVarString(&buf, 0, n.Magic)
	wire.WriteVarString(&buf, 0, message)
	return chainhash.DoubleHashB(buf.Bytes())
}

// DeriveAddress returns the address of the hex encoded public key.
func (n Network) DeriveAddress(pubKey string) (string, error) {
	serialized, err := hex.DecodeString(pubKey)
	if err != nil {
		return "", fmt.Errorf("malformed public key: %w", err)
	}
	if _, err := secp256k1.ParsePubKey(serialized); err != nil {
		return "", err
	}
	return n.address(serialized)
}

func (n Network) address(serializedPubKey []byte) (string, error) {
	addr, err := btcutil.NewAddressPubKeyHash(hash160(serializedPubKey), n.Params)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// Verify reports whether signature is a compact signature of message by the
// key behind address.
func (n Network) Verify(address, message string, signature []byte) (bool, error) {
	pub, compressed, err := ecdsa.RecoverCompact(signature, n.MessageHash(message))
	if err != nil {
		return false, err
	}

	serialized := pub.SerializeUncompressed()
	if compressed {
		serialized = pub.SerializeCompressed()
	}
	derived, err := n.address(serialized)
	if err != nil {
		return false, err
	}
	return derived == address, nil
}

// Ensure Network satisfies the Verifier and AddressDeriver interfaces.
var (
	_ Verifier       = Network{}
	_ AddressDeriver = Network{}
)

// KeySigner is a Signer holding a private key.
type KeySigner struct {
	net        Network
	key        *btcec.PrivateKey
	compressed bool
	pubKey     []byte
	address    string
}

// Ensure KeySigner satisfies the Signer interface.
var _ Signer = (*KeySigner)(nil)

// NewKeySigner returns a signer for key on net.
func NewKeySigner(net Network, key *btcec.PrivateKey, compressed bool) (*KeySigner, error) {
	s := &KeySigner{net: net, key: key, compressed: compressed}
	if compressed {
		s.pubKey = key.PubKey().SerializeCompressed()
	} else {
		s.pubKey = key.PubKey().SerializeUncompressed()
	}
	addr, err := net.address(s.pubKey)
	if err != nil {
		return nil, err
	}
	s.address = addr
	return s, nil
}

// FromWIF decodes a wallet import format key for net.
func FromWIF(net Network, wif string) (*KeySigner, error) {
	w, err := btcutil.DecodeWIF(wif)
	if err != nil {
		return nil, err
	}
	if !w.IsForNet(net.Params) {
		return nil, ErrWrongNetwork
	}
	return NewKeySigner(net, w.PrivKey, w.CompressPubKey)
}

// Sign returns the 65 byte compact signature of message.
func (s *KeySigner) Sign(message string) ([]byte, error) {
	return ecdsa.SignCompact(s.key, s.net.MessageHash(message), s.compressed)
}

// PublicKey returns the hex encoded public key.
func (s *KeySigner) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

// Address returns the address of the key.
func (s *KeySigner) Address() string {
	return s.address
}

// Auth is the payload a client presents to authenticate with its wallet.
type Auth struct {
	Message   string `json:"message"`
	PubKey    string `json:"pubkey"`
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// Challenge returns the default challenge for t: its UTC time with
// microseconds.
func Challenge(t time.Time) string {
	return t.UTC().Format(ChallengeLayout)
}

// AuthPayload signs challenge with s.  An empty challenge selects
// Challenge(time.Now()).
func AuthPayload(s Signer, challenge string) (*Auth, error) {
	if challenge == "" {
		challenge = Challenge(time.Now())
	}
	sig, err := s.Sign(challenge)
	if err != nil {
		return nil, err
	}
	return &Auth{
		Message:   challenge,
		PubKey:    s.PublicKey(),
		Address:   s.Address(),
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// VerifyAuth checks that a was signed by the key behind its address and
// that its public key belongs to that address.
func VerifyAuth(net Network, a *Auth) (bool, error) {
	derived, err := net.DeriveAddress(a.PubKey)
	if err != nil {
		return false, err
	}
	if derived != a.Address {
		return false, nil
	}
	sig, err := base64.StdEncoding.DecodeString(a.Signature)
	if err != nil {
		return false, fmt.Errorf("malformed signature: %w", err)
	}
	return net.Verify(a.Address, a.Message, sig)
}

func hash160(b []byte) []byte {
	sum := chainhash.HashB(b)
	h := ripemd160.New()
	h.Write(sum)
	return h.Sum(nil)
}
