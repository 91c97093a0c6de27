// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package electrumx

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// DefaultAsset is the asset queried when none is given.
const DefaultAsset = "SATORI"

// Chain describes a network served by ElectrumX.
type Chain struct {
	// Name is the human readable network name.
	Name string

	// Currency is the ticker of the native coin.
	Currency string

	// MessageMagic prefixes messages signed with wallet keys.
	MessageMagic string

	// AssetBalanceByName is true when blockchain.scripthash.get_asset_balance
	// and blockchain.scripthash.listunspent accept an asset name and
	// return a single balance.  Otherwise the balance of every asset is
	// returned keyed by name and assets are listed with
	// blockchain.scripthash.listassets.
	AssetBalanceByName bool

	// Params holds the address encoding of the network.
	Params *chaincfg.Params
}

// EvrmoreMainNet is the Evrmore main network.
var EvrmoreMainNet = &Chain{
	Name:               "Evrmore",
	Currency:           "EVR",
	MessageMagic:       "Evrmore Signed Message:\n",
	AssetBalanceByName: true,
	Params: &chaincfg.Params{
		Name:             "evrmore",
		Net:              wire.BitcoinNet(0x4d525645),
		DefaultPort:      "8820",
		PubKeyHashAddrID: 33,
		ScriptHashAddrID: 92,
		PrivateKeyID:     128,
		HDPrivateKeyID:   [4]byte{0x04, 0x88, 0xad, 0xe4},
		HDPublicKeyID:    [4]byte{0x04, 0x88, 0xb2, 0x1e},
		HDCoinType:       175,
	},
}

// RavencoinMainNet is the Ravencoin main network.
var RavencoinMainNet = &Chain{
	Name:         "Ravencoin",
	Currency:     "RVN",
	MessageMagic: "Raven Signed Message:\n",
	Params: &chaincfg.Params{
		Name:             "ravencoin",
		Net:              wire.BitcoinNet(0x4e564152),
		DefaultPort:      "8767",
		PubKeyHashAddrID: 60,
		ScriptHashAddrID: 122,
		PrivateKeyID:     128,
		HDPrivateKeyID:   [4]byte{0x04, 0x88, 0xad, 0xe4},
		HDPublicKeyID:    [4]byte{0x04, 0x88, 0xb2, 0x1e},
		HDCoinType:       175,
	},
}

// Chains lists the supported networks.
var Chains = []*Chain{EvrmoreMainNet, RavencoinMainNet}

// ChainByName returns the supported network with the given name, ignoring
// case.
func ChainByName(name string) (*Chain, error) {
	for _, c := range Chains {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("unknown chain %q", name)
}

// ScriptHash returns the scripthash of address on the chain.
func (c *Chain) ScriptHash(address string) (string, error) {
	return ScriptHash(address, c.Params)
}

// String returns the chain name.
func (c *Chain) String() string {
	return c.Name
}
