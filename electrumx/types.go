// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package electrumx

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// Balance is the confirmed and unconfirmed balance of a scripthash in
// satoshis of the coin or asset queried.
type Balance struct {
	Confirmed   btcutil.Amount `json:"confirmed"`
	Unconfirmed btcutil.Amount `json:"unconfirmed"`
}

// Total returns the sum of the confirmed and unconfirmed balance.
func (b Balance) Total() btcutil.Amount {
	return b.Confirmed + b.Unconfirmed
}

// assetBalances is the get_asset_balance result of chains that report
// every asset at once.
type assetBalances struct {
	Confirmed   map[string]btcutil.Amount `json:"confirmed"`
	Unconfirmed map[string]btcutil.Amount `json:"unconfirmed"`
}

// HistoryItem is one transaction touching a scripthash.  Height is zero or
// negative for mempool transactions.
type HistoryItem struct {
	TxHash string         `json:"tx_hash"`
	Height int32          `json:"height"`
	Fee    btcutil.Amount `json:"fee,omitempty"`
}

// Unspent is an unspent output paying a scripthash.  Asset is empty for
// outputs of the native coin.
type Unspent struct {
	TxHash string         `json:"tx_hash"`
	TxPos  uint32         `json:"tx_pos"`
	Height int32          `json:"height"`
	Value  btcutil.Amount `json:"value"`
	Asset  string         `json:"asset,omitempty"`
}

// AssetSource locates the transaction that created an asset.
type AssetSource struct {
	TxHash string `json:"tx_hash"`
	TxPos  uint32 `json:"tx_pos"`
	Height int32  `json:"height"`
}

// AssetMeta is the result of blockchain.asset.get_meta.
type AssetMeta struct {
	SatsInCirculation btcutil.Amount `json:"sats_in_circulation"`
	Divisions         int            `json:"divisions"`
	Reissuable        bool           `json:"reissuable"`
	HasIPFS           bool           `json:"has_ipfs"`
	IPFS              string         `json:"ipfs,omitempty"`
	Source            *AssetSource   `json:"source,omitempty"`
}

// VoutAsset is the asset transferred by an output.
type VoutAsset struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

// Vout is an output of a verbose transaction.
type Vout struct {
	btcjson.Vout

	ValueSat btcutil.Amount `json:"valueSat"`
	Asset    *VoutAsset     `json:"asset,omitempty"`
}

// Transaction is the verbose form of a transaction as returned by
// blockchain.transaction.get.
type Transaction struct {
	btcjson.TxRawResult

	Height int32  `json:"height,omitempty"`
	Vout   []Vout `json:"vout"`
}

// Memo returns the data carried by the last zero value OP_RETURN output, or
// nil when there is none.
func (t *Transaction) Memo() []byte {
	for i := len(t.Vout) - 1; i >= 0; i-- {
		vout := &t.Vout[i]
		if vout.Value != 0 {
			continue
		}
		script, err := hex.DecodeString(vout.ScriptPubKey.Hex)
		if err != nil || len(script) == 0 || script[0] != txscript.OP_RETURN {
			continue
		}
		pushes, err := txscript.PushedData(script)
		if err != nil {
			continue
		}
		var memo []byte
		for _, p := range pushes {
			memo = append(memo, p...)
		}
		return memo
	}
	return nil
}

// Sent sums the outputs of the transaction by asset.  Outputs of the native
// coin are reported under currency.
func (t *Transaction) Sent(currency string) map[string]float64 {
	sent := make(map[string]float64)
	for _, vout := range t.Vout {
		if vout.Asset != nil {
			sent[vout.Asset.Name] += vout.Asset.Amount
			continue
		}
		sent[currency] += vout.Value
	}
	return sent
}
