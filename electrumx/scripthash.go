// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package electrumx

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
)

// ScriptHash converts address to the scripthash ElectrumX indexes it by:
// the sha256 of its output script, hex encoded in reverse byte order.
func ScriptHash(address string, params *chaincfg.Params) (string, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return "", fmt.Errorf("decode address %q: %w", address, err)
	}
	if !addr.IsForNet(params) {
		return "", fmt.Errorf("address %q is not for %s", address,
			params.Name)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return "", err
	}
	return ScriptHashFromScript(pkScript), nil
}

// ScriptHashFromScript returns the scripthash of an output script.
func ScriptHashFromScript(pkScript []byte) string {
	return chainhash.Hash(sha256.Sum256(pkScript)).String()
}

// IsScriptHash reports whether s has the form of a scripthash.
func IsScriptHash(s string) bool {
	if len(s) != chainhash.MaxHashStringSize {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
