// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package jsonrpc

// Methods consumed from ElectrumX servers.
const (
	MethodServerVersion = "server.version"
	MethodServerPing    = "server.ping"
	MethodServerBanner  = "server.banner"

	MethodScripthashGetBalance      = "blockchain.scripthash.get_balance"
	MethodScripthashGetAssetBalance = "blockchain.scripthash.get_asset_balance"
	MethodScripthashGetHistory      = "blockchain.scripthash.get_history"
	MethodScripthashListUnspent     = "blockchain.scripthash.listunspent"
	MethodScripthashListAssets      = "blockchain.scripthash.listassets"
	MethodScripthashSubscribe       = "blockchain.scripthash.subscribe"
	MethodScripthashUnsubscribe     = "blockchain.scripthash.unsubscribe"

	MethodHeadersSubscribe   = "blockchain.headers.subscribe"
	MethodHeadersUnsubscribe = "blockchain.headers.unsubscribe"

	MethodTransactionGet       = "blockchain.transaction.get"
	MethodTransactionBroadcast = "blockchain.transaction.broadcast"

	MethodAssetGetMeta              = "blockchain.asset.get_meta"
	MethodAssetListAddressesByAsset = "blockchain.asset.list_addresses_by_asset"
)
