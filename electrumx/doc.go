// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package electrumx implements the wallet requests of an ElectrumX client for
Evrmore and Ravencoin on top of a session.Session.

Every request first makes sure the session is connected and handshaked,
reconnecting under the configured retry policy when it is not, and then
issues one call on the primary connection.  Server errors are returned as
*jsonrpc.RPCError values; transport failures are retried.

Addresses are converted to the scripthash form used by the protocol with
ScriptHash:

	sh, err := electrumx.EvrmoreMainNet.ScriptHash(address)
	bal, err := client.Balance(ctx, sh)

Raw transactions are immutable, so when a cache.Store is configured they are
kept there and served without asking the server again.
*/
package electrumx
