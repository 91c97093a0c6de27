// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package jsonrpc implements the JSON-RPC 2.0 envelopes spoken by ElectrumX
servers.

Every line on an ElectrumX connection is one of three shapes:

	{"jsonrpc":"2.0","id":<int>,"method":<string>,"params":[...]}   request
	{"jsonrpc":"2.0","id":<int>,"result":<any>}                     response
	{"jsonrpc":"2.0","id":<int>,"error":<any>}                      response
	{"jsonrpc":"2.0","method":<string>,"params":[...]}              notification

Requests are built with NewRequest and serialized with MarshalRequest, which
appends the line delimiter.  Lines read from a server are classified with
ParseMessage into either a Response or a Notification.  Interpret extracts the
result of a response, turning server-side errors into *RPCError values.
*/
package jsonrpc
