// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sign signs and verifies wallet messages in the compact signature
// format understood by Evrmore and Ravencoin nodes, and builds the
// authentication payload a client presents to a server: the current UTC
// time signed with the wallet key.
package sign
