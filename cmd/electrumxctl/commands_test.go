// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/electrumx/cache"
	"github.com/btcsuite/electrumx/electrumx"
	"github.com/btcsuite/electrumx/internal/transporttest"
	"github.com/btcsuite/electrumx/jsonrpc"
	"github.com/btcsuite/electrumx/sign"
	"github.com/btcsuite/electrumx/subscription"
	"github.com/btcsuite/electrumx/transport"
	"github.com/stretchr/testify/require"
)

const testScripthash = "8b01df4e368ea28f8dc0423bcf7a4923e3a12d307c875e47a0cfbf90b5c39161"

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mtx sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.buf.String()
}

func testConfig() *config {
	return &config{
		Servers:     []string{"tcp://electrum.test:50001"},
		Chain:       "evrmore",
		Timeout:     200 * time.Millisecond,
		CacheDriver: "memory",
		NoCache:     true,
		DebugLevel:  defaultLogLevel,
	}
}

// testDialer answers server.version plus the given results.
func testDialer(results map[string]string) *transporttest.Dialer {
	all := map[string]string{
		jsonrpc.MethodServerVersion: transporttest.ServerVersion,
	}
	for method, result := range results {
		all[method] = result
	}
	return transporttest.NewDialer(transporttest.Results(all))
}

func runTest(t *testing.T, cfg *config, dialer *transporttest.Dialer,
	args ...string) (string, error) {

	t.Helper()
	var out bytes.Buffer
	err := runCommand(context.Background(), cfg, args, strings.NewReader(""),
		&out, dialer)
	return out.String(), err
}

func testAddress(t *testing.T) string {
	t.Helper()
	addr, err := btcutil.NewAddressPubKeyHash(bytes.Repeat([]byte{0x42}, 20),
		electrumx.EvrmoreMainNet.Params)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

func TestBalanceCommand(t *testing.T) {
	t.Parallel()

	dialer := testDialer(map[string]string{
		jsonrpc.MethodScripthashGetBalance: `{"confirmed":150000000,"unconfirmed":-50000000}`,
	})

	out, err := runTest(t, testConfig(), dialer, "balance", testScripthash)
	require.NoError(t, err)
	require.JSONEq(t, `{"confirmed":1.5,"unconfirmed":-0.5,"total":1}`, out)

	// An address is converted to its scripthash.
	addr := testAddress(t)
	want, err := electrumx.EvrmoreMainNet.ScriptHash(addr)
	require.NoError(t, err)
	_, err = runTest(t, testConfig(), dialer, "balance", addr)
	require.NoError(t, err)

	var req jsonrpc.Request
	sent := dialer.Conns()[len(dialer.Conns())-2].Sent()
	require.NoError(t, json.Unmarshal(sent[len(sent)-1], &req))
	require.Equal(t, jsonrpc.MethodScripthashGetBalance, req.Method)
	require.Equal(t, `"`+want+`"`, string(req.Params[0]))

	// Ravencoin addresses are rejected on Evrmore.
	_, err = runTest(t, testConfig(), dialer, "balance", "RBvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2")
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	out, err := runTest(t, testConfig(), testDialer(nil), "version")
	require.NoError(t, err)

	var v versionResult
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	require.Equal(t, "ElectrumX 1.16.0", v.Server)
	require.Equal(t, "1.10", v.ProtocolVersion)
	require.Equal(t, "tcp://electrum.test:50001", v.Endpoint)
	require.True(t, strings.HasPrefix(v.Client, "electrumx-go "), v.Client)
}

func TestHoldersCommand(t *testing.T) {
	t.Parallel()

	dialer := testDialer(map[string]string{
		jsonrpc.MethodAssetListAddressesByAsset: `{"Eb":100000000,"Ea":100000000,"Ec":300000000}`,
	})
	out, err := runTest(t, testConfig(), dialer, "holders", "SATORI")
	require.NoError(t, err)

	var holders []holder
	require.NoError(t, json.Unmarshal([]byte(out), &holders))
	require.Equal(t, []holder{
		{Address: "Ec", Amount: 3},
		{Address: "Ea", Amount: 1},
		{Address: "Eb", Amount: 1},
	}, holders)
}

func TestServerFailover(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Servers = []string{"tcp://down.test:50001", "tcp://electrum.test:50001"}
	down, err := transport.ParseEndpoint(cfg.Servers[0])
	require.NoError(t, err)
	down.Timeout = cfg.Timeout

	dialer := testDialer(nil)
	dialer.Refuse(down, errors.New("connection refused"))

	out, err := runTest(t, cfg, dialer, "version")
	require.NoError(t, err)

	var v versionResult
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	require.Equal(t, "tcp://electrum.test:50001", v.Endpoint)
	require.Len(t, dialer.Conns(), 2)
}

func TestServerErrorCommand(t *testing.T) {
	t.Parallel()

	// History is not answered so the server reports method not found.
	_, err := runTest(t, testConfig(), testDialer(nil), "history", testScripthash)
	var rpcErr *jsonrpc.RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, jsonrpc.ErrCodeMethodNotFound, rpcErr.Code)
}

func TestAuthCommand(t *testing.T) {
	t.Parallel()

	key, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x01}, 32))
	wif, err := btcutil.NewWIF(key, electrumx.EvrmoreMainNet.Params, true)
	require.NoError(t, err)

	// auth runs without a session.
	dialer := testDialer(nil)
	out, err := runTest(t, testConfig(), dialer, "auth", wif.String(),
		"2022-08-01 17:28:44.748691")
	require.NoError(t, err)
	require.Empty(t, dialer.Conns())

	var auth sign.Auth
	require.NoError(t, json.Unmarshal([]byte(out), &auth))
	require.Equal(t, "2022-08-01 17:28:44.748691", auth.Message)

	net := sign.Network{
		Params: electrumx.EvrmoreMainNet.Params,
		Magic:  electrumx.EvrmoreMainNet.MessageMagic,
	}
	ok, err := sign.VerifyAuth(net, &auth)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCommandArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{"missing", []string{"balance"}},
		{"extra", []string{"ping", "x"}},
		{"bad tx format", []string{"tx", strings.Repeat("00", 32), "json"}},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			_, err := runTest(t, testConfig(), testDialer(nil), test.args...)
			require.ErrorIs(t, err, errUsage)
		})
	}

	_, err := runTest(t, testConfig(), testDialer(nil), "nosuchcommand")
	require.ErrorContains(t, err, "unrecognized command")

	for _, c := range commands {
		require.Same(t, c, lookupCommand(c.name))
	}
}

func TestReadArgs(t *testing.T) {
	t.Parallel()

	params, err := readArgs([]string{"a", "-", "-"},
		strings.NewReader("first\r\nsecond"))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "first", "second"}, params)

	_, err = readArgs([]string{"-"}, strings.NewReader(""))
	require.Error(t, err)
}

func TestPrintResult(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, "pong", true))
	require.NoError(t, printResult(&buf, nil, true))
	require.NoError(t, printResult(&buf, map[string]int{"a": 1}, true))
	require.NoError(t, printResult(&buf, map[string]int{"a": 1}, false))
	require.Equal(t, "pong\n{\n  \"a\": 1\n}\n{\"a\":1}\n", buf.String())
}

func testHeader(t *testing.T) (string, chainhash.Hash) {
	t.Helper()
	bh := wire.NewBlockHeader(1, &chainhash.Hash{0x01}, &chainhash.Hash{0x02},
		0x1d00ffff, 7)
	bh.Timestamp = time.Unix(1700000000, 0)
	var buf bytes.Buffer
	require.NoError(t, bh.Serialize(&buf))
	return hex.EncodeToString(buf.Bytes()), bh.BlockHash()
}

func TestWatchCommand(t *testing.T) {
	t.Parallel()

	hexHeader, hash := testHeader(t)
	dialer := testDialer(map[string]string{
		jsonrpc.MethodHeadersSubscribe:    fmt.Sprintf(`{"height":100,"hex":%q}`, hexHeader),
		jsonrpc.MethodScripthashSubscribe: `"abcd"`,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- runCommand(ctx, testConfig(), []string{"watch", testScripthash},
			strings.NewReader(""), &out, dialer)
	}()

	require.Eventually(t, func() bool {
		s := out.String()
		return strings.Contains(s, `"event":"header"`) &&
			strings.Contains(s, `"event":"scripthash"`)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return")
	}

	var header, status watchEvent
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var ev watchEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		switch ev.Event {
		case eventHeader:
			header = ev
		case eventScripthash:
			status = ev
		}
	}
	require.Equal(t, watchEvent{Event: eventHeader, Height: 100, Hash: hash.String()}, header)
	require.Equal(t, watchEvent{Event: eventScripthash, Scripthash: testScripthash, Status: "abcd"}, status)
}

func TestStoreHeader(t *testing.T) {
	t.Parallel()

	store, err := cache.Open("memory", "")
	require.NoError(t, err)
	defer store.Close()

	hexHeader, _ := testHeader(t)
	e := &env{store: store}
	for _, height := range []int32{12, 10, 11} {
		e.storeHeader(&subscription.Header{Height: height, Hex: hexHeader})
	}
	e.storeHeader(&subscription.Header{Height: 13, Hex: "zz"})

	raw, err := store.Get(cache.HeaderKey(11))
	require.NoError(t, err)
	require.Equal(t, hexHeader, hex.EncodeToString(raw))

	heights, err := cachedHeaders(store)
	require.NoError(t, err)
	require.Equal(t, []uint32{10, 11, 12}, heights)
	require.Equal(t, "10-12", heightString(heights))
	require.Equal(t, "none", heightString(nil))

	// Without a cache nothing happens.
	(&env{}).storeHeader(&subscription.Header{Height: 1, Hex: hexHeader})
}
