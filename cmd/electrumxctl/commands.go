// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/btcsuite/electrumx/cache"
	"github.com/btcsuite/electrumx/electrumx"
	"github.com/btcsuite/electrumx/internal/version"
	"github.com/btcsuite/electrumx/jsonrpc"
	"github.com/btcsuite/electrumx/session"
	"github.com/btcsuite/electrumx/sign"
	"github.com/btcsuite/electrumx/subscription"
)

// errUsage is returned by a command invoked with the wrong arguments.
var errUsage = errors.New("invalid arguments")

// env holds everything a command may use.
type env struct {
	cfg     *config
	chain   *electrumx.Chain
	sess    *session.Session
	client  *electrumx.Client
	store   cache.Store
	metrics *metrics
	out     io.Writer
}

// command describes one electrumxctl command.
type command struct {
	name    string
	usage   string
	minArgs int
	maxArgs int // -1 for unbounded

	// needsSession commands are run after the session handshake.
	needsSession bool

	run func(ctx context.Context, e *env, args []string) (interface{}, error)
}

// commands lists the supported commands in display order.
var commands = []*command{
	{name: "ping", usage: "ping", needsSession: true, run: runPing},
	{name: "version", usage: "version", needsSession: true, run: runVersion},
	{name: "banner", usage: "banner", needsSession: true, run: runBanner},
	{name: "balance", usage: "balance <address|scripthash>", minArgs: 1, maxArgs: 1, needsSession: true, run: runBalance},
	{name: "assetbalance", usage: "assetbalance <address|scripthash> [asset]", minArgs: 1, maxArgs: 2, needsSession: true, run: runAssetBalance},
	{name: "history", usage: "history <address|scripthash>", minArgs: 1, maxArgs: 1, needsSession: true, run: runHistory},
	{name: "unspent", usage: "unspent <address|scripthash> [asset]", minArgs: 1, maxArgs: 2, needsSession: true, run: runUnspent},
	{name: "assets", usage: "assets <address|scripthash>", minArgs: 1, maxArgs: 1, needsSession: true, run: runAssets},
	{name: "tx", usage: "tx <txid> [raw]", minArgs: 1, maxArgs: 2, needsSession: true, run: runTx},
	{name: "broadcast", usage: "broadcast <hex>", minArgs: 1, maxArgs: 1, needsSession: true, run: runBroadcast},
	{name: "meta", usage: "meta [asset]", maxArgs: 1, needsSession: true, run: runMeta},
	{name: "holders", usage: "holders [asset] [address]", maxArgs: 2, needsSession: true, run: runHolders},
	{name: "watch", usage: "watch [address|scripthash...]", maxArgs: -1, needsSession: true, run: runWatch},
	{name: "auth", usage: "auth <wif|prompt> [challenge]", minArgs: 1, maxArgs: 2, run: runAuth},
}

// lookupCommand returns the command called name, or nil.
func lookupCommand(name string) *command {
	for _, c := range commands {
		if c.name == name {
			return c
		}
	}
	return nil
}

// checkArgs reports whether args is an acceptable argument count for c.
func (c *command) checkArgs(args []string) error {
	if len(args) < c.minArgs || (c.maxArgs >= 0 && len(args) > c.maxArgs) {
		return fmt.Errorf("%w: usage: %s", errUsage, c.usage)
	}
	return nil
}

// resolve accepts either an address of the configured chain or a
// scripthash and returns the scripthash.
func (e *env) resolve(arg string) (string, error) {
	if electrumx.IsScriptHash(arg) {
		return arg, nil
	}
	return e.chain.ScriptHash(arg)
}

// amountResult is the display form of a Balance.
type amountResult struct {
	Confirmed   float64 `json:"confirmed"`
	Unconfirmed float64 `json:"unconfirmed"`
	Total       float64 `json:"total"`
}

func newAmountResult(b electrumx.Balance) amountResult {
	return amountResult{
		Confirmed:   b.Confirmed.ToBTC(),
		Unconfirmed: b.Unconfirmed.ToBTC(),
		Total:       b.Total().ToBTC(),
	}
}

func runPing(ctx context.Context, e *env, _ []string) (interface{}, error) {
	if err := e.client.Ping(ctx); err != nil {
		return nil, err
	}
	return "pong", nil
}

// versionResult describes both ends of the session.
type versionResult struct {
	Client          string `json:"client"`
	Server          string `json:"server"`
	ProtocolVersion string `json:"protocol"`
	Endpoint        string `json:"endpoint"`
}

func runVersion(_ context.Context, e *env, _ []string) (interface{}, error) {
	hs := e.sess.HandshakeState()
	return versionResult{
		Client:          version.ClientName(""),
		Server:          hs.ServerVersion,
		ProtocolVersion: hs.ProtocolVersion,
		Endpoint:        e.sess.Endpoint().String(),
	}, nil
}

func runBanner(ctx context.Context, e *env, _ []string) (interface{}, error) {
	return e.client.Banner(ctx)
}

func runBalance(ctx context.Context, e *env, args []string) (interface{}, error) {
	sh, err := e.resolve(args[0])
	if err != nil {
		return nil, err
	}
	bal, err := e.client.Balance(ctx, sh)
	if err != nil {
		return nil, err
	}
	return newAmountResult(bal), nil
}

func optionalArg(args []string, i int) string {
	if len(args) > i {
		return args[i]
	}
	return ""
}

func runAssetBalance(ctx context.Context, e *env, args []string) (interface{}, error) {
	sh, err := e.resolve(args[0])
	if err != nil {
		return nil, err
	}
	bal, err := e.client.AssetBalance(ctx, sh, optionalArg(args, 1))
	if err != nil {
		return nil, err
	}
	return newAmountResult(bal), nil
}

func runHistory(ctx context.Context, e *env, args []string) (interface{}, error) {
	sh, err := e.resolve(args[0])
	if err != nil {
		return nil, err
	}
	return e.client.History(ctx, sh)
}

func runUnspent(ctx context.Context, e *env, args []string) (interface{}, error) {
	sh, err := e.resolve(args[0])
	if err != nil {
		return nil, err
	}
	if len(args) > 1 {
		return e.client.AssetUnspent(ctx, sh, args[1])
	}
	return e.client.ListUnspent(ctx, sh)
}

func runAssets(ctx context.Context, e *env, args []string) (interface{}, error) {
	sh, err := e.resolve(args[0])
	if err != nil {
		return nil, err
	}
	if e.chain.AssetBalanceByName {
		return e.client.AssetUnspent(ctx, sh, "")
	}
	return e.client.ListAssets(ctx, sh)
}

// txResult adds the decoded memo and sent amounts to a verbose
// transaction.
type txResult struct {
	*electrumx.Transaction
	Memo string             `json:"memo,omitempty"`
	Sent map[string]float64 `json:"sent,omitempty"`
}

func runTx(ctx context.Context, e *env, args []string) (interface{}, error) {
	if len(args) > 1 {
		if args[1] != "raw" {
			return nil, fmt.Errorf("%w: unknown tx format %q", errUsage, args[1])
		}
		tx, err := e.client.RawTransaction(ctx, args[0])
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := tx.MsgTx().Serialize(&buf); err != nil {
			return nil, err
		}
		return hex.EncodeToString(buf.Bytes()), nil
	}

	tx, err := e.client.Transaction(ctx, args[0])
	if err != nil {
		return nil, err
	}
	return txResult{
		Transaction: tx,
		Memo:        string(tx.Memo()),
		Sent:        tx.Sent(e.chain.Currency),
	}, nil
}

func runBroadcast(ctx context.Context, e *env, args []string) (interface{}, error) {
	return e.client.Broadcast(ctx, args[0])
}

func runMeta(ctx context.Context, e *env, args []string) (interface{}, error) {
	return e.client.AssetMeta(ctx, optionalArg(args, 0))
}

// holder is one entry of the holders result.
type holder struct {
	Address string  `json:"address"`
	Amount  float64 `json:"amount"`
}

func runHolders(ctx context.Context, e *env, args []string) (interface{}, error) {
	holders, err := e.client.AddressesByAsset(ctx, optionalArg(args, 0),
		optionalArg(args, 1))
	if err != nil {
		return nil, err
	}

	result := make([]holder, 0, len(holders))
	for addr, amt := range holders {
		result = append(result, holder{Address: addr, Amount: amt.ToBTC()})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Amount != result[j].Amount {
			return result[i].Amount > result[j].Amount
		}
		return result[i].Address < result[j].Address
	})
	return result, nil
}

func runAuth(_ context.Context, e *env, args []string) (interface{}, error) {
	wif := args[0]
	if wif == promptArg {
		secret, err := readSecret("WIF: ")
		if err != nil {
			return nil, err
		}
		wif = string(secret)
		zero(secret)
	}

	net := sign.Network{Params: e.chain.Params, Magic: e.chain.MessageMagic}
	signer, err := sign.FromWIF(net, wif)
	if err != nil {
		return nil, err
	}
	return sign.AuthPayload(signer, optionalArg(args, 1))
}

// watch event kinds.
const (
	eventHeader     = "header"
	eventScripthash = "scripthash"
)

// watchEvent is printed for every notification received by watch.
type watchEvent struct {
	Event      string `json:"event"`
	Height     int32  `json:"height,omitempty"`
	Hash       string `json:"hash,omitempty"`
	Scripthash string `json:"scripthash,omitempty"`
	Status     string `json:"status,omitempty"`
}

// runWatch streams header and scripthash notifications until ctx is done.
// Headers are kept in the cache by height.
func runWatch(ctx context.Context, e *env, args []string) (interface{}, error) {
	scripthashes := make([]string, 0, len(args))
	for _, arg := range args {
		sh, err := e.resolve(arg)
		if err != nil {
			return nil, err
		}
		scripthashes = append(scripthashes, sh)
	}

	events := make(chan watchEvent, 64)
	emit := func(ev watchEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	if e.store != nil {
		heights, err := cachedHeaders(e.store)
		if err != nil {
			return nil, err
		}
		log.Infof("Cached headers: %s", heightString(heights))
	}

	retry := session.DefaultRetryPolicy
	mgr := subscription.New(e.sess, subscription.Config{
		Retry:        retry,
		AutoRecover:  true,
		InitialState: true,
		OnClosed: func(err error) {
			log.Warnf("Subscription connection to %v closed: %v",
				e.sess.Endpoint(), err)
		},
		OnRecovered: func(err error) {
			e.metrics.observeRecovery(err)
			if err != nil {
				log.Errorf("Unable to recover subscriptions: %v", err)
				return
			}
			log.Infof("Recovered subscriptions to %v", e.sess.Endpoint())
		},
	})
	defer mgr.Stop()

	headers := subscription.NewHeadersTopic(func(n *jsonrpc.Notification) {
		h, err := subscription.ParseHeader(n)
		if err != nil {
			log.Warnf("Dropping header notification: %v", err)
			return
		}
		e.storeHeader(h)
		ev := watchEvent{Event: eventHeader, Height: h.Height}
		if h.Hash != nil {
			ev.Hash = h.Hash.String()
		}
		emit(ev)
	})
	if err := mgr.Subscribe(headers); err != nil {
		return nil, err
	}

	for _, sh := range scripthashes {
		topic := subscription.NewScripthashTopic(sh, func(n *jsonrpc.Notification) {
			st, err := subscription.ParseScripthashStatus(n)
			if err != nil {
				log.Warnf("Dropping scripthash notification: %v", err)
				return
			}
			emit(watchEvent{Event: eventScripthash,
				Scripthash: st.Scripthash, Status: st.Status})
		})
		if err := mgr.Subscribe(topic); err != nil {
			return nil, err
		}
	}

	if e.cfg.KeepAlive > 0 {
		go e.sess.KeepAlive(ctx, e.cfg.KeepAlive, retry)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case ev := <-events:
			if err := printResult(e.out, ev, false); err != nil {
				return nil, err
			}
		}
	}
}

// storeHeader writes the raw header at its height when a cache is open.
func (e *env) storeHeader(h *subscription.Header) {
	if e.store == nil || h.Height < 0 {
		return
	}
	raw, err := hex.DecodeString(h.Hex)
	if err != nil {
		return
	}
	if err := e.store.Put(cache.HeaderKey(uint32(h.Height)), raw); err != nil {
		log.Warnf("Unable to cache header %d: %v", h.Height, err)
	}
}

// cachedHeaders returns the heights of the headers held in the cache.
func cachedHeaders(store cache.Store) ([]uint32, error) {
	var heights []uint32
	err := store.ForEach([]byte(cache.HeaderPrefix), func(k, _ []byte) bool {
		if height, err := cache.HeaderHeight(k); err == nil {
			heights = append(heights, height)
		}
		return true
	})
	return heights, err
}

// heightString formats a height for log messages.
func heightString(heights []uint32) string {
	if len(heights) == 0 {
		return "none"
	}
	return strconv.FormatUint(uint64(heights[0]), 10) + "-" +
		strconv.FormatUint(uint64(heights[len(heights)-1]), 10)
}
