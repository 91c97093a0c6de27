// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package electrumx

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btclog"
	"github.com/btcsuite/electrumx/cache"
	"github.com/btcsuite/electrumx/jsonrpc"
	"github.com/btcsuite/electrumx/session"
	"github.com/btcsuite/electrumx/transport"
	"github.com/decred/dcrd/lru"
)

const (
	// DefaultPageSize is the number of holders requested per page by
	// AddressesByAsset.
	DefaultPageSize = 1000

	// DefaultPageThrottle is the pause between holder pages.
	DefaultPageThrottle = time.Second

	// recentBroadcasts bounds the set of transactions already broadcast.
	recentBroadcasts = 256
)

// Session is the part of a session.Session the Client needs.
type Session interface {
	Endpoint() transport.Endpoint
	Ensure(ctx context.Context, policy session.RetryPolicy) error
	Call(method string, params ...interface{}) (*jsonrpc.Response, error)
}

// Ensure session.Session satisfies the Session interface.
var _ Session = (*session.Session)(nil)

// Config describes a Client.
type Config struct {
	// Chain selects the network.  Defaults to EvrmoreMainNet.
	Chain *Chain

	// Asset is the asset used by the asset queries when the caller passes
	// an empty name.  Defaults to DefaultAsset.
	Asset string

	// Retry bounds reconnection and the retry of requests that failed in
	// transport.  Defaults to session.DefaultRetryPolicy.
	Retry session.RetryPolicy

	// Cache, when set, keeps raw transactions.
	Cache cache.Store

	// PageSize and PageThrottle govern AddressesByAsset.
	PageSize     int
	PageThrottle time.Duration

	// TxThrottle is a pause before every verbose transaction request.
	TxThrottle time.Duration

	// Logger overrides the package logger.
	Logger btclog.Logger
}

// Client issues wallet requests over a session.
type Client struct {
	sess Session
	cfg  Config
	log  btclog.Logger

	broadcast lru.Cache
}

// New returns a Client using sess.
func New(sess Session, cfg Config) *Client {
	if cfg.Chain == nil {
		cfg.Chain = EvrmoreMainNet
	}
	if cfg.Asset == "" {
		cfg.Asset = DefaultAsset
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = session.DefaultRetryPolicy
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log
	}

	return &Client{
		sess:      sess,
		cfg:       cfg,
		log:       logger,
		broadcast: lru.NewCache(recentBroadcasts),
	}
}

// Chain returns the configured network.
func (c *Client) Chain() *Chain {
	return c.cfg.Chain
}

func (c *Client) asset(name string) string {
	if name == "" {
		return c.cfg.Asset
	}
	return name
}

// request issues method on the primary connection and decodes its result
// into result.  Transport failures are retried under the retry policy;
// server errors are not.
func (c *Client) request(ctx context.Context, result interface{},
	method string, params ...interface{}) error {

	once := session.RetryPolicy{Attempts: 1}

	var resp *jsonrpc.Response
	err := c.cfg.Retry.Do(ctx, func() error {
		if err := c.sess.Ensure(ctx, once); err != nil {
			return err
		}
		r, err := c.sess.Call(method, params...)
		if err != nil {
			c.log.Debugf("Request %s to %v failed: %v", method,
				c.sess.Endpoint(), err)
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		c.log.Errorf("Request %s to %v failed: %v", method,
			c.sess.Endpoint(), err)
		return err
	}

	if err := jsonrpc.InterpretInto(resp, result); err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			c.log.Warnf("Server %v rejected %s: %v", c.sess.Endpoint(),
				method, rpcErr)
		}
		return err
	}
	return nil
}

// Ping checks the server responds.
func (c *Client) Ping(ctx context.Context) error {
	var result interface{}
	return c.request(ctx, &result, jsonrpc.MethodServerPing)
}

// Banner returns the server banner.
func (c *Client) Banner(ctx context.Context) (string, error) {
	var banner string
	err := c.request(ctx, &banner, jsonrpc.MethodServerBanner)
	return banner, err
}

// Balance returns the native coin balance of scripthash.
func (c *Client) Balance(ctx context.Context, scripthash string) (Balance, error) {
	var bal Balance
	err := c.request(ctx, &bal, jsonrpc.MethodScripthashGetBalance, scripthash)
	return bal, err
}

// AssetBalance returns the balance of asset held by scripthash.
func (c *Client) AssetBalance(ctx context.Context, scripthash,
	asset string) (Balance, error) {

	asset = c.asset(asset)
	if c.cfg.Chain.AssetBalanceByName {
		var bal Balance
		err := c.request(ctx, &bal, jsonrpc.MethodScripthashGetAssetBalance,
			scripthash, asset)
		return bal, err
	}

	var all assetBalances
	err := c.request(ctx, &all, jsonrpc.MethodScripthashGetAssetBalance,
		scripthash)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		Confirmed:   all.Confirmed[asset],
		Unconfirmed: all.Unconfirmed[asset],
	}, nil
}

// History returns the confirmed and mempool transactions of scripthash.
func (c *Client) History(ctx context.Context, scripthash string) ([]HistoryItem, error) {
	var history []HistoryItem
	err := c.request(ctx, &history, jsonrpc.MethodScripthashGetHistory,
		scripthash)
	return history, err
}

// ListUnspent returns the unspent native coin outputs of scripthash.
func (c *Client) ListUnspent(ctx context.Context, scripthash string) ([]Unspent, error) {
	var utxos []Unspent
	err := c.request(ctx, &utxos, jsonrpc.MethodScripthashListUnspent,
		scripthash)
	return utxos, err
}

// ListAssets returns every unspent asset output of scripthash.  Only chains
// without AssetBalanceByName serve it.
func (c *Client) ListAssets(ctx context.Context, scripthash string) ([]Unspent, error) {
	var utxos []Unspent
	err := c.request(ctx, &utxos, jsonrpc.MethodScripthashListAssets,
		scripthash)
	return utxos, err
}

// AssetUnspent returns the unspent outputs of asset paying scripthash.
func (c *Client) AssetUnspent(ctx context.Context, scripthash,
	asset string) ([]Unspent, error) {

	asset = c.asset(asset)
	if c.cfg.Chain.AssetBalanceByName {
		var utxos []Unspent
		err := c.request(ctx, &utxos, jsonrpc.MethodScripthashListUnspent,
			scripthash, asset)
		return utxos, err
	}

	all, err := c.ListAssets(ctx, scripthash)
	if err != nil {
		return nil, err
	}
	utxos := all[:0]
	for _, u := range all {
		if u.Asset == asset {
			utxos = append(utxos, u)
		}
	}
	return utxos, nil
}

// Transaction returns the verbose form of the transaction txid.
func (c *Client) Transaction(ctx context.Context, txid string) (*Transaction, error) {
	if _, err := chainhash.NewHashFromStr(txid); err != nil {
		return nil, fmt.Errorf("invalid txid %q: %w", txid, err)
	}
	if err := pause(ctx, c.cfg.TxThrottle); err != nil {
		return nil, err
	}

	var tx Transaction
	if err := c.request(ctx, &tx, jsonrpc.MethodTransactionGet, txid, true); err != nil {
		return nil, err
	}
	return &tx, nil
}

// RawTransaction returns the transaction txid, from the cache when it holds
// it.
func (c *Client) RawTransaction(ctx context.Context, txid string) (*btcutil.Tx, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("invalid txid %q: %w", txid, err)
	}

	key := cache.TxKey(hash.String())
	if c.cfg.Cache != nil {
		raw, err := c.cfg.Cache.Get(key)
		switch {
		case err == nil:
			tx, err := btcutil.NewTxFromBytes(raw)
			if err == nil && tx.Hash().IsEqual(hash) {
				return tx, nil
			}
			c.log.Warnf("Discarding bad cache entry for %v", hash)
			if err := c.cfg.Cache.Delete(key); err != nil {
				c.log.Warnf("Unable to delete cache entry: %v", err)
			}
		case !errors.Is(err, cache.ErrNotFound):
			c.log.Warnf("Cache lookup of %v failed: %v", hash, err)
		}
	}

	var txHex string
	if err := c.request(ctx, &txHex, jsonrpc.MethodTransactionGet, txid); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, fmt.Errorf("server returned malformed transaction "+
			"hex for %v: %w", hash, err)
	}
	tx, err := btcutil.NewTxFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("server returned malformed transaction "+
			"%v: %w", hash, err)
	}
	if !tx.Hash().IsEqual(hash) {
		return nil, fmt.Errorf("server returned transaction %v for %v",
			tx.Hash(), hash)
	}

	if c.cfg.Cache != nil {
		if err := c.cfg.Cache.Put(key, raw); err != nil {
			c.log.Warnf("Unable to cache transaction %v: %v", hash, err)
		}
	}
	return tx, nil
}

// Broadcast submits the hex encoded transaction rawTx and returns its id.
// A transaction this client already broadcast successfully is not sent
// again.
func (c *Client) Broadcast(ctx context.Context, rawTx string) (string, error) {
	raw, err := hex.DecodeString(rawTx)
	if err != nil {
		return "", fmt.Errorf("malformed transaction hex: %w", err)
	}
	tx, err := btcutil.NewTxFromBytes(raw)
	if err != nil {
		return "", fmt.Errorf("malformed transaction: %w", err)
	}
	txid := tx.Hash().String()
	if c.broadcast.Contains(txid) {
		c.log.Debugf("Transaction %v already broadcast", txid)
		return txid, nil
	}

	var result string
	err = c.request(ctx, &result, jsonrpc.MethodTransactionBroadcast, rawTx)
	if err != nil {
		return "", err
	}
	if result != txid {
		c.log.Warnf("Server %v returned id %s broadcasting %v",
			c.sess.Endpoint(), result, txid)
	}
	c.broadcast.Add(txid)
	c.log.Infof("Broadcast transaction %v", txid)
	return txid, nil
}

// AssetMeta returns the metadata of asset.
func (c *Client) AssetMeta(ctx context.Context, asset string) (*AssetMeta, error) {
	var meta AssetMeta
	err := c.request(ctx, &meta, jsonrpc.MethodAssetGetMeta, c.asset(asset))
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// AddressesByAsset returns the holders of asset and their balances.  Pages
// of PageSize holders are requested PageThrottle apart until a page is short
// or adds nothing new.  When target is non-empty and appears on a page, only
// its entry is returned.
func (c *Client) AddressesByAsset(ctx context.Context, asset,
	target string) (map[string]btcutil.Amount, error) {

	asset = c.asset(asset)
	holders := make(map[string]btcutil.Amount)
	for offset := 0; ; offset += c.cfg.PageSize {
		if offset > 0 {
			if err := pause(ctx, c.cfg.PageThrottle); err != nil {
				return nil, err
			}
		}

		var page map[string]btcutil.Amount
		err := c.request(ctx, &page, jsonrpc.MethodAssetListAddressesByAsset,
			asset, false, c.cfg.PageSize, offset)
		if err != nil {
			return nil, err
		}
		if target != "" {
			if amt, ok := page[target]; ok {
				return map[string]btcutil.Amount{target: amt}, nil
			}
		}

		added := 0
		for addr, amt := range page {
			if _, ok := holders[addr]; !ok {
				added++
			}
			holders[addr] = amt
		}
		c.log.Debugf("Holders of %s: page at %d has %d entries, %d new",
			asset, offset, len(page), added)
		if len(page) < c.cfg.PageSize || added == 0 {
			return holders, nil
		}
	}
}

// pause waits for d or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
