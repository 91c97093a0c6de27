// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/electrumx/jsonrpc"
	"github.com/btcsuite/electrumx/transport"
	"github.com/stretchr/testify/require"
)

func TestCallResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, resultOK},
		{jsonrpc.NewRPCError(jsonrpc.ErrCodeMethodNotFound, "nope"), resultServerError},
		{fmt.Errorf("call: %w", transport.ErrTimeout), resultTimeout},
		{transport.ErrClosed, resultClosed},
		{errors.New("boom"), resultError},
	}
	for _, test := range tests {
		require.Equal(t, test.want, callResult(test.err), "%v", test.err)
	}
}

func TestMetricsHandler(t *testing.T) {
	t.Parallel()

	m := newMetrics()
	m.ObserveCall("tcp://electrum.test:50001", jsonrpc.MethodServerPing,
		5*time.Millisecond, nil)
	m.ObserveCall("tcp://electrum.test:50001", jsonrpc.MethodServerPing,
		time.Second, transport.ErrTimeout)
	m.observeRecovery(nil)
	m.observeRecovery(errors.New("refused"))

	srv := httptest.NewServer(m.server("").Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + metricsEndpoint)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Contains(t, string(body),
		`electrumx_rpc_calls_total{endpoint="tcp://electrum.test:50001",method="server.ping",result="ok"} 1`)
	require.Contains(t, string(body),
		`electrumx_rpc_calls_total{endpoint="tcp://electrum.test:50001",method="server.ping",result="timeout"} 1`)
	require.Contains(t, string(body),
		`electrumx_rpc_call_duration_seconds_count{method="server.ping"} 2`)
	require.Contains(t, string(body), `electrumx_subscription_recoveries_total{result="error"} 1`)

	// A nil collection ignores observations.
	var none *metrics
	none.ObserveCall("", "", 0, nil)
	none.observeRecovery(nil)
}
