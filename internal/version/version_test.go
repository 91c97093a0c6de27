// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilter(t *testing.T) {
	require.Equal(t, "rc-1", filter("rc.-1!", false))
	require.Equal(t, "abc.123", filter("abc.1 23", true))
	require.Equal(t, "", filter("+++", true))
}

func TestClientName(t *testing.T) {
	v := String()
	require.Equal(t, AppName+" "+v, ClientName(""))
	require.Equal(t, AppName+" "+v+" EXyz", ClientName("  EXyz "))
}
