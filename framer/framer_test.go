// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package framer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const twoMessages = "{\"a\":1}\n{\"b\":2}\n"

// drain feeds every chunk into a fresh Framer and collects all lines in the
// order they become available.
func drain(t *testing.T, chunks ...string) []string {
	t.Helper()

	var (
		f   Framer
		got []string
	)
	for _, chunk := range chunks {
		require.NoError(t, f.Feed([]byte(chunk)))
		for {
			line, ok := f.Next()
			if !ok {
				break
			}
			got = append(got, string(line))
		}
	}
	return got
}

// TestSplitAnywhere ensures the two messages are yielded exactly once and in
// order no matter where the stream is cut.
func TestSplitAnywhere(t *testing.T) {
	t.Parallel()

	want := []string{`{"a":1}`, `{"b":2}`}
	for i := 0; i <= len(twoMessages); i++ {
		got := drain(t, twoMessages[:i], twoMessages[i:])
		require.Equal(t, want, got, "split at %d", i)
	}

	// Three chunks cover cuts on both sides of the first delimiter.
	for i := 0; i <= len(twoMessages); i++ {
		for j := i; j <= len(twoMessages); j++ {
			got := drain(t, twoMessages[:i], twoMessages[i:j],
				twoMessages[j:])
			require.Equal(t, want, got, "split at %d,%d", i, j)
		}
	}
}

// TestByteAtATime feeds the stream one byte per read.
func TestByteAtATime(t *testing.T) {
	t.Parallel()

	chunks := strings.Split(twoMessages, "")
	require.Equal(t, []string{`{"a":1}`, `{"b":2}`}, drain(t, chunks...))
}

func TestExtractMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		buf      string
		newBytes string
		msg      string
		rest     string
		ok       bool
	}{{
		name:     "no delimiter",
		buf:      `{"a"`,
		newBytes: `:1`,
		rest:     `{"a":1`,
	}, {
		name:     "completes buffered message",
		buf:      `{"a"`,
		newBytes: ":1}\n",
		msg:      `{"a":1}`,
		ok:       true,
	}, {
		name:     "keeps second message",
		newBytes: twoMessages,
		msg:      `{"a":1}`,
		rest:     "{\"b\":2}\n",
		ok:       true,
	}, {
		name:     "trims carriage return",
		newBytes: "{}\r\n",
		msg:      `{}`,
		ok:       true,
	}, {
		name:     "empty line",
		newBytes: "\n{}",
		msg:      "",
		rest:     `{}`,
		ok:       true,
	}}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			msg, rest, ok := ExtractMessage([]byte(test.buf),
				[]byte(test.newBytes))
			require.Equal(t, test.ok, ok)
			require.Equal(t, test.rest, string(rest))
			if test.ok {
				require.Equal(t, test.msg, string(msg))
			} else {
				require.Nil(t, msg)
			}
		})
	}
}

// TestMessageDoesNotAlias ensures a returned line survives later feeds that
// reuse the buffer.
func TestMessageDoesNotAlias(t *testing.T) {
	t.Parallel()

	var f Framer
	line, ok, err := f.Extract([]byte("first\nsecond"))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.Feed([]byte("XXXXXXXXXXXX\n")))
	require.Equal(t, "first", string(line))

	next, ok := f.Next()
	require.True(t, ok)
	require.Equal(t, "secondXXXXXXXXXXXX", string(next))
	require.Zero(t, f.Buffered())
}

func TestLineTooLong(t *testing.T) {
	t.Parallel()

	f := New(8)
	require.NoError(t, f.Feed([]byte("1234")))
	require.ErrorIs(t, f.Feed([]byte("56789")), ErrLineTooLong)
	require.Zero(t, f.Buffered())

	// A long chunk that does contain a delimiter is accepted.
	require.NoError(t, f.Feed([]byte("0123456789\n")))
	line, ok := f.Next()
	require.True(t, ok)
	require.Equal(t, "0123456789", string(line))
}
