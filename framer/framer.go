// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package framer

import (
	"bytes"
	"errors"
)

const (
	// Delim is the byte which terminates every message on the wire.
	Delim = byte('\n')

	// DefaultMaxLineSize is the largest line a Framer buffers before it
	// reports ErrLineTooLong.  Verbose transactions for large wallets can
	// run to several megabytes, so this is kept generous.
	DefaultMaxLineSize = 16 * 1024 * 1024
)

// ErrLineTooLong is returned by Feed when the buffered bytes exceed the
// configured maximum without a delimiter being seen.
var ErrLineTooLong = errors.New("framer: line exceeds maximum size")

// ExtractMessage appends newBytes to buf and splits the result on the first
// delimiter.  When a delimiter is present, msg holds the bytes before it with
// any trailing '\r' removed, rest holds everything after it (which may itself
// contain further complete messages) and ok is true.  Otherwise msg is nil,
// rest is the grown buffer and ok is false.
//
// The returned msg never aliases rest, so callers may retain it across
// subsequent calls.
func ExtractMessage(buf, newBytes []byte) (msg []byte, rest []byte, ok bool) {
	buf = append(buf, newBytes...)
	i := bytes.IndexByte(buf, Delim)
	if i < 0 {
		return nil, buf, false
	}

	line := buf[:i]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	msg = make([]byte, len(line))
	copy(msg, line)

	return msg, buf[i+1:], true
}

// Framer accumulates raw byte chunks and yields one complete line at a time.
// The zero value is ready to use.  A Framer is not safe for concurrent use;
// the connection that owns it serializes access.
type Framer struct {
	// MaxLineSize bounds the number of bytes buffered while waiting for a
	// delimiter.  Zero means DefaultMaxLineSize.
	MaxLineSize int

	buf []byte
}

// New returns a Framer which buffers at most maxLineSize bytes of an
// incomplete line.  A non-positive size selects DefaultMaxLineSize.
func New(maxLineSize int) *Framer {
	return &Framer{MaxLineSize: maxLineSize}
}

func (f *Framer) maxLineSize() int {
	if f.MaxLineSize <= 0 {
		return DefaultMaxLineSize
	}
	return f.MaxLineSize
}

// Feed appends p to the internal buffer.  It returns ErrLineTooLong and
// discards the buffered bytes when the buffer holds no complete line and has
// grown past the maximum line size.
func (f *Framer) Feed(p []byte) error {
	f.buf = append(f.buf, p...)
	if len(f.buf) > f.maxLineSize() && bytes.IndexByte(f.buf, Delim) < 0 {
		f.Reset()
		return ErrLineTooLong
	}
	return nil
}

// Next removes and returns the oldest complete line held in the buffer.  It
// returns false when no delimiter has been seen yet.
func (f *Framer) Next() ([]byte, bool) {
	msg, rest, ok := ExtractMessage(f.buf, nil)
	if !ok {
		return nil, false
	}
	f.compact(rest)
	return msg, true
}

// Extract is a convenience which feeds p and then returns the next complete
// line, if any.
func (f *Framer) Extract(p []byte) ([]byte, bool, error) {
	if err := f.Feed(p); err != nil {
		return nil, false, err
	}
	msg, ok := f.Next()
	return msg, ok, nil
}

// Buffered returns the number of bytes waiting for a delimiter or for a call
// to Next.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Reset drops any buffered bytes.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}

// compact moves the unread remainder to the front of the buffer so the
// backing array does not grow without bound over the life of a connection.
func (f *Framer) compact(rest []byte) {
	n := copy(f.buf, rest)
	f.buf = f.buf[:n]
}
