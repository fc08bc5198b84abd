// Copyright (c) 2024 The vecs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package buf implements a growable, head-consuming byte buffer for
// reading and writing directly against a non-blocking file descriptor.
package buf

import (
	"errors"
	"io"

	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"
)

// ErrLFNotFound is returned by Line when the buffered bytes contain no
// terminating '\n' yet; the caller should treat this as "need more data".
var ErrLFNotFound = errors.New("buf: no line feed found")

const minGrow = 4096

// DynBuf is a per-connection owned buffer: bytes are appended at the
// tail and consumed from the head. Consume only advances a read cursor
// (resetting it once everything is consumed); the next append that
// lacks tail headroom memmoves the unread remainder down to index 0
// before growing, so the backing array does not grow unbounded on a
// long-lived connection.
type DynBuf struct {
	item *bytebufferpool.ByteBuffer
	buf  []byte
	r    int
}

var pool bytebufferpool.Pool

// New returns an empty DynBuf backed by a pooled byte slice.
func New() *DynBuf {
	item := pool.Get()
	return &DynBuf{item: item, buf: item.B[:0]}
}

// Release returns the backing byte slice to the pool. The DynBuf must
// not be used afterward.
func (b *DynBuf) Release() {
	if b.item == nil {
		return
	}
	b.item.B = b.buf[:0]
	pool.Put(b.item)
	b.item = nil
	b.buf = nil
	b.r = 0
}

// Len returns the number of unread bytes.
func (b *DynBuf) Len() int {
	return len(b.buf) - b.r
}

// Bytes returns the unread bytes without consuming them.
func (b *DynBuf) Bytes() []byte {
	return b.buf[b.r:]
}

// AppendBytes appends p to the tail of the buffer, growing as needed.
func (b *DynBuf) AppendBytes(p []byte) {
	b.reserve(len(p))
	b.buf = append(b.buf, p...)
}

// AppendString appends s to the tail of the buffer, growing as needed.
func (b *DynBuf) AppendString(s string) {
	b.reserve(len(s))
	b.buf = append(b.buf, s...)
}

// reserve compacts the buffer (discarding already-consumed bytes) and,
// if that is not enough headroom, grows the backing array by doubling.
func (b *DynBuf) reserve(extra int) {
	if b.r > 0 && (cap(b.buf)-len(b.buf) < extra || b.r == len(b.buf)) {
		n := copy(b.buf[:cap(b.buf)], b.buf[b.r:])
		b.buf = b.buf[:n]
		b.r = 0
	}
	if cap(b.buf)-len(b.buf) >= extra {
		return
	}
	need := len(b.buf) + extra
	newCap := cap(b.buf)
	if newCap == 0 {
		newCap = minGrow
	}
	for newCap < need {
		newCap *= 2
	}
	nb := make([]byte, len(b.buf), newCap)
	copy(nb, b.buf)
	b.buf = nb
}

// Peek returns the next n unread bytes without consuming them. It
// returns false if fewer than n bytes are buffered.
func (b *DynBuf) Peek(n int) ([]byte, bool) {
	if b.Len() < n {
		return nil, false
	}
	return b.buf[b.r : b.r+n], true
}

// Consume advances the read cursor past n bytes.
func (b *DynBuf) Consume(n int) {
	b.r += n
	if b.r > len(b.buf) {
		b.r = len(b.buf)
	}
	if b.r == len(b.buf) {
		b.buf = b.buf[:0]
		b.r = 0
	}
}

// Line returns the next CRLF-terminated line (without the CRLF),
// consuming it, or ErrLFNotFound if no full line is buffered yet.
func (b *DynBuf) Line() ([]byte, error) {
	data := b.Bytes()
	idx := indexByte(data, '\n')
	if idx == -1 {
		return nil, ErrLFNotFound
	}
	end := idx
	if end > 0 && data[end-1] == '\r' {
		end--
	}
	line := data[:end]
	b.Consume(idx + 1)
	return line, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// ReadFromFD performs one non-blocking read(2) from fd, appending
// whatever was read to the buffer's tail. It reports EAGAIN/EWOULDBLOCK/
// EINTR as (0, nil) so callers treat it as "no data available right
// now, resume on the next readiness event" rather than an error; a
// true orderly shutdown by the peer is reported as (0, io.EOF), the
// idiomatic Go signal a plain successful-but-empty read cannot convey
// on its own.
func (b *DynBuf) ReadFromFD(fd int) (int, error) {
	scratch := make([]byte, minGrow)
	n, err := unix.Read(fd, scratch)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	b.AppendBytes(scratch[:n])
	return n, nil
}

// WriteToFD writes as much of data as the fd will currently accept in
// one non-blocking write(2) call. It returns the number of bytes
// actually written; EAGAIN is reported as (0, nil).
func WriteToFD(fd int, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	n, err := unix.Write(fd, data)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}
