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

// Package connection holds per-client state: fd, read/write DynBuf,
// protocol parser state, lifecycle state, and a stable id. Connections
// are owned exclusively by the reactor goroutine.
package connection

import (
	"golang.org/x/sys/unix"

	"github.com/riccardogiuriola/vecs/internal/buf"
	"github.com/riccardogiuriola/vecs/internal/protocol"
)

// State is a connection's lifecycle state.
type State int

const (
	Reading State = iota
	Closing
)

// closedFD is the sentinel stored once a connection has been destroyed.
const closedFD = -1

// Conn is a single client connection.
type Conn struct {
	FD int

	// ID is a monotonically assigned, never-reused stable identifier
	// that disambiguates completions that arrive after fd reuse.
	ID uint64

	ReadBuf  *buf.DynBuf
	WriteBuf *buf.DynBuf
	Parser   *protocol.Parser

	State State
}

// New allocates a Conn for a freshly accepted fd with the given stable
// id, in the Reading state.
func New(fd int, id uint64) *Conn {
	return &Conn{
		FD:       fd,
		ID:       id,
		ReadBuf:  buf.New(),
		WriteBuf: buf.New(),
		Parser:   protocol.New(),
		State:    Reading,
	}
}

// QueueWrite appends data to the connection's write buffer.
func (c *Conn) QueueWrite(data []byte) {
	c.WriteBuf.AppendBytes(data)
}

// FlushWrite attempts to drain as much of the write buffer as the fd
// will currently accept, looping a non-blocking write until either the
// buffer empties or the fd reports EAGAIN. It returns the remaining
// unsent byte count and any fatal I/O error.
func (c *Conn) FlushWrite() (int, error) {
	for c.WriteBuf.Len() > 0 {
		n, err := buf.WriteToFD(c.FD, c.WriteBuf.Bytes())
		if err != nil {
			return c.WriteBuf.Len(), err
		}
		if n == 0 {
			break // EAGAIN: peer's receive buffer is full, resume on next writable event.
		}
		c.WriteBuf.Consume(n)
	}
	return c.WriteBuf.Len(), nil
}

// Destroy is a controlled single-shot teardown: closes the fd (if not
// already closed), releases both buffers, and marks the connection
// closed. Double-destroy is a no-op, detected by the -1 sentinel.
func (c *Conn) Destroy() {
	if c.FD == closedFD {
		return
	}
	_ = unix.Close(c.FD)
	c.FD = closedFD
	c.ReadBuf.Release()
	c.WriteBuf.Release()
	c.ReadBuf = nil
	c.WriteBuf = nil
	c.Parser = nil
}

// Closed reports whether Destroy has already run.
func (c *Conn) Closed() bool {
	return c.FD == closedFD
}
