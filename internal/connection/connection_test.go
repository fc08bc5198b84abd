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

package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	return fds[0], fds[1]
}

func Test_NewConnStartsInReadingState(t *testing.T) {
	a, b := socketpair(t)
	defer unix.Close(b)
	c := New(a, 7)
	defer c.Destroy()

	assert.Equal(t, Reading, c.State)
	assert.EqualValues(t, 7, c.ID)
	assert.False(t, c.Closed())
}

func Test_QueueWriteAndFlushDrainsToPeer(t *testing.T) {
	a, b := socketpair(t)
	defer unix.Close(b)
	c := New(a, 1)
	defer c.Destroy()

	c.QueueWrite([]byte("+OK\r\n"))
	remaining, err := c.FlushWrite()
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	out := make([]byte, 16)
	n, err := unix.Read(b, out)
	require.NoError(t, err)
	assert.Equal(t, "+OK\r\n", string(out[:n]))
}

func Test_DestroyIsIdempotent(t *testing.T) {
	a, b := socketpair(t)
	defer unix.Close(b)
	c := New(a, 2)

	c.Destroy()
	assert.True(t, c.Closed())
	assert.Nil(t, c.ReadBuf)

	assert.NotPanics(t, func() { c.Destroy() })
}

func Test_FlushWriteStopsOnEAGAINWithoutError(t *testing.T) {
	a, b := socketpair(t)
	defer unix.Close(b)
	c := New(a, 3)
	defer c.Destroy()

	// Fill the peer's receive + our send buffers so writes start
	// returning EAGAIN, then ensure FlushWrite reports this as "more
	// remaining", not as an error.
	big := make([]byte, 1<<20)
	for i := 0; i < 64; i++ {
		c.QueueWrite(big)
	}
	remaining, err := c.FlushWrite()
	require.NoError(t, err)
	assert.Greater(t, remaining, 0)
	_ = b
}
