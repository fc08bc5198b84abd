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

package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/riccardogiuriola/vecs/internal/cache"
	"github.com/riccardogiuriola/vecs/internal/config"
	"github.com/riccardogiuriola/vecs/internal/connection"
	"github.com/riccardogiuriola/vecs/internal/embedder"
	"github.com/riccardogiuriola/vecs/internal/vectorindex"
	"github.com/riccardogiuriola/vecs/internal/workerpool"
)

// newTestReactor wires a Reactor without going through New, so tests
// never touch a real listener or poller fd. r.poller is intentionally
// left nil: every reply in these tests is small enough that armWrite's
// synchronous flush always drains the write buffer in one non-blocking
// write, so the poller is never consulted.
func newTestReactor(t *testing.T) *Reactor {
	t.Helper()
	emb := embedder.NewHashEmbedder(8, 2, "")
	pool, err := workerpool.New(emb, 2, 16)
	require.NoError(t, err)
	t.Cleanup(pool.Shutdown)

	return &Reactor{
		cfg: &config.Config{
			TTLDefault:        60,
			L2Threshold:       0.1,
			L2DedupeThreshold: 0.999,
		},
		l1:   cache.NewL1(),
		l2:   vectorindex.New(emb.Dim(), 100),
		emb:  emb,
		pool: pool,
	}
}

// newTestConn registers a Conn backed by a socketpair and returns it
// along with the peer fd, so tests can read back whatever the reactor
// writes to the "client".
func newTestConn(t *testing.T, r *Reactor, id uint64) (*connection.Conn, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() { unix.Close(fds[1]) })

	c := connection.New(fds[0], id)
	r.conns[fds[0]] = c
	r.writeArmed[fds[0]] = false
	t.Cleanup(func() {
		if !c.Closed() {
			c.Destroy()
		}
	})
	return c, fds[1]
}

// readPeer polls peerFD until it has data (or the deadline elapses) and
// returns what was read.
func readPeer(t *testing.T, peerFD int) string {
	t.Helper()
	out := make([]byte, 4096)
	var got string
	require.Eventually(t, func() bool {
		n, err := unix.Read(peerFD, out)
		if err != nil {
			return false
		}
		if n > 0 {
			got += string(out[:n])
		}
		return len(got) > 0
	}, time.Second, time.Millisecond)
	return got
}

func Test_CmdSetAnswersOKAfterWorkerCompletion(t *testing.T) {
	r := newTestReactor(t)
	c, peer := newTestConn(t, r, 1)

	r.executeCommand(c, [][]byte{[]byte("SET"), []byte("hello"), []byte("opts1"), []byte("world")})
	assert.Equal(t, 1, r.l1.Len(), "L1 is updated synchronously, before the worker answers")

	require.Eventually(t, func() bool {
		r.drainCompletions()
		return true
	}, time.Second, time.Millisecond)

	assert.Equal(t, "+OK\r\n", readPeer(t, peer))
}

func Test_CmdQueryHitsL1Synchronously(t *testing.T) {
	r := newTestReactor(t)
	c, peer := newTestConn(t, r, 1)

	r.l1.Set("hello|opts1", "world", time.Minute)
	r.executeCommand(c, [][]byte{[]byte("QUERY"), []byte("hello"), []byte("opts1")})

	assert.Equal(t, "$5\r\nworld\r\n", readPeer(t, peer))
}

func Test_CmdQueryMissesBothTiers(t *testing.T) {
	r := newTestReactor(t)
	c, peer := newTestConn(t, r, 1)

	r.executeCommand(c, [][]byte{[]byte("QUERY"), []byte("nothing here"), []byte("opts1")})

	require.Eventually(t, func() bool {
		r.drainCompletions()
		return true
	}, time.Second, time.Millisecond)

	assert.Equal(t, "$-1\r\n", readPeer(t, peer))
}

func Test_CmdDeleteRemovesL1Entry(t *testing.T) {
	r := newTestReactor(t)
	c, peer := newTestConn(t, r, 1)

	r.l1.Set("hello|opts1", "world", time.Minute)
	r.executeCommand(c, [][]byte{[]byte("DELETE"), []byte("hello"), []byte("opts1")})

	_, hit := r.l1.Get("hello|opts1")
	assert.False(t, hit)

	require.Eventually(t, func() bool {
		r.drainCompletions()
		return true
	}, time.Second, time.Millisecond)

	assert.Equal(t, "+OK\r\n", readPeer(t, peer))
}

func Test_CmdFlushClearsBothTiers(t *testing.T) {
	r := newTestReactor(t)
	c, peer := newTestConn(t, r, 1)

	r.l1.Set("k", "v", time.Minute)
	require.NoError(t, r.l2.Insert([]float32{1, 0, 0, 0, 0, 0, 0, 0}, "k", "v", time.Minute))
	r.executeCommand(c, [][]byte{[]byte("FLUSH")})

	assert.Equal(t, 0, r.l1.Len())
	assert.Equal(t, 0, r.l2.Len())
	assert.Equal(t, "+OK\r\n", readPeer(t, peer))
}

func Test_UnknownCommandEchoesName(t *testing.T) {
	r := newTestReactor(t)
	c, peer := newTestConn(t, r, 1)

	r.executeCommand(c, [][]byte{[]byte("NOPE")})
	assert.Equal(t, "-ERR unknown command 'NOPE'\r\n", readPeer(t, peer))
}

func Test_WrongArgsReplyNamesCommand(t *testing.T) {
	r := newTestReactor(t)
	c, peer := newTestConn(t, r, 1)

	r.executeCommand(c, [][]byte{[]byte("SET"), []byte("only one arg")})
	assert.Equal(t, "-ERR wrong number of arguments for 'SET'\r\n", readPeer(t, peer))
}

func Test_CompletionIgnoredWhenConnIDHasChanged(t *testing.T) {
	r := newTestReactor(t)
	c, peer := newTestConn(t, r, 1)

	r.executeCommand(c, [][]byte{[]byte("QUERY"), []byte("ghost"), []byte("opts1")})

	// Simulate the fd being reused by a newer connection before the
	// worker's completion arrives.
	r.conns[c.FD] = connection.New(c.FD, 99)

	require.Eventually(t, func() bool {
		job := r.pool.ReadCompleted()
		if job == nil {
			return false
		}
		r.completeJob(job)
		return true
	}, time.Second, time.Millisecond)

	buf := make([]byte, 16)
	_, err := unix.Read(peer, buf)
	assert.Equal(t, unix.EAGAIN, err, "stale completion must not write a reply")
}
