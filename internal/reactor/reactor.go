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

// Package reactor is the single-threaded event loop that binds every
// other subsystem together: it owns the Poller, the listener, every
// live Connection, both cache tiers, and the worker pool handle, and
// it is the only goroutine that ever touches them. See spec.md §4.I
// and §5.
package reactor

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/riccardogiuriola/vecs/internal/cache"
	"github.com/riccardogiuriola/vecs/internal/config"
	"github.com/riccardogiuriola/vecs/internal/connection"
	"github.com/riccardogiuriola/vecs/internal/embedder"
	"github.com/riccardogiuriola/vecs/internal/logging"
	"github.com/riccardogiuriola/vecs/internal/netpoll"
	"github.com/riccardogiuriola/vecs/internal/protocol"
	"github.com/riccardogiuriola/vecs/internal/snapshot"
	"github.com/riccardogiuriola/vecs/internal/stats"
	"github.com/riccardogiuriola/vecs/internal/vectorindex"
	"github.com/riccardogiuriola/vecs/internal/workerpool"
)

// MaxFD bounds the reactor's direct fd-indexed connection table, per
// spec.md §4.I. A listening socket refuses (rather than accepts) any
// client fd at or above this.
const MaxFD = 65536

// pollTimeoutMs is the Poller wakeup granularity; spec.md §4.I requires
// a roughly 1-second timer for the snapshot check, and this is the only
// timer the reactor has (no per-command timeout exists).
const pollTimeoutMs = 1000

const acceptBacklog = 1024

// Reactor owns every piece of mutable state described in spec.md §4.I.
type Reactor struct {
	cfg *config.Config
	st  *stats.Stats

	poller   netpoll.Poller
	listenFD int

	conns      [MaxFD]*connection.Conn
	writeArmed [MaxFD]bool
	nextConnID uint64

	l1   *cache.L1
	l2   *vectorindex.Index
	emb  embedder.Embedder
	pool *workerpool.Pool

	lastSnapshot time.Time
	shutdown     bool
}

// New wires together the listener, poller, both cache tiers, and the
// worker pool for the given configuration and embedder, and attempts
// to restore cfg.SnapshotPath if it exists.
func New(cfg *config.Config, emb embedder.Embedder, st *stats.Stats) (*Reactor, error) {
	poller, err := netpoll.OpenPoller()
	if err != nil {
		return nil, errors.Wrap(err, "reactor: open poller")
	}

	listenFD, err := listenTCP(cfg.Port)
	if err != nil {
		_ = poller.Close()
		return nil, errors.Wrapf(err, "reactor: listen on port %d", cfg.Port)
	}

	pool, err := workerpool.New(emb, cfg.NumWorkers, cfg.WorkerQueueCap)
	if err != nil {
		_ = unix.Close(listenFD)
		_ = poller.Close()
		return nil, errors.Wrap(err, "reactor: start worker pool")
	}

	r := &Reactor{
		cfg:          cfg,
		st:           st,
		poller:       poller,
		listenFD:     listenFD,
		l1:           cache.NewL1(),
		l2:           vectorindex.New(emb.Dim(), cfg.L2Capacity),
		emb:          emb,
		pool:         pool,
		lastSnapshot: time.Now(),
	}
	r.l1.SetStats(st)
	r.l2.SetStats(st)

	if err := snapshot.Load(cfg.SnapshotPath, r.l1, r.l2); err != nil {
		logging.Warnf("reactor: snapshot restore failed: %s", err)
	}

	return r, nil
}

// listenTCP opens a non-blocking IPv4 TCP listener on port (all
// interfaces; no IPv6 socket is opened),
// with SO_REUSEADDR set so a restart does not wait out TIME_WAIT — the
// same socket posture core/listener.go configures for its proxy
// listener, applied directly since this module's pack carries no
// separate socket-option helper package to delegate to.
func listenTCP(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, os.NewSyscallError("setsockopt SO_REUSEADDR", err)
	}
	sa := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, acceptBacklog); err != nil {
		_ = unix.Close(fd)
		return -1, os.NewSyscallError("listen", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, os.NewSyscallError("set nonblock", err)
	}
	return fd, nil
}

// Run registers the listener and the worker pool's completion pipe
// with the poller and blocks in the event loop until Shutdown is
// called or an unrecoverable poller error occurs.
func (r *Reactor) Run() error {
	if err := r.poller.AddRead(r.listenFD); err != nil {
		return errors.Wrap(err, "reactor: register listener")
	}
	if err := r.poller.AddRead(r.pool.NotifyFD()); err != nil {
		return errors.Wrap(err, "reactor: register completion pipe")
	}

	logging.Infof("reactor: listening on port %d", r.cfg.Port)
	return r.poller.Polling(r.handleEvent, pollTimeoutMs, r.tick)
}

// handleEvent is the Poller callback; it discriminates the three kinds
// of fd the reactor ever registers (listener, completion pipe, client
// connection) purely by fd identity, matching spec.md §4.I's tag
// classification.
func (r *Reactor) handleEvent(fd int, ev netpoll.Event) error {
	switch fd {
	case r.listenFD:
		r.acceptLoop()
		return nil
	case r.pool.NotifyFD():
		r.drainCompletions()
		return nil
	default:
		return r.handleClientEvent(fd, ev)
	}
}

// tick runs after every Polling wakeup, including bare timeouts with no
// ready fds; it is the reactor's only timer and drives the periodic
// snapshot per spec.md §4.I.
func (r *Reactor) tick() {
	if r.cfg.SaveIntervalSecs <= 0 {
		return
	}
	if time.Since(r.lastSnapshot) < time.Duration(r.cfg.SaveIntervalSecs)*time.Second {
		return
	}
	r.runSnapshot()
}

func (r *Reactor) runSnapshot() {
	start := time.Now()
	if err := snapshot.Save(r.cfg.SnapshotPath, r.l1, r.l2); err != nil {
		logging.Warnf("reactor: periodic snapshot failed: %s", err)
	} else {
		logging.Infof("reactor: snapshot written to %s (%d L1, %d L2 entries) in %s",
			r.cfg.SnapshotPath, r.l1.Len(), r.l2.Len(), time.Since(start))
	}
	if r.st != nil {
		r.st.SnapshotDuration.Observe(time.Since(start).Seconds())
		r.st.SnapshotEntries.WithLabelValues("l1").Set(float64(r.l1.Len()))
		r.st.SnapshotEntries.WithLabelValues("l2").Set(float64(r.l2.Len()))
	}
	r.lastSnapshot = time.Now()
}

// acceptLoop drains the listener's backlog until EWOULDBLOCK, per
// spec.md §4.I's edge-triggered accept contract.
func (r *Reactor) acceptLoop() {
	for {
		nfd, _, err := unix.Accept(r.listenFD)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			logging.Warnf("reactor: accept failed: %s", err)
			return
		}

		if nfd >= MaxFD {
			logging.Warnf("reactor: refusing fd %d >= MaxFD(%d)", nfd, MaxFD)
			_ = unix.Close(nfd)
			continue
		}
		if err := unix.SetNonblock(nfd, true); err != nil {
			logging.Warnf("reactor: set nonblock on fd %d failed: %s", nfd, err)
			_ = unix.Close(nfd)
			continue
		}

		r.nextConnID++
		c := connection.New(nfd, r.nextConnID)
		r.conns[nfd] = c
		r.writeArmed[nfd] = false

		if err := r.poller.AddRead(nfd); err != nil {
			logging.Warnf("reactor: register fd %d failed: %s", nfd, err)
			c.Destroy()
			r.conns[nfd] = nil
			continue
		}

		if r.st != nil {
			r.st.TotalConnections.Inc()
			r.st.CurrentConnections.Inc()
		}
	}
}

// handleClientEvent drains the writable side first (per spec.md §4.I,
// "first drain writable side if signaled, then readable side"), then
// the readable side, tearing the connection down on error or EOF.
func (r *Reactor) handleClientEvent(fd int, ev netpoll.Event) error {
	c := r.conns[fd]
	if c == nil {
		return nil
	}

	if ev&netpoll.EventError != 0 {
		r.destroyConn(c)
		return nil
	}

	if ev&netpoll.EventWritable != 0 {
		if !r.flushWritable(c) {
			return nil
		}
	}

	if ev&netpoll.EventReadable != 0 {
		r.drainReadable(c)
	}

	return nil
}

// flushWritable drains as much of c's write buffer as the fd accepts.
// It reports false if the connection was torn down in the process (so
// the caller must not touch c again).
func (r *Reactor) flushWritable(c *connection.Conn) bool {
	remaining, err := c.FlushWrite()
	if err != nil {
		r.destroyConn(c)
		return false
	}
	if remaining == 0 {
		if c.State == connection.Closing {
			r.destroyConn(c)
			return false
		}
		if r.writeArmed[c.FD] {
			if err := r.poller.ModRead(c.FD); err != nil {
				logging.Warnf("reactor: disarm write on fd %d failed: %s", c.FD, err)
			}
			r.writeArmed[c.FD] = false
		}
	}
	return true
}

// drainReadable reads until EWOULDBLOCK, running the parser and
// dispatching every complete command it yields, per spec.md §4.I.
func (r *Reactor) drainReadable(c *connection.Conn) {
	for {
		if c.State == connection.Closing {
			return // protocol error already queued; stop parsing more input.
		}

		n, err := c.ReadBuf.ReadFromFD(c.FD)
		if err != nil {
			// EOF or a fatal I/O error: tear the connection down
			// either way, per spec.md §7.
			r.destroyConn(c)
			return
		}
		if n == 0 {
			break // EWOULDBLOCK: no more data this wakeup.
		}

		if !r.runParser(c) {
			return // connection was torn down mid-parse.
		}
	}
}

// runParser consumes as many complete commands as c's read buffer
// holds, dispatching each to the command interpreter. It returns false
// if the connection was destroyed while doing so (protocol error after
// flush, or a command closed the connection).
func (r *Reactor) runParser(c *connection.Conn) bool {
	for {
		if c.State == connection.Closing {
			return true
		}

		argv, err := c.Parser.Execute(c.ReadBuf)
		if err != nil {
			if err == protocol.Continue {
				return true
			}
			// Protocol error: queue the reply, mark Closing, and try
			// an immediate flush; destroy now only if nothing is
			// pending (spec.md §4.C: "after flush").
			c.QueueWrite([]byte(protocol.ErrProtocolErrorReply))
			c.State = connection.Closing
			return r.armWrite(c)
		}

		r.executeCommand(c, argv)
		if c.Closed() {
			return false
		}
	}
}

// armWrite queues writable-readiness for c and attempts an immediate
// flush (data is very likely written synchronously the instant it's
// queued). It returns false if c was destroyed in the process.
func (r *Reactor) armWrite(c *connection.Conn) bool {
	if !r.flushWritable(c) {
		return false
	}
	if c.WriteBuf.Len() > 0 && !r.writeArmed[c.FD] {
		if err := r.poller.ModReadWrite(c.FD); err != nil {
			logging.Warnf("reactor: arm write on fd %d failed: %s", c.FD, err)
		}
		r.writeArmed[c.FD] = true
	}
	return true
}

// destroyConn removes c from the reactor's fd table, deregisters it
// from the poller, and releases its resources.
func (r *Reactor) destroyConn(c *connection.Conn) {
	if c.Closed() {
		return
	}
	fd := c.FD
	_ = r.poller.Delete(fd)
	c.Destroy()
	r.conns[fd] = nil
	r.writeArmed[fd] = false
	if r.st != nil {
		r.st.CurrentConnections.Dec()
	}
}

// Shutdown performs the reverse-order teardown from spec.md §5: stop
// accepting (deregister and close the listener fd), fast-close every
// connection, shut the worker pool down, write a final snapshot when
// periodic snapshots are enabled, then close the poller.
func (r *Reactor) Shutdown() {
	if r.shutdown {
		return
	}
	r.shutdown = true

	_ = r.poller.Delete(r.listenFD)
	_ = unix.Close(r.listenFD)

	for fd := range r.conns {
		if c := r.conns[fd]; c != nil {
			_ = r.poller.Delete(fd)
			c.Destroy()
			r.conns[fd] = nil
		}
	}

	r.pool.Shutdown()

	if r.cfg.SaveIntervalSecs > 0 {
		r.runSnapshot()
	}

	_ = r.poller.Close()
}
