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

//go:build freebsd || dragonfly || darwin

package netpoll

import (
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/riccardogiuriola/vecs/internal/logging"
)

const maxKqueueEvents = 256

// kqueuePoller is the BSD/Darwin implementation of Poller, adapted
// directly from the teacher's kqueue poller (core/internal/netpoll
// /kqueue_optimized_poller.go): one kqueue fd, per-fd read/write
// Kevent_t registration, a blocking Polling loop over kevent(2).
type kqueuePoller struct {
	fd     int
	events []unix.Kevent_t
}

// OpenPoller instantiates the platform poller.
func OpenPoller() (Poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	return &kqueuePoller{fd: fd, events: make([]unix.Kevent_t, maxKqueueEvents)}, nil
}

func (p *kqueuePoller) Close() error {
	return os.NewSyscallError("close", unix.Close(p.fd))
}

func (p *kqueuePoller) AddRead(fd int) error {
	evs := []unix.Kevent_t{{Ident: uint64(fd), Flags: unix.EV_ADD | unix.EV_CLEAR, Filter: unix.EVFILT_READ}}
	_, err := unix.Kevent(p.fd, evs, nil, nil)
	return os.NewSyscallError("kevent add", err)
}

func (p *kqueuePoller) AddReadWrite(fd int) error {
	evs := []unix.Kevent_t{
		{Ident: uint64(fd), Flags: unix.EV_ADD | unix.EV_CLEAR, Filter: unix.EVFILT_READ},
		{Ident: uint64(fd), Flags: unix.EV_ADD | unix.EV_CLEAR, Filter: unix.EVFILT_WRITE},
	}
	_, err := unix.Kevent(p.fd, evs, nil, nil)
	return os.NewSyscallError("kevent add", err)
}

func (p *kqueuePoller) ModReadWrite(fd int) error {
	evs := []unix.Kevent_t{{Ident: uint64(fd), Flags: unix.EV_ADD | unix.EV_CLEAR, Filter: unix.EVFILT_WRITE}}
	_, err := unix.Kevent(p.fd, evs, nil, nil)
	return os.NewSyscallError("kevent add", err)
}

func (p *kqueuePoller) ModRead(fd int) error {
	evs := []unix.Kevent_t{{Ident: uint64(fd), Flags: unix.EV_DELETE, Filter: unix.EVFILT_WRITE}}
	_, err := unix.Kevent(p.fd, evs, nil, nil)
	return os.NewSyscallError("kevent delete", err)
}

func (p *kqueuePoller) Delete(fd int) error {
	evs := []unix.Kevent_t{
		{Ident: uint64(fd), Flags: unix.EV_DELETE, Filter: unix.EVFILT_READ},
		{Ident: uint64(fd), Flags: unix.EV_DELETE, Filter: unix.EVFILT_WRITE},
	}
	_, _ = unix.Kevent(p.fd, evs, nil, nil)
	return nil
}

func (p *kqueuePoller) Polling(cb Callback, timeoutMs int, tick func()) error {
	timeout := &unix.Timespec{
		Sec:  int64(timeoutMs / 1000),
		Nsec: int64(timeoutMs%1000) * int64(time.Millisecond),
	}
	for {
		n, err := unix.Kevent(p.fd, nil, p.events, timeout)
		if n < 0 && err == unix.EINTR {
			continue
		}
		if err != nil {
			return os.NewSyscallError("kevent wait", err)
		}

		if tick != nil {
			tick()
		}

		for i := 0; i < n; i++ {
			raw := &p.events[i]
			var ev Event
			if raw.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0 {
				ev |= EventError
			}
			switch raw.Filter {
			case unix.EVFILT_READ:
				ev |= EventReadable
			case unix.EVFILT_WRITE:
				ev |= EventWritable
			}

			switch err := cb(int(raw.Ident), ev); err {
			case nil:
			case ErrEngineShutdown:
				return nil
			default:
				logging.Warnf("netpoll: callback error on fd %d: %s", raw.Ident, err)
			}
		}

		if n == len(p.events) {
			p.events = make([]unix.Kevent_t, len(p.events)*2)
		}
	}
}
