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

//go:build linux

package netpoll

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/riccardogiuriola/vecs/internal/logging"
)

const maxEpollEvents = 256

// epollPoller is the Linux implementation of Poller, backed by
// edge-triggered epoll, grounded on the teacher's kqueue poller shape
// (one poller fd, Add/Mod/Delete, a blocking Polling loop) but using
// epoll_wait directly since the pack carries no epoll implementation.
type epollPoller struct {
	fd     int
	events []unix.EpollEvent
}

// OpenPoller instantiates the platform poller.
func OpenPoller() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &epollPoller{fd: fd, events: make([]unix.EpollEvent, maxEpollEvents)}, nil
}

func (p *epollPoller) Close() error {
	return os.NewSyscallError("close", unix.Close(p.fd))
}

const readFlags = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLET
const readWriteFlags = readFlags | unix.EPOLLOUT

func (p *epollPoller) ctl(op int, fd int, flags uint32) error {
	ev := unix.EpollEvent{Fd: int32(fd), Events: flags}
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(p.fd, op, fd, &ev))
}

func (p *epollPoller) AddRead(fd int) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, readFlags)
}

func (p *epollPoller) AddReadWrite(fd int) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, readWriteFlags)
}

func (p *epollPoller) ModReadWrite(fd int) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, readWriteFlags)
}

func (p *epollPoller) ModRead(fd int) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, readFlags)
}

func (p *epollPoller) Delete(fd int) error {
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil))
}

func (p *epollPoller) Polling(cb Callback, timeoutMs int, tick func()) error {
	for {
		n, err := unix.EpollWait(p.fd, p.events, timeoutMs)
		if n < 0 && err == unix.EINTR {
			continue
		}
		if err != nil {
			return os.NewSyscallError("epoll_wait", err)
		}

		if tick != nil {
			tick()
		}

		for i := 0; i < n; i++ {
			raw := p.events[i]
			var ev Event
			if raw.Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
				ev |= EventError
			}
			if raw.Events&unix.EPOLLIN != 0 {
				ev |= EventReadable
			}
			if raw.Events&unix.EPOLLOUT != 0 {
				ev |= EventWritable
			}

			switch err := cb(int(raw.Fd), ev); err {
			case nil:
			case ErrEngineShutdown:
				return nil
			default:
				logging.Warnf("netpoll: callback error on fd %d: %s", raw.Fd, err)
			}
		}

		if n == len(p.events) {
			p.events = make([]unix.EpollEvent, len(p.events)*2)
		}
	}
}
