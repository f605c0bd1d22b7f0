// =================================================================================
//
//		pipewire-jack - JACK client library for the PipeWire graph server
//
//	  pipewire-jack lets applications written against the JACK audio API run
//	  unmodified as native nodes of a PipeWire media graph
//
//		Copyright (c) 2024 The pipewire-jack authors
//
//		Licensed under the Apache License, Version 2.0 (the "License");
//		you may not use this file except in compliance with the License.
//		You may obtain a copy of the License at
//
//		     http://www.apache.org/licenses/LICENSE-2.0
//
//		Unless required by applicable law or agreed to in writing, software
//		distributed under the License is distributed on an "AS IS" BASIS,
//		WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//		See the License for the specific language governing permissions and
//		limitations under the License.
//
// =================================================================================

// Package loop provides the two event loops of a client: the locked
// control loop dispatching server messages, and the realtime data loop
// woken by the scheduler's eventfd.
package loop

import (
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

// IO condition masks, level triggered.
const (
	IOIn  uint32 = unix.EPOLLIN
	IOOut uint32 = unix.EPOLLOUT
	IOErr uint32 = unix.EPOLLERR
	IOHup uint32 = unix.EPOLLHUP
)

var ErrClosed = errors.New("loop: closed")

// IOFunc is called when a registered fd becomes ready.
type IOFunc func(fd int, mask uint32)

// Source is one registered fd.
type Source struct {
	Fd   int
	mask uint32
	fn   IOFunc
	loop *Loop
	dead bool
}

// Loop is an epoll set with an eventfd used to interrupt the poll for
// cross-thread invokes.
type Loop struct {
	epfd   int
	wakeFd int

	mu      sync.Mutex
	sources map[int]*Source
	invokes []func()
	closed  bool
}

// New creates an empty loop.
func New() (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wake, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	l := &Loop{epfd: epfd, wakeFd: wake, sources: make(map[int]*Source)}
	ev := unix.EpollEvent{Events: uint32(unix.EPOLLIN), Fd: int32(wake)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wake, &ev); err != nil {
		unix.Close(wake)
		unix.Close(epfd)
		return nil, err
	}
	return l, nil
}

// AddIO registers fd with the given condition mask. Level triggered: a
// mask of just IOErr|IOHup keeps the fd watched without consuming input.
func (l *Loop) AddIO(fd int, mask uint32, fn IOFunc) (*Source, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	s := &Source{Fd: fd, mask: mask, fn: fn, loop: l}
	ev := unix.EpollEvent{Events: mask, Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return nil, err
	}
	l.sources[fd] = s
	return s, nil
}

// Update changes the condition mask of s.
func (s *Source) Update(mask uint32) error {
	s.loop.mu.Lock()
	defer s.loop.mu.Unlock()
	if s.dead {
		return ErrClosed
	}
	s.mask = mask
	ev := unix.EpollEvent{Events: mask, Fd: int32(s.Fd)}
	return unix.EpollCtl(s.loop.epfd, unix.EPOLL_CTL_MOD, s.Fd, &ev)
}

// Destroy unregisters s. The fd is not closed; it belongs to the caller.
func (s *Source) Destroy() {
	l := s.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	if s.dead {
		return
	}
	s.dead = true
	delete(l.sources, s.Fd)
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, s.Fd, nil); err != nil {
		slog.Debug("loop: epoll del: " + err.Error())
	}
}

// Invoke queues fn to run on the loop thread at the next iteration and
// wakes the poll.
func (l *Loop) Invoke(fn func()) {
	l.mu.Lock()
	l.invokes = append(l.invokes, fn)
	l.mu.Unlock()
	l.wake()
}

func (l *Loop) wake() {
	var one [8]byte
	one[0] = 1
	unix.Write(l.wakeFd, one[:])
}

// Iterate polls once with the given timeout in milliseconds (-1 blocks)
// and dispatches ready sources and queued invokes. It returns the number
// of ready sources.
func (l *Loop) Iterate(timeout int) (int, error) {
	var events [32]unix.EpollEvent
	n, err := unix.EpollWait(l.epfd, events[:], timeout)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	ready := 0
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		if fd == l.wakeFd {
			var buf [8]byte
			unix.Read(l.wakeFd, buf[:])
			continue
		}
		l.mu.Lock()
		s := l.sources[fd]
		l.mu.Unlock()
		if s == nil || s.dead {
			continue
		}
		ready++
		s.fn(fd, events[i].Events)
	}

	l.mu.Lock()
	inv := l.invokes
	l.invokes = nil
	l.mu.Unlock()
	for _, fn := range inv {
		fn()
	}
	return ready, nil
}

// Close tears the loop down. Sources still registered are dropped.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()
	unix.Close(l.wakeFd)
	unix.Close(l.epfd)
}
