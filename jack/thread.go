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

package jack

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/PipeWire/pipewire-jack/loop"
)

// ThreadCreator builds the thread a routine runs on. The default pins
// an OS thread; an embedder can swap in its own policy process-wide.
type ThreadCreator func(routine func()) (*NativeThread, error)

// NativeThread is a handle for a realtime helper thread.
type NativeThread struct {
	done   chan struct{}
	cancel context.CancelFunc
	ctx    context.Context
}

// Done exposes completion; ClientStopThread waits on it.
func (t *NativeThread) Done() <-chan struct{} { return t.done }

// Canceled reports whether ClientKillThread asked the routine to stop.
// Cooperative routines poll this.
func (t *NativeThread) Canceled() <-chan struct{} { return t.ctx.Done() }

var (
	creatorMu     sync.Mutex
	threadCreator ThreadCreator = defaultThreadCreator
)

func defaultThreadCreator(routine func()) (*NativeThread, error) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &NativeThread{done: make(chan struct{}), cancel: cancel, ctx: ctx}
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(t.done)
		routine()
	}()
	return t, nil
}

// SetThreadCreator installs a process-wide thread creation hook; nil
// restores the default.
func SetThreadCreator(creator ThreadCreator) {
	creatorMu.Lock()
	defer creatorMu.Unlock()
	if creator == nil {
		threadCreator = defaultThreadCreator
	} else {
		threadCreator = creator
	}
}

// ClientCreateThread starts a helper thread through the installed
// creator. priority and realtime are advisory; the graph scheduler owns
// the actual scheduling class.
func (c *Client) ClientCreateThread(priority int, realtime bool, routine func()) (*NativeThread, error) {
	creatorMu.Lock()
	creator := threadCreator
	creatorMu.Unlock()
	slog.Info("jack: create thread")
	return creator(routine)
}

// ClientStopThread joins a helper thread.
func (c *Client) ClientStopThread(t *NativeThread) error {
	if t == nil {
		return ErrInvalid
	}
	slog.Debug("jack: join thread")
	<-t.done
	return nil
}

// ClientKillThread cancels a helper thread cooperatively and joins it.
func (c *Client) ClientKillThread(t *NativeThread) error {
	if t == nil {
		return ErrInvalid
	}
	slog.Debug("jack: cancel thread")
	t.cancel()
	<-t.done
	return nil
}

// ClientThreadID returns an identifier for the calling thread. Go does
// not expose thread identity, so this is the OS thread id of the
// moment, useful for logging only.
func (c *Client) ClientThreadID() int {
	return unix.Gettid()
}

// ClientRealTimePriority returns the priority realtime client threads
// run at.
func (c *Client) ClientRealTimePriority() int { return loop.RTPriority }

// ClientMaxRealTimePriority returns the highest priority available to
// client threads.
func (c *Client) ClientMaxRealTimePriority() int { return loop.RTPriority }

// AcquireRealTimeScheduling is not available; the data loop manages its
// own scheduling class.
func AcquireRealTimeScheduling(t *NativeThread, priority int) error {
	slog.Warn("jack: acquire_real_time_scheduling not implemented")
	return ErrNotSupported
}

// DropRealTimeScheduling is not available.
func DropRealTimeScheduling(t *NativeThread) error {
	slog.Warn("jack: drop_real_time_scheduling not implemented")
	return ErrNotSupported
}
