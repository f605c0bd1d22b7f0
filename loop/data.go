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

package loop

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// DataLoop runs a Loop on a dedicated OS thread with elevated scheduling.
// This is the realtime side: its sources never take the thread-loop
// mutex, never allocate and never block beyond the poll itself.
type DataLoop struct {
	*Loop

	running atomic.Bool
	stop    chan struct{}
	done    sync.WaitGroup
}

// RTPriority is the scheduling priority requested for the data thread.
const RTPriority = 20

// NewDataLoop wraps l.
func NewDataLoop(l *Loop) *DataLoop {
	return &DataLoop{Loop: l, stop: make(chan struct{})}
}

// Start launches the realtime thread. Failing to obtain realtime
// scheduling is logged and ignored; the loop still runs.
func (d *DataLoop) Start() {
	if !d.running.CompareAndSwap(false, true) {
		return
	}
	d.stop = make(chan struct{})
	d.done.Add(1)
	go d.run()
}

func (d *DataLoop) run() {
	defer d.done.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := unix.SchedSetAttr(0, &unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_RR,
		Priority: RTPriority,
	}, 0); err != nil {
		slog.Debug("data loop: no realtime scheduling: " + err.Error())
	}

	for {
		select {
		case <-d.stop:
			return
		default:
		}
		if _, err := d.Iterate(-1); err != nil {
			slog.Warn("data loop: " + err.Error())
			return
		}
	}
}

// WaitIterate polls the loop once from the calling thread. Custom-thread
// clients drive their cycle with this.
func (d *DataLoop) WaitIterate(timeout int) (int, error) {
	return d.Iterate(timeout)
}

// Stop wakes the thread and joins it.
func (d *DataLoop) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	close(d.stop)
	d.Loop.wake()
	d.done.Wait()
}

// Running reports whether the realtime thread is up.
func (d *DataLoop) Running() bool { return d.running.Load() }
