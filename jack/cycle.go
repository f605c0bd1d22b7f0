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
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/PipeWire/pipewire-jack/loop"
	"github.com/PipeWire/pipewire-jack/mem"
)

// The realtime cycle. Everything in this file runs on the data loop;
// errors are logged and the cycle proceeds, a cycle must never fail the
// graph.

func nowNsec() uint64 {
	var ts unix.Timespec
	unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	return uint64(ts.Sec)*1_000_000_000 + uint64(ts.Nsec)
}

// cycleRun consumes one wakeup and prepares the cycle: position decode,
// buffer-size and rate change callbacks, sync and xrun delivery.
// Returns the frame count to process.
func (c *Client) cycleRun() uint32 {
	cmd, err := mem.ReadEvent(c.rtFd)
	if err != nil {
		if err == unix.EWOULDBLOCK || err == unix.EAGAIN {
			return 0
		}
		slog.Warn(fmt.Sprintf("jack: %s: read failed: %v", c.name, err))
	}
	if cmd > 1 {
		slog.Warn(fmt.Sprintf("jack: %s: missed %d wakeups", c.name, cmd-1))
	}

	pos := c.position
	if pos == nil {
		slog.Error(fmt.Sprintf("jack: %s: missing position", c.name))
		return 0
	}
	a := c.activation
	driver := c.driverActivation

	nsec := pos.Clock.Nsec
	a.Status = activationAwake
	a.AwakeTime = nsec

	if c.firstCycle {
		if c.threadInitCallback != nil {
			c.threadInitCallback()
		}
		c.firstCycle = false
	}

	bufferFrames := uint32(pos.Clock.Duration)
	if bufferFrames != c.bufferFrames {
		slog.Info(fmt.Sprintf("jack: %s: buffer frames %d", c.name, bufferFrames))
		c.bufferFrames = bufferFrames
		if c.bufferSizeCallback != nil {
			c.bufferSizeCallback(bufferFrames)
		}
	}

	sampleRate := pos.Clock.Rate.Denom
	if sampleRate != c.sampleRate {
		slog.Info(fmt.Sprintf("jack: %s: sample rate %d", c.name, sampleRate))
		c.sampleRate = sampleRate
		if c.sampleRateCallback != nil {
			c.sampleRateCallback(sampleRate)
		}
	}

	c.jackState = positionToJack(driver, &c.jackPosition)

	if driver != nil {
		if loadUint32(&a.PendingSync) != 0 {
			if c.syncCallback == nil || c.syncCallback(c.jackState, &c.jackPosition) {
				storeUint32(&a.PendingSync, 0)
			}
		}
		driverXruns := driver.XRunCount
		if c.xrunCount != driverXruns && c.xrunCount != 0 && c.xrunCallback != nil {
			c.xrunCallback()
		}
		c.xrunCount = driverXruns
	}
	return bufferFrames
}

// cycleSignal finishes the cycle: timebase emission when owner, the
// MIDI tee, and peer wakeups.
func (c *Client) cycleSignal(status int) {
	driver := c.driverActivation
	a := c.activation

	if status == 0 && c.timebaseCallback != nil && driver != nil &&
		loadUint32(&driver.SegmentOwner[0]) == c.nodeID {
		newPos := loadUint32(&a.PendingNewPos) != 0
		if newPos || c.jackState == TransportRolling || c.jackState == TransportLooping {
			c.timebaseCallback(c.jackState, c.bufferFrames, &c.jackPosition, newPos)
			storeUint32(&a.PendingNewPos, 0)
			jackToPosition(&c.jackPosition, a)
		}
	}
	c.signalSync()
}

// signalSync publishes our finish and counts every peer down, writing
// their signal fds when they become runnable. Write failures are logged
// and skipped; the cycle never aborts.
func (c *Client) signalSync() {
	c.processTee()

	nsec := nowNsec()
	a := c.activation
	a.Status = activationFinished
	a.FinishTime = nsec

	for i := range c.links {
		l := &c.links[i]
		if l.activation == nil {
			continue
		}
		state := &l.activation.State[0]
		if decPending(state) {
			l.activation.Status = activationTriggered
			l.activation.SignalTime = nsec
			if err := mem.SignalEvent(l.signalFd); err != nil {
				slog.Warn(fmt.Sprintf("jack: %s: signal peer %d: %v", c.name, l.nodeID, err))
			}
		}
	}
}

// onRTSocket is the data-loop condition handler for the rt eventfd.
func (c *Client) onRTSocket(fd int, mask uint32) {
	if mask&(loop.IOErr|loop.IOHup) != 0 {
		slog.Warn(fmt.Sprintf("jack: %s: got error on rt socket", c.name))
		c.unhandleSocket()
		// Hand the shutdown off to the control loop; this thread must
		// not take locks.
		c.ctrlLoop.Invoke(c.onDisconnect)
		return
	}
	if c.threadCallback != nil {
		if !c.threadEntered {
			c.threadEntered = true
			c.threadCallback()
		}
		return
	}
	if mask&loop.IOIn != 0 {
		frames := c.cycleRun()
		status := 0
		if c.processCallback != nil {
			status = c.processCallback(frames)
		}
		c.cycleSignal(status)
	}
}

// CycleWait blocks a custom process thread until the next cycle and
// returns its frame count.
func (c *Client) CycleWait() uint32 {
	n, err := c.dataLoop.WaitIterate(-1)
	if err != nil || n < 0 {
		slog.Warn(fmt.Sprintf("jack: %s: wait error: %v", c.name, err))
		return 0
	}
	return c.cycleRun()
}

// CycleSignal ends the cycle a custom process thread started with
// CycleWait.
func (c *Client) CycleSignal(status int) {
	c.cycleSignal(status)
}

// ThreadWait is deprecated; use CycleWait and CycleSignal.
func (c *Client) ThreadWait(status int) uint32 {
	slog.Error(fmt.Sprintf("jack: %s: ThreadWait: deprecated, use CycleWait/CycleSignal", c.name))
	return 0
}
