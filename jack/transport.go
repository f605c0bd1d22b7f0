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
	"log/slog"
	"math"
)

const ticksPerBeat = 1920.0

// positionToJack decodes the driver's position block into the legacy
// transport state and, when pos is non-nil, the extended position.
func positionToJack(a *activation, pos *Position) TransportState {
	state := TransportStopped
	if a == nil {
		if pos != nil {
			*pos = Position{}
		}
		return state
	}

	s := &a.Position
	seg := &s.Segments[0]

	switch s.State {
	case positionStateStarting:
		state = TransportStarting
	case positionStateRunning:
		if seg.Flags&segmentFlagLooping != 0 {
			state = TransportLooping
		} else {
			state = TransportRolling
		}
	}
	if pos == nil {
		return state
	}

	pos.unique1++
	pos.Usecs = s.Clock.Nsec / 1000
	pos.FrameRate = s.Clock.Rate.Denom

	running := s.Clock.Position - uint64(s.Offset)
	if running >= seg.Start && (seg.Duration == 0 || running < seg.Start+seg.Duration) {
		pos.Frame = uint32(float64(running-seg.Start)*seg.Rate + float64(seg.Position))
	} else {
		pos.Frame = uint32(seg.Position)
	}

	pos.Valid = 0
	if loadUint32(&a.SegmentOwner[0]) != 0 && seg.Bar.Flags&segmentBarFlagValid != 0 {
		pos.Valid |= PositionBBT

		pos.BBTOffset = seg.Bar.Offset
		if seg.Bar.Offset != 0 {
			pos.Valid |= BBTFrameOffset
		}

		pos.BeatsPerBar = seg.Bar.SignatureNum
		pos.BeatType = seg.Bar.SignatureDenom
		pos.TicksPerBeat = ticksPerBeat
		pos.BeatsPerMinute = seg.Bar.BPM

		absBeat := seg.Bar.Beat

		pos.Bar = int32(absBeat / float64(pos.BeatsPerBar))
		beats := int64(pos.Bar) * int64(pos.BeatsPerBar)
		pos.BarStartTick = float64(beats) * pos.TicksPerBeat
		pos.Beat = int32(absBeat - float64(beats))
		beats += int64(pos.Beat)
		pos.Tick = int32((absBeat - float64(beats)) * pos.TicksPerBeat)
		pos.Bar++
		pos.Beat++
	}
	pos.unique2 = pos.unique1
	return state
}

// jackToPosition copies the timebase callback's BBT output back into
// the shared segment block.
func jackToPosition(src *Position, a *activation) {
	d := &a.Reposition
	if src.Valid&PositionBBT != 0 {
		d.Bar.Flags = segmentBarFlagValid
		if src.Valid&BBTFrameOffset != 0 {
			d.Bar.Offset = src.BBTOffset
		} else {
			d.Bar.Offset = 0
		}
		d.Bar.SignatureNum = src.BeatsPerBar
		d.Bar.SignatureDenom = src.BeatType
		d.Bar.BPM = src.BeatsPerMinute
		d.Bar.Beat = float64(src.Bar-1)*float64(src.BeatsPerBar) +
			float64(src.Beat-1) + float64(src.Tick)/src.TicksPerBeat
	}
}

// TransportQuery returns the current transport state and fills pos when
// non-nil.
func (c *Client) TransportQuery(pos *Position) TransportState {
	return positionToJack(c.driverActivation, pos)
}

// GetCurrentTransportFrame estimates the transport frame at the time of
// the call, extrapolating while rolling.
func (c *Client) GetCurrentTransportFrame() uint32 {
	a := c.driverActivation
	if a == nil {
		return math.MaxUint32
	}
	pos := &a.Position
	running := pos.Clock.Position - uint64(pos.Offset)
	if pos.State == positionStateRunning {
		elapsed := nowNsec() - pos.Clock.Nsec
		running += uint64(float64(c.GetSampleRate()) * float64(elapsed) / 1e9)
	}
	seg := &pos.Segments[0]
	return uint32(float64(running-seg.Start)*seg.Rate + float64(seg.Position))
}

// TransportReposition asks the transport to jump. Only plain frame
// repositions and BBT/timecode extras are representable.
func (c *Client) TransportReposition(pos *Position) error {
	a := c.driverActivation
	na := c.activation
	if a == nil || na == nil {
		return ErrIO
	}
	if pos.Valid&^(PositionBBT|PositionTimecode) != 0 {
		return ErrInvalid
	}
	slog.Debug("jack: reposition")
	na.Reposition.Flags = 0
	na.Reposition.Start = 0
	na.Reposition.Duration = 0
	na.Reposition.Position = uint64(pos.Frame)
	na.Reposition.Rate = 1.0
	storeUint32(&a.RepositionOwner, c.nodeID)
	return nil
}

// TransportLocate jumps to a plain frame position.
func (c *Client) TransportLocate(frame uint32) error {
	var pos Position
	pos.Frame = frame
	return c.TransportReposition(&pos)
}

func (c *Client) updateCommand(command uint32) {
	if a := c.driverActivation; a != nil {
		storeUint32(&a.Command, command)
	}
}

// TransportStart asks the driver to roll.
func (c *Client) TransportStart() { c.updateCommand(activationCommandStart) }

// TransportStop asks the driver to stop.
func (c *Client) TransportStop() { c.updateCommand(activationCommandStop) }

// SetSyncCallback installs a slow-sync callback and activates the
// client so it participates in sync.
func (c *Client) SetSyncCallback(cb SyncCallback) error {
	c.syncCallback = cb
	if err := c.doActivate(); err != nil {
		return err
	}
	if a := c.activation; a != nil {
		storeUint32(&a.PendingSync, 1)
	}
	return nil
}

// SetSyncTimeout sets the driver's slow-sync timeout in usecs.
func (c *Client) SetSyncTimeout(timeout uint64) error {
	a := c.driverActivation
	if a == nil {
		return ErrIO
	}
	storeUint64(&a.SyncTimeout, timeout)
	return nil
}

// acquireTimebase elects this node as segment owner with a CAS on the
// driver activation. Conditional acquisition fails with ErrBusy when
// another node owns the timebase.
func (c *Client) acquireTimebase(conditional bool) error {
	a := c.driverActivation
	if a == nil {
		return ErrIO
	}
	owner := loadUint32(&a.SegmentOwner[0])
	if owner == c.nodeID {
		return nil
	}
	if conditional {
		if !casUint32(&a.SegmentOwner[0], 0, c.nodeID) {
			slog.Debug("jack: timebase busy")
			return ErrBusy
		}
	} else {
		storeUint32(&a.SegmentOwner[0], c.nodeID)
	}
	return nil
}

// SetTimebaseCallback installs the timebase callback, electing this
// client as the timebase master.
func (c *Client) SetTimebaseCallback(conditional bool, cb TimebaseCallback) error {
	if err := c.acquireTimebase(conditional); err != nil {
		return err
	}
	c.timebaseCallback = cb
	slog.Debug("jack: timebase acquired")

	if err := c.doActivate(); err != nil {
		return err
	}
	if a := c.activation; a != nil {
		storeUint32(&a.PendingNewPos, 1)
	}
	return nil
}

// ReleaseTimebase steps down as timebase master. Fails when another
// node took over meanwhile.
func (c *Client) ReleaseTimebase() error {
	a := c.driverActivation
	if a == nil {
		return ErrIO
	}
	if !casUint32(&a.SegmentOwner[0], c.nodeID, 0) {
		return ErrInvalid
	}
	c.timebaseCallback = nil
	if na := c.activation; na != nil {
		storeUint32(&na.PendingNewPos, 0)
	}
	return nil
}

// FramesSinceCycleStart counts the frames elapsed since the cycle woke.
func (c *Client) FramesSinceCycleStart() uint32 {
	pos := c.position
	if pos == nil {
		return 0
	}
	diff := nowNsec() - pos.Clock.Nsec
	return uint32(float64(c.GetSampleRate()) * float64(diff) / 1e9)
}

// FrameTime estimates the graph frame corresponding to the current
// time.
func (c *Client) FrameTime() uint32 {
	return c.TimeToFrames(nowNsec() / 1000)
}

// LastFrameTime returns the frame count at the start of the current
// cycle.
func (c *Client) LastFrameTime() uint32 {
	pos := c.position
	if pos == nil {
		return 0
	}
	return uint32(pos.Clock.Position)
}

// FramesToTime converts a frame count to microseconds on the current
// clock.
func (c *Client) FramesToTime(frames uint32) uint64 {
	pos := c.position
	if pos == nil {
		return 0
	}
	df := float64(int64(uint64(frames))-int64(pos.Clock.Position)) * 1e9 / float64(c.GetSampleRate())
	return uint64(int64(pos.Clock.Nsec)+int64(math.Round(df))) / 1000
}

// TimeToFrames converts microseconds to frames on the current clock.
func (c *Client) TimeToFrames(usecs uint64) uint32 {
	pos := c.position
	if pos == nil {
		return 0
	}
	du := float64(int64(usecs)-int64(pos.Clock.Nsec/1000)) * float64(c.GetSampleRate()) / 1e6
	return uint32(int64(pos.Clock.Position) + int64(math.Round(du)))
}

// GetTime returns the current monotonic time in microseconds.
func GetTime() uint64 { return nowNsec() / 1000 }

// GetCycleTimes returns the timing tuple of the current cycle.
func (c *Client) GetCycleTimes() (currentFrames uint32, currentUsecs, nextUsecs uint64, periodUsecs float32, err error) {
	pos := c.position
	if pos == nil {
		return 0, 0, 0, 0, ErrIO
	}
	currentFrames = uint32(pos.Clock.Position)
	currentUsecs = pos.Clock.Nsec / 1000
	nextUsecs = pos.Clock.NextNsec / 1000
	periodUsecs = float32(float64(pos.Clock.Duration) * 1e6 /
		(float64(c.GetSampleRate()) * pos.Clock.RateDiff))
	return currentFrames, currentUsecs, nextUsecs, periodUsecs, nil
}
