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
	"encoding/binary"

	"github.com/PipeWire/pipewire-jack/pod"
)

// Legacy MIDI buffer layout: a fixed header, an event table growing up
// from the header, and payload bytes for events larger than the inline
// slot growing down from the top of the buffer.

const (
	midiBufferMagic = 0x900df00d
	midiInlineMax   = 4

	midiHeaderSize = 24
	midiEventSize  = 8
)

var mle = binary.LittleEndian

// MidiBuffer is the event buffer handed to the application for a MIDI
// port. It is a view over the port's staging memory; nothing is owned.
type MidiBuffer struct {
	data []byte
}

// MidiEvent is one event as read back from a buffer. Buffer aliases the
// underlying storage and is valid until the next clear.
type MidiEvent struct {
	Time   uint32
	Buffer []byte
}

// initMidiBuffer stamps an empty buffer over data.
func initMidiBuffer(data []byte, nframes uint32) *MidiBuffer {
	mle.PutUint32(data[0:], midiBufferMagic)
	mle.PutUint32(data[4:], uint32(len(data)))
	mle.PutUint32(data[8:], nframes)
	mle.PutUint32(data[12:], 0) // write_pos
	mle.PutUint32(data[16:], 0) // event_count
	mle.PutUint32(data[20:], 0) // lost_events
	return &MidiBuffer{data: data}
}

func (mb *MidiBuffer) bufferSize() uint32 { return mle.Uint32(mb.data[4:]) }
func (mb *MidiBuffer) nframes() uint32    { return mle.Uint32(mb.data[8:]) }
func (mb *MidiBuffer) writePos() uint32   { return mle.Uint32(mb.data[12:]) }

func (mb *MidiBuffer) setWritePos(v uint32)   { mle.PutUint32(mb.data[12:], v) }
func (mb *MidiBuffer) setEventCount(v uint32) { mle.PutUint32(mb.data[16:], v) }
func (mb *MidiBuffer) setLostEvents(v uint32) { mle.PutUint32(mb.data[20:], v) }

// EventCount returns the number of stored events.
func (mb *MidiBuffer) EventCount() uint32 { return mle.Uint32(mb.data[16:]) }

// LostEventCount returns the number of events dropped for ordering or
// space violations since the last clear.
func (mb *MidiBuffer) LostEventCount() uint32 { return mle.Uint32(mb.data[20:]) }

// ClearBuffer empties the buffer. Output ports must clear before
// writing each cycle.
func (mb *MidiBuffer) ClearBuffer() {
	mb.setEventCount(0)
	mb.setWritePos(0)
	mb.setLostEvents(0)
}

// ResetBuffer is identical to ClearBuffer in this implementation.
func (mb *MidiBuffer) ResetBuffer() { mb.ClearBuffer() }

func (mb *MidiBuffer) event(i uint32) []byte {
	off := midiHeaderSize + i*midiEventSize
	return mb.data[off : off+midiEventSize]
}

// EventGet returns event index i.
func (mb *MidiBuffer) EventGet(i uint32) (MidiEvent, error) {
	if i >= mb.EventCount() {
		return MidiEvent{}, ErrNotFound
	}
	ev := mb.event(i)
	time := uint32(mle.Uint16(ev[0:]))
	size := uint32(mle.Uint16(ev[2:]))
	var payload []byte
	if size <= midiInlineMax {
		payload = ev[4 : 4+size]
	} else {
		off := mle.Uint32(ev[4:])
		payload = mb.data[off : off+size]
	}
	return MidiEvent{Time: time, Buffer: payload}, nil
}

// MaxEventSize returns the largest event that still fits, accounting for
// the event record the reservation itself needs.
func (mb *MidiBuffer) MaxEventSize() uint32 {
	used := uint32(midiHeaderSize) + mb.writePos() + (mb.EventCount()+1)*midiEventSize
	size := mb.bufferSize()
	switch {
	case used > size:
		return 0
	case size-used < midiInlineMax:
		return midiInlineMax
	default:
		return size - used
	}
}

// EventReserve allocates space for an event at the given frame time and
// returns the slice to write the payload into. Events must be reserved
// in non-decreasing time order; violating the order or running out of
// space loses the event and returns nil.
func (mb *MidiBuffer) EventReserve(time uint32, size uint32) []byte {
	count := mb.EventCount()
	if time >= mb.nframes() {
		mb.lose("time out of range")
		return nil
	}
	if count > 0 {
		last := uint32(mle.Uint16(mb.event(count - 1)))
		if time < last {
			mb.lose("time order violated")
			return nil
		}
	}
	if size == 0 || mb.MaxEventSize() < size {
		mb.lose("no space")
		return nil
	}

	ev := mb.event(count)
	mle.PutUint16(ev[0:], uint16(time))
	mle.PutUint16(ev[2:], uint16(size))
	var res []byte
	if size <= midiInlineMax {
		res = ev[4 : 4+size]
	} else {
		pos := mb.writePos() + size
		mb.setWritePos(pos)
		off := mb.bufferSize() - 1 - pos
		mle.PutUint32(ev[4:], off)
		res = mb.data[off : off+size]
	}
	mb.setEventCount(count + 1)
	return res
}

func (mb *MidiBuffer) lose(string) {
	mb.setLostEvents(mb.LostEventCount() + 1)
}

// EventWrite reserves and copies in one call.
func (mb *MidiBuffer) EventWrite(time uint32, data []byte) error {
	buf := mb.EventReserve(time, uint32(len(data)))
	if buf == nil {
		return ErrExhausted
	}
	copy(buf, data)
	return nil
}

// convertFromMidi renders the buffer's events into a control sequence in
// dst, which is mapped shared memory. The builder is fixed-size; an
// overflowing sequence is truncated at the last complete control.
func convertFromMidi(mb *MidiBuffer, dst []byte) {
	b := pod.NewFixedBuilder(dst)
	f := b.PushSequence(0)
	used := 16 // sequence header plus unit and pad words
	count := mb.EventCount()
	for i := uint32(0); i < count; i++ {
		ev, err := mb.EventGet(i)
		if err != nil {
			break
		}
		need := 16 + int(pod.RoundUp(uint32(len(ev.Buffer)), 8))
		if used+need > len(dst) {
			break
		}
		used += need
		b.Control(ev.Time, pod.ControlMidi)
		b.Bytes_(ev.Buffer)
	}
	b.Pop(f)
}

// midiMergeState is preallocated merge scratch so the realtime path does
// not grow the stack or touch the heap.
type midiMergeState struct {
	iters [maxConnections]pod.ControlIter
	heads [maxConnections]pod.Control
	live  [maxConnections]bool
}

// convertToMidi merges the given control sequences into the buffer in
// time order, earliest input winning ties. Only Midi-typed controls are
// emitted.
func convertToMidi(st *midiMergeState, seqs []*pod.Sequence, mb *MidiBuffer) {
	n := len(seqs)
	if n > maxConnections {
		n = maxConnections
	}
	for i := 0; i < n; i++ {
		st.iters[i] = seqs[i].Controls()
		st.live[i] = st.iters[i].Next(&st.heads[i])
	}

	for {
		best := -1
		for i := 0; i < n; i++ {
			if !st.live[i] {
				continue
			}
			if best == -1 || st.heads[i].Offset < st.heads[best].Offset {
				best = i
			}
		}
		if best == -1 {
			return
		}
		c := &st.heads[best]
		if c.CType == pod.ControlMidi {
			if data, err := c.Value.Bytes(); err == nil {
				mb.EventWrite(c.Offset, data)
			}
		}
		st.live[best] = st.iters[best].Next(&st.heads[best])
	}
}
