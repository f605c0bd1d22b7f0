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
	"sync/atomic"
	"unsafe"

	"github.com/PipeWire/pipewire-jack/mem"
	"github.com/PipeWire/pipewire-jack/pod"
)

// Shared-memory layouts. These structures live in regions mapped from the
// server; field order and padding are part of the wire contract and every
// 64-bit field sits on a natural boundary. The client only ever reads and
// writes through these views.

// ioBuffers is the per-mix io area negotiated with port_set_io.
type ioBuffers struct {
	Status   int32
	BufferID uint32
}

// io status values. A negative status is an errno from the producer.
const (
	statusOK       int32 = 0
	statusNeedData int32 = 1 << 0
	statusHaveData int32 = 1 << 1

	statusPipe int32 = -32 // producer has nowhere to write
)

const sizeofIOBuffers = uint32(unsafe.Sizeof(ioBuffers{}))

// chunk describes the valid region of one buffer data plane.
type chunk struct {
	Offset uint32
	Size   uint32
	Stride int32
	Flags  int32
}

const sizeofChunk = uint32(unsafe.Sizeof(chunk{}))

// clock is the driver's clock snapshot inside the position block.
type clock struct {
	Flags    uint32
	ID       uint32
	Name     [64]byte
	Nsec     uint64
	Rate     pod.Fraction
	Position uint64
	Duration uint64
	Delay    int64
	RateDiff float64
	NextNsec uint64
	_        [48]byte
}

// segmentBar carries the musical (BBT) description of a segment.
type segmentBar struct {
	Flags          uint32
	Offset         uint32
	SignatureNum   float32
	SignatureDenom float32
	BPM            float64
	Beat           float64
	_              [32]byte
}

const segmentBarFlagValid = uint32(1 << 0)

// segment is one span of the driver's timeline.
type segment struct {
	Version  uint32
	Flags    uint32
	Start    uint64
	Duration uint64
	Rate     float64
	Position uint64
	Bar      segmentBar
}

const segmentFlagLooping = uint32(1 << 0)

// Position block transport states.
const (
	positionStateStopped  uint32 = 0
	positionStateStarting uint32 = 1
	positionStateRunning  uint32 = 2
)

// ioPosition is the driver-owned position block.
type ioPosition struct {
	Clock     clock
	_         [80]byte // video info, not consumed here
	Offset    int64
	State     uint32
	Flags     uint32
	NSegments uint32
	_         uint32
	Segments  [8]segment
}

// Activation statuses.
const (
	activationIdle      uint32 = 0
	activationTriggered uint32 = 1
	activationAwake     uint32 = 2
	activationFinished  uint32 = 3
)

// Commands written into the driver activation.
const (
	activationCommandNone  uint32 = 0
	activationCommandStart uint32 = 1
	activationCommandStop  uint32 = 2
)

// activationState is the per-node trigger counter: Pending cycles remain
// before the node may run.
type activationState struct {
	Status   int32
	Required uint32
	Pending  uint32
}

// activation is the record jointly written by this client and the
// server to hand a node through one graph cycle.
type activation struct {
	Status uint32
	Flags  uint32

	State [2]activationState

	SignalTime     uint64
	AwakeTime      uint64
	FinishTime     uint64
	PrevSignalTime uint64

	SegmentOwner    [16]uint32
	RepositionOwner uint32
	Command         uint32
	PendingSync     uint32
	PendingNewPos   uint32

	SyncTimeout uint64
	SyncLeft    uint64

	CPULoad   [3]float32
	XRunCount uint32
	XRunTime  uint64
	XRunDelay uint64
	MaxDelay  uint64

	Reposition segment

	Position ioPosition
}

// activationFromMap views a mapping as an activation record.
func activationFromMap(m *mem.Map) *activation {
	if m == nil || len(m.Ptr) < int(unsafe.Sizeof(activation{})) {
		return nil
	}
	return (*activation)(unsafe.Pointer(&m.Ptr[0]))
}

// positionFromMap views a mapping as a position block.
func positionFromMap(m *mem.Map) *ioPosition {
	if m == nil || len(m.Ptr) < int(unsafe.Sizeof(ioPosition{})) {
		return nil
	}
	return (*ioPosition)(unsafe.Pointer(&m.Ptr[0]))
}

// ioBuffersFromMap views a mapping as an io area.
func ioBuffersFromMap(m *mem.Map) *ioBuffers {
	if m == nil || len(m.Ptr) < int(sizeofIOBuffers) {
		return nil
	}
	return (*ioBuffers)(unsafe.Pointer(&m.Ptr[0]))
}

// chunkAt views a chunk structure at an offset of a mapped region.
func chunkAt(data []byte, offset uint32) *chunk {
	if int(offset)+int(sizeofChunk) > len(data) {
		return nil
	}
	return (*chunk)(unsafe.Pointer(&data[offset]))
}

// Atomic accessors for fields of shared records. The server enforces
// cross-process ordering through the signal/wait protocol; these exist
// for the fields both sides race on.

func loadUint32(p *uint32) uint32     { return atomic.LoadUint32(p) }
func storeUint32(p *uint32, v uint32) { atomic.StoreUint32(p, v) }
func storeUint64(p *uint64, v uint64) { atomic.StoreUint64(p, v) }

func casUint32(p *uint32, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(p, old, new)
}

// decPending counts one trigger down and reports whether the peer is
// now runnable.
func decPending(s *activationState) bool {
	return atomic.AddUint32(&s.Pending, ^uint32(0)) == 0
}

// floatSlice views raw bytes as samples.
func floatSlice(data []byte, frames uint32) []float32 {
	n := int(frames)
	if max := len(data) / 4; n > max {
		n = max
	}
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), n)
}
