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

// Package jack implements the JACK client API as a native node of a
// PipeWire graph. The application links against this package instead of
// a JACK server connection; the graph server schedules it like any other
// node.
package jack

import (
	"errors"
	"fmt"
)

// Port type strings, bit-exact with the legacy API.
const (
	DEFAULT_AUDIO_TYPE = "32 bit float mono audio"
	DEFAULT_MIDI_TYPE  = "8 bit raw midi"
	DEFAULT_VIDEO_TYPE = "32 bit float RGBA video"
	OTHER_TYPE         = "other"
)

// Size limits of the legacy API.
const (
	ClientNameSize = 64
	PortNameSize   = ClientNameSize + 256
	PortTypeSize   = 32
)

// Internal capacities.
const (
	maxObjects      = 8192
	maxPorts        = 1024
	maxMix          = 4096
	maxBuffers      = 2
	maxBufferDatas  = 4
	maxBufferMems   = maxBufferDatas + 1
	maxBufferFrames = 8192
	maxAlign        = 16
	maxIO           = 32
	objectChunk     = 8
	maxConnections  = 1024

	defaultSampleRate   = 48000
	defaultBufferFrames = 1024
)

const invalidID = ^uint32(0)

// Direction of a port, matching the graph server's numbering.
type direction uint32

const (
	directionInput  direction = 0
	directionOutput direction = 1
)

// PortFlags describe a port.
type PortFlags uint64

const (
	PortIsInput    PortFlags = 1 << 0
	PortIsOutput   PortFlags = 1 << 1
	PortIsPhysical PortFlags = 1 << 2
	PortCanMonitor PortFlags = 1 << 3
	PortIsTerminal PortFlags = 1 << 4
	portIsControl  PortFlags = 1 << 5 // internal: control overrides type to MIDI
)

// Options for ClientOpen.
type Options int

const (
	NullOption    Options = 0
	NoStartServer Options = 1 << 0
	UseExactName  Options = 1 << 1
	ServerName    Options = 1 << 2
)

// Status bits reported by ClientOpen.
type Status int

const (
	Failure       Status = 0x01
	InvalidOption Status = 0x02
	NameNotUnique Status = 0x04
	ServerStarted Status = 0x08
	ServerFailed  Status = 0x10
	ServerError   Status = 0x20
	NoSuchClient  Status = 0x40
	LoadFailure   Status = 0x80
	InitFailure   Status = 0x100
	ShmFailure    Status = 0x200
	VersionError  Status = 0x400
)

// StrError renders a status bitfield.
func StrError(status Status) string {
	switch {
	case status == 0:
		return "success"
	case status&ServerFailed != 0:
		return "unable to connect to the server"
	case status&InitFailure != 0:
		return "unable to initialize client"
	case status&ShmFailure != 0:
		return "unable to access shared memory"
	case status&VersionError != 0:
		return "client protocol version mismatch"
	default:
		return fmt.Sprintf("error status 0x%x", int(status))
	}
}

// TransportState is the rolling state of the transport.
type TransportState int

const (
	TransportStopped  TransportState = 0
	TransportRolling  TransportState = 1
	TransportLooping  TransportState = 2
	TransportStarting TransportState = 3
)

func (s TransportState) String() string {
	switch s {
	case TransportStopped:
		return "stopped"
	case TransportRolling:
		return "rolling"
	case TransportLooping:
		return "looping"
	case TransportStarting:
		return "starting"
	}
	return "unknown"
}

// PositionBits mark which optional Position fields are valid.
type PositionBits uint32

const (
	PositionBBT      PositionBits = 0x10
	PositionTimecode PositionBits = 0x20
	BBTFrameOffset   PositionBits = 0x40
	AudioVideoRatio  PositionBits = 0x80
	VideoFrameOffset PositionBits = 0x100
)

// Position is the extended transport position of the legacy API.
type Position struct {
	unique1 uint64

	Usecs     uint64
	FrameRate uint32
	Frame     uint32
	Valid     PositionBits

	Bar            int32
	Beat           int32
	Tick           int32
	BarStartTick   float64
	BeatsPerBar    float32
	BeatType       float32
	TicksPerBeat   float64
	BeatsPerMinute float64

	FrameTime float64
	NextTime  float64

	BBTOffset uint32

	AudioFramesPerVideoFrame float32
	VideoOffset              uint32

	unique2 uint64
}

// LatencyCallbackMode selects which latency a callback recomputes.
type LatencyCallbackMode int

const (
	CaptureLatency  LatencyCallbackMode = 0
	PlaybackLatency LatencyCallbackMode = 1
)

// LatencyRange is a min/max pair in frames.
type LatencyRange struct {
	Min uint32
	Max uint32
}

// Callback types. A process callback returning non-zero is treated as
// failed for that cycle but does not stop the graph.
type (
	ProcessCallback            func(nframes uint32) int
	ThreadCallback             func()
	ThreadInitCallback         func()
	ShutdownCallback           func()
	InfoShutdownCallback       func(code Status, reason string)
	FreewheelCallback          func(starting bool)
	BufferSizeCallback         func(nframes uint32) int
	SampleRateCallback         func(nframes uint32) int
	ClientRegistrationCallback func(name string, registered bool)
	PortRegistrationCallback   func(port PortID, registered bool)
	PortConnectCallback        func(a, b PortID, connected bool)
	PortRenameCallback         func(port PortID, oldName, newName string)
	GraphOrderCallback         func() int
	XRunCallback               func() int
	LatencyCallback            func(mode LatencyCallbackMode)
	SyncCallback               func(state TransportState, pos *Position) bool
	TimebaseCallback           func(state TransportState, nframes uint32, pos *Position, newPos bool)
)

// PortID identifies a port object in the graph.
type PortID = uint32

// Errors surfaced by the API.
var (
	ErrNotSupported = errors.New("jack: operation not supported")
	ErrActive       = errors.New("jack: client is active")
	ErrInvalid      = errors.New("jack: invalid argument")
	ErrNotFound     = errors.New("jack: no such object")
	ErrExhausted    = errors.New("jack: resource pool exhausted")
	ErrBusy         = errors.New("jack: resource is busy")
	ErrIO           = errors.New("jack: no transport")
	ErrShutdown     = errors.New("jack: server connection lost")
)

var (
	errorFunction func(string)
	infoFunction  func(string)
)

// SetErrorFunction installs a process-wide hook that receives error
// messages in addition to the log.
func SetErrorFunction(fn func(string)) { errorFunction = fn }

// SetInfoFunction installs a process-wide hook for informational
// messages.
func SetInfoFunction(fn func(string)) { infoFunction = fn }

func reportError(msg string) {
	if errorFunction != nil {
		errorFunction(msg)
	}
}

func reportInfo(msg string) {
	if infoFunction != nil {
		infoFunction(msg)
	}
}

// Free releases a string or slice returned by the API. The legacy API
// hands out caller-freed allocations; here it exists for source
// compatibility and does nothing.
func Free(any) {}
