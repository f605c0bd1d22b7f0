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

// Package pod implements the graph server's typed value encoding. Every
// value is a (size, type) header followed by a body padded to 8 bytes.
// Containers (structs, objects, sequences, choices) nest plain values.
package pod

import (
	"encoding/binary"

	"golang.org/x/exp/constraints"
)

// Value types.
const (
	TypeNone      uint32 = 1
	TypeBool      uint32 = 2
	TypeID        uint32 = 3
	TypeInt       uint32 = 4
	TypeLong      uint32 = 5
	TypeFloat     uint32 = 6
	TypeDouble    uint32 = 7
	TypeString    uint32 = 8
	TypeBytes     uint32 = 9
	TypeRectangle uint32 = 10
	TypeFraction  uint32 = 11
	TypeBitmap    uint32 = 12
	TypeArray     uint32 = 13
	TypeStruct    uint32 = 14
	TypeObject    uint32 = 15
	TypeSequence  uint32 = 16
	TypePointer   uint32 = 17
	TypeFd        uint32 = 18
	TypeChoice    uint32 = 19
	TypePod       uint32 = 20
)

// Choice kinds.
const (
	ChoiceNone  uint32 = 0
	ChoiceRange uint32 = 1
	ChoiceStep  uint32 = 2
	ChoiceEnum  uint32 = 3
	ChoiceFlags uint32 = 4
)

// Control types carried in sequences.
const (
	ControlInvalid    uint32 = 0
	ControlProperties uint32 = 1
	ControlMidi       uint32 = 2
	ControlOSC        uint32 = 3
)

// Object types.
const (
	ObjectFormat       uint32 = 0x40003
	ObjectParamBuffers uint32 = 0x40004
	ObjectParamMeta    uint32 = 0x40005
	ObjectParamIO      uint32 = 0x40006
)

// Param ids advertised per port.
const (
	ParamInvalid    uint32 = 0
	ParamPropInfo   uint32 = 1
	ParamProps      uint32 = 2
	ParamEnumFormat uint32 = 3
	ParamFormat     uint32 = 4
	ParamBuffers    uint32 = 5
	ParamMeta       uint32 = 6
	ParamIO         uint32 = 7
)

// Format object keys.
const (
	FormatMediaType    uint32 = 1
	FormatMediaSubtype uint32 = 2

	FormatAudioFormat   uint32 = 0x10001
	FormatAudioFlags    uint32 = 0x10002
	FormatAudioRate     uint32 = 0x10003
	FormatAudioChannels uint32 = 0x10004
	FormatAudioPosition uint32 = 0x10005

	FormatVideoFormat    uint32 = 0x20001
	FormatVideoSize      uint32 = 0x20003
	FormatVideoFramerate uint32 = 0x20004
)

// Media types and subtypes.
const (
	MediaTypeAudio       uint32 = 1
	MediaTypeVideo       uint32 = 2
	MediaTypeApplication uint32 = 6

	MediaSubtypeRaw     uint32 = 1
	MediaSubtypeControl uint32 = 0x60001
)

// Concrete sample and pixel formats.
const (
	AudioFormatF32P    uint32 = 0x12d
	VideoFormatRGBAF32 uint32 = 0x132

	AudioChannelMono uint32 = 1
)

// ParamBuffers object keys.
const (
	ParamBuffersBuffers uint32 = 1
	ParamBuffersBlocks  uint32 = 2
	ParamBuffersSize    uint32 = 3
	ParamBuffersStride  uint32 = 4
	ParamBuffersAlign   uint32 = 5
)

// ParamIO object keys.
const (
	ParamIOID   uint32 = 1
	ParamIOSize uint32 = 2
)

// IO area ids.
const (
	IOInvalid  uint32 = 0
	IOBuffers  uint32 = 1
	IOClock    uint32 = 3
	IOPosition uint32 = 7
)

// Buffer data plane types.
const (
	DataInvalid uint32 = 0
	DataMemPtr  uint32 = 1
	DataMemFd   uint32 = 2
	DataDmaBuf  uint32 = 3
	DataMemID   uint32 = 4
)

const InvalidID = ^uint32(0)

var le = binary.LittleEndian

// RoundUp rounds v up to the next multiple of n, which must be a power of
// two.
func RoundUp[T constraints.Integer](v, n T) T {
	return (v + n - 1) &^ (n - 1)
}

// Fraction is a rational value, also used as a rate (num/denom).
type Fraction struct {
	Num   uint32
	Denom uint32
}

// Rectangle is a width/height pair.
type Rectangle struct {
	Width  uint32
	Height uint32
}
