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
	"math"

	"github.com/PipeWire/pipewire-jack/pod"
)

// Self-advertised port parameters. The same four are emitted on
// port_register and again on every format change.

func paramEnumFormat(p *port) []byte {
	b := pod.NewBuilder()
	switch p.object.port.typeID {
	case 0:
		f := b.PushObject(pod.ObjectFormat, pod.ParamEnumFormat)
		b.Property(pod.FormatMediaType, 0)
		b.ID(pod.MediaTypeAudio)
		b.Property(pod.FormatMediaSubtype, 0)
		b.ID(pod.MediaSubtypeRaw)
		b.Property(pod.FormatAudioFormat, 0)
		b.ID(pod.AudioFormatF32P)
		b.Property(pod.FormatAudioRate, 0)
		b.ChoiceRangeInt(defaultSampleRate, 1, math.MaxInt32)
		b.Property(pod.FormatAudioChannels, 0)
		b.Int(1)
		b.Pop(f)
	case 1:
		f := b.PushObject(pod.ObjectFormat, pod.ParamEnumFormat)
		b.Property(pod.FormatMediaType, 0)
		b.ID(pod.MediaTypeApplication)
		b.Property(pod.FormatMediaSubtype, 0)
		b.ID(pod.MediaSubtypeControl)
		b.Pop(f)
	case 2:
		f := b.PushObject(pod.ObjectFormat, pod.ParamEnumFormat)
		b.Property(pod.FormatMediaType, 0)
		b.ID(pod.MediaTypeVideo)
		b.Property(pod.FormatMediaSubtype, 0)
		b.ID(pod.MediaSubtypeRaw)
		b.Property(pod.FormatVideoFormat, 0)
		b.ID(pod.VideoFormatRGBAF32)
		b.Property(pod.FormatVideoSize, 0)
		b.ChoiceRangeRectangle(
			pod.Rectangle{Width: 320, Height: 240},
			pod.Rectangle{Width: 1, Height: 1},
			pod.Rectangle{Width: math.MaxInt32, Height: math.MaxInt32})
		b.Property(pod.FormatVideoFramerate, 0)
		b.ChoiceRangeFraction(
			pod.Fraction{Num: 25, Denom: 1},
			pod.Fraction{Num: 0, Denom: 1},
			pod.Fraction{Num: math.MaxInt32, Denom: 1})
		b.Pop(f)
	default:
		return nil
	}
	return b.Bytes()
}

func paramFormat(p *port) []byte {
	b := pod.NewBuilder()
	switch p.object.port.typeID {
	case 0:
		f := b.PushObject(pod.ObjectFormat, pod.ParamFormat)
		b.Property(pod.FormatMediaType, 0)
		b.ID(pod.MediaTypeAudio)
		b.Property(pod.FormatMediaSubtype, 0)
		b.ID(pod.MediaSubtypeRaw)
		b.Property(pod.FormatAudioFormat, 0)
		b.ID(pod.AudioFormatF32P)
		b.Property(pod.FormatAudioRate, 0)
		if p.haveFormat {
			b.Int(int32(p.rate))
		} else {
			b.ChoiceRangeInt(defaultSampleRate, 1, math.MaxInt32)
		}
		b.Property(pod.FormatAudioChannels, 0)
		b.Int(1)
		b.Property(pod.FormatAudioPosition, 0)
		b.IDArray([]uint32{pod.AudioChannelMono})
		b.Pop(f)
	case 1:
		f := b.PushObject(pod.ObjectFormat, pod.ParamFormat)
		b.Property(pod.FormatMediaType, 0)
		b.ID(pod.MediaTypeApplication)
		b.Property(pod.FormatMediaSubtype, 0)
		b.ID(pod.MediaSubtypeControl)
		b.Pop(f)
	case 2:
		f := b.PushObject(pod.ObjectFormat, pod.ParamFormat)
		b.Property(pod.FormatMediaType, 0)
		b.ID(pod.MediaTypeVideo)
		b.Property(pod.FormatMediaSubtype, 0)
		b.ID(pod.MediaSubtypeRaw)
		b.Property(pod.FormatVideoFormat, 0)
		b.ID(pod.VideoFormatRGBAF32)
		b.Pop(f)
	default:
		return nil
	}
	return b.Bytes()
}

func paramBuffers(p *port) []byte {
	b := pod.NewBuilder()
	switch p.object.port.typeID {
	case 0, 1:
		f := b.PushObject(pod.ObjectParamBuffers, pod.ParamBuffers)
		b.Property(pod.ParamBuffersBuffers, 0)
		b.ChoiceRangeInt(1, 1, maxBuffers)
		b.Property(pod.ParamBuffersBlocks, 0)
		b.Int(1)
		b.Property(pod.ParamBuffersSize, 0)
		b.ChoiceStepInt(maxBufferFrames*4, 4, maxBufferFrames*4, 4)
		b.Property(pod.ParamBuffersStride, 0)
		b.Int(4)
		b.Property(pod.ParamBuffersAlign, 0)
		b.Int(maxAlign)
		b.Pop(f)
	case 2:
		f := b.PushObject(pod.ObjectParamBuffers, pod.ParamBuffers)
		b.Property(pod.ParamBuffersBuffers, 0)
		b.ChoiceRangeInt(1, 1, maxBuffers)
		b.Property(pod.ParamBuffersBlocks, 0)
		b.Int(1)
		b.Property(pod.ParamBuffersSize, 0)
		b.ChoiceRangeInt(320*240*4*4, 0, math.MaxInt32)
		b.Property(pod.ParamBuffersStride, 0)
		b.ChoiceRangeInt(4, 4, math.MaxInt32)
		b.Property(pod.ParamBuffersAlign, 0)
		b.Int(maxAlign)
		b.Pop(f)
	default:
		return nil
	}
	return b.Bytes()
}

func paramIO(p *port) []byte {
	b := pod.NewBuilder()
	f := b.PushObject(pod.ObjectParamIO, pod.ParamIO)
	b.Property(pod.ParamIOID, 0)
	b.ID(pod.IOBuffers)
	b.Property(pod.ParamIOSize, 0)
	b.Int(int32(sizeofIOBuffers))
	b.Pop(f)
	return b.Bytes()
}

// portParams assembles the full advertised table.
func portParams(p *port) [][]byte {
	return [][]byte{
		paramEnumFormat(p),
		paramFormat(p),
		paramBuffers(p),
		paramIO(p),
	}
}
