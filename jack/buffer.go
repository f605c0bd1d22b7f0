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

	"golang.org/x/sys/cpu"

	"github.com/PipeWire/pipewire-jack/pod"
)

// mix2Func sums two sample streams into dst. dst may alias src1. The
// realtime path calls this once per extra input mix; neither variant
// allocates or branches per sample.
type mix2Func func(dst, src1, src2 []float32)

var mix2 mix2Func = mix2Scalar

func init() {
	// The wide path relies on the compiler vectorising the 4-way
	// unrolled loop; keep it to machines where that pays off.
	if cpu.X86.HasAVX2 {
		mix2 = mix2Wide
	}
}

func mix2Scalar(dst, src1, src2 []float32) {
	for i := range dst {
		dst[i] = src1[i] + src2[i]
	}
}

func mix2Wide(dst, src1, src2 []float32) {
	n := len(dst) &^ 3
	for i := 0; i < n; i += 4 {
		d := dst[i : i+4 : i+4]
		a := src1[i : i+4 : i+4]
		b := src2[i : i+4 : i+4]
		d[0] = a[0] + b[0]
		d[1] = a[1] + b[1]
		d[2] = a[2] + b[2]
		d[3] = a[3] + b[3]
	}
	for i := n; i < len(dst); i++ {
		dst[i] = src1[i] + src2[i]
	}
}

// getBufferInputFloat walks the input mixes: the first valid one is
// returned zero-copy, every further one is summed into the port's
// scratch buffer which then becomes the result.
func (c *Client) getBufferInputFloat(p *port, frames uint32) []float32 {
	var ptr []float32
	layer := 0
	for m := p.mixes.head; m != nil; m = m.next {
		io := m.io
		if io == nil || io.BufferID >= m.nBuffers {
			continue
		}
		io.Status = statusNeedData
		b := &m.buffers[io.BufferID]
		data := floatSlice(b.datas[0].data, frames)
		if data == nil {
			continue
		}
		if layer == 0 {
			ptr = data
		} else {
			dst := p.emptyFloat[:frames]
			mix2(dst, ptr, data)
			ptr = dst
			p.zeroed = false
		}
		layer++
	}
	return ptr
}

// getBufferInputMidi merges every connected sequence into the port's
// legacy MIDI buffer.
func (c *Client) getBufferInputMidi(p *port, frames uint32) *MidiBuffer {
	p.midi = MidiBuffer{data: p.empty}
	initMidiBuffer(p.empty, maxBufferFrames)

	seqs := c.seqScratch[:0]
	for m := p.mixes.head; m != nil; m = m.next {
		io := m.io
		if io == nil || io.BufferID >= m.nBuffers {
			continue
		}
		io.Status = statusNeedData
		d := &m.buffers[io.BufferID].datas[0]
		if d.data == nil || d.chunk == nil {
			continue
		}
		pp, err := pod.FromData(d.data, d.chunk.Offset, d.chunk.Size)
		if err != nil || !pp.IsSequence() {
			continue
		}
		seq, err := pp.AsSequence()
		if err != nil {
			continue
		}
		if len(seqs) < maxConnections {
			seqs = append(seqs, seq)
		}
	}
	convertToMidi(&c.midiMerge, seqs, &p.midi)
	c.seqScratch = seqs[:0]
	return &p.midi
}

// getBufferOutput dequeues a writable buffer from the port's own mix,
// stamps its chunk, and fans the port's io out to every reader mix (the
// tee).
func (c *Client) getBufferOutput(p *port, frames, stride uint32) []byte {
	var ptr []byte

	p.io.Status = statusPipe
	p.io.BufferID = invalidID

	if m := c.findMix(p, invalidID); m != nil && m.nBuffers > 0 {
		if b := dequeueBuffer(m); b == nil {
			slog.Warn(fmt.Sprintf("jack: port %d: out of buffers", p.id))
		} else {
			reuseBuffer(m, b.id)
			d := &b.datas[0]
			ptr = d.data
			if d.chunk != nil {
				d.chunk.Offset = 0
				d.chunk.Size = frames * 4
				d.chunk.Stride = int32(stride)
			}
			p.io.Status = statusHaveData
			p.io.BufferID = b.id
		}
	}

	for m := p.mixes.head; m != nil; m = m.next {
		if m.io != nil {
			*m.io = p.io
		}
	}
	return ptr
}

func (c *Client) getBufferOutputFloat(p *port, frames uint32) []float32 {
	ptr := c.getBufferOutput(p, frames, 4)
	if ptr == nil {
		return nil
	}
	return floatSlice(ptr, frames)
}

// GetBuffer returns the sample buffer of an audio or video port for the
// current cycle. Input buffers are mixed from all connected peers;
// output buffers come from the port's buffer queue and writes to them
// reach the graph without a copy.
func (o *Port) GetBuffer(frames uint32) []float32 {
	p := o.localPort()
	if p == nil {
		return nil
	}
	c := p.client
	var ptr []float32
	if p.direction == directionInput {
		ptr = c.getBufferInputFloat(p, frames)
		if ptr == nil {
			if !p.zeroed {
				initBuffer(p)
				p.zeroed = true
			}
			ptr = p.emptyFloat[:frames]
		}
	} else {
		ptr = c.getBufferOutputFloat(p, frames)
		if ptr == nil {
			// Nowhere to write; the application's output is dropped.
			ptr = p.emptyFloat[:frames]
		}
	}
	return ptr
}

// GetMidiBuffer returns the event buffer of a MIDI port for the current
// cycle. For output ports the events are published at cycle end.
func (o *Port) GetMidiBuffer(frames uint32) *MidiBuffer {
	p := o.localPort()
	if p == nil {
		return nil
	}
	c := p.client
	if p.direction == directionInput {
		return c.getBufferInputMidi(p, frames)
	}
	if !p.zeroed {
		initBuffer(p)
		p.zeroed = true
	}
	p.midi = MidiBuffer{data: p.empty}
	return &p.midi
}

// localPort resolves the handle to the owned slab entry, nil for
// foreign ports.
func (o *Port) localPort() *port {
	if o == nil || o.typ != objPort || o.port.portID == invalidID || o.client == nil {
		return nil
	}
	dir := directionInput
	if o.port.flags&PortIsOutput != 0 {
		dir = directionOutput
	}
	p := o.client.getPort(dir, o.port.portID)
	if p == nil || !p.valid {
		return nil
	}
	return p
}

// processTee converts every output MIDI port's staged events into its
// dequeued server buffer and mirrors the port io to all readers.
func (c *Client) processTee() {
	for p := c.ports[directionOutput].head; p != nil; p = p.next {
		if p.object == nil || p.object.port.typeID != 1 {
			continue
		}
		ptr := c.getBufferOutput(p, maxBufferFrames, 1)
		if ptr != nil {
			mb := MidiBuffer{data: p.empty}
			convertFromMidi(&mb, ptr)
		}
	}
}
