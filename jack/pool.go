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
	"unsafe"

	"github.com/PipeWire/pipewire-jack/mem"
)

// Fixed-capacity slabs for ports, mixes and buffers. Everything here is
// preallocated at open; the free lists are popped and pushed under the
// thread-loop lock and nothing blocks or touches the OS.

// buffer flags.
const (
	bufferFlagOut    = 1 << 0 // held by the application or the server
	bufferFlagMapped = 1 << 1
)

// bufferData is one mapped data plane.
type bufferData struct {
	typ     uint32
	data    []byte
	chunk   *chunk
	maxSize uint32
}

// buffer is one negotiated buffer of a mix.
type buffer struct {
	next  *buffer
	id    uint32
	flags uint32

	datas  [maxBufferDatas]bufferData
	nDatas uint32

	mems [maxBufferMems]*mem.Map
	nMem int
}

// bufferQueue is the free-for-write list of an output mix.
type bufferQueue struct {
	head, tail *buffer
	n          int
}

func (q *bufferQueue) push(b *buffer) {
	b.next = nil
	if q.tail != nil {
		q.tail.next = b
	} else {
		q.head = b
	}
	q.tail = b
	q.n++
}

func (q *bufferQueue) pop() *buffer {
	b := q.head
	if b == nil {
		return nil
	}
	q.head = b.next
	if q.head == nil {
		q.tail = nil
	}
	b.next = nil
	q.n--
	return b
}

func (q *bufferQueue) clear() {
	q.head = nil
	q.tail = nil
	q.n = 0
}

// mix is one peer's buffer flow into or out of a port. The id invalidID
// designates the port's own output mix.
type mix struct {
	next, prev *mix
	onFree     bool

	id   uint32
	port *port

	io    *ioBuffers
	ioMap *mem.Map

	buffers  [maxBuffers]buffer
	nBuffers uint32
	queue    bufferQueue
}

// mixList threads mixes either on the client free list or on a port.
type mixList struct {
	head, tail *mix
}

func (l *mixList) append(m *mix) {
	m.prev = l.tail
	m.next = nil
	if l.tail != nil {
		l.tail.next = m
	} else {
		l.head = m
	}
	l.tail = m
}

func (l *mixList) remove(m *mix) {
	if m.prev != nil {
		m.prev.next = m.next
	} else {
		l.head = m.next
	}
	if m.next != nil {
		m.next.prev = m.prev
	} else {
		l.tail = m.prev
	}
	m.next = nil
	m.prev = nil
}

func (l *mixList) empty() bool { return l.head == nil }

// port is one locally owned port slot. The empty buffer doubles as the
// silence source, the mix-sum scratch area and the legacy MIDI buffer.
type port struct {
	valid     bool
	next, prev *port

	client    *Client
	direction direction
	id        uint32
	object    *Port

	io    ioBuffers
	mixes mixList

	haveFormat bool
	rate       uint32

	zeroed     bool
	empty      []byte
	emptyFloat []float32
	midi       MidiBuffer
}

type portList struct {
	head, tail *port
}

func (l *portList) append(p *port) {
	p.prev = l.tail
	p.next = nil
	if l.tail != nil {
		l.tail.next = p
	} else {
		l.head = p
	}
	l.tail = p
}

func (l *portList) remove(p *port) {
	if p.prev != nil {
		p.prev.next = p.next
	} else {
		l.head = p.next
	}
	if p.next != nil {
		p.next.prev = p.prev
	} else {
		l.tail = p.prev
	}
	p.next = nil
	p.prev = nil
}

func (l *portList) empty() bool { return l.head == nil }

// initPortPool prepares one direction's slab with aligned empty buffers.
func (c *Client) initPortPool(dir direction) {
	for i := range c.portPool[dir] {
		p := &c.portPool[dir][i]
		p.direction = dir
		p.id = uint32(i)
		raw := make([]byte, maxBufferFrames*4+maxAlign)
		off := maxAlign - int(uintptr(unsafe.Pointer(&raw[0]))&(maxAlign-1))
		if off == maxAlign {
			off = 0
		}
		p.empty = raw[off : off+maxBufferFrames*4]
		p.emptyFloat = floatSlice(p.empty, maxBufferFrames)
		c.freePorts[dir].append(p)
	}
}

// initMixPool chains every mix slot onto the free list.
func (c *Client) initMixPool() {
	for i := range c.mixPool {
		m := &c.mixPool[i]
		m.onFree = true
		c.freeMix.append(m)
	}
}

// allocPort takes a free slot and pairs it with a fresh registry object.
func (c *Client) allocPort(dir direction) *port {
	if c.freePorts[dir].empty() {
		return nil
	}
	p := c.freePorts[dir].head
	c.freePorts[dir].remove(p)

	o := c.allocObject()
	o.typ = objPort
	o.id = invalidID
	o.port.nodeID = c.nodeID
	o.port.portID = p.id
	c.context.ports.append(o)

	p.valid = true
	p.zeroed = false
	p.client = c
	p.object = o
	p.haveFormat = false
	p.rate = 0
	p.io = ioBuffers{Status: statusPipe, BufferID: invalidID}
	p.mixes = mixList{}
	c.ports[dir].append(p)
	return p
}

// freePort releases every mix, the registry object and the slot.
func (c *Client) freePort(p *port) {
	if !p.valid {
		return
	}
	for m := p.mixes.head; m != nil; {
		next := m.next
		c.freeMix_(m)
		m = next
	}
	c.ports[p.direction].remove(p)
	p.valid = false
	c.freeObject(p.object)
	p.object = nil
	// Push the slot back at the head so the next allocPort reuses it.
	free := &c.freePorts[p.direction]
	p.prev = nil
	p.next = free.head
	if free.head != nil {
		free.head.prev = p
	} else {
		free.tail = p
	}
	free.head = p
}

// findMix looks a mix id up on a port.
func (c *Client) findMix(p *port, mixID uint32) *mix {
	for m := p.mixes.head; m != nil; m = m.next {
		if m.id == mixID {
			return m
		}
	}
	return nil
}

// ensureMix finds or lazily allocates the mix for mixID.
func (c *Client) ensureMix(p *port, mixID uint32) *mix {
	if m := c.findMix(p, mixID); m != nil {
		return m
	}
	if c.freeMix.empty() {
		return nil
	}
	m := c.freeMix.head
	c.freeMix.remove(m)
	m.onFree = false

	m.id = mixID
	m.port = p
	m.io = nil
	m.ioMap = nil
	m.nBuffers = 0
	m.queue.clear()
	p.mixes.append(m)
	return m
}

// freeMix_ returns a mix to the pool; buffers must have been cleared by
// the caller or are dropped with their mappings.
func (c *Client) freeMix_(m *mix) {
	c.clearBuffers(m)
	if m.ioMap != nil {
		m.ioMap.Free()
		m.ioMap = nil
	}
	m.io = nil
	m.port.mixes.remove(m)
	m.port = nil
	m.onFree = true
	c.freeMix.append(m)
}

// getPort resolves a slab reference, nil when out of range.
func (c *Client) getPort(dir direction, id uint32) *port {
	if dir > directionOutput || id >= maxPorts {
		return nil
	}
	return &c.portPool[dir][id]
}

// reuseBuffer puts a returned buffer back on its mix queue.
func reuseBuffer(m *mix, id uint32) {
	if id >= m.nBuffers {
		return
	}
	b := &m.buffers[id]
	if b.flags&bufferFlagOut != 0 {
		m.queue.push(b)
		b.flags &^= bufferFlagOut
	}
}

// dequeueBuffer takes the next writable buffer of a mix.
func dequeueBuffer(m *mix) *buffer {
	b := m.queue.pop()
	if b != nil {
		b.flags |= bufferFlagOut
	}
	return b
}
