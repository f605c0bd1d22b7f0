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

type objType uint32

const (
	objInvalid objType = iota
	objNode
	objPort
	objLink
)

// Port is a handle to one object of the registry mirror. Despite the
// name it stands for nodes and links too: the legacy API hands out the
// same opaque pointer for everything and only the port accessors are
// public. Handles stay dereferenceable after the object is removed from
// the graph; the entry is tombstoned until the server reuses its id.
type Port struct {
	list       *objectList
	next, prev *Port

	client  *Client
	typ     objType
	id      uint32
	removed bool

	node     nodeData
	portLink linkData
	port     portData
}

// object is the internal name for the same thing.
type object = Port

type nodeData struct {
	name     string
	priority int32
}

type linkData struct {
	src uint32
	dst uint32
}

type portData struct {
	flags           PortFlags
	name            string
	alias1          string
	alias2          string
	typeID          uint32
	nodeID          uint32
	portID          uint32 // local slab index, invalidID for foreign ports
	monitorRequests uint32
	captureLatency  LatencyRange
	playbackLatency LatencyRange
	priority        int32
}

// objectList is a doubly linked list threaded through the objects
// themselves; an object is on at most one list at a time.
type objectList struct {
	head, tail *Port
}

func (l *objectList) append(o *Port) {
	o.list = l
	o.prev = l.tail
	o.next = nil
	if l.tail != nil {
		l.tail.next = o
	} else {
		l.head = o
	}
	l.tail = o
}

func (l *objectList) remove(o *Port) {
	if o.list != l {
		return
	}
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		l.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		l.tail = o.prev
	}
	o.list = nil
	o.next = nil
	o.prev = nil
}

func (l *objectList) empty() bool { return l.head == nil }

// allocObject pops a free object, growing the pool by a chunk when dry.
// Chunks are never returned to the allocator for the process lifetime.
func (c *Client) allocObject() *Port {
	ctx := &c.context
	if ctx.freeObjects.empty() {
		chunk := make([]Port, objectChunk)
		for i := range chunk {
			ctx.freeObjects.append(&chunk[i])
		}
	}
	o := ctx.freeObjects.head
	ctx.freeObjects.remove(o)
	*o = Port{client: c}
	return o
}

// freeObject tombstones o and parks it on the free list. Its id stays
// resolvable in the map until a new global claims the same id.
func (c *Client) freeObject(o *Port) {
	if o.list != nil {
		o.list.remove(o)
	}
	o.removed = true
	c.context.freeObjects.append(o)
}

// idMap is the dense id→object table. It grows lazily and never
// shrinks; a removed object stays in its slot until overwritten.
type idMap struct {
	slots []*Port
}

func (m *idMap) insert(id uint32, o *Port) {
	for uint32(len(m.slots)) <= id {
		m.slots = append(m.slots, nil)
	}
	m.slots[id] = o
}

func (m *idMap) lookup(id uint32) *Port {
	if id < uint32(len(m.slots)) {
		return m.slots[id]
	}
	return nil
}

// findPortObject resolves a full port name in the mirror.
func (c *Client) findPortObject(name string) *Port {
	for o := c.context.ports.head; o != nil; o = o.next {
		if !o.removed && o.port.name == name {
			return o
		}
	}
	return nil
}

// findLinkObject resolves a link by its endpoint port ids.
func (c *Client) findLinkObject(src, dst uint32) *Port {
	for o := c.context.links.head; o != nil; o = o.next {
		if !o.removed && o.portLink.src == src && o.portLink.dst == dst {
			return o
		}
	}
	return nil
}

// findNodeByName resolves a node by display name.
func (c *Client) findNodeByName(name string) *Port {
	for o := c.context.nodes.head; o != nil; o = o.next {
		if !o.removed && o.node.name == name {
			return o
		}
	}
	return nil
}

func stringToType(portType string) uint32 {
	switch portType {
	case DEFAULT_AUDIO_TYPE:
		return 0
	case DEFAULT_MIDI_TYPE:
		return 1
	case DEFAULT_VIDEO_TYPE:
		return 2
	case OTHER_TYPE:
		return 3
	}
	return invalidID
}

func typeToString(typeID uint32) string {
	switch typeID {
	case 0:
		return DEFAULT_AUDIO_TYPE
	case 1:
		return DEFAULT_MIDI_TYPE
	case 2:
		return DEFAULT_VIDEO_TYPE
	case 3:
		return OTHER_TYPE
	}
	return ""
}
