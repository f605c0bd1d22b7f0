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
	"strconv"

	"github.com/PipeWire/pipewire-jack/proto"
)

// coreEvents adapts *Client to the core event interface.
type coreEvents Client

func (e *coreEvents) Done(id uint32, seq int) {
	c := (*Client)(e)
	c.loop.Lock()
	if seq > c.lastSeq {
		c.lastSeq = seq
	}
	c.loop.Signal()
	c.loop.Unlock()
}

func (e *coreEvents) Ping(id uint32, seq int) {
	c := (*Client)(e)
	c.core.Pong(id, seq)
}

func (e *coreEvents) Error(id uint32, seq int, res int32, message string) {
	c := (*Client)(e)
	slog.Error(fmt.Sprintf("jack: %s: server error on %d: %d (%s)", c.name, id, res, message))
	reportError(message)
	c.loop.Lock()
	c.lastErr = fmt.Errorf("jack: server error %d: %s", res, message)
	c.loop.Signal()
	c.loop.Unlock()
}

func (e *coreEvents) RemoveID(id uint32) {
	c := (*Client)(e)
	c.conn.RemoveHandler(id)
}

func (e *coreEvents) BoundID(id, globalID uint32) {
	c := (*Client)(e)
	if c.node != nil && id == c.node.ID {
		c.loop.Lock()
		if c.nodeID == invalidID {
			c.nodeID = globalID
		}
		c.loop.Unlock()
	}
}

func (e *coreEvents) AddMem(id, typ uint32, fd int, flags uint32) {
	c := (*Client)(e)
	c.pool.AddBlock(id, typ, fd, flags)
}

func (e *coreEvents) RemoveMem(id uint32) {
	c := (*Client)(e)
	c.pool.RemoveBlock(id)
}

// registryEvents adapts *Client to the registry event interface. This is
// the only writer of the mirror.
type registryEvents Client

func parseIntProp(props map[string]string, key string) (int32, bool) {
	v, ok := props[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(n), true
}

func parseBoolProp(props map[string]string, key string) bool {
	switch props[key] {
	case "true", "1":
		return true
	}
	return false
}

func (e *registryEvents) Global(id, permissions uint32, typ string, version uint32, props map[string]string) {
	c := (*Client)(e)
	if props == nil {
		return
	}

	c.loop.Lock()
	var o *object
	switch typ {
	case proto.TypeNode:
		o = c.allocObject()
		name := props["node.description"]
		if name == "" {
			name = props["node.nick"]
		}
		if name == "" {
			name = props["node.name"]
		}
		if name == "" {
			name = "node"
		}
		o.typ = objNode
		o.node.name = fmt.Sprintf("%s/%d", name, id)
		if prio, ok := parseIntProp(props, "priority.master"); ok {
			o.node.priority = prio
		}
		slog.Debug(fmt.Sprintf("jack: %s: add node %d (%s)", c.name, id, o.node.name))
		c.context.nodes.append(o)

	case proto.TypePort:
		o = c.portGlobal(id, props)
		if o == nil {
			c.loop.Unlock()
			return
		}

	case proto.TypeLink:
		o = c.allocObject()
		o.typ = objLink
		src, okSrc := parseIntProp(props, "link.output.port")
		dst, okDst := parseIntProp(props, "link.input.port")
		if !okSrc || !okDst {
			c.freeObject(o)
			c.loop.Unlock()
			return
		}
		o.portLink.src = uint32(src)
		o.portLink.dst = uint32(dst)
		slog.Debug(fmt.Sprintf("jack: %s: add link %d %d->%d", c.name, id, src, dst))
		c.context.links.append(o)

	default:
		c.loop.Unlock()
		return
	}

	o.id = id
	o.removed = false
	c.context.globals.insert(id, o)

	// Registration callbacks run unlocked so they may call back into
	// the API.
	registration := c.registrationCallback
	portReg := c.portRegCallback
	connect := c.connectCallback
	c.loop.Unlock()

	switch o.typ {
	case objNode:
		if registration != nil {
			registration(o.node.name, true)
		}
	case objPort:
		if portReg != nil {
			portReg(o.id, true)
		}
	case objLink:
		if connect != nil {
			connect(o.portLink.src, o.portLink.dst, true)
		}
	}
}

// portGlobal digests a port global: flags, type, owner, latency
// defaults; a port we registered ourselves is matched by name and
// reused. Caller holds the lock.
func (c *Client) portGlobal(id uint32, props map[string]string) *object {
	typeID := stringToType(props["format.dsp"])
	if typeID == invalidID {
		typeID = stringToType(OTHER_TYPE)
	}
	nodeProp, ok := parseIntProp(props, "node.id")
	if !ok {
		return nil
	}
	nodeID := uint32(nodeProp)
	short, ok := props["port.name"]
	if !ok {
		return nil
	}

	var flags PortFlags
	switch props["port.direction"] {
	case "in":
		flags |= PortIsInput
	case "out":
		flags |= PortIsOutput
	}
	if parseBoolProp(props, "port.physical") {
		flags |= PortIsPhysical
	}
	if parseBoolProp(props, "port.terminal") {
		flags |= PortIsTerminal
	}
	if parseBoolProp(props, "port.control") {
		typeID = 1
	}

	var o *object
	if nodeID == c.nodeID {
		full := c.name + ":" + short
		if o = c.findPortObject(full); o != nil {
			slog.Debug(fmt.Sprintf("jack: %s: found our port %s", c.name, full))
		}
	}
	if o == nil {
		owner := c.context.globals.lookup(nodeID)
		if owner == nil || owner.typ != objNode {
			return nil
		}
		o = c.allocObject()
		o.typ = objPort
		o.port.name = owner.node.name + ":" + short
		o.port.portID = invalidID
		o.port.priority = owner.node.priority
		c.context.ports.append(o)
	}

	o.port.alias1 = props["object.path"]
	o.port.alias2 = props["port.alias"]
	o.port.flags = flags
	o.port.typeID = typeID
	o.port.nodeID = nodeID

	if flags&PortIsOutput != 0 {
		o.port.captureLatency = LatencyRange{Min: 1024, Max: 1024}
	} else {
		o.port.playbackLatency = LatencyRange{Min: 1024, Max: 1024}
	}
	slog.Debug(fmt.Sprintf("jack: %s: add port %d %s type:%d", c.name, id, o.port.name, typeID))
	return o
}

func (e *registryEvents) GlobalRemove(id uint32) {
	c := (*Client)(e)
	slog.Debug(fmt.Sprintf("jack: %s: removed %d", c.name, id))

	c.loop.Lock()
	o := c.context.globals.lookup(id)
	if o == nil || o.removed {
		c.loop.Unlock()
		return
	}
	registration := c.registrationCallback
	portReg := c.portRegCallback
	connect := c.connectCallback
	c.loop.Unlock()

	switch o.typ {
	case objNode:
		if registration != nil {
			registration(o.node.name, false)
		}
	case objPort:
		if portReg != nil {
			portReg(o.id, false)
		}
	case objLink:
		if connect != nil {
			connect(o.portLink.src, o.portLink.dst, false)
		}
	}

	// The handle must stay dereferenceable: tombstone the entry, keep
	// the map slot until the id is reborn.
	c.loop.Lock()
	c.freeObject(o)
	c.loop.Unlock()
}
