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

package proto

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/PipeWire/pipewire-jack/pod"
)

// reader walks the fields of a struct payload in order. The first decode
// error sticks and poisons all later reads.
type reader struct {
	it  *pod.FieldIter
	fds []int
	err error
}

func newReader(data []byte, fds []int) *reader {
	p, _, err := pod.Parse(data)
	if err != nil {
		return &reader{err: err}
	}
	it, err := p.Fields()
	if err != nil {
		return &reader{err: err}
	}
	return &reader{it: it, fds: fds}
}

func (r *reader) pod() pod.Pod {
	var p pod.Pod
	if r.err != nil {
		return p
	}
	if !r.it.Next(&p) {
		r.err = errShortMessage
	}
	return p
}

func (r *reader) int() int32 {
	v, err := r.pod().Int()
	if r.err == nil && err != nil {
		r.err = err
	}
	return v
}

func (r *reader) uint() uint32 { return uint32(r.int()) }

func (r *reader) long() uint64 {
	v, err := r.pod().Long()
	if r.err == nil && err != nil {
		r.err = err
	}
	return uint64(v)
}

func (r *reader) string() string {
	v, err := r.pod().String()
	if r.err == nil && err != nil {
		r.err = err
	}
	return v
}

// fd resolves an fd-cache index pod against the message's fd list.
func (r *reader) fd() int {
	idx, err := r.pod().Fd()
	if r.err == nil && err != nil {
		r.err = err
	}
	if r.err != nil || idx < 0 || int(idx) >= len(r.fds) {
		return -1
	}
	return r.fds[idx]
}

func (r *reader) dict() map[string]string {
	n := r.int()
	if r.err != nil || n <= 0 {
		return nil
	}
	props := make(map[string]string, n)
	for i := int32(0); i < n; i++ {
		k := r.string()
		v := r.string()
		if r.err != nil {
			return props
		}
		props[k] = v
	}
	return props
}

func buildDict(b *pod.Builder, props map[string]string) {
	b.Int(int32(len(props)))
	for k, v := range props {
		b.String(k)
		b.String(v)
	}
}

// Core is the proxy for the server core object.
type Core struct {
	conn   *Conn
	events CoreEvents
}

// NewCore attaches the core proxy and its event route.
func NewCore(conn *Conn, events CoreEvents) *Core {
	core := &Core{conn: conn, events: events}
	conn.AddHandler(CoreID, core.handle)
	return core
}

// Hello announces the client to the server.
func (c *Core) Hello(version uint32) error {
	b := pod.NewBuilder()
	f := b.PushStruct()
	b.Int(int32(version))
	b.Pop(f)
	return c.conn.Send(CoreID, coreMethodHello, b.Bytes(), nil)
}

// Sync asks the server to echo seq back on proxy id once all prior
// methods have been processed.
func (c *Core) Sync(id uint32, seq int) error {
	b := pod.NewBuilder()
	f := b.PushStruct()
	b.Int(int32(id))
	b.Int(int32(seq))
	b.Pop(f)
	return c.conn.Send(CoreID, coreMethodSync, b.Bytes(), nil)
}

// Pong answers a Ping.
func (c *Core) Pong(id uint32, seq int) error {
	b := pod.NewBuilder()
	f := b.PushStruct()
	b.Int(int32(id))
	b.Int(int32(seq))
	b.Pop(f)
	return c.conn.Send(CoreID, coreMethodPong, b.Bytes(), nil)
}

// Error reports a proxy-side failure back to the server.
func (c *Core) Error(id uint32, seq int, res int32, message string) error {
	b := pod.NewBuilder()
	f := b.PushStruct()
	b.Int(int32(id))
	b.Int(int32(seq))
	b.Int(res)
	b.String(message)
	b.Pop(f)
	return c.conn.Send(CoreID, coreMethodError, b.Bytes(), nil)
}

// GetRegistry binds the registry and returns its proxy.
func (c *Core) GetRegistry(events RegistryEvents) (*Registry, error) {
	id := c.conn.NewID()
	b := pod.NewBuilder()
	f := b.PushStruct()
	b.Int(int32(VersionRegistry))
	b.Int(int32(id))
	b.Pop(f)
	if err := c.conn.Send(CoreID, coreMethodGetRegistry, b.Bytes(), nil); err != nil {
		return nil, err
	}
	reg := &Registry{conn: c.conn, ID: id, events: events}
	c.conn.AddHandler(id, reg.handle)
	return reg, nil
}

// CreateObject asks a server factory for a new object bound to a fresh
// proxy id, which is returned.
func (c *Core) CreateObject(factory, typ string, version uint32, props map[string]string) (uint32, error) {
	id := c.conn.NewID()
	b := pod.NewBuilder()
	f := b.PushStruct()
	b.String(factory)
	b.String(typ)
	b.Int(int32(version))
	buildDict(b, props)
	b.Int(int32(id))
	b.Pop(f)
	if err := c.conn.Send(CoreID, coreMethodCreateObject, b.Bytes(), nil); err != nil {
		return 0, err
	}
	return id, nil
}

// Destroy releases the object behind a proxy id.
func (c *Core) Destroy(id uint32) error {
	b := pod.NewBuilder()
	f := b.PushStruct()
	b.Int(int32(id))
	b.Pop(f)
	return c.conn.Send(CoreID, coreMethodDestroy, b.Bytes(), nil)
}

func (c *Core) handle(msg *Message) {
	r := newReader(msg.Data, msg.Fds)
	switch msg.Opcode {
	case coreEventInfo:
		// Server info is not consumed; the registry drives the mirror.
	case coreEventDone:
		id := r.uint()
		seq := r.int()
		if r.err == nil {
			c.events.Done(id, int(seq))
		}
	case coreEventPing:
		id := r.uint()
		seq := r.int()
		if r.err == nil {
			c.events.Ping(id, int(seq))
		}
	case coreEventError:
		id := r.uint()
		seq := r.int()
		res := r.int()
		message := r.string()
		if r.err == nil {
			c.events.Error(id, int(seq), res, message)
		}
	case coreEventRemoveID:
		if id := r.uint(); r.err == nil {
			c.events.RemoveID(id)
		}
	case coreEventBoundID:
		id := r.uint()
		global := r.uint()
		if r.err == nil {
			c.events.BoundID(id, global)
		}
	case coreEventAddMem:
		id := r.uint()
		typ := r.uint()
		fd := r.fd()
		flags := r.uint()
		if r.err == nil {
			c.events.AddMem(id, typ, fd, flags)
		}
	case coreEventRemoveMem:
		if id := r.uint(); r.err == nil {
			c.events.RemoveMem(id)
		}
	default:
		slog.Debug(fmt.Sprintf("proto: core event %d ignored", msg.Opcode))
	}
	if r.err != nil {
		slog.Warn(fmt.Sprintf("proto: core event %d: %v", msg.Opcode, r.err))
	}
}

// Registry is the proxy for the server registry.
type Registry struct {
	conn   *Conn
	ID     uint32
	events RegistryEvents
}

// Destroy asks the server to remove the global behind id; disconnect
// uses this on link globals.
func (reg *Registry) Destroy(id uint32) error {
	b := pod.NewBuilder()
	f := b.PushStruct()
	b.Int(int32(id))
	b.Pop(f)
	return reg.conn.Send(reg.ID, registryMethodDestroy, b.Bytes(), nil)
}

func (reg *Registry) handle(msg *Message) {
	r := newReader(msg.Data, msg.Fds)
	switch msg.Opcode {
	case registryEventGlobal:
		id := r.uint()
		permissions := r.uint()
		typ := r.string()
		version := r.uint()
		props := r.dict()
		if r.err == nil {
			reg.events.Global(id, permissions, typ, version, props)
		}
	case registryEventGlobalRemove:
		if id := r.uint(); r.err == nil {
			reg.events.GlobalRemove(id)
		}
	}
	if r.err != nil {
		slog.Warn(fmt.Sprintf("proto: registry event %d: %v", msg.Opcode, r.err))
	}
}

// ClientNode is the proxy for this client's node in the graph.
type ClientNode struct {
	conn   *Conn
	ID     uint32
	events NodeEvents
}

// BindClientNode routes node events for the proxy created for the
// client-node factory object.
func BindClientNode(conn *Conn, id uint32, events NodeEvents) *ClientNode {
	n := &ClientNode{conn: conn, ID: id, events: events}
	conn.AddHandler(id, n.handle)
	return n
}

// Update advertises node-wide info and params.
func (n *ClientNode) Update(mask uint32, params [][]byte, info *NodeInfo) error {
	b := pod.NewBuilder()
	f := b.PushStruct()
	b.Int(int32(mask))
	b.Int(int32(len(params)))
	for _, p := range params {
		b.Bytes_(p)
	}
	if info != nil {
		b.Int(int32(info.MaxInputPorts))
		b.Int(int32(info.MaxOutputPorts))
		b.Long(int64(info.ChangeMask))
		b.Long(int64(info.Flags))
		buildDict(b, info.Props)
	} else {
		b.Int(-1)
	}
	b.Pop(f)
	return n.conn.Send(n.ID, nodeMethodUpdate, b.Bytes(), nil)
}

// PortUpdate advertises one port's info and params.
func (n *ClientNode) PortUpdate(direction, portID, mask uint32, params [][]byte, info *PortInfo) error {
	b := pod.NewBuilder()
	f := b.PushStruct()
	b.Int(int32(direction))
	b.Int(int32(portID))
	b.Int(int32(mask))
	b.Int(int32(len(params)))
	for _, p := range params {
		b.Bytes_(p)
	}
	if info != nil {
		b.Long(int64(info.ChangeMask))
		b.Long(int64(info.Flags))
		buildDict(b, info.Props)
	} else {
		b.Int(-1)
	}
	b.Pop(f)
	return n.conn.Send(n.ID, nodeMethodPortUpdate, b.Bytes(), nil)
}

// SetActive toggles graph scheduling for this node.
func (n *ClientNode) SetActive(active bool) error {
	b := pod.NewBuilder()
	f := b.PushStruct()
	b.Bool(active)
	b.Pop(f)
	return n.conn.Send(n.ID, nodeMethodSetActive, b.Bytes(), nil)
}

func (n *ClientNode) handle(msg *Message) {
	r := newReader(msg.Data, msg.Fds)
	switch msg.Opcode {
	case nodeEventTransport:
		nodeID := r.uint()
		readFd := r.fd()
		writeFd := r.fd()
		memID := r.uint()
		offset := r.uint()
		size := r.uint()
		if r.err == nil {
			n.events.Transport(nodeID, readFd, writeFd, memID, offset, size)
		}
	case nodeEventSetParam:
		id := r.uint()
		flags := r.uint()
		param := r.pod()
		if r.err == nil {
			n.events.SetParam(id, flags, param)
		}
	case nodeEventSetIO:
		id := r.uint()
		memID := r.uint()
		offset := r.uint()
		size := r.uint()
		if r.err == nil {
			n.events.SetIO(id, memID, offset, size)
		}
	case nodeEventEvent:
		if ev := r.pod(); r.err == nil {
			n.events.Event(ev)
		}
	case nodeEventCommand:
		if id := r.uint(); r.err == nil {
			n.events.Command(id)
		}
	case nodeEventAddPort:
		direction := r.uint()
		portID := r.uint()
		props := r.dict()
		if r.err == nil {
			n.events.AddPort(direction, portID, props)
		}
	case nodeEventRemovePort:
		direction := r.uint()
		portID := r.uint()
		if r.err == nil {
			n.events.RemovePort(direction, portID)
		}
	case nodeEventPortSetParam:
		direction := r.uint()
		portID := r.uint()
		id := r.uint()
		flags := r.uint()
		param := r.pod()
		if r.err == nil {
			n.events.PortSetParam(direction, portID, id, flags, param)
		}
	case nodeEventPortUseBuffers:
		direction := r.uint()
		portID := r.uint()
		mixID := r.uint()
		flags := r.uint()
		buffers := r.buffers()
		if r.err == nil {
			n.events.PortUseBuffers(direction, portID, mixID, flags, buffers)
		}
	case nodeEventPortSetIO:
		direction := r.uint()
		portID := r.uint()
		mixID := r.uint()
		id := r.uint()
		memID := r.uint()
		offset := r.uint()
		size := r.uint()
		if r.err == nil {
			n.events.PortSetIO(direction, portID, mixID, id, memID, offset, size)
		}
	case nodeEventSetActivation:
		nodeID := r.uint()
		signalFd := r.fd()
		memID := r.uint()
		offset := r.uint()
		size := r.uint()
		if r.err == nil {
			n.events.SetActivation(nodeID, signalFd, memID, offset, size)
		}
	default:
		slog.Debug(fmt.Sprintf("proto: node event %d ignored", msg.Opcode))
	}
	if r.err != nil {
		slog.Warn(fmt.Sprintf("proto: node event %d: %v", msg.Opcode, r.err))
		for _, fd := range msg.Fds {
			unix.Close(fd)
		}
	}
}

func (r *reader) buffers() []BufferDesc {
	count := r.int()
	if r.err != nil || count <= 0 {
		return nil
	}
	buffers := make([]BufferDesc, 0, count)
	for i := int32(0); i < count; i++ {
		var bd BufferDesc
		bd.MemID = r.uint()
		bd.Offset = r.uint()
		bd.Size = r.uint()
		nMetas := r.int()
		for j := int32(0); j < nMetas && r.err == nil; j++ {
			bd.Metas = append(bd.Metas, MetaDesc{Type: r.uint(), Size: r.uint()})
		}
		nDatas := r.int()
		for j := int32(0); j < nDatas && r.err == nil; j++ {
			bd.Datas = append(bd.Datas, DataDesc{
				Type:      r.uint(),
				Flags:     r.uint(),
				MapOffset: r.uint(),
				MaxSize:   r.uint(),
				Data:      r.uint(),
			})
		}
		if r.err != nil {
			return buffers
		}
		buffers = append(buffers, bd)
	}
	return buffers
}
