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

	"golang.org/x/sys/unix"

	"github.com/PipeWire/pipewire-jack/loop"
	"github.com/PipeWire/pipewire-jack/mem"
	"github.com/PipeWire/pipewire-jack/pod"
	"github.com/PipeWire/pipewire-jack/proto"
)

// nodeEvents adapts *Client to the client-node event interface: the
// server drives the whole buffer/io/activation lifecycle through these.
type nodeEvents Client

func (c *Client) proxyError(res int32, msg string) {
	slog.Warn(fmt.Sprintf("jack: %s: %s", c.name, msg))
	if c.core != nil && c.node != nil {
		c.core.Error(c.node.ID, 0, res, msg)
	}
}

func (c *Client) findActivation(nodeID uint32) *peerLink {
	for i := range c.links {
		if c.links[i].nodeID == nodeID {
			return &c.links[i]
		}
	}
	return nil
}

func (c *Client) updateDriverActivation() {
	slog.Debug(fmt.Sprintf("jack: %s: driver %d", c.name, c.driverID))
	if l := c.findActivation(c.driverID); l != nil {
		c.driverActivation = l.activation
	} else {
		c.driverActivation = nil
	}
}

func (c *Client) clearLink(l *peerLink) {
	l.nodeID = invalidID
	l.activation = nil
	if l.mem != nil {
		l.mem.Free()
		l.mem = nil
	}
	if l.signalFd >= 0 {
		unix.Close(l.signalFd)
		l.signalFd = -1
	}
}

// unhandleSocket removes the rt source on the data loop's own thread.
func (c *Client) unhandleSocket() {
	src := c.socketSource
	if src == nil {
		return
	}
	c.socketSource = nil
	c.rtLoop.Invoke(func() {
		src.Destroy()
	})
}

func (c *Client) cleanTransport() {
	if c.nodeID == invalidID {
		return
	}
	c.dataLoop.Stop()
	c.unhandleSocket()
	if c.rtFd >= 0 {
		unix.Close(c.rtFd)
		c.rtFd = -1
	}
	for i := range c.links {
		if c.links[i].nodeID != invalidID {
			c.clearLink(&c.links[i])
		}
	}
	c.links = c.links[:0]
	if c.activationMap != nil {
		c.activationMap.Free()
		c.activationMap = nil
	}
	c.activation = nil
	c.driverActivation = nil
	c.nodeID = invalidID
}

// Transport delivers the node's activation record and the rt wakeup
// socket pair.
func (e *nodeEvents) Transport(nodeID uint32, readFd, writeFd int, memID, offset, size uint32) {
	c := (*Client)(e)
	c.loop.Lock()
	defer c.loop.Unlock()

	c.cleanTransport()
	c.nodeID = nodeID

	m, err := c.pool.MapID(memID, mem.FlagReadWrite, offset, size, nil)
	if err != nil {
		slog.Warn(fmt.Sprintf("jack: %s: can't map activation: %v", c.name, err))
		return
	}
	c.activationMap = m
	c.activation = activationFromMap(m)

	slog.Debug(fmt.Sprintf("jack: %s: transport fds %d %d node %d", c.name, readFd, writeFd, nodeID))

	// The server keeps the write end.
	unix.Close(writeFd)
	c.rtFd = readFd
	src, err := c.rtLoop.AddIO(readFd, loop.IOErr|loop.IOHup, c.onRTSocket)
	if err != nil {
		slog.Warn(fmt.Sprintf("jack: %s: rt source: %v", c.name, err))
		return
	}
	c.socketSource = src
}

// SetParam on the node itself is not supported; the server will not
// insist.
func (e *nodeEvents) SetParam(id, flags uint32, param pod.Pod) {
	c := (*Client)(e)
	c.proxyError(-int32(unix.ENOTSUP), "set_param not supported")
}

// SetIO hands over a node-level io area; only the position block is
// consumed.
func (e *nodeEvents) SetIO(id, memID, offset, size uint32) {
	c := (*Client)(e)
	c.loop.Lock()
	defer c.loop.Unlock()

	tag := []uint32{c.nodeID, id}
	if old := c.pool.FindTag(tag); old != nil {
		old.Free()
	}

	var ptr *ioPosition
	if memID != mem.InvalidID {
		m, err := c.pool.MapID(memID, mem.FlagReadWrite, offset, size, tag)
		if err != nil {
			slog.Warn(fmt.Sprintf("jack: %s: can't map io %d: %v", c.name, memID, err))
			return
		}
		ptr = positionFromMap(m)
	}

	switch id {
	case pod.IOPosition:
		c.position = ptr
		if ptr != nil {
			c.driverID = ptr.Clock.ID
		} else {
			c.driverID = invalidID
		}
		c.updateDriverActivation()
	}
}

func (e *nodeEvents) Event(ev pod.Pod) {
	c := (*Client)(e)
	c.proxyError(-int32(unix.ENOTSUP), "event not supported")
}

// Command starts and stops cycle processing by flipping the rt socket
// between armed and error-only.
func (e *nodeEvents) Command(id uint32) {
	c := (*Client)(e)
	c.loop.Lock()
	defer c.loop.Unlock()
	slog.Debug(fmt.Sprintf("jack: %s: got command %d", c.name, id))

	switch id {
	case proto.CommandSuspend, proto.CommandPause:
		if c.started {
			if c.socketSource != nil {
				c.socketSource.Update(loop.IOErr | loop.IOHup)
			}
			c.started = false
		}
	case proto.CommandStart:
		if !c.started {
			if c.socketSource != nil {
				c.socketSource.Update(loop.IOIn | loop.IOErr | loop.IOHup)
			}
			c.started = true
			c.firstCycle = true
			c.threadEntered = false
		}
	default:
		slog.Warn(fmt.Sprintf("jack: %s: unhandled node command %d", c.name, id))
		c.proxyError(-int32(unix.ENOTSUP), fmt.Sprintf("unhandled command %d", id))
	}
}

// AddPort and RemovePort are server-driven port management, which a
// JACK client does not allow.
func (e *nodeEvents) AddPort(direction, portID uint32, props map[string]string) {
	c := (*Client)(e)
	c.proxyError(-int32(unix.ENOTSUP), "add_port not supported")
}

func (e *nodeEvents) RemovePort(direction, portID uint32) {
	c := (*Client)(e)
	c.proxyError(-int32(unix.ENOTSUP), "remove_port not supported")
}

// clearBuffers drops all mappings of a mix's negotiated buffers.
func (c *Client) clearBuffers(m *mix) {
	for i := uint32(0); i < m.nBuffers; i++ {
		b := &m.buffers[i]
		for j := 0; j < b.nMem; j++ {
			if b.mems[j] != nil {
				b.mems[j].Free()
				b.mems[j] = nil
			}
		}
		b.nMem = 0
		b.nDatas = 0
		b.flags = 0
	}
	m.nBuffers = 0
	m.queue.clear()
}

// portSetFormat validates a format param against the port type. A nil
// param clears the format and releases every mix's buffers.
func (c *Client) portSetFormat(p *port, param *pod.Object) error {
	if param == nil {
		slog.Debug(fmt.Sprintf("jack: %s: port %d clear format", c.name, p.id))
		for m := p.mixes.head; m != nil; m = m.next {
			c.clearBuffers(m)
		}
		p.haveFormat = false
		return nil
	}

	mt, ok1 := param.Prop(pod.FormatMediaType)
	st, ok2 := param.Prop(pod.FormatMediaSubtype)
	if !ok1 || !ok2 {
		return ErrInvalid
	}
	mediaType, _ := mt.ID()
	mediaSubtype, _ := st.ID()

	switch mediaType {
	case pod.MediaTypeAudio:
		if mediaSubtype != pod.MediaSubtypeRaw {
			return ErrInvalid
		}
		format, ok := param.Prop(pod.FormatAudioFormat)
		if !ok {
			return ErrInvalid
		}
		if f, _ := format.ID(); f != pod.AudioFormatF32P {
			return ErrInvalid
		}
		if ch, ok := param.Prop(pod.FormatAudioChannels); ok {
			if n, _ := ch.Int(); n != 1 {
				return ErrInvalid
			}
		}
		rate, ok := param.Prop(pod.FormatAudioRate)
		if !ok {
			return ErrInvalid
		}
		r, err := rate.Int()
		if err != nil {
			return ErrInvalid
		}
		p.rate = uint32(r)
	case pod.MediaTypeApplication:
		if mediaSubtype != pod.MediaSubtypeControl {
			return ErrInvalid
		}
	case pod.MediaTypeVideo:
		if mediaSubtype != pod.MediaSubtypeRaw {
			return ErrInvalid
		}
		format, ok := param.Prop(pod.FormatVideoFormat)
		if !ok {
			return ErrInvalid
		}
		if f, _ := format.ID(); f != pod.VideoFormatRGBAF32 {
			return ErrInvalid
		}
	default:
		return ErrInvalid
	}
	p.haveFormat = true
	return nil
}

// PortSetParam consumes a format change and always answers with the
// port's full advertised param table.
func (e *nodeEvents) PortSetParam(direction, portID, id, flags uint32, param pod.Pod) {
	c := (*Client)(e)
	c.loop.Lock()
	defer c.loop.Unlock()

	p := c.getPort(dirFromWire(direction), portID)
	if p == nil || !p.valid {
		c.proxyError(-int32(unix.EINVAL), fmt.Sprintf("unknown port %d.%d", direction, portID))
		return
	}
	slog.Debug(fmt.Sprintf("jack: %s: port %d.%d set param id:%d", c.name, direction, portID, id))

	if id == pod.ParamFormat {
		var obj *pod.Object
		if param.Type == pod.TypeObject {
			obj, _ = param.AsObject()
		}
		if err := c.portSetFormat(p, obj); err != nil {
			c.proxyError(-int32(unix.EINVAL), "invalid format")
		}
	}

	c.node.PortUpdate(direction, portID, proto.PortUpdateParams, portParams(p), nil)
}

// PortUseBuffers maps the negotiated buffers of one mix.
func (e *nodeEvents) PortUseBuffers(direction, portID, mixID, flags uint32, buffers []proto.BufferDesc) {
	c := (*Client)(e)
	c.loop.Lock()
	defer c.loop.Unlock()

	dir := dirFromWire(direction)
	p := c.getPort(dir, portID)
	if p == nil || !p.valid {
		c.proxyError(-int32(unix.EINVAL), fmt.Sprintf("unknown port %d.%d", direction, portID))
		return
	}
	m := c.ensureMix(p, mixID)
	if m == nil {
		c.proxyError(-int32(unix.ENOMEM), "out of mix slots")
		return
	}
	slog.Debug(fmt.Sprintf("jack: %s: port %d.%d mix:%d use_buffers %d",
		c.name, direction, portID, mixID, len(buffers)))

	fl := uint32(mem.FlagReadWrite)
	if p.object.port.typeID == 2 && dir == directionInput {
		fl = mem.FlagRead
	}

	c.clearBuffers(m)

	if len(buffers) > maxBuffers {
		buffers = buffers[:maxBuffers]
	}
	for i, bd := range buffers {
		mm, err := c.pool.MapID(bd.MemID, fl, bd.Offset, bd.Size, nil)
		if err != nil {
			slog.Warn(fmt.Sprintf("jack: %s: can't map buffer mem %d: %v", c.name, bd.MemID, err))
			continue
		}

		b := &m.buffers[i]
		b.id = uint32(i)
		b.flags = 0
		b.nMem = 0
		b.mems[b.nMem] = mm
		b.nMem++

		// Chunks live in the metadata region after the metas.
		var metaOff uint32
		for _, meta := range bd.Metas {
			metaOff += pod.RoundUp(meta.Size, 8)
		}

		n := uint32(len(bd.Datas))
		if n > maxBufferDatas {
			n = maxBufferDatas
		}
		b.nDatas = n

		ok := true
		for j := uint32(0); j < n; j++ {
			dd := bd.Datas[j]
			d := &b.datas[j]
			d.typ = dd.Type
			d.maxSize = dd.MaxSize
			d.chunk = chunkAt(mm.Ptr, metaOff+sizeofChunk*j)

			switch dd.Type {
			case pod.DataMemID:
				blk := c.pool.FindBlock(dd.Data)
				if blk == nil {
					c.proxyError(-int32(unix.ENODEV), fmt.Sprintf("unknown buffer mem %d", dd.Data))
					ok = false
					break
				}
				bmm, err := c.pool.MapBlock(blk, fl, dd.MapOffset, dd.MaxSize, nil)
				if err != nil {
					c.proxyError(-int32(unix.EINVAL), "failed to map buffer mem")
					ok = false
					break
				}
				b.mems[b.nMem] = bmm
				b.nMem++
				d.data = bmm.Ptr
				bmm.Mlock()
			case pod.DataMemPtr:
				off := dd.Data
				if int(off)+int(dd.MaxSize) > len(mm.Ptr) {
					ok = false
					break
				}
				d.data = mm.Ptr[off : off+dd.MaxSize]
			default:
				slog.Warn(fmt.Sprintf("jack: unknown buffer data type %d", dd.Type))
				d.data = nil
			}
			if !ok {
				break
			}
		}
		if !ok {
			continue
		}

		initBuffer(p)
		p.zeroed = true

		b.flags |= bufferFlagOut
		m.nBuffers = uint32(i + 1)
		if dir == directionOutput {
			reuseBuffer(m, b.id)
		}
	}
	slog.Debug(fmt.Sprintf("jack: %s: have %d buffers", c.name, m.nBuffers))
}

// PortSetIO assigns the per-mix io area.
func (e *nodeEvents) PortSetIO(direction, portID, mixID, id, memID, offset, size uint32) {
	c := (*Client)(e)
	c.loop.Lock()
	defer c.loop.Unlock()

	p := c.getPort(dirFromWire(direction), portID)
	if p == nil {
		c.proxyError(-int32(unix.EINVAL), fmt.Sprintf("unknown port %d.%d", direction, portID))
		return
	}
	m := c.ensureMix(p, mixID)
	if m == nil {
		c.proxyError(-int32(unix.ENOMEM), "out of mix slots")
		return
	}

	tag := []uint32{c.nodeID, direction, portID, mixID, id}
	if old := c.pool.FindTag(tag); old != nil {
		old.Free()
		if m.ioMap == old {
			m.ioMap = nil
			m.io = nil
		}
	}

	var mapped *mem.Map
	if memID != mem.InvalidID {
		var err error
		mapped, err = c.pool.MapID(memID, mem.FlagReadWrite, offset, size, tag)
		if err != nil {
			c.proxyError(-int32(unix.EINVAL), fmt.Sprintf("can't map io mem %d", memID))
			return
		}
	}

	slog.Debug(fmt.Sprintf("jack: %s: port %d.%d mix:%d set io:%d", c.name, direction, portID, mixID, id))

	switch id {
	case pod.IOBuffers:
		m.ioMap = mapped
		m.io = ioBuffersFromMap(mapped)
	}
}

// SetActivation adds or removes a peer link.
func (e *nodeEvents) SetActivation(nodeID uint32, signalFd int, memID, offset, size uint32) {
	c := (*Client)(e)
	c.loop.Lock()
	defer c.loop.Unlock()

	if c.nodeID == nodeID {
		// Our own activation came through Transport already.
		slog.Debug(fmt.Sprintf("jack: %s: our activation %d", c.name, nodeID))
		if signalFd >= 0 {
			unix.Close(signalFd)
		}
		return
	}

	if memID == mem.InvalidID {
		l := c.findActivation(nodeID)
		if l == nil {
			c.proxyError(-int32(unix.EINVAL), fmt.Sprintf("unknown activation %d", nodeID))
			return
		}
		c.clearLink(l)
	} else {
		m, err := c.pool.MapID(memID, mem.FlagReadWrite, offset, size, nil)
		if err != nil {
			c.proxyError(-int32(unix.EINVAL), fmt.Sprintf("can't map activation mem %d", memID))
			return
		}
		slog.Debug(fmt.Sprintf("jack: %s: set activation %d", c.name, nodeID))
		c.links = append(c.links, peerLink{
			nodeID:     nodeID,
			mem:        m,
			activation: activationFromMap(m),
			signalFd:   signalFd,
		})
	}

	if c.driverID == nodeID {
		c.updateDriverActivation()
	}
}

// initBuffer stamps the port's staging buffer: silence for audio, an
// empty event buffer for MIDI.
func initBuffer(p *port) {
	if p.object != nil && p.object.port.typeID == 1 {
		initMidiBuffer(p.empty, maxBufferFrames)
		return
	}
	for i := range p.emptyFloat {
		p.emptyFloat[i] = 0
	}
}

func dirFromWire(d uint32) direction {
	if d == 0 {
		return directionInput
	}
	return directionOutput
}
