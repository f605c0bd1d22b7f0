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

// Package proto speaks the graph server's native protocol: fixed-layout
// message headers on a unix socket, typed-value payloads, and file
// descriptors in ancillary data. Proxies route per-object opcodes both
// ways.
package proto

import (
	"errors"

	"github.com/PipeWire/pipewire-jack/pod"
)

// Well-known proxy ids.
const (
	CoreID   uint32 = 0
	ClientID uint32 = 1
)

// Interface type names carried in registry globals.
const (
	TypeNode = "PipeWire:Interface:Node"
	TypePort = "PipeWire:Interface:Port"
	TypeLink = "PipeWire:Interface:Link"

	TypeClientNode    = "PipeWire:Interface:ClientNode"
	VersionClientNode = 3
	VersionRegistry   = 3
	VersionLink       = 3
)

// Core methods.
const (
	coreMethodHello        uint8 = 1
	coreMethodSync         uint8 = 2
	coreMethodPong         uint8 = 3
	coreMethodError        uint8 = 4
	coreMethodGetRegistry  uint8 = 5
	coreMethodCreateObject uint8 = 6
	coreMethodDestroy      uint8 = 7
)

// Core events.
const (
	coreEventInfo      uint8 = 0
	coreEventDone      uint8 = 1
	coreEventPing      uint8 = 2
	coreEventError     uint8 = 3
	coreEventRemoveID  uint8 = 4
	coreEventBoundID   uint8 = 5
	coreEventAddMem    uint8 = 6
	coreEventRemoveMem uint8 = 7
)

// Registry methods and events.
const (
	registryMethodBind    uint8 = 1
	registryMethodDestroy uint8 = 2

	registryEventGlobal       uint8 = 0
	registryEventGlobalRemove uint8 = 1
)

// Client-node methods.
const (
	nodeMethodGetNode    uint8 = 1
	nodeMethodUpdate     uint8 = 2
	nodeMethodPortUpdate uint8 = 3
	nodeMethodSetActive  uint8 = 4
	nodeMethodEvent      uint8 = 5
)

// Client-node events.
const (
	nodeEventTransport      uint8 = 0
	nodeEventSetParam       uint8 = 1
	nodeEventSetIO          uint8 = 2
	nodeEventEvent          uint8 = 3
	nodeEventCommand        uint8 = 4
	nodeEventAddPort        uint8 = 5
	nodeEventRemovePort     uint8 = 6
	nodeEventPortSetParam   uint8 = 7
	nodeEventPortUseBuffers uint8 = 8
	nodeEventPortSetIO      uint8 = 9
	nodeEventSetActivation  uint8 = 10
)

// Node commands delivered through the Command event.
const (
	CommandSuspend uint32 = 0
	CommandPause   uint32 = 1
	CommandStart   uint32 = 2
)

// Update masks for ClientNode.Update and PortUpdate.
const (
	NodeUpdateParams = 1 << 0
	NodeUpdateInfo   = 1 << 1

	PortUpdateParams = 1 << 0
	PortUpdateInfo   = 1 << 1
)

// Node flags advertised in NodeInfo.
const NodeFlagRT = 1 << 1

var errShortMessage = errors.New("proto: short message")

// MetaDesc describes one metadata area of an announced buffer.
type MetaDesc struct {
	Type uint32
	Size uint32
}

// DataDesc describes one data plane of an announced buffer. Data holds a
// block id for MemID planes or an embedded byte offset for MemPtr planes.
type DataDesc struct {
	Type      uint32
	Flags     uint32
	MapOffset uint32
	MaxSize   uint32
	Data      uint32
}

// BufferDesc is one buffer announced by port_use_buffers: the metadata
// block reference and the described planes.
type BufferDesc struct {
	MemID  uint32
	Offset uint32
	Size   uint32
	Metas  []MetaDesc
	Datas  []DataDesc
}

// NodeInfo is the self-description sent with ClientNode.Update.
type NodeInfo struct {
	MaxInputPorts  uint32
	MaxOutputPorts uint32
	ChangeMask     uint64
	Flags          uint64
	Props          map[string]string
}

// PortInfo is the per-port description sent with ClientNode.PortUpdate.
type PortInfo struct {
	ChangeMask uint64
	Flags      uint64
	Props      map[string]string
}

// CoreEvents receives core proxy events.
type CoreEvents interface {
	Done(id uint32, seq int)
	Ping(id uint32, seq int)
	Error(id uint32, seq int, res int32, message string)
	RemoveID(id uint32)
	BoundID(id, globalID uint32)
	AddMem(id, typ uint32, fd int, flags uint32)
	RemoveMem(id uint32)
}

// RegistryEvents receives registry globals.
type RegistryEvents interface {
	Global(id, permissions uint32, typ string, version uint32, props map[string]string)
	GlobalRemove(id uint32)
}

// NodeEvents receives client-node events. This is the protocol surface
// the node handler implements.
type NodeEvents interface {
	Transport(nodeID uint32, readFd, writeFd int, memID, offset, size uint32)
	SetParam(id, flags uint32, param pod.Pod)
	SetIO(id, memID, offset, size uint32)
	Event(ev pod.Pod)
	Command(id uint32)
	AddPort(direction, portID uint32, props map[string]string)
	RemovePort(direction, portID uint32)
	PortSetParam(direction, portID, id, flags uint32, param pod.Pod)
	PortUseBuffers(direction, portID, mixID, flags uint32, buffers []BufferDesc)
	PortSetIO(direction, portID, mixID, id, memID, offset, size uint32)
	SetActivation(nodeID uint32, signalFd int, memID, offset, size uint32)
}
