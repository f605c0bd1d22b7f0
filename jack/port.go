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
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PipeWire/pipewire-jack/proto"
)

// PortRegister creates a port on this client and advertises it to the
// server. bufferFrames is ignored for the built-in types, as in the
// legacy API.
func (c *Client) PortRegister(name, portType string, flags PortFlags, bufferFrames uint64) (*Port, error) {
	slog.Debug(fmt.Sprintf("jack: %s: port register %q %q %08x %d",
		c.name, name, portType, uint64(flags), bufferFrames))

	var dir direction
	switch {
	case flags&PortIsInput != 0:
		dir = directionInput
	case flags&PortIsOutput != 0:
		dir = directionOutput
	default:
		return nil, ErrInvalid
	}
	typeID := stringToType(portType)
	if typeID == invalidID {
		return nil, ErrInvalid
	}

	c.loop.Lock()
	defer c.loop.Unlock()

	p := c.allocPort(dir)
	if p == nil {
		return nil, ErrExhausted
	}
	o := p.object
	o.port.flags = flags
	o.port.name = c.name + ":" + name
	o.port.typeID = typeID

	err := c.node.PortUpdate(uint32(dir), p.id,
		proto.PortUpdateParams|proto.PortUpdateInfo,
		portParams(p),
		&proto.PortInfo{
			ChangeMask: proto.PortUpdateInfo,
			Props: map[string]string{
				"format.dsp": portType,
				"port.name":  name,
			},
		})
	if err == nil {
		err = c.doSync()
	}
	if err != nil {
		c.freePort(p)
		return nil, err
	}
	return o, nil
}

// PortUnregister removes a port from the server and releases its slot.
func (c *Client) PortUnregister(o *Port) error {
	if o == nil || o.typ != objPort || o.port.portID == invalidID {
		slog.Error(fmt.Sprintf("jack: %s: invalid port", c.name))
		return ErrInvalid
	}
	slog.Debug(fmt.Sprintf("jack: %s: port unregister %s", c.name, o.port.name))

	c.loop.Lock()
	defer c.loop.Unlock()

	p := o.localPort()
	if p == nil {
		return ErrInvalid
	}
	dir := p.direction
	id := p.id
	c.freePort(p)

	if err := c.node.PortUpdate(uint32(dir), id, 0, nil, nil); err != nil {
		return err
	}
	return c.doSync()
}

// Name returns the full "client:port" name.
func (o *Port) Name() string { return o.port.name }

// ShortName returns the name without the owning client prefix.
func (o *Port) ShortName() string {
	if i := strings.IndexByte(o.port.name, ':'); i >= 0 {
		return o.port.name[i+1:]
	}
	return o.port.name
}

// Flags returns the port flags.
func (o *Port) Flags() PortFlags { return o.port.flags }

// Type returns the port type string.
func (o *Port) Type() string { return typeToString(o.port.typeID) }

// TypeID returns the numeric port type.
func (o *Port) TypeID() uint32 { return o.port.typeID }

const portUUIDPrefix = uint64(4) << 32

// UUID returns the port's stable uuid.
func (o *Port) UUID() uint64 { return portUUIDPrefix | uint64(o.id) }

// IsMine reports whether the port belongs to this client.
func (o *Port) IsMine(c *Client) bool {
	return o.typ == objPort && o.port.portID != invalidID && o.client == c
}

// Connected counts the links attached to the port.
func (o *Port) Connected() int {
	c := o.client
	c.loop.Lock()
	defer c.loop.Unlock()
	n := 0
	for l := c.context.links.head; l != nil; l = l.next {
		if l.removed {
			continue
		}
		if l.portLink.src == o.id || l.portLink.dst == o.id {
			n++
		}
	}
	return n
}

// ConnectedTo reports whether the port is linked to the named port.
func (o *Port) ConnectedTo(portName string) bool {
	c := o.client
	c.loop.Lock()
	defer c.loop.Unlock()

	other := c.findPortObject(portName)
	if other == nil {
		return false
	}
	if other.port.flags&PortIsInput == o.port.flags&PortIsInput {
		return false
	}
	src, dst := o, other
	if other.port.flags&PortIsOutput != 0 {
		src, dst = other, o
	}
	return c.findLinkObject(src.id, dst.id) != nil
}

// GetConnections lists the names of all ports linked to this one.
func (o *Port) GetConnections() []string {
	return o.client.PortGetAllConnections(o)
}

// PortGetAllConnections lists the names of all ports linked to port,
// capped at the per-port connection limit.
func (c *Client) PortGetAllConnections(o *Port) []string {
	c.loop.Lock()
	defer c.loop.Unlock()

	var res []string
	for l := c.context.links.head; l != nil; l = l.next {
		if l.removed {
			continue
		}
		var peer *object
		switch o.id {
		case l.portLink.src:
			peer = c.context.globals.lookup(l.portLink.dst)
		case l.portLink.dst:
			peer = c.context.globals.lookup(l.portLink.src)
		default:
			continue
		}
		if peer == nil || peer.typ != objPort {
			continue
		}
		res = append(res, peer.port.name)
		if len(res) == maxConnections {
			break
		}
	}
	return res
}

// SetAlias sets the first free alias slot of the port.
func (o *Port) SetAlias(alias string) error {
	c := o.client
	if c == nil {
		return ErrInvalid
	}
	c.loop.Lock()
	defer c.loop.Unlock()

	var key string
	switch {
	case o.port.alias1 == "":
		key = "object.path"
		o.port.alias1 = alias
	case o.port.alias2 == "":
		key = "port.alias"
		o.port.alias2 = alias
	default:
		return ErrExhausted
	}
	return c.portUpdateProps(o, map[string]string{key: alias})
}

// UnsetAlias clears a previously set alias.
func (o *Port) UnsetAlias(alias string) error {
	c := o.client
	if c == nil {
		return ErrInvalid
	}
	c.loop.Lock()
	defer c.loop.Unlock()

	var key string
	switch alias {
	case o.port.alias1:
		key = "object.path"
		o.port.alias1 = ""
	case o.port.alias2:
		key = "port.alias"
		o.port.alias2 = ""
	default:
		return ErrNotFound
	}
	return c.portUpdateProps(o, map[string]string{key: ""})
}

// GetAliases returns the set aliases, at most two.
func (o *Port) GetAliases() []string {
	c := o.client
	c.loop.Lock()
	defer c.loop.Unlock()
	var res []string
	if o.port.alias1 != "" {
		res = append(res, o.port.alias1)
	}
	if o.port.alias2 != "" {
		res = append(res, o.port.alias2)
	}
	return res
}

func (c *Client) portUpdateProps(o *Port, props map[string]string) error {
	p := o.localPort()
	if p == nil {
		return ErrInvalid
	}
	return c.node.PortUpdate(uint32(p.direction), p.id, proto.PortUpdateInfo, nil,
		&proto.PortInfo{ChangeMask: proto.PortUpdateInfo, Props: props})
}

// PortRename renames a local port on the server.
func (c *Client) PortRename(o *Port, portName string) error {
	c.loop.Lock()
	defer c.loop.Unlock()
	old := o.port.name
	if err := c.portUpdateProps(o, map[string]string{"port.name": portName}); err != nil {
		return err
	}
	o.port.name = c.name + ":" + portName
	if c.renameCallback != nil {
		cb := c.renameCallback
		c.loop.Unlock()
		cb(o.id, old, o.port.name)
		c.loop.Lock()
	}
	return nil
}

// GetLatencyRange reads the port latency for one direction.
func (o *Port) GetLatencyRange(mode LatencyCallbackMode) LatencyRange {
	if mode == CaptureLatency {
		return o.port.captureLatency
	}
	return o.port.playbackLatency
}

// SetLatencyRange sets the port latency for one direction.
func (o *Port) SetLatencyRange(mode LatencyCallbackMode, r LatencyRange) {
	if mode == CaptureLatency {
		o.port.captureLatency = r
	} else {
		o.port.playbackLatency = r
	}
}

// GetLatency returns the midpoint of the port's relevant latency range.
func (o *Port) GetLatency() uint32 {
	var r LatencyRange
	if o.port.flags&PortIsOutput != 0 {
		r = o.port.captureLatency
	}
	if o.port.flags&PortIsInput != 0 {
		r = o.port.playbackLatency
	}
	return (r.Min + r.Max) / 2
}

// SetLatency sets a symmetric latency in the direction the port faces.
func (o *Port) SetLatency(frames uint32) {
	r := LatencyRange{Min: frames, Max: frames}
	if o.port.flags&PortIsOutput != 0 {
		o.SetLatencyRange(CaptureLatency, r)
	}
	if o.port.flags&PortIsInput != 0 {
		o.SetLatencyRange(PlaybackLatency, r)
	}
}

// RequestMonitor counts a monitor request up or down.
func (o *Port) RequestMonitor(onoff bool) {
	if onoff {
		o.port.monitorRequests++
	} else if o.port.monitorRequests > 0 {
		o.port.monitorRequests--
	}
}

// EnsureMonitor forces monitoring on or off.
func (o *Port) EnsureMonitor(onoff bool) {
	if onoff {
		if o.port.monitorRequests == 0 {
			o.port.monitorRequests++
		}
	} else {
		o.port.monitorRequests = 0
	}
}

// MonitoringInput reports whether any monitor request is pending.
func (o *Port) MonitoringInput() bool { return o.port.monitorRequests > 0 }

// PortRequestMonitorByName resolves a port and requests monitoring.
func (c *Client) PortRequestMonitorByName(portName string, onoff bool) error {
	c.loop.Lock()
	p := c.findPortObject(portName)
	c.loop.Unlock()
	if p == nil {
		slog.Error(fmt.Sprintf("jack: %s: monitor request for unknown port %s", c.name, portName))
		return ErrNotFound
	}
	p.RequestMonitor(onoff)
	return nil
}

// Connect asks the server to link two ports by name.
func (c *Client) Connect(sourcePort, destinationPort string) error {
	slog.Debug(fmt.Sprintf("jack: %s: connect %s %s", c.name, sourcePort, destinationPort))

	c.loop.Lock()
	defer c.loop.Unlock()

	src := c.findPortObject(sourcePort)
	dst := c.findPortObject(destinationPort)
	if src == nil || dst == nil ||
		src.port.flags&PortIsOutput == 0 ||
		dst.port.flags&PortIsInput == 0 ||
		src.port.typeID != dst.port.typeID {
		return ErrInvalid
	}

	_, err := c.core.CreateObject("link-factory", proto.TypeLink, proto.VersionLink,
		map[string]string{
			"link.output.node": strconv.FormatUint(uint64(src.port.nodeID), 10),
			"link.output.port": strconv.FormatUint(uint64(src.id), 10),
			"link.input.node":  strconv.FormatUint(uint64(dst.port.nodeID), 10),
			"link.input.port":  strconv.FormatUint(uint64(dst.id), 10),
			"object.linger":    "1",
		})
	if err != nil {
		return err
	}
	return c.doSync()
}

// Disconnect asks the server to tear down the link between two ports.
func (c *Client) Disconnect(sourcePort, destinationPort string) error {
	slog.Debug(fmt.Sprintf("jack: %s: disconnect %s %s", c.name, sourcePort, destinationPort))

	c.loop.Lock()
	defer c.loop.Unlock()

	src := c.findPortObject(sourcePort)
	dst := c.findPortObject(destinationPort)
	if src == nil || dst == nil ||
		src.port.flags&PortIsOutput == 0 ||
		dst.port.flags&PortIsInput == 0 {
		return ErrInvalid
	}

	l := c.findLinkObject(src.id, dst.id)
	if l == nil {
		return ErrNotFound
	}
	if err := c.registry.Destroy(l.id); err != nil {
		return err
	}
	return c.doSync()
}

// PortDisconnect tears down every link of a port.
func (c *Client) PortDisconnect(o *Port) error {
	slog.Debug(fmt.Sprintf("jack: %s: disconnect %s", c.name, o.port.name))

	c.loop.Lock()
	defer c.loop.Unlock()

	for l := c.context.links.head; l != nil; l = l.next {
		if l.removed {
			continue
		}
		if l.portLink.src == o.id || l.portLink.dst == o.id {
			c.registry.Destroy(l.id)
		}
	}
	return c.doSync()
}

// PortTypeGetBufferSize returns the buffer size a port of the given
// type hands to the process callback.
func (c *Client) PortTypeGetBufferSize(portType string) int {
	switch portType {
	case DEFAULT_AUDIO_TYPE:
		return int(c.GetBufferSize()) * 4
	case DEFAULT_MIDI_TYPE:
		return maxBufferFrames * 4
	case DEFAULT_VIDEO_TYPE:
		return 320 * 240 * 4 * 4
	}
	return 0
}

// GetPorts lists port names filtered by name pattern, type pattern and
// flags, ordered by type, priority and id.
func (c *Client) GetPorts(portNamePattern, typeNamePattern string, flags PortFlags) []string {
	var nameRe, typeRe *regexp.Regexp
	var err error
	if portNamePattern != "" {
		if nameRe, err = regexp.Compile(portNamePattern); err != nil {
			return nil
		}
	}
	if typeNamePattern != "" {
		if typeRe, err = regexp.Compile(typeNamePattern); err != nil {
			return nil
		}
	}
	restrict := restrictNode()

	c.loop.Lock()
	defer c.loop.Unlock()

	var matches []*object
	for o := c.context.ports.head; o != nil; o = o.next {
		if len(matches) == maxPorts {
			break
		}
		if o.removed || o.port.typeID > 2 {
			continue
		}
		if o.port.flags&flags != flags {
			continue
		}
		if restrict != invalidID && o.port.nodeID != restrict {
			continue
		}
		if nameRe != nil && !nameRe.MatchString(o.port.name) {
			continue
		}
		if typeRe != nil && !typeRe.MatchString(typeToString(o.port.typeID)) {
			continue
		}
		matches = append(matches, o)
	}
	if len(matches) == 0 {
		return nil
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.port.typeID != b.port.typeID {
			return a.port.typeID < b.port.typeID
		}
		if a.port.priority != b.port.priority {
			return a.port.priority > b.port.priority
		}
		return a.id < b.id
	})

	res := make([]string, len(matches))
	for i, o := range matches {
		res[i] = o.port.name
	}
	return res
}

// PortByName resolves a full port name.
func (c *Client) PortByName(name string) *Port {
	c.loop.Lock()
	defer c.loop.Unlock()
	return c.findPortObject(name)
}

// PortByID resolves a port id from the registry mirror. Removed ports
// stay resolvable until the server reuses the id.
func (c *Client) PortByID(id PortID) *Port {
	c.loop.Lock()
	defer c.loop.Unlock()
	o := c.context.globals.lookup(id)
	if o == nil || o.typ != objPort {
		return nil
	}
	return o
}
