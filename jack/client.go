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

	"github.com/PipeWire/pipewire-jack/loop"
	"github.com/PipeWire/pipewire-jack/mem"
	"github.com/PipeWire/pipewire-jack/pod"
	"github.com/PipeWire/pipewire-jack/proto"
)

// peerLink is the activation handle of one downstream peer to wake
// after our cycle. A tombstone keeps nodeID == invalidID so link
// indices stay stable.
type peerLink struct {
	nodeID     uint32
	mem        *mem.Map
	activation *activation
	signalFd   int
}

// registryContext is the local read-model of the graph.
type registryContext struct {
	freeObjects objectList
	nodes       objectList
	ports       objectList
	links       objectList
	globals     idMap
}

// Client is an open connection to the graph server impersonating a JACK
// client. All exported methods are safe to call from application
// threads; the realtime callbacks run on the data loop.
type Client struct {
	name string

	loop     *loop.ThreadLoop
	dataLoop *loop.DataLoop
	ctrlLoop *loop.Loop
	rtLoop   *loop.Loop

	conn       *proto.Conn
	connSource *loop.Source
	core       *proto.Core
	registry   *proto.Registry
	node       *proto.ClientNode
	pool       *mem.Pool

	seq     int
	lastSeq int
	lastErr error

	context registryContext

	nodeID       uint32
	socketSource *loop.Source
	rtFd         int

	portPool  [2][maxPorts]port
	freePorts [2]portList
	ports     [2]portList

	mixPool [maxMix]mix
	freeMix mixList

	links            []peerLink
	driverID         uint32
	driverActivation *activation

	activationMap *mem.Map
	activation    *activation
	position      *ioPosition

	xrunCount    uint32
	sampleRate   uint32
	bufferFrames uint32

	started       bool
	active        bool
	destroyed     bool
	firstCycle    bool
	threadEntered bool

	jackPosition Position
	jackState    TransportState

	midiMerge  midiMergeState
	seqScratch []*pod.Sequence

	processCallback      ProcessCallback
	threadCallback       ThreadCallback
	threadInitCallback   ThreadInitCallback
	shutdownCallback     ShutdownCallback
	infoShutdownCallback InfoShutdownCallback
	freewheelCallback    FreewheelCallback
	bufferSizeCallback   BufferSizeCallback
	sampleRateCallback   SampleRateCallback
	registrationCallback ClientRegistrationCallback
	portRegCallback      PortRegistrationCallback
	connectCallback      PortConnectCallback
	renameCallback       PortRenameCallback
	graphCallback        GraphOrderCallback
	xrunCallback         XRunCallback
	latencyCallback      LatencyCallback
	syncCallback         SyncCallback
	timebaseCallback     TimebaseCallback
}

// ClientOpen connects to the graph server and creates the client node.
// On failure the returned client is nil and the status carries the
// reason.
func ClientOpen(name string, options Options) (*Client, Status) {
	if noJack() {
		return nil, Failure | ServerFailed
	}
	if len(name) > ClientNameSize {
		name = name[:ClientNameSize]
	}

	c := &Client{
		name:         name,
		nodeID:       invalidID,
		driverID:     invalidID,
		rtFd:         -1,
		sampleRate:   invalidID,
		bufferFrames: invalidID,
		pool:         mem.NewPool(),
		seqScratch:   make([]*pod.Sequence, 0, maxConnections),
	}
	slog.Debug(fmt.Sprintf("jack: open '%s' options:%d", name, options))

	ctrl, err := loop.New()
	if err != nil {
		return nil, Failure | InitFailure
	}
	rt, err := loop.New()
	if err != nil {
		ctrl.Close()
		return nil, Failure | InitFailure
	}
	c.ctrlLoop = ctrl
	c.rtLoop = rt
	c.loop = loop.NewThreadLoop(ctrl)
	c.dataLoop = loop.NewDataLoop(rt)

	c.initPortPool(directionInput)
	c.initPortPool(directionOutput)
	c.initMixPool()

	conn, err := proto.Dial(proto.SocketPath())
	if err != nil {
		slog.Warn("jack: " + err.Error())
		c.ctrlLoop.Close()
		c.rtLoop.Close()
		return nil, Failure | ServerFailed
	}
	c.conn = conn
	c.core = proto.NewCore(conn, (*coreEvents)(c))
	if err := c.core.Hello(3); err != nil {
		goto serverFailed
	}

	c.connSource, err = ctrl.AddIO(conn.Fd(), loop.IOIn|loop.IOErr|loop.IOHup, c.onConnIO)
	if err != nil {
		goto serverFailed
	}
	c.loop.Start()

	c.loop.Lock()
	c.registry, err = c.core.GetRegistry((*registryEvents)(c))
	if err == nil {
		var id uint32
		id, err = c.core.CreateObject("client-node", proto.TypeClientNode,
			proto.VersionClientNode, map[string]string{
				"node.name":           name,
				"media.type":          "Audio",
				"media.category":      "Duplex",
				"media.role":          "DSP",
				"node.latency":        latencyString(),
				"node.always-process": "1",
			})
		if err == nil {
			c.node = proto.BindClientNode(conn, id, (*nodeEvents)(c))
		}
	}
	if err == nil {
		err = c.node.Update(proto.NodeUpdateInfo, nil, &proto.NodeInfo{
			MaxInputPorts:  maxPorts,
			MaxOutputPorts: maxPorts,
			ChangeMask:     proto.NodeUpdateInfo,
			Flags:          proto.NodeFlagRT,
		})
	}
	if err == nil {
		err = c.doSync()
	}
	c.loop.Unlock()

	if err != nil {
		slog.Warn("jack: open failed: " + err.Error())
		c.teardown()
		return nil, Failure | InitFailure
	}
	return c, 0

serverFailed:
	c.conn.Close()
	c.ctrlLoop.Close()
	c.rtLoop.Close()
	return nil, Failure | ServerFailed
}

// ClientNew is the legacy open variant: exact name, and no server start
// unless JACK_START_SERVER is set.
func ClientNew(name string) (*Client, Status) {
	options := UseExactName
	if !startServer() {
		options |= NoStartServer
	}
	return ClientOpen(name, options)
}

// doSync flushes all pending methods through the server and waits for
// the echo. Caller holds the thread-loop lock.
func (c *Client) doSync() error {
	c.seq++
	seq := c.seq
	if err := c.core.Sync(proto.CoreID, seq); err != nil {
		return err
	}
	for c.lastSeq < seq {
		if c.lastErr != nil {
			err := c.lastErr
			c.lastErr = nil
			return err
		}
		if c.destroyed {
			return ErrShutdown
		}
		c.loop.Wait()
	}
	if c.lastErr != nil {
		err := c.lastErr
		c.lastErr = nil
		return err
	}
	return nil
}

func (c *Client) onConnIO(fd int, mask uint32) {
	if mask&(loop.IOErr|loop.IOHup) != 0 {
		c.onDisconnect()
		return
	}
	if mask&loop.IOIn != 0 {
		if !c.conn.Recv() {
			c.onDisconnect()
		}
	}
}

// onDisconnect runs the shutdown callbacks exactly once unless the
// client is closing itself.
func (c *Client) onDisconnect() {
	c.loop.Lock()
	if c.destroyed {
		c.loop.Unlock()
		return
	}
	c.destroyed = true
	if c.connSource != nil {
		c.connSource.Destroy()
		c.connSource = nil
	}
	c.loop.Signal()
	shutdown := c.shutdownCallback
	infoShutdown := c.infoShutdownCallback
	c.loop.Unlock()

	slog.Warn("jack: server connection lost")
	if infoShutdown != nil {
		infoShutdown(ServerFailed, "server connection lost")
	} else if shutdown != nil {
		shutdown()
	}
}

// Close tears the client down and releases every resource.
func (c *Client) Close() error {
	slog.Debug(fmt.Sprintf("jack: %s: close", c.name))
	c.loop.Lock()
	c.destroyed = true
	c.loop.Signal()
	c.loop.Unlock()

	c.dataLoop.Stop()
	c.loop.Stop()
	c.teardown()
	return nil
}

func (c *Client) teardown() {
	c.loop.Stop()
	c.cleanTransport()
	if c.conn != nil {
		c.conn.Close()
	}
	c.pool.Close()
	c.ctrlLoop.Close()
	c.rtLoop.Close()
}

// GetClientName returns the name the server knows this client by.
func (c *Client) GetClientName() string { return c.name }

// ClientNameSizeFunc mirrors jack_client_name_size.
func ClientNameSizeFunc() int { return ClientNameSize }

// PortNameSizeFunc mirrors jack_port_name_size.
func PortNameSizeFunc() int { return PortNameSize + 1 }

// PortTypeSizeFunc mirrors jack_port_type_size.
func PortTypeSizeFunc() int { return PortTypeSize + 1 }

// GetUUID returns this client's session uuid: the node id in decimal.
func (c *Client) GetUUID() string {
	return strconv.FormatUint(uint64(c.nodeID), 10)
}

const clientUUIDPrefix = uint64(2) << 32

// GetUUIDForClientName maps a client name to its uuid string.
func (c *Client) GetUUIDForClientName(name string) (string, error) {
	c.loop.Lock()
	defer c.loop.Unlock()
	o := c.findNodeByName(name)
	if o == nil {
		return "", ErrNotFound
	}
	return strconv.FormatUint(clientUUIDPrefix|uint64(o.id), 10), nil
}

// GetClientNameByUUID is the inverse of GetUUIDForClientName.
func (c *Client) GetClientNameByUUID(uuid string) (string, error) {
	v, err := strconv.ParseUint(uuid, 10, 64)
	if err != nil {
		return "", ErrInvalid
	}
	c.loop.Lock()
	defer c.loop.Unlock()
	for o := c.context.nodes.head; o != nil; o = o.next {
		if clientUUIDPrefix|uint64(o.id) == v {
			return o.node.name, nil
		}
	}
	return "", ErrNotFound
}

func (c *Client) doActivate() error {
	c.dataLoop.Start()
	c.loop.Lock()
	defer c.loop.Unlock()
	slog.Debug(fmt.Sprintf("jack: %s: activate", c.name))
	if err := c.node.SetActive(true); err != nil {
		return err
	}
	return c.doSync()
}

// Activate starts the data loop and asks the server to schedule the
// node.
func (c *Client) Activate() error {
	if c.active {
		return nil
	}
	if err := c.doActivate(); err != nil {
		return err
	}
	if a := c.activation; a != nil {
		storeUint32(&a.PendingNewPos, 1)
		storeUint32(&a.PendingSync, 1)
	}
	c.active = true
	return nil
}

// Deactivate withdraws the node from scheduling and stops the data
// loop.
func (c *Client) Deactivate() error {
	if !c.active {
		return nil
	}
	c.loop.Lock()
	slog.Debug(fmt.Sprintf("jack: %s: deactivate", c.name))
	err := c.node.SetActive(false)
	if a := c.activation; a != nil {
		storeUint32(&a.PendingNewPos, 0)
		storeUint32(&a.PendingSync, 0)
	}
	if err == nil {
		err = c.doSync()
	}
	c.loop.Unlock()

	c.dataLoop.Stop()
	if err != nil {
		return err
	}
	c.active = false
	return nil
}

// IsRealtime is always true: the graph runs a realtime scheduler.
func (c *Client) IsRealtime() bool { return true }

// CPULoad returns the driver's DSP load estimate in percent.
func (c *Client) CPULoad() float32 {
	if a := c.driverActivation; a != nil {
		return a.CPULoad[0] * 100
	}
	return 0
}

func (c *Client) checkCallback() error {
	if c.active {
		slog.Error(fmt.Sprintf("jack: %s: can't set callback on active client", c.name))
		return ErrActive
	}
	return nil
}

// SetProcessCallback installs the per-cycle audio callback. Mutually
// exclusive with SetProcessThread.
func (c *Client) SetProcessCallback(cb ProcessCallback) error {
	if err := c.checkCallback(); err != nil {
		return err
	}
	if c.threadCallback != nil {
		slog.Error(fmt.Sprintf("jack: %s: thread callback already set", c.name))
		return ErrActive
	}
	c.processCallback = cb
	return nil
}

// SetProcessThread installs the custom-thread callback instead of a
// process callback. The thread drives its own cycle with CycleWait and
// CycleSignal.
func (c *Client) SetProcessThread(cb ThreadCallback) error {
	if err := c.checkCallback(); err != nil {
		return err
	}
	if c.processCallback != nil {
		slog.Error(fmt.Sprintf("jack: %s: process callback already set", c.name))
		return ErrActive
	}
	c.threadCallback = cb
	return nil
}

// SetThreadInitCallback installs a callback run once by the realtime
// thread after each Start.
func (c *Client) SetThreadInitCallback(cb ThreadInitCallback) error {
	c.threadInitCallback = cb
	return nil
}

// OnShutdown installs the callback run when the server connection is
// lost.
func (c *Client) OnShutdown(cb ShutdownCallback) {
	if c.active {
		slog.Error(fmt.Sprintf("jack: %s: can't set callback on active client", c.name))
		return
	}
	c.shutdownCallback = cb
}

// OnInfoShutdown installs the richer shutdown callback; it wins over
// OnShutdown when both are set.
func (c *Client) OnInfoShutdown(cb InfoShutdownCallback) {
	if c.active {
		slog.Error(fmt.Sprintf("jack: %s: can't set callback on active client", c.name))
		return
	}
	c.infoShutdownCallback = cb
}

// SetFreewheelCallback is accepted for compatibility; freewheel mode is
// never entered.
func (c *Client) SetFreewheelCallback(cb FreewheelCallback) error {
	if err := c.checkCallback(); err != nil {
		return err
	}
	c.freewheelCallback = cb
	return nil
}

// SetBufferSizeCallback installs the buffer-size change callback.
func (c *Client) SetBufferSizeCallback(cb BufferSizeCallback) error {
	if err := c.checkCallback(); err != nil {
		return err
	}
	c.bufferSizeCallback = cb
	return nil
}

// SetSampleRateCallback installs the sample-rate change callback.
func (c *Client) SetSampleRateCallback(cb SampleRateCallback) error {
	if err := c.checkCallback(); err != nil {
		return err
	}
	c.sampleRateCallback = cb
	return nil
}

// SetClientRegistrationCallback installs the client add/remove callback.
func (c *Client) SetClientRegistrationCallback(cb ClientRegistrationCallback) error {
	if err := c.checkCallback(); err != nil {
		return err
	}
	c.registrationCallback = cb
	return nil
}

// SetPortRegistrationCallback installs the port add/remove callback.
func (c *Client) SetPortRegistrationCallback(cb PortRegistrationCallback) error {
	if err := c.checkCallback(); err != nil {
		return err
	}
	c.portRegCallback = cb
	return nil
}

// SetPortConnectCallback installs the link add/remove callback.
func (c *Client) SetPortConnectCallback(cb PortConnectCallback) error {
	if err := c.checkCallback(); err != nil {
		return err
	}
	c.connectCallback = cb
	return nil
}

// SetPortRenameCallback installs the port rename callback.
func (c *Client) SetPortRenameCallback(cb PortRenameCallback) error {
	if err := c.checkCallback(); err != nil {
		return err
	}
	c.renameCallback = cb
	return nil
}

// SetGraphOrderCallback installs the graph reorder callback.
func (c *Client) SetGraphOrderCallback(cb GraphOrderCallback) error {
	if err := c.checkCallback(); err != nil {
		return err
	}
	c.graphCallback = cb
	return nil
}

// SetXRunCallback installs the xrun callback.
func (c *Client) SetXRunCallback(cb XRunCallback) error {
	if err := c.checkCallback(); err != nil {
		return err
	}
	c.xrunCallback = cb
	return nil
}

// SetLatencyCallback installs the latency recompute callback.
func (c *Client) SetLatencyCallback(cb LatencyCallback) error {
	if err := c.checkCallback(); err != nil {
		return err
	}
	c.latencyCallback = cb
	return nil
}

// GetSampleRate returns the current graph rate.
func (c *Client) GetSampleRate() uint32 {
	if c.sampleRate == invalidID {
		return defaultSampleRate
	}
	return c.sampleRate
}

// GetBufferSize returns the current cycle length in frames.
func (c *Client) GetBufferSize() uint32 {
	if c.bufferFrames == invalidID {
		return defaultBufferFrames
	}
	return c.bufferFrames
}

// SetBufferSize asks the server for a different quantum by
// re-advertising the node latency.
func (c *Client) SetBufferSize(nframes uint32) error {
	latency := fmt.Sprintf("%d/%d", nframes, c.GetSampleRate())
	c.loop.Lock()
	defer c.loop.Unlock()
	return c.node.Update(proto.NodeUpdateInfo, nil, &proto.NodeInfo{
		MaxInputPorts:  maxPorts,
		MaxOutputPorts: maxPorts,
		ChangeMask:     proto.NodeUpdateInfo,
		Flags:          proto.NodeFlagRT,
		Props:          map[string]string{"node.latency": latency},
	})
}
