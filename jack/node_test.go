package jack

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/PipeWire/pipewire-jack/mem"
	"github.com/PipeWire/pipewire-jack/pod"
	"github.com/PipeWire/pipewire-jack/proto"
)

func TestSetActivationLinks(t *testing.T) {
	c := newTestClient(t)
	connectTestClient(t, c)
	c.nodeID = 1

	newShmBlock(t, c, 5, activationSize)
	sigFd, err := mem.EventFd()
	if err != nil {
		t.Fatalf("eventfd: %v", err)
	}

	ev := (*nodeEvents)(c)
	ev.SetActivation(9, sigFd, 5, 0, uint32(activationSize))

	l := c.findActivation(9)
	if l == nil {
		t.Fatal("peer link not added")
	}
	if l.activation == nil || l.mem == nil || l.signalFd < 0 {
		t.Fatal("peer link incomplete")
	}
	// Every non-tombstone link carries a writable signal fd.
	if err := mem.SignalEvent(l.signalFd); err != nil {
		t.Fatalf("peer signal fd not writable: %v", err)
	}

	// Clearing tombstones the slot.
	ev.SetActivation(9, -1, mem.InvalidID, 0, 0)
	if c.findActivation(9) != nil {
		t.Fatal("cleared link still resolvable")
	}
	for i := range c.links {
		if c.links[i].nodeID == invalidID && c.links[i].activation != nil {
			t.Fatal("tombstone keeps activation")
		}
	}
}

func TestSetActivationSelfIsIgnored(t *testing.T) {
	c := newTestClient(t)
	c.nodeID = 4

	sigFd, err := mem.EventFd()
	if err != nil {
		t.Fatalf("eventfd: %v", err)
	}
	(*nodeEvents)(c).SetActivation(4, sigFd, 5, 0, uint32(activationSize))
	if len(c.links) != 0 {
		t.Fatal("self activation created a link")
	}
}

func TestSetIOPositionAndDriverRebind(t *testing.T) {
	c := newTestClient(t)
	connectTestClient(t, c)
	c.nodeID = 1

	// Peer activation for node 7 arrives first.
	newShmBlock(t, c, 5, activationSize)
	sigFd, _ := mem.EventFd()
	(*nodeEvents)(c).SetActivation(7, sigFd, 5, 0, uint32(activationSize))

	// Then the position block naming node 7 as the clock driver.
	newShmBlock(t, c, 6, positionSize)
	m, err := c.pool.MapID(6, mem.FlagReadWrite, 0, uint32(positionSize), nil)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	positionFromMap(m).Clock.ID = 7
	m.Free()

	(*nodeEvents)(c).SetIO(pod.IOPosition, 6, 0, uint32(positionSize))
	if c.position == nil {
		t.Fatal("position not mapped")
	}
	if c.driverID != 7 {
		t.Fatalf("driver id %d, want 7", c.driverID)
	}
	if c.driverActivation == nil {
		t.Fatal("driver activation not rebound")
	}

	// Clearing detaches everything.
	(*nodeEvents)(c).SetIO(pod.IOPosition, mem.InvalidID, 0, 0)
	if c.position != nil || c.driverID != invalidID || c.driverActivation != nil {
		t.Fatal("position clear incomplete")
	}
}

func TestPortSetIOIdempotentClear(t *testing.T) {
	c := newTestClient(t)
	connectTestClient(t, c)
	c.nodeID = 1

	p := c.allocPort(directionInput)
	p.object.port.typeID = 0

	newShmBlock(t, c, 8, 4096)
	ev := (*nodeEvents)(c)
	ev.PortSetIO(0, p.id, 0, pod.IOBuffers, 8, 0, sizeofIOBuffers)

	m := c.findMix(p, 0)
	if m == nil || m.io == nil {
		t.Fatal("mix io not mapped")
	}

	ev.PortSetIO(0, p.id, 0, pod.IOBuffers, mem.InvalidID, 0, 0)
	if m.io != nil {
		t.Fatal("mix io not cleared")
	}
	// Clearing twice is a no-op.
	ev.PortSetIO(0, p.id, 0, pod.IOBuffers, mem.InvalidID, 0, 0)
	if m.io != nil {
		t.Fatal("second clear changed io")
	}
}

func TestPortUseBuffersMemPtr(t *testing.T) {
	c := newTestClient(t)
	connectTestClient(t, c)
	c.nodeID = 1

	p := c.allocPort(directionOutput)
	p.object.port.typeID = 0
	p.object.port.flags = PortIsOutput

	newShmBlock(t, c, 9, 65536)
	ev := (*nodeEvents)(c)
	ev.PortUseBuffers(1, p.id, pod.InvalidID, 0, []proto.BufferDesc{
		{
			MemID: 9, Offset: 0, Size: 65536,
			Datas: []proto.DataDesc{{
				Type:    pod.DataMemPtr,
				MaxSize: 1024,
				Data:    256, // plane lives inside the metadata region
			}},
		},
	})

	m := c.findMix(p, invalidID)
	if m == nil || m.nBuffers != 1 {
		t.Fatal("buffers not installed")
	}
	b := &m.buffers[0]
	if b.nDatas != 1 || b.datas[0].data == nil || len(b.datas[0].data) != 1024 {
		t.Fatal("plane not resolved")
	}
	if b.datas[0].chunk == nil {
		t.Fatal("chunk not resolved")
	}
	// Output buffers are recycled onto the queue immediately.
	checkMixAccounting(t, m)
	if m.queue.n != 1 {
		t.Fatalf("queue length %d, want 1", m.queue.n)
	}

	// A repeated use_buffers clears the previous set first.
	ev.PortUseBuffers(1, p.id, pod.InvalidID, 0, nil)
	if m.nBuffers != 0 || m.queue.n != 0 {
		t.Fatal("buffers not cleared on renegotiation")
	}
}

func TestCommandTogglesStarted(t *testing.T) {
	c := newTestClient(t)
	connectTestClient(t, c)
	c.nodeID = 1

	// Give the client an rt socket to arm.
	fd, err := mem.EventFd()
	if err != nil {
		t.Fatalf("eventfd: %v", err)
	}
	src, err := c.rtLoop.AddIO(fd, 0, c.onRTSocket)
	if err != nil {
		t.Fatalf("add io: %v", err)
	}
	c.socketSource = src
	c.rtFd = fd
	t.Cleanup(func() { unix.Close(fd) })

	ev := (*nodeEvents)(c)
	ev.Command(proto.CommandStart)
	if !c.started || !c.firstCycle {
		t.Fatal("start did not arm the client")
	}
	ev.Command(proto.CommandPause)
	if c.started {
		t.Fatal("pause did not disarm the client")
	}
	// A suspend after the pause stays disarmed.
	ev.Command(proto.CommandSuspend)
	if c.started {
		t.Fatal("suspend changed state")
	}
}

func TestCycleTimesMonotonic(t *testing.T) {
	c := newTestClient(t)
	c.nodeID = 1

	// Wire up an armed cycle by hand: eventfd, activation, position.
	fd, err := mem.EventFd()
	if err != nil {
		t.Fatalf("eventfd: %v", err)
	}
	t.Cleanup(func() { unix.Close(fd) })
	c.rtFd = fd
	c.activation = new(activation)
	pos := new(ioPosition)
	pos.Clock.Nsec = nowNsec()
	pos.Clock.Duration = 256
	pos.Clock.Rate = fraction(1, 48000)
	c.position = pos

	peer := new(activation)
	peer.State[0].Pending = 1
	peerFd, err := mem.EventFd()
	if err != nil {
		t.Fatalf("peer eventfd: %v", err)
	}
	t.Cleanup(func() { unix.Close(peerFd) })
	c.links = append(c.links, peerLink{nodeID: 2, activation: peer, signalFd: peerFd})

	if err := mem.SignalEvent(fd); err != nil {
		t.Fatalf("wakeup: %v", err)
	}
	frames := c.cycleRun()
	if frames != 256 {
		t.Fatalf("frames %d, want 256", frames)
	}
	if c.bufferFrames != 256 || c.sampleRate != 48000 {
		t.Fatal("cached quantum not updated")
	}
	c.cycleSignal(0)

	a := c.activation
	if a.Status != activationFinished {
		t.Fatalf("status %d, want FINISHED", a.Status)
	}
	if a.AwakeTime > a.FinishTime {
		t.Fatalf("awake %d after finish %d", a.AwakeTime, a.FinishTime)
	}
	if peer.Status != activationTriggered {
		t.Fatal("peer not triggered")
	}
	if a.FinishTime > peer.SignalTime {
		t.Fatalf("finish %d after signal %d", a.FinishTime, peer.SignalTime)
	}
	// The peer's eventfd got exactly one count.
	if v, err := mem.ReadEvent(peerFd); err != nil || v != 1 {
		t.Fatalf("peer wakeup = %d, %v", v, err)
	}
	if peer.State[0].Pending != 0 {
		t.Fatalf("peer pending %d, want 0", peer.State[0].Pending)
	}
}

func TestCycleCallbacksFireOnChange(t *testing.T) {
	c := newTestClient(t)
	c.nodeID = 1

	fd, _ := mem.EventFd()
	t.Cleanup(func() { unix.Close(fd) })
	c.rtFd = fd
	c.activation = new(activation)
	pos := new(ioPosition)
	pos.Clock.Nsec = nowNsec()
	pos.Clock.Duration = 128
	pos.Clock.Rate = fraction(1, 44100)
	c.position = pos

	var gotBufSize, gotRate uint32
	c.bufferSizeCallback = func(n uint32) int { gotBufSize = n; return 0 }
	c.sampleRateCallback = func(n uint32) int { gotRate = n; return 0 }
	inits := 0
	c.threadInitCallback = func() { inits++ }
	c.firstCycle = true

	mem.SignalEvent(fd)
	c.cycleRun()
	if gotBufSize != 128 || gotRate != 44100 {
		t.Fatalf("callbacks got %d/%d", gotBufSize, gotRate)
	}
	if inits != 1 {
		t.Fatalf("thread init ran %d times", inits)
	}

	// A second cycle with unchanged clock fires nothing again.
	gotBufSize, gotRate = 0, 0
	mem.SignalEvent(fd)
	c.cycleRun()
	if gotBufSize != 0 || gotRate != 0 {
		t.Fatal("callbacks fired without a change")
	}
	if inits != 1 {
		t.Fatal("thread init ran again without a restart")
	}
}

func TestCycleSyncCallback(t *testing.T) {
	c := newTestClient(t)
	c.nodeID = 1

	fd, _ := mem.EventFd()
	t.Cleanup(func() { unix.Close(fd) })
	c.rtFd = fd
	c.activation = new(activation)
	pos := new(ioPosition)
	pos.Clock.Nsec = nowNsec()
	pos.Clock.Duration = 64
	pos.Clock.Rate = fraction(1, 48000)
	c.position = pos
	newDriver(c, 9)

	storeUint32(&c.activation.PendingSync, 1)
	ready := false
	c.syncCallback = func(state TransportState, pos *Position) bool { return ready }

	mem.SignalEvent(fd)
	c.cycleRun()
	if loadUint32(&c.activation.PendingSync) == 0 {
		t.Fatal("pending sync cleared while callback not ready")
	}

	ready = true
	mem.SignalEvent(fd)
	c.cycleRun()
	if loadUint32(&c.activation.PendingSync) != 0 {
		t.Fatal("pending sync not cleared after ready")
	}
}

func TestTransportEventMapsActivation(t *testing.T) {
	c := newTestClient(t)
	connectTestClient(t, c)

	newShmBlock(t, c, 12, activationSize)
	readFd, _ := mem.EventFd()
	writeFd, _ := mem.EventFd()

	(*nodeEvents)(c).Transport(33, readFd, writeFd, 12, 0, uint32(activationSize))

	if c.nodeID != 33 {
		t.Fatalf("node id %d, want 33", c.nodeID)
	}
	if c.activation == nil {
		t.Fatal("activation not mapped")
	}
	if c.socketSource == nil || c.rtFd != readFd {
		t.Fatal("rt socket not registered")
	}
}
