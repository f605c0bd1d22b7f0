package jack

import (
	"math"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/PipeWire/pipewire-jack/loop"
	"github.com/PipeWire/pipewire-jack/mem"
	"github.com/PipeWire/pipewire-jack/pod"
	"github.com/PipeWire/pipewire-jack/proto"
)

// newTestClient builds a client with live loops and pools but no server
// connection. Protocol handlers are driven directly by the tests.
func newTestClient(t *testing.T) *Client {
	t.Helper()

	c := &Client{
		name:         "test",
		nodeID:       invalidID,
		driverID:     invalidID,
		rtFd:         -1,
		sampleRate:   invalidID,
		bufferFrames: invalidID,
		pool:         mem.NewPool(),
		seqScratch:   make([]*pod.Sequence, 0, maxConnections),
	}
	ctrl, err := loop.New()
	if err != nil {
		t.Fatalf("control loop: %v", err)
	}
	rt, err := loop.New()
	if err != nil {
		t.Fatalf("rt loop: %v", err)
	}
	c.ctrlLoop = ctrl
	c.rtLoop = rt
	c.loop = loop.NewThreadLoop(ctrl)
	c.dataLoop = loop.NewDataLoop(rt)
	c.initPortPool(directionInput)
	c.initPortPool(directionOutput)
	c.initMixPool()

	t.Cleanup(func() {
		c.pool.Close()
		ctrl.Close()
		rt.Close()
	})
	return c
}

// connectTestClient attaches a socketpair-backed protocol connection so
// handlers that reply to the server have somewhere to write.
func connectTestClient(t *testing.T, c *Client) int {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	c.conn = proto.NewConn(fds[0])
	c.core = proto.NewCore(c.conn, (*coreEvents)(c))
	c.node = proto.BindClientNode(c.conn, c.conn.NewID(), (*nodeEvents)(c))
	t.Cleanup(func() {
		unix.Close(fds[1])
		c.conn.Close()
		c.conn = nil
	})
	return fds[1]
}

// newShmBlock registers an anonymous memory block of the given size
// with the client's pool under id.
func newShmBlock(t *testing.T, c *Client, id uint32, size int) {
	t.Helper()
	fd, err := unix.MemfdCreate("test-block", unix.MFD_CLOEXEC)
	if err != nil {
		t.Fatalf("memfd: %v", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		t.Fatalf("ftruncate: %v", err)
	}
	c.pool.AddBlock(id, 0, fd, mem.FlagReadWrite)
}

const activationSize = int(unsafe.Sizeof(activation{}))
const positionSize = int(unsafe.Sizeof(ioPosition{}))

// newDriver wires a zeroed heap activation in as the driver of nodeID.
func newDriver(c *Client, nodeID uint32) *activation {
	a := new(activation)
	c.driverID = nodeID
	c.driverActivation = a
	return a
}

func fraction(num, denom uint32) pod.Fraction {
	return pod.Fraction{Num: num, Denom: denom}
}

func floatsToBytes(samples []float32) []byte {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		le := math.Float32bits(s)
		buf[i*4] = byte(le)
		buf[i*4+1] = byte(le >> 8)
		buf[i*4+2] = byte(le >> 16)
		buf[i*4+3] = byte(le >> 24)
	}
	return buf
}

// checkMixAccounting verifies that queued plus outstanding buffers add
// up to the negotiated count.
func checkMixAccounting(t *testing.T, m *mix) {
	t.Helper()
	out := 0
	for i := uint32(0); i < m.nBuffers; i++ {
		if m.buffers[i].flags&bufferFlagOut != 0 {
			out++
		}
	}
	if got := m.queue.n + out; got != int(m.nBuffers) {
		t.Fatalf("mix accounting: queued %d + out %d != %d buffers", m.queue.n, out, m.nBuffers)
	}
}
