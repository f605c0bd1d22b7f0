package jack

import (
	"testing"
)

// setupInputMix attaches a mix with one buffer of the given samples to
// an input port and marks it ready.
func setupInputMix(c *Client, p *port, mixID uint32, samples []float32) *mix {
	m := c.ensureMix(p, mixID)
	m.nBuffers = 1
	b := &m.buffers[0]
	b.id = 0
	b.nDatas = 1
	b.datas[0].data = floatsToBytes(samples)
	m.io = &ioBuffers{Status: statusHaveData, BufferID: 0}
	return m
}

func TestInputMixSum(t *testing.T) {
	c := newTestClient(t)
	p := c.allocPort(directionInput)
	p.object.port.typeID = 0
	p.object.port.flags = PortIsInput

	first := setupInputMix(c, p, 0, []float32{1.0, 2.0, 3.0, 4.0})
	second := setupInputMix(c, p, 1, []float32{0.5, 0.5, 0.5, 0.5})

	got := c.getBufferInputFloat(p, 4)
	if got == nil {
		t.Fatal("no buffer returned")
	}
	want := []float32{1.5, 2.5, 3.5, 4.5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d = %f, want %f", i, got[i], want[i])
		}
	}
	// The sum must land in the port's scratch buffer, not in the first
	// peer's buffer.
	if &got[0] != &p.emptyFloat[0] {
		t.Fatal("summed result does not use the port scratch buffer")
	}
	if first.io.Status != statusNeedData || second.io.Status != statusNeedData {
		t.Fatal("mix io not marked NEED_DATA")
	}
}

func TestInputSingleMixZeroCopy(t *testing.T) {
	c := newTestClient(t)
	p := c.allocPort(directionInput)
	p.object.port.typeID = 0

	m := setupInputMix(c, p, 0, []float32{9, 8, 7, 6})
	got := c.getBufferInputFloat(p, 4)
	if &got[0] != &floatSlice(m.buffers[0].datas[0].data, 4)[0] {
		t.Fatal("single mix input must be zero-copy")
	}
}

func TestInputNoMixReturnsSilence(t *testing.T) {
	c := newTestClient(t)
	p := c.allocPort(directionInput)
	p.object.port.typeID = 0
	p.object.port.flags = PortIsInput

	got := p.object.GetBuffer(64)
	if len(got) != 64 {
		t.Fatalf("buffer length %d, want 64", len(got))
	}
	for i, s := range got {
		if s != 0 {
			t.Fatalf("sample %d = %f, want silence", i, s)
		}
	}
	if !p.zeroed {
		t.Fatal("port not marked zeroed")
	}
}

func TestMix2Paths(t *testing.T) {
	src1 := []float32{1, 2, 3, 4, 5, 6, 7}
	src2 := []float32{10, 20, 30, 40, 50, 60, 70}
	for _, fn := range []struct {
		name string
		f    mix2Func
	}{{"scalar", mix2Scalar}, {"wide", mix2Wide}} {
		dst := make([]float32, len(src1))
		fn.f(dst, src1, src2)
		for i := range dst {
			if dst[i] != src1[i]+src2[i] {
				t.Fatalf("%s: sample %d = %f", fn.name, i, dst[i])
			}
		}
	}
}

// setupOutputMix gives an output port its own mix with n queued
// buffers backed by local memory.
func setupOutputMix(c *Client, p *port, n int) *mix {
	m := c.ensureMix(p, invalidID)
	m.nBuffers = uint32(n)
	for i := 0; i < n; i++ {
		b := &m.buffers[i]
		b.id = uint32(i)
		b.nDatas = 1
		b.datas[0].data = make([]byte, 256*4)
		b.datas[0].chunk = &chunk{}
		b.flags = bufferFlagOut
		reuseBuffer(m, b.id)
	}
	return m
}

func TestOutputBufferAndTee(t *testing.T) {
	c := newTestClient(t)
	p := c.allocPort(directionOutput)
	p.object.port.typeID = 0
	p.object.port.flags = PortIsOutput

	own := setupOutputMix(c, p, 2)
	reader := c.ensureMix(p, 7)
	reader.io = &ioBuffers{Status: statusOK, BufferID: invalidID}

	ptr := c.getBufferOutput(p, 128, 4)
	if ptr == nil {
		t.Fatal("no output buffer")
	}
	if p.io.Status != statusHaveData {
		t.Fatalf("port io status %d, want HAVE_DATA", p.io.Status)
	}
	b := &own.buffers[p.io.BufferID]
	if b.datas[0].chunk.Size != 128*4 || b.datas[0].chunk.Stride != 4 || b.datas[0].chunk.Offset != 0 {
		t.Fatalf("chunk not stamped: %+v", *b.datas[0].chunk)
	}
	// The tee mirrors the port io into every reader mix.
	if reader.io.Status != statusHaveData || reader.io.BufferID != p.io.BufferID {
		t.Fatalf("reader io not teed: %+v", *reader.io)
	}
	checkMixAccounting(t, own)
}

func TestOutputNoBuffersFallsBack(t *testing.T) {
	c := newTestClient(t)
	p := c.allocPort(directionOutput)
	p.object.port.typeID = 0
	p.object.port.flags = PortIsOutput

	got := p.object.GetBuffer(64)
	if len(got) != 64 {
		t.Fatalf("fallback buffer length %d", len(got))
	}
	if &got[0] != &p.emptyFloat[0] {
		t.Fatal("fallback must be the port scratch buffer")
	}
	if p.io.Status != statusPipe {
		t.Fatalf("port io status %d, want -EPIPE", p.io.Status)
	}
}

func TestMixQueueAccounting(t *testing.T) {
	c := newTestClient(t)
	p := c.allocPort(directionOutput)
	p.object.port.typeID = 0

	m := setupOutputMix(c, p, 2)
	checkMixAccounting(t, m)

	b := dequeueBuffer(m)
	if b == nil {
		t.Fatal("dequeue failed")
	}
	checkMixAccounting(t, m)

	reuseBuffer(m, b.id)
	checkMixAccounting(t, m)

	// Draining the queue leaves everything outstanding.
	for dequeueBuffer(m) != nil {
	}
	checkMixAccounting(t, m)
}
