package jack

import (
	"testing"
)

func TestClientOpenDisabled(t *testing.T) {
	t.Setenv("PIPEWIRE_NOJACK", "1")
	client, status := ClientOpen("x", 0)
	if client != nil {
		t.Fatal("open succeeded with PIPEWIRE_NOJACK set")
	}
	if status != Failure|ServerFailed {
		t.Fatalf("status %x, want Failure|ServerFailed", int(status))
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Setenv("PIPEWIRE_LATENCY", "")
	if got := latencyString(); got != "1024/48000" {
		t.Fatalf("default latency %q", got)
	}
	t.Setenv("PIPEWIRE_LATENCY", "256/96000")
	if got := latencyString(); got != "256/96000" {
		t.Fatalf("latency %q", got)
	}

	if restrictNode() != invalidID {
		t.Fatal("node restriction without env")
	}
	t.Setenv("PIPEWIRE_NODE", "77")
	if restrictNode() != 77 {
		t.Fatal("node restriction not parsed")
	}
	t.Setenv("PIPEWIRE_NODE", "bogus")
	if restrictNode() != invalidID {
		t.Fatal("bogus node restriction not rejected")
	}
}

func TestCallbackSettersOnActiveClient(t *testing.T) {
	c := newTestClient(t)
	c.active = true

	if err := c.SetProcessCallback(func(uint32) int { return 0 }); err != ErrActive {
		t.Fatalf("process = %v, want ErrActive", err)
	}
	if err := c.SetBufferSizeCallback(func(uint32) int { return 0 }); err != ErrActive {
		t.Fatalf("buffer size = %v, want ErrActive", err)
	}
	if err := c.SetSampleRateCallback(func(uint32) int { return 0 }); err != ErrActive {
		t.Fatalf("sample rate = %v, want ErrActive", err)
	}
	if err := c.SetXRunCallback(func() int { return 0 }); err != ErrActive {
		t.Fatalf("xrun = %v, want ErrActive", err)
	}
	if err := c.SetPortConnectCallback(func(a, b PortID, connected bool) {}); err != ErrActive {
		t.Fatalf("connect = %v, want ErrActive", err)
	}
}

func TestProcessAndThreadCallbacksExclusive(t *testing.T) {
	c := newTestClient(t)
	if err := c.SetProcessCallback(func(uint32) int { return 0 }); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := c.SetProcessThread(func() {}); err != ErrActive {
		t.Fatalf("thread after process = %v, want error", err)
	}

	c2 := newTestClient(t)
	if err := c2.SetProcessThread(func() {}); err != nil {
		t.Fatalf("thread: %v", err)
	}
	if err := c2.SetProcessCallback(func(uint32) int { return 0 }); err != ErrActive {
		t.Fatalf("process after thread = %v, want error", err)
	}
}

func TestDefaultsWithoutServerState(t *testing.T) {
	c := newTestClient(t)
	if got := c.GetSampleRate(); got != defaultSampleRate {
		t.Fatalf("sample rate %d", got)
	}
	if got := c.GetBufferSize(); got != defaultBufferFrames {
		t.Fatalf("buffer size %d", got)
	}
	if !c.IsRealtime() {
		t.Fatal("is_realtime must be true")
	}
	if c.ClientRealTimePriority() != 20 {
		t.Fatal("rt priority must be 20")
	}
	if c.CPULoad() != 0 {
		t.Fatal("cpu load without driver")
	}
}

func TestPortPoolExhaustion(t *testing.T) {
	c := newTestClient(t)
	for i := 0; i < maxPorts; i++ {
		if p := c.allocPort(directionInput); p == nil {
			t.Fatalf("pool dry after %d ports", i)
		}
	}
	if p := c.allocPort(directionInput); p != nil {
		t.Fatal("pool exceeded its capacity")
	}
	// The other direction has its own slab.
	if p := c.allocPort(directionOutput); p == nil {
		t.Fatal("output slab drained by input allocations")
	}
}

func TestPortFreeRecyclesSlot(t *testing.T) {
	c := newTestClient(t)
	p := c.allocPort(directionInput)
	id := p.id
	m := c.ensureMix(p, 3)
	if m == nil {
		t.Fatal("mix alloc failed")
	}
	c.freePort(p)
	if p.valid {
		t.Fatal("freed port still valid")
	}
	if !p.mixes.empty() {
		t.Fatal("freed port kept mixes")
	}
	p2 := c.allocPort(directionInput)
	if p2.id != id {
		t.Fatalf("slot %d not recycled, got %d", id, p2.id)
	}
}

func TestThreadLifecycle(t *testing.T) {
	c := newTestClient(t)

	ran := make(chan struct{})
	th, err := c.ClientCreateThread(20, true, func() { close(ran) })
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	<-ran
	if err := c.ClientStopThread(th); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestThreadKillCancels(t *testing.T) {
	c := newTestClient(t)
	var th *NativeThread
	started := make(chan struct{})
	var err error
	th, err = c.ClientCreateThread(20, true, func() {
		close(started)
		<-th.Canceled()
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	<-started
	if err := c.ClientKillThread(th); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if err := c.ClientStopThread(nil); err != ErrInvalid {
		t.Fatalf("stop nil = %v, want ErrInvalid", err)
	}
}

func TestUnsupportedOperations(t *testing.T) {
	c := newTestClient(t)
	if err := c.SetFreewheel(true); err != ErrNotSupported {
		t.Fatalf("freewheel = %v", err)
	}
	if err := InternalClientNew("a", "b", "c"); err != ErrNotSupported {
		t.Fatalf("internal client = %v", err)
	}
	p := c.allocPort(directionInput)
	if err := p.object.Tie(nil); err != ErrNotSupported {
		t.Fatalf("tie = %v", err)
	}
	if err := p.object.Untie(); err != ErrNotSupported {
		t.Fatalf("untie = %v", err)
	}
}

func TestStrError(t *testing.T) {
	if StrError(0) != "success" {
		t.Fatal("zero status")
	}
	if StrError(Failure|ServerFailed) != "unable to connect to the server" {
		t.Fatal("server failed status")
	}
}

func TestSizeConstants(t *testing.T) {
	if ClientNameSizeFunc() != 64 {
		t.Fatal("client name size")
	}
	if PortNameSizeFunc() != 321 {
		t.Fatal("port name size")
	}
	if PortTypeSizeFunc() != 33 {
		t.Fatal("port type size")
	}
}
