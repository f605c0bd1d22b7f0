package proto

import (
	"bytes"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/PipeWire/pipewire-jack/pod"
)

func newPair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	a := NewConn(fds[0])
	b := NewConn(fds[1])
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestSendRecvRoundTrip(t *testing.T) {
	a, b := newPair(t)

	var got []*Message
	b.AddHandler(7, func(msg *Message) {
		cp := *msg
		cp.Data = append([]byte(nil), msg.Data...)
		got = append(got, &cp)
	})

	payload := []byte{1, 2, 3, 4, 5}
	if err := a.Send(7, 3, payload, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := a.Send(7, 4, nil, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !b.Recv() {
		t.Fatal("recv reported hangup")
	}

	if len(got) != 2 {
		t.Fatalf("received %d messages", len(got))
	}
	if got[0].Opcode != 3 || !bytes.Equal(got[0].Data, payload) {
		t.Fatalf("first message %+v", got[0])
	}
	if got[1].Opcode != 4 || len(got[1].Data) != 0 {
		t.Fatalf("second message %+v", got[1])
	}
}

func TestFdPassing(t *testing.T) {
	a, b := newPair(t)

	evfd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		t.Fatalf("eventfd: %v", err)
	}
	defer unix.Close(evfd)

	var gotFd = -1
	b.AddHandler(2, func(msg *Message) {
		if len(msg.Fds) == 1 {
			gotFd = msg.Fds[0]
		}
	})

	if err := a.Send(2, 0, []byte{0}, []int{evfd}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !b.Recv() {
		t.Fatal("recv failed")
	}
	if gotFd < 0 {
		t.Fatal("fd not delivered")
	}
	defer unix.Close(gotFd)

	// The received descriptor refers to the same eventfd object.
	var one [8]byte
	one[0] = 1
	if _, err := unix.Write(gotFd, one[:]); err != nil {
		t.Fatalf("write received fd: %v", err)
	}
	var buf [8]byte
	if _, err := unix.Read(evfd, buf[:]); err != nil {
		t.Fatalf("read original fd: %v", err)
	}
	if buf[0] != 1 {
		t.Fatal("eventfd count mismatch")
	}
}

func TestHangupDetection(t *testing.T) {
	a, b := newPair(t)
	a.Close()
	if b.Recv() {
		t.Fatal("hangup not detected")
	}
}

type recordingCore struct {
	dones  [][2]int
	errors []string
}

func (r *recordingCore) Done(id uint32, seq int)  { r.dones = append(r.dones, [2]int{int(id), seq}) }
func (r *recordingCore) Ping(id uint32, seq int)  {}
func (r *recordingCore) Error(id uint32, seq int, res int32, msg string) {
	r.errors = append(r.errors, msg)
}
func (r *recordingCore) RemoveID(id uint32)                          {}
func (r *recordingCore) BoundID(id, globalID uint32)                 {}
func (r *recordingCore) AddMem(id, typ uint32, fd int, flags uint32) {}
func (r *recordingCore) RemoveMem(id uint32)                         {}

func TestCoreEventDispatch(t *testing.T) {
	client, server := newPair(t)
	rec := &recordingCore{}
	NewCore(client, rec)

	// Fake the server side of Done and Error.
	b := pod.NewBuilder()
	f := b.PushStruct()
	b.Int(0)
	b.Int(42)
	b.Pop(f)
	if err := server.Send(CoreID, coreEventDone, b.Bytes(), nil); err != nil {
		t.Fatalf("send done: %v", err)
	}

	b = pod.NewBuilder()
	f = b.PushStruct()
	b.Int(3)
	b.Int(1)
	b.Int(-5)
	b.String("boom")
	b.Pop(f)
	if err := server.Send(CoreID, coreEventError, b.Bytes(), nil); err != nil {
		t.Fatalf("send error: %v", err)
	}

	if !client.Recv() {
		t.Fatal("recv failed")
	}
	if len(rec.dones) != 1 || rec.dones[0] != [2]int{0, 42} {
		t.Fatalf("done events %v", rec.dones)
	}
	if len(rec.errors) != 1 || rec.errors[0] != "boom" {
		t.Fatalf("error events %v", rec.errors)
	}
}

type recordingRegistry struct {
	globals []uint32
	removed []uint32
	types   []string
	props   []map[string]string
}

func (r *recordingRegistry) Global(id, permissions uint32, typ string, version uint32, props map[string]string) {
	r.globals = append(r.globals, id)
	r.types = append(r.types, typ)
	r.props = append(r.props, props)
}

func (r *recordingRegistry) GlobalRemove(id uint32) { r.removed = append(r.removed, id) }

func TestRegistryEventDispatch(t *testing.T) {
	client, server := newPair(t)
	rec := &recordingCore{}
	core := NewCore(client, rec)

	reg, err := core.GetRegistry(&recordingRegistry{})
	if err != nil {
		t.Fatalf("get registry: %v", err)
	}
	events := reg.events.(*recordingRegistry)

	b := pod.NewBuilder()
	f := b.PushStruct()
	b.Int(int32(33))
	b.Int(7)
	b.String(TypeNode)
	b.Int(3)
	b.Int(2)
	b.String("node.name")
	b.String("fake")
	b.String("priority.master")
	b.String("9")
	b.Pop(f)
	if err := server.Send(reg.ID, registryEventGlobal, b.Bytes(), nil); err != nil {
		t.Fatalf("send global: %v", err)
	}
	if !client.Recv() {
		t.Fatal("recv failed")
	}

	if len(events.globals) != 1 || events.globals[0] != 33 {
		t.Fatalf("globals %v", events.globals)
	}
	if events.types[0] != TypeNode {
		t.Fatalf("type %q", events.types[0])
	}
	if events.props[0]["node.name"] != "fake" || events.props[0]["priority.master"] != "9" {
		t.Fatalf("props %v", events.props[0])
	}
}
