package jack

import (
	"bytes"
	"testing"

	"github.com/PipeWire/pipewire-jack/pod"
)

func TestMidiReserveOrdering(t *testing.T) {
	data := make([]byte, 1024)
	mb := initMidiBuffer(data, 8192)

	if buf := mb.EventReserve(0, 3); buf == nil {
		t.Fatal("first reserve failed")
	}
	if buf := mb.EventReserve(5, 10); buf == nil {
		t.Fatal("second reserve failed")
	}
	if buf := mb.EventReserve(4, 1); buf != nil {
		t.Fatal("out-of-order reserve succeeded")
	}
	if got := mb.LostEventCount(); got != 1 {
		t.Fatalf("lost_events = %d, want 1", got)
	}
	if got := mb.EventCount(); got != 2 {
		t.Fatalf("event_count = %d, want 2", got)
	}
}

func TestMidiReserveBounds(t *testing.T) {
	data := make([]byte, 64)
	mb := initMidiBuffer(data, 16)

	for _, c := range []struct {
		time uint32
		size uint32
		ok   bool
	}{
		{time: 16, size: 1, ok: false}, // beyond nframes
		{time: 0, size: 0, ok: false},  // empty event
		{time: 0, size: 3, ok: true},
		{time: 1, size: 1000, ok: false}, // larger than the buffer
	} {
		got := mb.EventReserve(c.time, c.size)
		if (got != nil) != c.ok {
			t.Errorf("reserve(%d, %d) ok = %v, want %v", c.time, c.size, got != nil, c.ok)
		}
	}
}

func TestMidiLargeEventPayloadPlacement(t *testing.T) {
	data := make([]byte, 256)
	mb := initMidiBuffer(data, 128)

	payload := []byte{0xf0, 1, 2, 3, 4, 5, 6, 0xf7}
	if err := mb.EventWrite(7, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Payload of size > 4 lives at the high end, growing down.
	wantOff := uint32(256 - 1 - len(payload))
	if !bytes.Equal(data[wantOff:wantOff+8], payload) {
		t.Fatalf("payload not at high end offset %d", wantOff)
	}

	ev, err := mb.EventGet(0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ev.Time != 7 || !bytes.Equal(ev.Buffer, payload) {
		t.Fatalf("event mismatch: time %d buffer %x", ev.Time, ev.Buffer)
	}
}

func TestMidiClearIdempotent(t *testing.T) {
	data := make([]byte, 512)
	mb := initMidiBuffer(data, 64)
	mb.EventWrite(0, []byte{0x90, 60, 100})
	mb.EventWrite(63, []byte{0x80, 60, 0})

	mb.ClearBuffer()
	snap := append([]byte(nil), data...)
	mb.ClearBuffer()
	if !bytes.Equal(snap, data) {
		t.Fatal("second clear changed buffer state")
	}
	if mb.EventCount() != 0 || mb.LostEventCount() != 0 {
		t.Fatal("clear did not reset counters")
	}
}

func TestMidiRoundTrip(t *testing.T) {
	type event struct {
		time uint32
		data []byte
	}
	events := []event{
		{0, []byte{0x90, 60, 100}},
		{0, []byte{0x90, 64, 100}},
		{12, []byte{0xb0, 7, 99}},
		{12, []byte{0xf0, 1, 2, 3, 4, 5, 0xf7}}, // sysex, out-of-line payload
		{100, []byte{0x80, 60, 0}},
	}

	src := make([]byte, 1024)
	mb := initMidiBuffer(src, 8192)
	for _, ev := range events {
		if err := mb.EventWrite(ev.time, ev.data); err != nil {
			t.Fatalf("write %v: %v", ev, err)
		}
	}

	wire := make([]byte, maxBufferFrames*4)
	convertFromMidi(mb, wire)

	p, err := pod.FromData(wire, 0, uint32(len(wire)))
	if err != nil {
		t.Fatalf("parse wire: %v", err)
	}
	seq, err := p.AsSequence()
	if err != nil {
		t.Fatalf("as sequence: %v", err)
	}

	dst := make([]byte, 1024)
	out := initMidiBuffer(dst, 8192)
	convertToMidi(new(midiMergeState), []*pod.Sequence{seq}, out)

	if out.EventCount() != uint32(len(events)) {
		t.Fatalf("event count %d, want %d", out.EventCount(), len(events))
	}
	for i, want := range events {
		got, err := out.EventGet(uint32(i))
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if got.Time != want.time || !bytes.Equal(got.Buffer, want.data) {
			t.Errorf("event %d: got (%d, %x), want (%d, %x)",
				i, got.Time, got.Buffer, want.time, want.data)
		}
	}
}

func TestMidiMergeOrderAndTies(t *testing.T) {
	mkseq := func(events ...[2]int) *pod.Sequence {
		b := pod.NewBuilder()
		f := b.PushSequence(0)
		for _, ev := range events {
			b.Control(uint32(ev[0]), pod.ControlMidi)
			b.Bytes_([]byte{byte(ev[1])})
		}
		b.Pop(f)
		p, _, err := pod.Parse(b.Bytes())
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		seq, err := p.AsSequence()
		if err != nil {
			t.Fatalf("sequence: %v", err)
		}
		return seq
	}

	// Ties at offset 5 must come out in input order: seq0 before seq1.
	seq0 := mkseq([2]int{5, 1}, [2]int{9, 2})
	seq1 := mkseq([2]int{3, 3}, [2]int{5, 4})

	dst := make([]byte, 512)
	out := initMidiBuffer(dst, 64)
	convertToMidi(new(midiMergeState), []*pod.Sequence{seq0, seq1}, out)

	var got [][2]uint32
	for i := uint32(0); i < out.EventCount(); i++ {
		ev, _ := out.EventGet(i)
		got = append(got, [2]uint32{ev.Time, uint32(ev.Buffer[0])})
	}
	want := [][2]uint32{{3, 3}, {5, 1}, {5, 4}, {9, 2}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("merge order: got %v, want %v", got, want)
		}
	}
}

func TestMidiMaxEventSizeShrinks(t *testing.T) {
	data := make([]byte, 256)
	mb := initMidiBuffer(data, 64)
	before := mb.MaxEventSize()
	if before == 0 {
		t.Fatal("fresh buffer reports no space")
	}
	mb.EventWrite(0, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	after := mb.MaxEventSize()
	if after >= before {
		t.Fatalf("max event size did not shrink: %d -> %d", before, after)
	}
}
