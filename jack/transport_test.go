package jack

import "testing"

func runningDriver(c *Client, nodeID uint32) *activation {
	a := newDriver(c, nodeID)
	a.Position.State = positionStateRunning
	a.Position.Clock.Position = 48000
	a.Position.Clock.Rate = fraction(1, 48000)
	a.Position.Clock.Nsec = 1_000_000_000
	seg := &a.Position.Segments[0]
	seg.Rate = 1.0
	return a
}

func TestTransportDecodeRolling(t *testing.T) {
	c := newTestClient(t)
	c.nodeID = 1
	runningDriver(c, 9)

	var pos Position
	state := c.TransportQuery(&pos)
	if state != TransportRolling {
		t.Fatalf("state %v, want rolling", state)
	}
	if pos.Frame != 48000 {
		t.Fatalf("frame %d, want 48000", pos.Frame)
	}
	if pos.FrameRate != 48000 {
		t.Fatalf("frame rate %d, want 48000", pos.FrameRate)
	}
	if pos.Usecs != 1_000_000 {
		t.Fatalf("usecs %d, want 1000000", pos.Usecs)
	}
	if pos.Valid != 0 {
		t.Fatalf("valid %x, want none", pos.Valid)
	}
}

func TestTransportDecodeStates(t *testing.T) {
	c := newTestClient(t)
	a := newDriver(c, 9)

	for _, tc := range []struct {
		state   uint32
		looping bool
		want    TransportState
	}{
		{positionStateStopped, false, TransportStopped},
		{positionStateStarting, false, TransportStarting},
		{positionStateRunning, false, TransportRolling},
		{positionStateRunning, true, TransportLooping},
	} {
		a.Position.State = tc.state
		if tc.looping {
			a.Position.Segments[0].Flags = segmentFlagLooping
		} else {
			a.Position.Segments[0].Flags = 0
		}
		if got := c.TransportQuery(nil); got != tc.want {
			t.Errorf("state %d looping %v -> %v, want %v", tc.state, tc.looping, got, tc.want)
		}
	}
}

func TestTransportSegmentWindow(t *testing.T) {
	c := newTestClient(t)
	a := runningDriver(c, 9)
	seg := &a.Position.Segments[0]

	// Inside the segment window the frame tracks the running clock.
	seg.Start = 40000
	seg.Duration = 100000
	seg.Position = 7
	var pos Position
	c.TransportQuery(&pos)
	if want := uint32(48000-40000) + 7; pos.Frame != want {
		t.Fatalf("frame %d, want %d", pos.Frame, want)
	}

	// Outside it the segment position wins.
	seg.Start = 100000
	c.TransportQuery(&pos)
	if pos.Frame != 7 {
		t.Fatalf("frame %d, want segment position 7", pos.Frame)
	}
}

func TestTransportBBTDecode(t *testing.T) {
	c := newTestClient(t)
	c.nodeID = 3
	a := runningDriver(c, 9)
	a.SegmentOwner[0] = 3
	bar := &a.Position.Segments[0].Bar
	bar.Flags = segmentBarFlagValid
	bar.SignatureNum = 4
	bar.SignatureDenom = 4
	bar.BPM = 120
	bar.Beat = 9.5 // bar 3, beat 2, half a beat in

	var pos Position
	c.TransportQuery(&pos)
	if pos.Valid&PositionBBT == 0 {
		t.Fatal("BBT not valid")
	}
	if pos.Bar != 3 || pos.Beat != 2 {
		t.Fatalf("bar/beat = %d/%d, want 3/2", pos.Bar, pos.Beat)
	}
	if pos.Tick != 960 {
		t.Fatalf("tick %d, want 960", pos.Tick)
	}
	if pos.TicksPerBeat != 1920 {
		t.Fatalf("ticks per beat %f", pos.TicksPerBeat)
	}

	// Without a segment owner BBT is never reported.
	a.SegmentOwner[0] = 0
	c.TransportQuery(&pos)
	if pos.Valid&PositionBBT != 0 {
		t.Fatal("BBT reported without segment owner")
	}
}

func TestTimebaseElection(t *testing.T) {
	shared := new(activation)

	a := newTestClient(t)
	a.nodeID = 1
	a.driverActivation = shared
	b := newTestClient(t)
	b.nodeID = 2
	b.driverActivation = shared

	if err := a.acquireTimebase(true); err != nil {
		t.Fatalf("first conditional acquire: %v", err)
	}
	if err := b.acquireTimebase(true); err != ErrBusy {
		t.Fatalf("second conditional acquire = %v, want ErrBusy", err)
	}
	if err := a.ReleaseTimebase(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := b.acquireTimebase(true); err != nil {
		t.Fatalf("retry after release: %v", err)
	}
}

func TestTimebaseUnconditionalOverwrite(t *testing.T) {
	shared := new(activation)

	a := newTestClient(t)
	a.nodeID = 1
	a.driverActivation = shared
	b := newTestClient(t)
	b.nodeID = 2
	b.driverActivation = shared

	if err := a.acquireTimebase(true); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := b.acquireTimebase(false); err != nil {
		t.Fatalf("unconditional acquire: %v", err)
	}
	if got := shared.SegmentOwner[0]; got != 2 {
		t.Fatalf("owner %d, want 2", got)
	}
	// The usurped owner can no longer release.
	if err := a.ReleaseTimebase(); err != ErrInvalid {
		t.Fatalf("stale release = %v, want ErrInvalid", err)
	}
}

func TestTimebaseWithoutDriver(t *testing.T) {
	c := newTestClient(t)
	if err := c.acquireTimebase(true); err != ErrIO {
		t.Fatalf("acquire without driver = %v, want ErrIO", err)
	}
	if err := c.ReleaseTimebase(); err != ErrIO {
		t.Fatalf("release without driver = %v, want ErrIO", err)
	}
	if err := c.SetSyncTimeout(1000); err != ErrIO {
		t.Fatalf("sync timeout without driver = %v, want ErrIO", err)
	}
}

func TestTransportRepositionAndCommands(t *testing.T) {
	c := newTestClient(t)
	c.nodeID = 5
	driver := newDriver(c, 9)
	c.activation = new(activation)

	if err := c.TransportLocate(4242); err != nil {
		t.Fatalf("locate: %v", err)
	}
	if got := c.activation.Reposition.Position; got != 4242 {
		t.Fatalf("reposition position %d, want 4242", got)
	}
	if got := driver.RepositionOwner; got != 5 {
		t.Fatalf("reposition owner %d, want 5", got)
	}

	c.TransportStart()
	if driver.Command != activationCommandStart {
		t.Fatalf("command %d, want start", driver.Command)
	}
	c.TransportStop()
	if driver.Command != activationCommandStop {
		t.Fatalf("command %d, want stop", driver.Command)
	}

	var bad Position
	bad.Valid = AudioVideoRatio
	bad.Frame = 1
	if err := c.TransportReposition(&bad); err != ErrInvalid {
		t.Fatalf("reposition with bad bits = %v, want ErrInvalid", err)
	}
}

func TestTimeConversionsWithoutPosition(t *testing.T) {
	c := newTestClient(t)
	if c.FrameTime() != 0 || c.LastFrameTime() != 0 || c.FramesSinceCycleStart() != 0 {
		t.Fatal("time queries without position must return 0")
	}
	if _, _, _, _, err := c.GetCycleTimes(); err != ErrIO {
		t.Fatalf("cycle times without position = %v, want ErrIO", err)
	}
}
