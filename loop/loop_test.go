package loop

import (
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func signal(t *testing.T, fd int) {
	t.Helper()
	var one [8]byte
	one[0] = 1
	if _, err := unix.Write(fd, one[:]); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func newEventFd(t *testing.T) int {
	t.Helper()
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		t.Fatalf("eventfd: %v", err)
	}
	t.Cleanup(func() { unix.Close(fd) })
	return fd
}

func TestIterateDispatch(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer l.Close()

	fd := newEventFd(t)
	fired := 0
	src, err := l.AddIO(fd, IOIn, func(gotFd int, mask uint32) {
		if gotFd != fd || mask&IOIn == 0 {
			t.Errorf("dispatch fd %d mask %x", gotFd, mask)
		}
		fired++
		var buf [8]byte
		unix.Read(fd, buf[:])
	})
	if err != nil {
		t.Fatalf("add io: %v", err)
	}

	if n, _ := l.Iterate(0); n != 0 {
		t.Fatalf("idle iterate dispatched %d", n)
	}
	signal(t, fd)
	if n, _ := l.Iterate(0); n != 1 || fired != 1 {
		t.Fatalf("iterate n=%d fired=%d", n, fired)
	}

	// A destroyed source never fires again.
	src.Destroy()
	signal(t, fd)
	if n, _ := l.Iterate(0); n != 0 {
		t.Fatalf("destroyed source dispatched %d", n)
	}
}

func TestSourceMaskUpdate(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer l.Close()

	fd := newEventFd(t)
	fired := 0
	src, err := l.AddIO(fd, IOErr|IOHup, func(int, uint32) { fired++ })
	if err != nil {
		t.Fatalf("add io: %v", err)
	}

	// Not armed for input: a pending count must not wake us.
	signal(t, fd)
	if n, _ := l.Iterate(0); n != 0 || fired != 0 {
		t.Fatal("disarmed source dispatched")
	}

	if err := src.Update(IOIn | IOErr | IOHup); err != nil {
		t.Fatalf("update: %v", err)
	}
	if n, _ := l.Iterate(0); n != 1 || fired != 1 {
		t.Fatalf("armed source n=%d fired=%d", n, fired)
	}
}

func TestInvokeWakesLoop(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer l.Close()

	done := make(chan struct{})
	go func() {
		l.Invoke(func() { close(done) })
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		l.Iterate(10)
		select {
		case <-done:
			return
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("invoke never ran")
		}
	}
}

func TestThreadLoopWaitSignal(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tl := NewThreadLoop(l)
	tl.Start()
	defer func() {
		tl.Stop()
		l.Close()
	}()

	var mu sync.Mutex
	delivered := false

	fd := newEventFd(t)
	_, err = l.AddIO(fd, IOIn, func(int, uint32) {
		var buf [8]byte
		unix.Read(fd, buf[:])
		tl.Lock()
		mu.Lock()
		delivered = true
		mu.Unlock()
		tl.Signal()
		tl.Unlock()
	})
	if err != nil {
		t.Fatalf("add io: %v", err)
	}

	tl.Lock()
	signal(t, fd)
	for {
		mu.Lock()
		ok := delivered
		mu.Unlock()
		if ok {
			break
		}
		tl.Wait()
	}
	tl.Unlock()
}

func TestDataLoopStartStop(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer l.Close()
	dl := NewDataLoop(l)

	fd := newEventFd(t)
	processed := make(chan struct{}, 16)
	_, err = l.AddIO(fd, IOIn, func(int, uint32) {
		var buf [8]byte
		unix.Read(fd, buf[:])
		processed <- struct{}{}
	})
	if err != nil {
		t.Fatalf("add io: %v", err)
	}

	dl.Start()
	if !dl.Running() {
		t.Fatal("data loop not running")
	}
	signal(t, fd)
	select {
	case <-processed:
	case <-time.After(2 * time.Second):
		t.Fatal("data loop never processed the wakeup")
	}
	dl.Stop()
	if dl.Running() {
		t.Fatal("data loop still running after stop")
	}
}
