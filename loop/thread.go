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

package loop

import "sync"

// ThreadLoop runs a Loop on its own goroutine and serialises access with
// a mutex. Source callbacks take the loop mutex themselves before they
// touch shared state; API callers take the same mutex around every server
// interaction, and Wait parks a caller until a dispatch calls Signal.
type ThreadLoop struct {
	*Loop

	mu   sync.Mutex
	cond *sync.Cond

	stop chan struct{}
	done sync.WaitGroup
}

// NewThreadLoop wraps l.
func NewThreadLoop(l *Loop) *ThreadLoop {
	t := &ThreadLoop{Loop: l, stop: make(chan struct{})}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Start launches the dispatch goroutine.
func (t *ThreadLoop) Start() {
	t.done.Add(1)
	go t.run()
}

func (t *ThreadLoop) run() {
	defer t.done.Done()
	for {
		select {
		case <-t.stop:
			return
		default:
		}
		if _, err := t.Loop.Iterate(100); err != nil {
			return
		}
	}
}

// Lock acquires the loop mutex.
func (t *ThreadLoop) Lock() { t.mu.Lock() }

// Unlock releases the loop mutex.
func (t *ThreadLoop) Unlock() { t.mu.Unlock() }

// Wait parks the caller, which must hold the lock, until Signal.
func (t *ThreadLoop) Wait() { t.cond.Wait() }

// Signal wakes every waiter.
func (t *ThreadLoop) Signal() { t.cond.Broadcast() }

// Stop ends the dispatch goroutine and joins it.
func (t *ThreadLoop) Stop() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	t.Loop.wake()
	t.done.Wait()
}
