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

// Package mem tracks the shared memory blocks announced by the graph
// server and the mappings created over them. Blocks arrive as (id, type,
// fd) triples on the control socket; everything the client reads or
// writes afterwards goes through a mapping of some block.
package mem

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

// Mapping flags.
const (
	FlagRead      = 1 << 0
	FlagWrite     = 1 << 1
	FlagReadWrite = FlagRead | FlagWrite
)

const InvalidID = ^uint32(0)

var ErrUnknownBlock = errors.New("mem: unknown block id")

// Block is one server-announced memory block, addressed by id.
type Block struct {
	ID   uint32
	Type uint32
	Fd   int
	Flag uint32
}

// Map is a live mapping over a block. A map with a tag can be found again
// and replaced when the server re-issues the same io region.
type Map struct {
	Block  *Block
	Ptr    []byte
	full   []byte // page-aligned slice as returned by mmap
	offset uint32
	tag    [5]uint32
	tagged bool
	pool   *Pool
}

// Pool owns the block table and all mappings.
type Pool struct {
	mu     sync.Mutex
	blocks map[uint32]*Block
	maps   []*Map
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{blocks: make(map[uint32]*Block)}
}

// AddBlock registers a block announced by the server. A block arriving
// with an id that is already present replaces the old one.
func (p *Pool) AddBlock(id, typ uint32, fd int, flags uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.blocks[id]; ok {
		slog.Debug(fmt.Sprintf("mem: replace block %d fd:%d", id, old.Fd))
		unix.Close(old.Fd)
	}
	p.blocks[id] = &Block{ID: id, Type: typ, Fd: fd, Flag: flags}
}

// RemoveBlock drops a block and closes its fd. Mappings over the block
// stay valid until freed; the kernel keeps the pages alive.
func (p *Pool) RemoveBlock(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.blocks[id]; ok {
		unix.Close(b.Fd)
		delete(p.blocks, id)
	}
}

// FindBlock resolves a block id.
func (p *Pool) FindBlock(id uint32) *Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blocks[id]
}

func prot(flags uint32) int {
	pr := 0
	if flags&FlagRead != 0 {
		pr |= unix.PROT_READ
	}
	if flags&FlagWrite != 0 {
		pr |= unix.PROT_WRITE
	}
	return pr
}

// MapID maps size bytes at offset of block id. A non-nil tag associates
// the mapping with an io region so a later MapID for the same tag can
// replace it.
func (p *Pool) MapID(id uint32, flags uint32, offset, size uint32, tag []uint32) (*Map, error) {
	b := p.FindBlock(id)
	if b == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBlock, id)
	}
	return p.MapBlock(b, flags, offset, size, tag)
}

// MapBlock maps an already resolved block.
func (p *Pool) MapBlock(b *Block, flags uint32, offset, size uint32, tag []uint32) (*Map, error) {
	// mmap needs a page-aligned file offset; keep the slack in front of
	// the returned slice.
	pagemask := uint32(unix.Getpagesize() - 1)
	skew := offset & pagemask
	data, err := unix.Mmap(b.Fd, int64(offset-skew), int(size+skew), prot(flags), unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mem: map block %d: %w", b.ID, err)
	}
	m := &Map{Block: b, Ptr: data[skew : skew+size], full: data, offset: offset, pool: p}
	if tag != nil {
		copy(m.tag[:], tag)
		m.tagged = true
	}
	p.mu.Lock()
	p.maps = append(p.maps, m)
	p.mu.Unlock()
	return m, nil
}

// FindTag returns the mapping registered under tag, if any.
func (p *Pool) FindTag(tag []uint32) *Map {
	var t [5]uint32
	copy(t[:], tag)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.maps {
		if m.tagged && m.tag == t {
			return m
		}
	}
	return nil
}

// Free unmaps m and forgets it.
func (m *Map) Free() {
	if m == nil || m.Ptr == nil {
		return
	}
	p := m.pool
	p.mu.Lock()
	for i, om := range p.maps {
		if om == m {
			p.maps = append(p.maps[:i], p.maps[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	if err := unix.Munmap(m.full); err != nil {
		slog.Warn("mem: munmap: " + err.Error())
	}
	m.Ptr = nil
	m.full = nil
}

// Mlock pins the mapping's pages. Failure is reported, not fatal; the
// caller keeps going with pageable memory.
func (m *Map) Mlock() {
	if err := unix.Mlock(m.Ptr); err != nil {
		slog.Warn(fmt.Sprintf("mem: mlock %d bytes: %v", len(m.Ptr), err))
	}
}

// Close releases every mapping and block fd.
func (p *Pool) Close() {
	p.mu.Lock()
	maps := p.maps
	p.maps = nil
	blocks := p.blocks
	p.blocks = make(map[uint32]*Block)
	p.mu.Unlock()

	for _, m := range maps {
		if m.full != nil {
			unix.Munmap(m.full)
		}
		m.Ptr = nil
		m.full = nil
	}
	for _, b := range blocks {
		unix.Close(b.Fd)
	}
}
