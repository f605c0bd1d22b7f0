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

package pod

import "math"

// Builder assembles values into a byte buffer. When given a fixed backing
// buffer it never reallocates, so a builder over mapped shared memory is
// safe on the realtime path; overflow marks the builder failed instead of
// growing.
type Builder struct {
	buf    []byte
	n      int
	fixed  bool
	failed bool
}

// NewBuilder returns a growable builder.
func NewBuilder() *Builder {
	return &Builder{buf: make([]byte, 0, 1024)}
}

// NewFixedBuilder builds into buf without allocating. Writes beyond
// len(buf) mark the builder failed.
func NewFixedBuilder(buf []byte) *Builder {
	return &Builder{buf: buf, fixed: true}
}

// Bytes returns the encoded bytes, or nil if the builder overflowed its
// fixed buffer.
func (b *Builder) Bytes() []byte {
	if b.failed {
		return nil
	}
	if b.fixed {
		return b.buf[:b.n]
	}
	return b.buf
}

// Failed reports whether a fixed builder ran out of space.
func (b *Builder) Failed() bool { return b.failed }

func (b *Builder) grow(n int) []byte {
	if b.failed {
		return nil
	}
	if b.fixed {
		if b.n+n > len(b.buf) {
			b.failed = true
			return nil
		}
		s := b.buf[b.n : b.n+n]
		b.n += n
		return s
	}
	off := len(b.buf)
	for i := 0; i < n; i++ {
		b.buf = append(b.buf, 0)
	}
	return b.buf[off:]
}

func (b *Builder) pos() int {
	if b.fixed {
		return b.n
	}
	return len(b.buf)
}

func (b *Builder) header(size, typ uint32) {
	if s := b.grow(8); s != nil {
		le.PutUint32(s, size)
		le.PutUint32(s[4:], typ)
	}
}

func (b *Builder) pad(bodySize int) {
	if n := int(RoundUp(uint32(bodySize), 8)) - bodySize; n > 0 {
		b.grow(n)
	}
}

func (b *Builder) primitive(typ uint32, body ...uint32) {
	b.header(uint32(len(body)*4), typ)
	for _, w := range body {
		if s := b.grow(4); s != nil {
			le.PutUint32(s, w)
		}
	}
	b.pad(len(body) * 4)
}

func (b *Builder) None()           { b.header(0, TypeNone) }
func (b *Builder) ID(v uint32)     { b.primitive(TypeID, v) }
func (b *Builder) Int(v int32)     { b.primitive(TypeInt, uint32(v)) }
func (b *Builder) Float(v float32) { b.primitive(TypeFloat, math.Float32bits(v)) }

func (b *Builder) Bool(v bool) {
	w := uint32(0)
	if v {
		w = 1
	}
	b.primitive(TypeBool, w)
}

func (b *Builder) Fraction(f Fraction)   { b.primitive(TypeFraction, f.Num, f.Denom) }
func (b *Builder) Rectangle(r Rectangle) { b.primitive(TypeRectangle, r.Width, r.Height) }

func (b *Builder) Long(v int64) {
	b.header(8, TypeLong)
	if s := b.grow(8); s != nil {
		le.PutUint64(s, uint64(v))
	}
}

func (b *Builder) Double(v float64) {
	b.header(8, TypeDouble)
	if s := b.grow(8); s != nil {
		le.PutUint64(s, math.Float64bits(v))
	}
}

// String encodes s with a terminating NUL, the way the server expects.
func (b *Builder) String(v string) {
	n := len(v) + 1
	b.header(uint32(n), TypeString)
	if s := b.grow(n); s != nil {
		copy(s, v)
		s[n-1] = 0
	}
	b.pad(n)
}

func (b *Builder) Bytes_(v []byte) {
	b.header(uint32(len(v)), TypeBytes)
	if s := b.grow(len(v)); s != nil {
		copy(s, v)
	}
	b.pad(len(v))
}

func (b *Builder) Fd(index int64) {
	b.header(8, TypeFd)
	if s := b.grow(8); s != nil {
		le.PutUint64(s, uint64(index))
	}
}

// IDArray encodes a TypeArray of ids.
func (b *Builder) IDArray(ids []uint32) {
	n := 8 + len(ids)*4
	b.header(uint32(n), TypeArray)
	if s := b.grow(8); s != nil {
		le.PutUint32(s, 4)
		le.PutUint32(s[4:], TypeID)
	}
	for _, id := range ids {
		if s := b.grow(4); s != nil {
			le.PutUint32(s, id)
		}
	}
	b.pad(n)
}

// Frame marks an open container whose size is fixed up on Pop.
type Frame struct {
	header int // offset of the container header
}

func (b *Builder) push(typ uint32, body ...uint32) Frame {
	f := Frame{header: b.pos()}
	b.header(0, typ)
	for _, w := range body {
		if s := b.grow(4); s != nil {
			le.PutUint32(s, w)
		}
	}
	return f
}

// PushStruct opens a struct container.
func (b *Builder) PushStruct() Frame { return b.push(TypeStruct) }

// PushObject opens an object container of the given object type and param
// id.
func (b *Builder) PushObject(objType, objID uint32) Frame {
	return b.push(TypeObject, objType, objID)
}

// PushSequence opens a sequence container.
func (b *Builder) PushSequence(unit uint32) Frame {
	return b.push(TypeSequence, unit, 0)
}

// PushChoice opens a choice container. The first child value establishes
// the child type; alternatives follow as bare bodies of the same size.
func (b *Builder) PushChoice(kind uint32) Frame {
	return b.push(TypeChoice, kind, 0)
}

// Pop closes the container opened by f and patches its size.
func (b *Builder) Pop(f Frame) {
	if b.failed {
		return
	}
	size := uint32(b.pos() - f.header - 8)
	buf := b.buf
	le.PutUint32(buf[f.header:], size)
	b.pad(int(size))
}

// Property introduces the next object member.
func (b *Builder) Property(key, flags uint32) {
	if s := b.grow(8); s != nil {
		le.PutUint32(s, key)
		le.PutUint32(s[4:], flags)
	}
}

// Control introduces the next sequence member at the given offset.
func (b *Builder) Control(offset, ctype uint32) {
	if s := b.grow(8); s != nil {
		le.PutUint32(s, offset)
		le.PutUint32(s[4:], ctype)
	}
}

// Choice bodies hold one child header followed by tightly packed
// alternative values of the child size.

// ChoiceRangeInt is the common def/min/max integer choice.
func (b *Builder) ChoiceRangeInt(def, min, max int32) {
	f := b.PushChoice(ChoiceRange)
	b.header(4, TypeInt)
	b.word(uint32(def))
	b.word(uint32(min))
	b.word(uint32(max))
	b.Pop(f)
}

// ChoiceStepInt is a def/min/max/step integer choice.
func (b *Builder) ChoiceStepInt(def, min, max, step int32) {
	f := b.PushChoice(ChoiceStep)
	b.header(4, TypeInt)
	b.word(uint32(def))
	b.word(uint32(min))
	b.word(uint32(max))
	b.word(uint32(step))
	b.Pop(f)
}

// ChoiceRangeRectangle is a def/min/max rectangle choice.
func (b *Builder) ChoiceRangeRectangle(def, min, max Rectangle) {
	f := b.PushChoice(ChoiceRange)
	b.header(8, TypeRectangle)
	b.word(def.Width)
	b.word(def.Height)
	b.word(min.Width)
	b.word(min.Height)
	b.word(max.Width)
	b.word(max.Height)
	b.Pop(f)
}

// ChoiceRangeFraction is a def/min/max fraction choice.
func (b *Builder) ChoiceRangeFraction(def, min, max Fraction) {
	f := b.PushChoice(ChoiceRange)
	b.header(8, TypeFraction)
	b.word(def.Num)
	b.word(def.Denom)
	b.word(min.Num)
	b.word(min.Denom)
	b.word(max.Num)
	b.word(max.Denom)
	b.Pop(f)
}

func (b *Builder) word(v uint32) {
	if s := b.grow(4); s != nil {
		le.PutUint32(s, v)
	}
}
