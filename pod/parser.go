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

import (
	"errors"
	"math"
)

var (
	ErrTruncated = errors.New("pod: truncated")
	ErrType      = errors.New("pod: unexpected type")
)

// Pod is a decoded value: a type and its body bytes.
type Pod struct {
	Type uint32
	Body []byte
}

// Parse decodes one value from data and returns the remainder after the
// value and its padding.
func Parse(data []byte) (Pod, []byte, error) {
	if len(data) < 8 {
		return Pod{}, nil, ErrTruncated
	}
	size := le.Uint32(data)
	typ := le.Uint32(data[4:])
	end := 8 + int(size)
	if end > len(data) {
		return Pod{}, nil, ErrTruncated
	}
	next := int(RoundUp(uint32(end), 8))
	if next > len(data) {
		next = len(data)
	}
	return Pod{Type: typ, Body: data[8:end]}, data[next:], nil
}

// FromData interprets a chunk of a mapped data plane as a value, the way
// the realtime path reads a peer's sequence out of shared memory. Returns
// an error when the chunk does not hold a complete value.
func FromData(data []byte, offset, size uint32) (Pod, error) {
	if int(offset) >= len(data) {
		return Pod{}, ErrTruncated
	}
	chunk := data[offset:]
	if int(size) < len(chunk) {
		chunk = chunk[:size]
	}
	p, _, err := Parse(chunk)
	return p, err
}

func (p Pod) word(i int) (uint32, error) {
	if len(p.Body) < (i+1)*4 {
		return 0, ErrTruncated
	}
	return le.Uint32(p.Body[i*4:]), nil
}

// Int returns the value of an Int or Id pod.
func (p Pod) Int() (int32, error) {
	if p.Type != TypeInt && p.Type != TypeID {
		return 0, ErrType
	}
	w, err := p.word(0)
	return int32(w), err
}

// ID returns the value of an Id pod.
func (p Pod) ID() (uint32, error) {
	if p.Type != TypeID {
		return 0, ErrType
	}
	return p.word(0)
}

// Long returns the value of a Long pod.
func (p Pod) Long() (int64, error) {
	if p.Type != TypeLong || len(p.Body) < 8 {
		return 0, ErrType
	}
	return int64(le.Uint64(p.Body)), nil
}

// Float returns the value of a Float pod.
func (p Pod) Float() (float32, error) {
	if p.Type != TypeFloat {
		return 0, ErrType
	}
	w, err := p.word(0)
	return math.Float32frombits(w), err
}

// String returns the value of a String pod without its NUL terminator.
func (p Pod) String() (string, error) {
	if p.Type != TypeString {
		return "", ErrType
	}
	b := p.Body
	for i, c := range b {
		if c == 0 {
			b = b[:i]
			break
		}
	}
	return string(b), nil
}

// Bytes returns the payload of a Bytes pod.
func (p Pod) Bytes() ([]byte, error) {
	if p.Type != TypeBytes {
		return nil, ErrType
	}
	return p.Body, nil
}

// Fd returns the fd-cache index held by an Fd pod.
func (p Pod) Fd() (int64, error) {
	if p.Type != TypeFd || len(p.Body) < 8 {
		return 0, ErrType
	}
	return int64(le.Uint64(p.Body)), nil
}

// Fields iterates the values of a Struct pod.
func (p Pod) Fields() (*FieldIter, error) {
	if p.Type != TypeStruct {
		return nil, ErrType
	}
	return &FieldIter{rest: p.Body}, nil
}

// FieldIter walks struct members in order.
type FieldIter struct {
	rest []byte
	err  error
}

// Next decodes the next member into out.
func (it *FieldIter) Next(out *Pod) bool {
	if it.err != nil || len(it.rest) == 0 {
		return false
	}
	var p Pod
	p, it.rest, it.err = Parse(it.rest)
	if it.err != nil {
		return false
	}
	*out = p
	return true
}

// Err reports a decode error encountered while iterating.
func (it *FieldIter) Err() error { return it.err }

// Object gives keyed access to an Object pod.
type Object struct {
	ObjType uint32
	ObjID   uint32
	props   []byte
}

// AsObject decodes an Object pod header.
func (p Pod) AsObject() (*Object, error) {
	if p.Type != TypeObject || len(p.Body) < 8 {
		return nil, ErrType
	}
	return &Object{
		ObjType: le.Uint32(p.Body),
		ObjID:   le.Uint32(p.Body[4:]),
		props:   p.Body[8:],
	}, nil
}

// Prop finds a property by key. The bool result reports presence.
func (o *Object) Prop(key uint32) (Pod, bool) {
	rest := o.props
	for len(rest) >= 8 {
		k := le.Uint32(rest)
		rest = rest[8:]
		p, r, err := Parse(rest)
		if err != nil {
			return Pod{}, false
		}
		// Choices degrade to their default value on lookup.
		if p.Type == TypeChoice && len(p.Body) >= 16 {
			p = Pod{Type: le.Uint32(p.Body[12:]), Body: p.Body[16:]}
		}
		if k == key {
			return p, true
		}
		rest = r
	}
	return Pod{}, false
}

// Sequence gives ordered access to the controls of a Sequence pod.
type Sequence struct {
	Unit uint32
	body []byte
}

// AsSequence decodes a Sequence pod.
func (p Pod) AsSequence() (*Sequence, error) {
	if p.Type != TypeSequence || len(p.Body) < 8 {
		return nil, ErrType
	}
	return &Sequence{Unit: le.Uint32(p.Body), body: p.Body[8:]}, nil
}

// IsSequence reports whether the pod is a sequence.
func (p Pod) IsSequence() bool { return p.Type == TypeSequence }

// Control is one timed entry of a sequence.
type Control struct {
	Offset uint32
	CType  uint32
	Value  Pod
}

// ControlIter walks sequence controls in stored order without allocating.
type ControlIter struct {
	rest []byte
}

// Controls returns an iterator over the sequence.
func (s *Sequence) Controls() ControlIter { return ControlIter{rest: s.body} }

// Next decodes the next control into out.
func (it *ControlIter) Next(out *Control) bool {
	if len(it.rest) < 8 {
		return false
	}
	out.Offset = le.Uint32(it.rest)
	out.CType = le.Uint32(it.rest[4:])
	p, rest, err := Parse(it.rest[8:])
	if err != nil {
		return false
	}
	out.Value = p
	it.rest = rest
	return true
}
