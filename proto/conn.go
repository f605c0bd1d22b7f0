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

package proto

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

var le = binary.LittleEndian

// headerSize is the fixed message header: proxy id, opcode packed with
// the 24-bit payload size, a sequence number and the fd count.
const headerSize = 16

// Message is one decoded inbound message.
type Message struct {
	ID     uint32
	Opcode uint8
	Seq    uint32
	Data   []byte
	Fds    []int
}

// Handler consumes messages addressed to one proxy id.
type Handler func(msg *Message)

// Conn is the control-socket connection. Sends are locked; receiving is
// single-threaded from the thread loop.
type Conn struct {
	fd int

	sendMu  sync.Mutex
	sendSeq uint32

	rbuf []byte // accumulated unparsed bytes
	rfds []int  // received, not yet claimed fds

	mu       sync.Mutex
	handlers map[uint32]Handler
	nextID   uint32
}

// SocketPath resolves the server socket location.
func SocketPath() string {
	dir := os.Getenv("PIPEWIRE_RUNTIME_DIR")
	if dir == "" {
		dir = os.Getenv("XDG_RUNTIME_DIR")
	}
	if dir == "" {
		dir = "/tmp"
	}
	return dir + "/pipewire-0"
}

// Dial connects to the server socket.
func Dial(path string) (*Conn, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Connect(fd, addr); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, fmt.Errorf("proto: connect %s: %w", path, err)
	}
	return NewConn(fd), nil
}

// NewConn wraps an already connected socket fd.
func NewConn(fd int) *Conn {
	return &Conn{
		fd:       fd,
		handlers: make(map[uint32]Handler),
		nextID:   ClientID + 1,
	}
}

// Fd exposes the socket for loop registration.
func (c *Conn) Fd() int { return c.fd }

// AddHandler routes inbound messages for proxy id to h.
func (c *Conn) AddHandler(id uint32, h Handler) {
	c.mu.Lock()
	c.handlers[id] = h
	c.mu.Unlock()
}

// RemoveHandler drops the route for id.
func (c *Conn) RemoveHandler(id uint32) {
	c.mu.Lock()
	delete(c.handlers, id)
	c.mu.Unlock()
}

// NewID reserves the next client-allocated proxy id.
func (c *Conn) NewID() uint32 {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.mu.Unlock()
	return id
}

// Send writes one message with optional fds.
func (c *Conn) Send(id uint32, opcode uint8, payload []byte, fds []int) error {
	if len(payload) >= 1<<24 {
		return fmt.Errorf("proto: payload too large: %d", len(payload))
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.sendSeq++
	hdr := make([]byte, headerSize, headerSize+len(payload))
	le.PutUint32(hdr, id)
	le.PutUint32(hdr[4:], uint32(opcode)<<24|uint32(len(payload)))
	le.PutUint32(hdr[8:], c.sendSeq)
	le.PutUint32(hdr[12:], uint32(len(fds)))
	msg := append(hdr, payload...)

	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	for {
		err := unix.Sendmsg(c.fd, msg, oob, nil, 0)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

// Recv drains the socket and invokes the registered handlers for every
// complete message. Returns false when the peer hung up.
func (c *Conn) Recv() bool {
	var buf [65536]byte
	var oob [1024]byte
	for {
		n, oobn, _, _, err := unix.Recvmsg(c.fd, buf[:], oob[:], 0)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EWOULDBLOCK || err == unix.EAGAIN {
			break
		}
		if err != nil || n == 0 {
			return false
		}
		c.rbuf = append(c.rbuf, buf[:n]...)
		if oobn > 0 {
			c.claimFds(oob[:oobn])
		}
	}
	c.dispatch()
	return true
}

func (c *Conn) claimFds(oob []byte) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		slog.Warn("proto: bad control message: " + err.Error())
		return
	}
	for _, m := range msgs {
		fds, err := unix.ParseUnixRights(&m)
		if err != nil {
			continue
		}
		c.rfds = append(c.rfds, fds...)
	}
}

func (c *Conn) dispatch() {
	for len(c.rbuf) >= headerSize {
		id := le.Uint32(c.rbuf)
		word := le.Uint32(c.rbuf[4:])
		opcode := uint8(word >> 24)
		size := int(word & 0xffffff)
		seq := le.Uint32(c.rbuf[8:])
		nfds := int(le.Uint32(c.rbuf[12:]))

		if len(c.rbuf) < headerSize+size || len(c.rfds) < nfds {
			return // wait for the rest
		}
		msg := Message{
			ID:     id,
			Opcode: opcode,
			Seq:    seq,
			Data:   c.rbuf[headerSize : headerSize+size],
		}
		if nfds > 0 {
			msg.Fds = c.rfds[:nfds:nfds]
			c.rfds = c.rfds[nfds:]
		}

		c.mu.Lock()
		h := c.handlers[id]
		c.mu.Unlock()
		if h != nil {
			h(&msg)
		} else {
			slog.Debug(fmt.Sprintf("proto: no proxy for id %d opcode %d", id, opcode))
			for _, fd := range msg.Fds {
				unix.Close(fd)
			}
		}
		c.rbuf = c.rbuf[headerSize+size:]
	}
	if len(c.rbuf) == 0 {
		c.rbuf = nil
	}
}

// Close shuts the socket down.
func (c *Conn) Close() {
	unix.Close(c.fd)
	for _, fd := range c.rfds {
		unix.Close(fd)
	}
	c.rfds = nil
}
