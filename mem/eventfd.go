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

package mem

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// EventFd creates a non-blocking eventfd, the wakeup primitive exchanged
// with the server.
func EventFd() (int, error) {
	return unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
}

// ReadEvent drains one 8-byte counter value. On an empty counter it
// returns (0, unix.EWOULDBLOCK).
func ReadEvent(fd int) (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil {
		return 0, err
	}
	if n != 8 {
		return 0, unix.EIO
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// SignalEvent adds 1 to the counter behind fd, waking its reader.
func SignalEvent(fd int) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	n, err := unix.Write(fd, buf[:])
	if err != nil {
		return err
	}
	if n != 8 {
		return unix.EIO
	}
	return nil
}
