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

package jack

import "log/slog"

// Deprecated and intentionally unimplemented entry points. They log and
// return the same results the legacy library would; the server never
// insists on any of them.

// SetFreewheel is not supported: the graph has no freewheel mode.
func (c *Client) SetFreewheel(onoff bool) error {
	slog.Warn("jack: set_freewheel not implemented")
	return ErrNotSupported
}

// EngineTakeoverTimebase is deprecated and does nothing.
func (c *Client) EngineTakeoverTimebase() error {
	slog.Error("jack: engine_takeover_timebase: deprecated")
	return nil
}

// InternalClientNew is not supported; all clients are external.
func InternalClientNew(clientName, loadName, loadInit string) error {
	slog.Warn("jack: internal clients not implemented")
	return ErrNotSupported
}

// InternalClientClose is not supported.
func InternalClientClose(clientName string) {
	slog.Warn("jack: internal clients not implemented")
}

// GetClientPID cannot be answered from the library side.
func GetClientPID(name string) int {
	slog.Error("jack: get_client_pid not implemented on library side")
	return 0
}

// PortTie is not supported.
func (o *Port) Tie(dst *Port) error {
	slog.Warn("jack: port_tie not implemented")
	return ErrNotSupported
}

// PortUntie is not supported.
func (o *Port) Untie() error {
	slog.Warn("jack: port_untie not implemented")
	return ErrNotSupported
}

// PortSetName is deprecated; use Client.PortRename.
func (o *Port) SetName(name string) error {
	slog.Warn("jack: port_set_name: deprecated")
	return nil
}

// RecomputeTotalLatencies is accepted and ignored; the server owns
// latency propagation.
func (c *Client) RecomputeTotalLatencies() error {
	slog.Warn("jack: recompute_total_latencies not implemented")
	return nil
}

// RecomputeTotalLatency is accepted and ignored.
func (c *Client) RecomputeTotalLatency(o *Port) error {
	slog.Warn("jack: recompute_total_latency not implemented")
	return nil
}

// PortGetTotalLatency is not tracked; returns zero.
func (c *Client) PortGetTotalLatency(o *Port) uint32 {
	slog.Warn("jack: port_get_total_latency not implemented")
	return 0
}

// SetSessionCallback is not supported.
func (c *Client) SetSessionCallback(cb func()) error {
	if c.active {
		slog.Error("jack: can't set callback on active client")
		return ErrActive
	}
	slog.Warn("jack: session API not implemented")
	return ErrNotSupported
}
