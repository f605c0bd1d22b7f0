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

import (
	"os"
	"strconv"
)

// Environment configuration. All knobs are read at the call sites that
// need them so a test can flip them per case.

const defaultLatency = "1024/48000"

// noJack reports whether the shim is disabled for this process.
func noJack() bool {
	_, set := os.LookupEnv("PIPEWIRE_NOJACK")
	return set
}

// latencyString returns the requested node latency as "frames/rate".
func latencyString() string {
	if v := os.Getenv("PIPEWIRE_LATENCY"); v != "" {
		return v
	}
	return defaultLatency
}

// restrictNode returns the node id GetPorts is restricted to, or
// invalidID when unrestricted.
func restrictNode() uint32 {
	v := os.Getenv("PIPEWIRE_NODE")
	if v == "" {
		return invalidID
	}
	id, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return invalidID
	}
	return uint32(id)
}

// startServer reports whether the legacy ClientNew may start a server.
func startServer() bool {
	_, set := os.LookupEnv("JACK_START_SERVER")
	return set
}
