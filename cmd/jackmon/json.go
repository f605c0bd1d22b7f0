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

package main

import (
	"fmt"

	"github.com/sugawarayuuta/sonnet"

	"github.com/PipeWire/pipewire-jack/jack"
)

type portStatus struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Input       bool     `json:"input"`
	Physical    bool     `json:"physical"`
	Terminal    bool     `json:"terminal"`
	Connections []string `json:"connections,omitempty"`
}

type transportStatus struct {
	State     string `json:"state"`
	Frame     uint32 `json:"frame"`
	FrameRate uint32 `json:"frame_rate"`
	Usecs     uint64 `json:"usecs"`
	BBTValid  bool   `json:"bbt_valid"`
	Bar       int32  `json:"bar,omitempty"`
	Beat      int32  `json:"beat,omitempty"`
	Tick      int32  `json:"tick,omitempty"`
}

type snapshot struct {
	Client     string          `json:"client"`
	SampleRate uint32          `json:"sample_rate"`
	BufferSize uint32          `json:"buffer_size"`
	CPULoad    float32         `json:"cpu_load"`
	Transport  transportStatus `json:"transport"`
	Ports      []portStatus    `json:"ports"`
}

func takeSnapshot(client *jack.Client) *snapshot {
	snap := &snapshot{
		Client:     client.GetClientName(),
		SampleRate: client.GetSampleRate(),
		BufferSize: client.GetBufferSize(),
		CPULoad:    client.CPULoad(),
	}

	var pos jack.Position
	state := client.TransportQuery(&pos)
	snap.Transport = transportStatus{
		State:     state.String(),
		Frame:     pos.Frame,
		FrameRate: pos.FrameRate,
		Usecs:     pos.Usecs,
		BBTValid:  pos.Valid&jack.PositionBBT != 0,
	}
	if snap.Transport.BBTValid {
		snap.Transport.Bar = pos.Bar
		snap.Transport.Beat = pos.Beat
		snap.Transport.Tick = pos.Tick
	}

	for _, name := range client.GetPorts("", "", 0) {
		p := client.PortByName(name)
		if p == nil {
			continue
		}
		flags := p.Flags()
		snap.Ports = append(snap.Ports, portStatus{
			Name:        name,
			Type:        p.Type(),
			Input:       flags&jack.PortIsInput != 0,
			Physical:    flags&jack.PortIsPhysical != 0,
			Terminal:    flags&jack.PortIsTerminal != 0,
			Connections: p.GetConnections(),
		})
	}
	return snap
}

func printJSON(snap *snapshot) error {
	out, err := sonnet.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printText(snap *snapshot) {
	fmt.Printf("client:      %s\n", snap.Client)
	fmt.Printf("sample rate: %d\n", snap.SampleRate)
	fmt.Printf("buffer size: %d\n", snap.BufferSize)
	fmt.Printf("transport:   %s at frame %d\n", snap.Transport.State, snap.Transport.Frame)
	fmt.Printf("dsp load:    %.1f%%\n", snap.CPULoad)
	fmt.Println()
	for _, p := range snap.Ports {
		dir := "out"
		if p.Input {
			dir = "in"
		}
		fmt.Printf("%-4s %-48s %s\n", dir, p.Name, p.Type)
		for _, conn := range p.Connections {
			fmt.Printf("     -> %s\n", conn)
		}
	}
}
