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
	"context"
	"fmt"
	"strings"
	"time"

	"code.rocketnine.space/tslocum/cview"
	"github.com/gdamore/tcell/v2"
	"golang.org/x/sync/errgroup"

	"github.com/PipeWire/pipewire-jack/jack"
)

const watchInterval = 500 * time.Millisecond

// runWatch shows a live port/transport view until q or ctrl-c.
func runWatch(client *jack.Client) error {
	app := cview.NewApplication()

	view := cview.NewTextView()
	view.SetDynamicColors(true)
	view.SetBorder(true)
	view.SetTitle(" audio graph ")

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Rune() == 'q' || event.Key() == tcell.KeyCtrlC {
			app.Stop()
			return nil
		}
		return event
	})
	app.SetRoot(view, true)

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		defer app.Stop()
		ticker := time.NewTicker(watchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				text := renderWatch(takeSnapshot(client))
				app.QueueUpdateDraw(func() {
					view.SetText(text)
				})
			}
		}
	})

	g.Go(func() error {
		defer app.Stop()
		return app.Run()
	})

	return g.Wait()
}

func renderWatch(snap *snapshot) string {
	var b strings.Builder

	stateColor := "red"
	if snap.Transport.State == "rolling" || snap.Transport.State == "looping" {
		stateColor = "green"
	}
	fmt.Fprintf(&b, "[yellow]%s[-]  %d Hz  %d frames  load %.1f%%\n",
		snap.Client, snap.SampleRate, snap.BufferSize, snap.CPULoad)
	fmt.Fprintf(&b, "transport [%s]%s[-] frame %d", stateColor, snap.Transport.State, snap.Transport.Frame)
	if snap.Transport.BBTValid {
		fmt.Fprintf(&b, "  %d|%d|%04d", snap.Transport.Bar, snap.Transport.Beat, snap.Transport.Tick)
	}
	b.WriteString("\n\n")

	for _, p := range snap.Ports {
		dir := "[blue]out[-]"
		if p.Input {
			dir = "[green]in [-]"
		}
		fmt.Fprintf(&b, "%s %-48s %s\n", dir, cview.Escape(p.Name), p.Type)
		for _, conn := range p.Connections {
			fmt.Fprintf(&b, "      -> %s\n", cview.Escape(conn))
		}
	}
	b.WriteString("\npress q to quit")
	return b.String()
}
