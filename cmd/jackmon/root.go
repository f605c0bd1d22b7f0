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

// jackmon inspects the audio graph through the client library: a port
// and transport snapshot as text or JSON, or a live TUI with --watch.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/PipeWire/pipewire-jack/jack"
)

const monitorClientName = "jackmon"

var (
	// arguments
	argJSON    bool
	argWatch   bool
	argVerbose bool

	rootCmd = &cobra.Command{
		Use:   "jackmon",
		Short: "Show ports and transport state of the audio graph",

		RunE: func(cmd *cobra.Command, args []string) error {
			return run(argJSON, argWatch)
		},
	}
)

func init() {
	rootCmd.Flags().BoolVarP(&argJSON, "json", "j", false, "Dump the snapshot as JSON")
	rootCmd.Flags().BoolVarP(&argWatch, "watch", "w", false, "Keep running and show a live view")
	rootCmd.Flags().BoolVarP(&argVerbose, "verbose", "v", false, "Enable debug logging")
}

func jackError(message string) {
	slog.Error("JACK: " + message)
}

func jackInfo(message string) {
	slog.Info("JACK: " + message)
}

func run(asJSON, watch bool) error {
	level := slog.LevelWarn
	if argVerbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	jack.SetErrorFunction(jackError)
	jack.SetInfoFunction(jackInfo)

	client, status := jack.ClientOpen(monitorClientName, jack.NoStartServer)
	if client == nil {
		return fmt.Errorf("cannot connect to graph server: %s", jack.StrError(status))
	}
	defer client.Close()

	if watch {
		return runWatch(client)
	}

	snap := takeSnapshot(client)
	if asJSON {
		return printJSON(snap)
	}
	printText(snap)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
