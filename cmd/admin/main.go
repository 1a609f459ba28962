package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	persistlog "fogfield.dev/internal/persistence/log"
	"fogfield.dev/internal/sim/world"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "camera":
			cameraCmd(os.Args[2:])
			return
		case "logs":
			logsCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// logsCmd prints a compact per-file summary of the tick logs of a world.
func logsCmd(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	dir := filepath.Join(*dataDir, "worlds", *worldID, "events")
	files, err := persistlog.ListTickLogs(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, path := range files {
		var (
			n          int
			first      uint64
			last       world.TickLogEntry
			evicted    int
			discovered int
		)
		err := persistlog.ReadTickLog(path, func(e world.TickLogEntry) bool {
			if n == 0 {
				first = e.Tick
			}
			n++
			last = e
			evicted += len(e.Evicted)
			discovered += len(e.NewlyExplored)
			return true
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(path), err)
			os.Exit(1)
		}
		printJSON(struct {
			File          string `json:"file"`
			Entries       int    `json:"entries"`
			FirstTick     uint64 `json:"first_tick"`
			LastTick      uint64 `json:"last_tick"`
			Explored      int    `json:"explored"`
			NewlyExplored int    `json:"newly_explored"`
			Evicted       int    `json:"evicted"`
		}{filepath.Base(path), n, first, last.Tick, last.Explored, discovered, evicted})
	}
}
