package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	persistlog "fogfield.dev/internal/persistence/log"
	"fogfield.dev/internal/sim/fog"
	"fogfield.dev/internal/sim/tuning"
)

func main() {
	var (
		eventsDir  = flag.String("events", "", "events dir containing events-*.jsonl.zst")
		dataDir    = flag.String("data", "./data", "runtime data directory (used with -world)")
		worldID    = flag.String("world", "", "world id (alternative to -events)")
		tuningPath = flag.String("tuning", "", "tuning.yaml used by the recorded run; enables re-simulation")
		fromTick   = flag.Uint64("from_tick", 0, "start verifying digests from tick (inclusive, optional)")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	dir := strings.TrimSpace(*eventsDir)
	if dir == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -events or -world")
			os.Exit(2)
		}
		dir = filepath.Join(*dataDir, "worlds", *worldID, "events")
	}

	files, err := persistlog.ListTickLogs(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", dir)
		os.Exit(1)
	}

	opts := verifyOptions{FromTick: *fromTick, ToTick: *toTick}
	if strings.TrimSpace(*tuningPath) != "" {
		tune, err := tuning.Load(*tuningPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		cfg := tune.Fog
		opts.Fog = &cfg
	}

	sum, err := verify(files, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: files=%d entries=%d runs=%d digests_checked=%d max_explored=%d evicted=%d\n",
		len(files), sum.Entries, sum.Runs, sum.DigestsChecked, sum.MaxExplored, sum.Evicted)
}

type verifyOptions struct {
	FromTick uint64
	ToTick   uint64
	// Fog enables re-simulation when set.
	Fog *fog.Config
}

type summary struct {
	Entries        int
	Runs           int
	DigestsChecked int
	MaxExplored    int
	Evicted        int
}
