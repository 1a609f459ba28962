package main

import (
	"path/filepath"
	"strings"
	"testing"

	persistlog "fogfield.dev/internal/persistence/log"
	"fogfield.dev/internal/sim/fog"
	"fogfield.dev/internal/sim/patrol"
	"fogfield.dev/internal/sim/world"
)

func recordRun(t *testing.T, dir string, cfg fog.Config, ticks int) {
	t.Helper()
	cam := world.Vec2{X: 0, Y: 0}
	w, err := world.New(world.WorldConfig{
		ID:         "fog",
		TickRateHz: 10,
		Fog:        cfg,
		Camera:     &cam,
		Patrols: []patrol.Route{{
			ID:        "walker",
			Range:     150,
			Speed:     120,
			Loop:      true,
			Waypoints: []fog.Vec2{{X: 0, Y: 0}, {X: 1200, Y: 0}, {X: 1200, Y: 900}},
		}},
	})
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	tl := persistlog.NewTickLogger(dir)
	w.SetTickLogger(tl)
	for i := 0; i < ticks; i++ {
		w.StepOnce(float64(i)*0.5, world.Inputs{})
	}
	if err := tl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func testFogConfig() fog.Config {
	cfg := fog.DefaultConfig()
	cfg.ChunkSize = 100
	cfg.ViewRange = 2
	cfg.GracePeriod = 3
	return cfg
}

func TestVerify_ResimulatesRecordedRun(t *testing.T) {
	worldDir := t.TempDir()
	cfg := testFogConfig()
	recordRun(t, worldDir, cfg, 60)

	files, err := persistlog.ListTickLogs(filepath.Join(worldDir, "events"))
	if err != nil || len(files) == 0 {
		t.Fatalf("list: %v files=%v", err, files)
	}
	sum, err := verify(files, verifyOptions{Fog: &cfg})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sum.Entries != 60 || sum.Runs != 1 || sum.DigestsChecked != 60 {
		t.Fatalf("summary=%+v", sum)
	}
	if sum.MaxExplored == 0 || sum.Evicted == 0 {
		t.Fatalf("expected exploration and eviction, summary=%+v", sum)
	}
}

func TestVerify_DetectsConfigMismatch(t *testing.T) {
	worldDir := t.TempDir()
	cfg := testFogConfig()
	recordRun(t, worldDir, cfg, 20)

	files, _ := persistlog.ListTickLogs(filepath.Join(worldDir, "events"))
	other := cfg
	other.ChunkSize = 64
	_, err := verify(files, verifyOptions{Fog: &other})
	if err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Fatalf("expected digest mismatch, got %v", err)
	}
}

func TestVerify_CountsOnlyWithoutTuning(t *testing.T) {
	worldDir := t.TempDir()
	recordRun(t, worldDir, testFogConfig(), 10)
	files, _ := persistlog.ListTickLogs(filepath.Join(worldDir, "events"))
	sum, err := verify(files, verifyOptions{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sum.DigestsChecked != 0 || sum.Entries != 10 {
		t.Fatalf("summary=%+v", sum)
	}
}
