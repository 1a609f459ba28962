package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fogfield.dev/internal/sim/fog"
	"fogfield.dev/internal/sim/patrol"
	"fogfield.dev/internal/sim/world"
)

func startTestServer(t *testing.T) (*world.World, *httptest.Server) {
	t.Helper()
	cfg := fog.DefaultConfig()
	cfg.ChunkSize = 100
	cam := world.Vec2{X: 0, Y: 0}
	w, err := world.New(world.WorldConfig{
		ID:         "fog",
		TickRateHz: 100,
		Fog:        cfg,
		Camera:     &cam,
		Patrols:    []patrol.Route{{ID: "tower", Range: 150, Waypoints: []fog.Vec2{{X: 50, Y: 50}}}},
	})
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = w.Run(ctx) }()

	srv := httptest.NewServer(newMux(w, serverInfo{WorldID: "fog", RunID: "run-1", EnableAdmin: true}, nil))
	t.Cleanup(srv.Close)
	return w, srv
}

func TestHealthAndMetrics(t *testing.T) {
	_, srv := startTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil || resp.StatusCode != 200 {
		t.Fatalf("healthz: %v %v", err, resp)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{
		`fogfield_world_tick{world="fog"}`,
		`fogfield_chunks{world="fog",set="explored"}`,
		`# TYPE fogfield_evicted_total counter`,
	} {
		if !strings.Contains(string(b), want) {
			t.Fatalf("metrics missing %q:\n%s", want, b)
		}
	}
}

func TestAdminStateAndCamera(t *testing.T) {
	w, srv := startTestServer(t)

	resp, err := http.Post(srv.URL+"/admin/v1/camera", "application/json", strings.NewReader(`{"pos":[250,250]}`))
	if err != nil {
		t.Fatalf("camera: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("camera status=%d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c := w.Metrics().Camera; c != nil && *c == [2]float64{250, 250} {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err = http.Get(srv.URL + "/admin/v1/state")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		WorldID string          `json:"world_id"`
		RunID   string          `json:"run_id"`
		State   world.StateView `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.WorldID != "fog" || body.RunID != "run-1" || body.State.Digest == "" {
		t.Fatalf("state=%+v", body)
	}
	if body.State.Camera == nil || *body.State.Camera != [2]float64{250, 250} {
		t.Fatalf("camera not applied: %v", body.State.Camera)
	}
}

func TestAdminChunkAndMethodRouting(t *testing.T) {
	w, srv := startTestServer(t)

	deadline := time.Now().Add(2 * time.Second)
	for w.CurrentTick() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get(srv.URL + "/admin/v1/chunks/0/0")
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	var cv chunkView
	err = json.NewDecoder(resp.Body).Decode(&cv)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !cv.Active || !cv.Visible || !cv.Explored || cv.Cell == nil {
		t.Fatalf("chunk (0,0) under tower: %+v", cv)
	}

	resp, err = http.Get(srv.URL + "/admin/v1/chunks/-40/7")
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	cv = chunkView{}
	_ = json.NewDecoder(resp.Body).Decode(&cv)
	resp.Body.Close()
	if cv.Active || cv.Explored || cv.Chunk != [2]int{-40, 7} {
		t.Fatalf("far chunk: %+v", cv)
	}

	resp, err = http.Get(srv.URL + "/admin/v1/camera")
	if err != nil {
		t.Fatalf("camera: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET camera status=%d", resp.StatusCode)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:1234": true,
		"[::1]:80":       true,
		"10.0.0.2:80":    false,
		"garbage":        false,
	} {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", addr, got, want)
		}
	}
}
