package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fogfield.dev/internal/observerproto"
	"fogfield.dev/internal/sim/fog"
	"fogfield.dev/internal/sim/patrol"
	"fogfield.dev/internal/sim/world"
)

func startWorld(t *testing.T) *world.World {
	t.Helper()
	cfg := fog.DefaultConfig()
	cfg.ChunkSize = 100
	w, err := world.New(world.WorldConfig{
		ID:         "test",
		TickRateHz: 100,
		Fog:        cfg,
		Patrols: []patrol.Route{{
			ID:        "patrol-a",
			Range:     120,
			Speed:     0,
			Waypoints: []world.Vec2{{X: 50, Y: 50}},
		}},
	})
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	t.Cleanup(cancel)
	return w
}

func TestBootstrap(t *testing.T) {
	w := startWorld(t)
	srv := httptest.NewServer(NewServer(w, "run-1", nil).BootstrapHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var b observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.WorldID != "test" || b.RunID != "run-1" || b.WorldParams.ChunkSize != 100 || b.WorldParams.LoadRange != 5 {
		t.Fatalf("bootstrap=%+v", b)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:1234": true,
		"[::1]:80":       true,
		"10.0.0.2:9":     false,
		"garbage":        false,
	} {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}

func TestWS_SubscribeStreamsAndSetsCamera(t *testing.T) {
	w := startWorld(t)
	srv := httptest.NewServer(NewServer(w, "run-1", nil).WSHandler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		Camera:          &[2]float64{50, 50},
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	sawFull := false
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		var m observerproto.TickMsg
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("read: %v", err)
		}
		if m.Type != observerproto.TypeFogTick {
			t.Fatalf("type=%s", m.Type)
		}
		if m.Full {
			sawFull = true
			if m.VisibleCount == 0 || len(m.Cells) != m.ActiveCount {
				t.Fatalf("full tick: visible=%d cells=%d active=%d", m.VisibleCount, len(m.Cells), m.ActiveCount)
			}
		}
		if sawFull && m.Camera != nil && *m.Camera == [2]float64{50, 50} {
			return
		}
	}
	t.Fatalf("never saw full tick with camera (full=%v)", sawFull)
}

func TestWS_RejectsMissingSubscribe(t *testing.T) {
	w := startWorld(t)
	srv := httptest.NewServer(NewServer(w, "", nil).WSHandler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.WriteJSON(map[string]string{"type": "HELLO"})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}
