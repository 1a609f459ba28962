package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fogfield.dev/internal/protocol"
	"fogfield.dev/internal/sim/fog"
	"fogfield.dev/internal/sim/world"
)

func startWorld(t *testing.T) *world.World {
	t.Helper()
	cfg := fog.DefaultConfig()
	cfg.ChunkSize = 100
	w, err := world.New(world.WorldConfig{ID: "test", TickRateHz: 100, Fog: cfg})
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	t.Cleanup(cancel)
	return w
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readType(t *testing.T, conn *websocket.Conn, want string) []byte {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if base.Type == want {
			return msg
		}
	}
	t.Fatalf("no %s message", want)
	return nil
}

func TestServer_HelloMoveStatus(t *testing.T) {
	w := startWorld(t)
	srv := httptest.NewServer(NewServer(w, nil).Handler())
	defer srv.Close()
	conn := dial(t, srv)

	if err := conn.WriteJSON(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ProviderName:    "bot",
		Range:           80,
		Pos:             &[2]float64{50, 50},
	}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(readType(t, conn, protocol.TypeWelcome), &welcome); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if welcome.ProviderID == "" || welcome.WorldParams.ChunkSize != 100 {
		t.Fatalf("welcome=%+v", welcome)
	}

	if err := conn.WriteJSON(protocol.MoveMsg{Type: protocol.TypeMove, ProtocolVersion: protocol.Version, Pos: [2]float64{-150, 50}}); err != nil {
		t.Fatalf("write move: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		var st protocol.StatusMsg
		if err := json.Unmarshal(readType(t, conn, protocol.TypeStatus), &st); err != nil {
			t.Fatalf("status: %v", err)
		}
		if st.Chunk == [2]int{-2, 0} {
			if st.ExploredCount < 2 {
				t.Fatalf("expected both chunks explored, got %d", st.ExploredCount)
			}
			return
		}
	}
	t.Fatalf("move never reflected in STATUS")
}

func TestServer_InvalidMoveGetsError(t *testing.T) {
	w := startWorld(t)
	srv := httptest.NewServer(NewServer(w, nil).Handler())
	defer srv.Close()
	conn := dial(t, srv)

	_ = conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ProviderName: "bot", Range: 10})
	readType(t, conn, protocol.TypeWelcome)

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"MOVE","protocol_version":"1.0","pos":[1]}`))
	var e protocol.ErrorMsg
	if err := json.Unmarshal(readType(t, conn, protocol.TypeError), &e); err != nil {
		t.Fatalf("error msg: %v", err)
	}
	if e.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("code=%s", e.Code)
	}
}

func TestServer_RejectsBadHello(t *testing.T) {
	w := startWorld(t)
	srv := httptest.NewServer(NewServer(w, nil).Handler())
	defer srv.Close()
	conn := dial(t, srv)

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"HELLO","protocol_version":"1.0","provider_name":"bot","range":-1}`))
	var e protocol.ErrorMsg
	if err := json.Unmarshal(readType(t, conn, protocol.TypeError), &e); err != nil {
		t.Fatalf("error msg: %v", err)
	}
	if e.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("code=%s", e.Code)
	}
}

func TestServer_RefusesOverRangeHello(t *testing.T) {
	w := startWorld(t)
	srv := httptest.NewServer(NewServer(w, nil).Handler())
	defer srv.Close()
	conn := dial(t, srv)

	limit := w.Config().Fog.ProviderRangeCap()
	_ = conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ProviderName: "big", Range: limit + 1})
	var e protocol.ErrorMsg
	if err := json.Unmarshal(readType(t, conn, protocol.TypeError), &e); err != nil {
		t.Fatalf("error msg: %v", err)
	}
	if e.Code != protocol.ErrBadRequest {
		t.Fatalf("code=%s", e.Code)
	}
	if n := w.Metrics().Providers; n != 0 {
		t.Fatalf("providers=%d", n)
	}
}

func TestServer_TimedOutJoinIsUndone(t *testing.T) {
	cfg := fog.DefaultConfig()
	cfg.ChunkSize = 100
	w, err := world.New(world.WorldConfig{ID: "test", TickRateHz: 100, Fog: cfg})
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	s := NewServer(w, nil)
	s.joinTimeout = 50 * time.Millisecond
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	conn := dial(t, srv)

	// The world loop is not running yet, so the join cannot be answered in time.
	_ = conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ProviderName: "late", Range: 50})
	var e protocol.ErrorMsg
	if err := json.Unmarshal(readType(t, conn, protocol.TypeError), &e); err != nil {
		t.Fatalf("error msg: %v", err)
	}
	if e.Code != protocol.ErrWorldBusy {
		t.Fatalf("code=%s", e.Code)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		m := w.Metrics()
		if m.JoinsTotal == 1 && m.LeavesTotal == 1 && m.Providers == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("late join was not removed: %+v", w.Metrics())
}
