package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"fogfield.dev/internal/protocol"
	"fogfield.dev/internal/sim/patrol"
)

func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name      = flag.String("name", "bot", "provider name")
		rng       = flag.Float64("range", 200, "vision range in world units")
		speed     = flag.Float64("speed", 60, "walk speed in world units per second")
		waypoints = flag.String("waypoints", "0,0;1000,0;1000,1000;0,1000", "patrol waypoints x,y;x,y;...")
		loop      = flag.Bool("loop", true, "close the route instead of walking back")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	pts, err := parseWaypoints(*waypoints)
	if err != nil {
		logger.Fatalf("waypoints: %v", err)
	}
	route := patrol.Route{ID: *name, Range: *rng, Speed: *speed, Loop: *loop, Waypoints: pts}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	start := route.PositionAt(0)
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ProviderName:    *name,
		Range:           *rng,
		Pos:             &[2]float64{start.X, start.Y},
		MaxQueue:        8,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	welcome := make(chan protocol.WelcomeMsg, 1)
	done := make(chan struct{})
	go readLoop(conn, logger, welcome, done)

	var w protocol.WelcomeMsg
	select {
	case w = <-welcome:
	case <-done:
		return
	case <-stop:
		return
	}

	hz := w.WorldParams.TickRateHz
	if hz <= 0 {
		hz = 5
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()
	began := time.Now()

	for {
		select {
		case <-stop:
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
			return
		case <-done:
			return
		case <-ticker.C:
			p := route.PositionAt(time.Since(began).Seconds())
			mv := protocol.MoveMsg{
				Type:            protocol.TypeMove,
				ProtocolVersion: protocol.Version,
				Pos:             [2]float64{p.X, p.Y},
			}
			if err := conn.WriteJSON(mv); err != nil {
				logger.Printf("send MOVE: %v", err)
				return
			}
		}
	}
}

func readLoop(conn *websocket.Conn, logger *log.Logger, welcome chan<- protocol.WelcomeMsg, done chan<- struct{}) {
	defer close(done)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME provider_id=%s tick_rate=%d chunk_size=%g view_range=%d",
				w.ProviderID, w.WorldParams.TickRateHz, w.WorldParams.ChunkSize, w.WorldParams.ViewRange)
			select {
			case welcome <- w:
			default:
			}

		case protocol.TypeStatus:
			var st protocol.StatusMsg
			if err := json.Unmarshal(msg, &st); err != nil {
				continue
			}
			if st.Tick%50 == 0 {
				logger.Printf("tick=%d chunk=%v visible=%d explored=%d", st.Tick, st.Chunk, st.VisibleCount, st.ExploredCount)
			}

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			logger.Printf("ERROR %s: %s", e.Code, e.Message)
		}
	}
}

func parseWaypoints(s string) ([]patrol.Vec2, error) {
	var out []patrol.Vec2
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		xy := strings.Split(part, ",")
		if len(xy) != 2 {
			return nil, fmt.Errorf("bad waypoint %q", part)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(xy[0]), 64)
		if err != nil {
			return nil, err
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(xy[1]), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, patrol.Vec2{X: x, Y: y})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no waypoints")
	}
	return out, nil
}
