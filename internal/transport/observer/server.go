package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"fogfield.dev/internal/observerproto"
	"fogfield.dev/internal/sim/world"
)

type Server struct {
	world *world.World
	log   *log.Logger
	runID string

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(w *world.World, runID string, logger *log.Logger) *Server {
	return &Server{
		world: w,
		log:   logger,
		runID: runID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		cfg := s.world.Config()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			WorldID:         cfg.ID,
			RunID:           s.runID,
			Tick:            s.world.CurrentTick(),
			WorldParams: observerproto.WorldParams{
				TickRateHz:         cfg.TickRateHz,
				ChunkSize:          cfg.Fog.ChunkSize,
				ViewRange:          cfg.Fog.ViewRange,
				LoadRange:          s.world.LoadRange(),
				GracePeriodSeconds: cfg.Fog.GracePeriod,
				RadiusSafetyFactor: cfg.Fog.RadiusSafetyFactor,
				MaxProviderRange:   cfg.Fog.ProviderRangeCap(),
			},
			Render: cfg.Render,
			Camera: s.world.Metrics().Camera,
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, err := observerproto.DecodeSubscribe(msg)
		if err != nil {
			if s.log != nil {
				s.log.Printf("observer handshake rejected remote=%s err=%v", r.RemoteAddr, err)
			}
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		normalizeSubscribe(&sub)

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, 8)

		joinReq := world.ObserverJoinRequest{
			SessionID: sid,
			Out:       out,
			FullEvery: sub.FullEvery,
			MaxCells:  sub.MaxCells,
		}
		select {
		case s.world.ObserverJoin() <- joinReq:
		default:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		defer func() {
			select {
			case s.world.ObserverLeave() <- sid:
			default:
				// World loop is stopping; nothing else to do.
			}
		}()
		s.forwardCamera(sub)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok := <-out:
					if !ok {
						writeErr <- nil
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, err := observerproto.DecodeSubscribe(msg)
			if err != nil {
				continue
			}
			normalizeSubscribe(&sub)
			req := world.ObserverSubscribeRequest{
				SessionID: sid,
				FullEvery: sub.FullEvery,
				MaxCells:  sub.MaxCells,
			}
			select {
			case s.world.ObserverSubscribe() <- req:
			default:
				// Drop updates under load; the client may resend.
			}
			s.forwardCamera(sub)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// forwardCamera passes camera changes carried by a SUBSCRIBE to the world.
func (s *Server) forwardCamera(sub observerproto.SubscribeMsg) {
	var req world.CameraRequest
	switch {
	case sub.ClearCamera:
		req.Clear = true
	case sub.FollowProvider != "":
		req.Follow = sub.FollowProvider
	case sub.Camera != nil:
		req.Pos = &world.Vec2{X: sub.Camera[0], Y: sub.Camera[1]}
	default:
		return
	}
	select {
	case s.world.Camera() <- req:
	default:
		if s.log != nil {
			s.log.Printf("camera update dropped")
		}
	}
}

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.FullEvery < 0 {
		sub.FullEvery = 0
	}
	if sub.FullEvery > 10000 {
		sub.FullEvery = 10000
	}
	if sub.MaxCells < 0 {
		sub.MaxCells = 0
	}
	if sub.MaxCells > 16384 {
		sub.MaxCells = 16384
	}
	sub.FollowProvider = strings.TrimSpace(sub.FollowProvider)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
