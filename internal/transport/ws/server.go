package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"fogfield.dev/internal/protocol"
	"fogfield.dev/internal/sim/world"
)

const defaultJoinTimeout = 5 * time.Second

type Server struct {
	world *world.World
	log   *log.Logger

	upgrader    websocket.Upgrader
	joinTimeout time.Duration
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	s := &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		joinTimeout: defaultJoinTimeout,
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		providerID, out := s.handshake(conn)
		if providerID == "" {
			return
		}
		s.printf("provider joined id=%s remote=%s", providerID, r.RemoteAddr)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.Validate(msg)
			if err != nil {
				queueError(out, protocol.ErrProtoBadRequest, err.Error())
				continue
			}
			if base.ProtocolVersion != protocol.Version {
				queueError(out, protocol.ErrProtoVersion, "bad protocol_version")
				continue
			}
			if base.Type != protocol.TypeMove {
				queueError(out, protocol.ErrBadRequest, "unexpected "+base.Type)
				continue
			}
			var mv protocol.MoveMsg
			if err := json.Unmarshal(msg, &mv); err != nil {
				continue
			}
			req := world.MoveRequest{
				ProviderID: providerID,
				Pos:        world.Vec2{X: mv.Pos[0], Y: mv.Pos[1]},
				Range:      mv.Range,
			}
			select {
			case s.world.Move() <- req:
			default:
				queueError(out, protocol.ErrWorldBusy, "move dropped")
			}
		}

		// Cleanup.
		s.world.Leave() <- providerID
		s.printf("provider left id=%s", providerID)
	}
}

func (s *Server) handshake(conn *websocket.Conn) (providerID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}
	if base.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoVersion, "bad protocol_version"))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}
	if _, err := protocol.Validate(msg); err != nil {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoBadRequest, err.Error()))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	out = make(chan []byte, maxQ)

	req := world.JoinRequest{
		Name:  hello.ProviderName,
		Range: hello.Range,
		Out:   out,
		Resp:  make(chan world.JoinResponse, 1),
	}
	if hello.Pos != nil {
		req.Pos = &world.Vec2{X: hello.Pos[0], Y: hello.Pos[1]}
	}
	select {
	case s.world.Join() <- req:
	default:
		_ = writeJSON(conn, protocol.NewError(protocol.ErrWorldBusy, "join queue full"))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
		return "", nil
	}

	var resp world.JoinResponse
	select {
	case resp = <-req.Resp:
	case <-time.After(s.joinTimeout):
		// The request is still queued; undo the join once the world gets to it.
		go s.leaveLateJoin(req.Resp)
		_ = writeJSON(conn, protocol.NewError(protocol.ErrWorldBusy, "join timed out"))
		return "", nil
	}
	if resp.ErrorCode != "" {
		_ = writeJSON(conn, protocol.NewError(resp.ErrorCode, "join refused"))
		return "", nil
	}

	// Send welcome immediately.
	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.world.Leave() <- resp.Welcome.ProviderID
		return "", nil
	}
	return resp.Welcome.ProviderID, out
}

func (s *Server) leaveLateJoin(resp <-chan world.JoinResponse) {
	r := <-resp
	if r.ErrorCode != "" {
		return
	}
	s.world.Leave() <- r.Welcome.ProviderID
	s.printf("provider joined after handshake timeout, removed id=%s", r.Welcome.ProviderID)
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func queueError(out chan []byte, code, message string) {
	b, err := json.Marshal(protocol.NewError(code, message))
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
