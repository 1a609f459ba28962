package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"fogfield.dev/internal/persistence/indexdb"
	"fogfield.dev/internal/persistence/logmirror"
	"fogfield.dev/internal/sim/fog/overlay"
	"fogfield.dev/internal/sim/world"
	"fogfield.dev/internal/transport/observer"
	"fogfield.dev/internal/transport/ws"
)

type serverInfo struct {
	WorldID     string
	RunID       string
	EnableAdmin bool
	EnablePprof bool
	Index       runtimeIndex
	Mirror      *logmirror.Mirror
}

func newMux(w *world.World, info serverInfo, logger *log.Logger) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, info.WorldID, w.Metrics())
		writeIndexMetrics(rw, info.WorldID, info.Index)
		if info.Mirror != nil {
			writeMirrorMetrics(rw, info.WorldID, info.Mirror.Stats())
		}
	}).Methods(http.MethodGet)

	if info.EnableAdmin {
		// Local-only admin endpoints (read-only except the camera).
		admin := router.PathPrefix("/admin/v1").Subrouter()
		admin.Use(loopbackOnly)
		admin.HandleFunc("/state", func(rw http.ResponseWriter, r *http.Request) {
			st, ok := requestState(rw, r, w)
			if !ok {
				return
			}
			writeJSON(rw, struct {
				WorldID string             `json:"world_id"`
				RunID   string             `json:"run_id"`
				Metrics world.WorldMetrics `json:"metrics"`
				State   world.StateView    `json:"state"`
			}{
				WorldID: info.WorldID,
				RunID:   info.RunID,
				Metrics: w.Metrics(),
				State:   st,
			})
		}).Methods(http.MethodGet)
		admin.HandleFunc("/chunks/{cx:-?[0-9]+}/{cy:-?[0-9]+}", func(rw http.ResponseWriter, r *http.Request) {
			vars := mux.Vars(r)
			cx, err1 := strconv.Atoi(vars["cx"])
			cy, err2 := strconv.Atoi(vars["cy"])
			if err1 != nil || err2 != nil {
				http.Error(rw, "bad chunk coordinate", http.StatusBadRequest)
				return
			}
			st, ok := requestState(rw, r, w)
			if !ok {
				return
			}
			writeJSON(rw, chunkInfo(st, cx, cy))
		}).Methods(http.MethodGet)
		admin.HandleFunc("/camera", func(rw http.ResponseWriter, r *http.Request) {
			var body struct {
				Pos    *[2]float64 `json:"pos"`
				Clear  bool        `json:"clear"`
				Follow string      `json:"follow"`
			}
			if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil {
				http.Error(rw, "bad request", http.StatusBadRequest)
				return
			}
			req := world.CameraRequest{Clear: body.Clear, Follow: strings.TrimSpace(body.Follow)}
			if body.Pos != nil {
				req.Pos = &world.Vec2{X: body.Pos[0], Y: body.Pos[1]}
			}
			select {
			case w.Camera() <- req:
				rw.WriteHeader(http.StatusAccepted)
			default:
				http.Error(rw, "busy", http.StatusServiceUnavailable)
			}
		}).Methods(http.MethodPost)

		obsSrv := observer.NewServer(w, info.RunID, logger)
		admin.HandleFunc("/observer/bootstrap", obsSrv.BootstrapHandler())
		admin.HandleFunc("/observer/ws", obsSrv.WSHandler())
	} else if logger != nil {
		logger.Printf("admin endpoints disabled (FOG_ENABLE_ADMIN_HTTP=false)")
	}
	if info.EnablePprof {
		router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		router.HandleFunc("/debug/pprof/profile", pprof.Profile)
		router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		router.HandleFunc("/debug/pprof/trace", pprof.Trace)
		router.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	}
	router.HandleFunc("/v1/ws", ws.NewServer(w, logger).Handler())
	return router
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func requestState(rw http.ResponseWriter, r *http.Request, w *world.World) (world.StateView, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	st, err := w.RequestState(ctx)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusServiceUnavailable)
		return st, false
	}
	return st, true
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(v)
}

type chunkView struct {
	Tick     uint64        `json:"tick"`
	Chunk    [2]int        `json:"chunk"`
	Active   bool          `json:"active"`
	Visible  bool          `json:"visible"`
	Explored bool          `json:"explored"`
	Cell     *overlay.Cell `json:"cell,omitempty"`
}

func chunkInfo(st world.StateView, cx, cy int) chunkView {
	v := chunkView{Tick: st.Tick, Chunk: [2]int{cx, cy}}
	for i := range st.Overlay.Cells {
		if c := st.Overlay.Cells[i]; c.CX == cx && c.CY == cy {
			v.Active = true
			v.Cell = &c
			break
		}
	}
	for _, c := range st.Visible {
		if c.X == cx && c.Y == cy {
			v.Visible = true
			break
		}
	}
	for _, c := range st.Explored {
		if c.X == cx && c.Y == cy {
			v.Explored = true
			break
		}
	}
	return v
}

// writeMetrics renders the world metrics in the Prometheus text format.
func writeMetrics(rw io.Writer, worldID string, m world.WorldMetrics) {
	gauge := func(name, help string, v any) {
		fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE %s gauge\n", name)
		fmt.Fprintf(rw, "%s{world=%q} %v\n", name, worldID, v)
	}
	counter := func(name, help string, v uint64) {
		fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE %s counter\n", name)
		fmt.Fprintf(rw, "%s{world=%q} %d\n", name, worldID, v)
	}

	gauge("fogfield_world_tick", "Current world tick.", m.Tick)
	gauge("fogfield_world_time_seconds", "Seconds since world start at the last tick.", fmt.Sprintf("%.3f", m.Time))
	gauge("fogfield_providers", "Connected vision providers.", m.Providers)
	gauge("fogfield_patrols", "Scripted patrol providers.", m.Patrols)
	gauge("fogfield_observers", "Connected observers.", m.Observers)

	fmt.Fprintf(rw, "# HELP fogfield_chunks Chunk counts by set.\n")
	fmt.Fprintf(rw, "# TYPE fogfield_chunks gauge\n")
	fmt.Fprintf(rw, "fogfield_chunks{world=%q,set=%q} %d\n", worldID, "active", m.Active)
	fmt.Fprintf(rw, "fogfield_chunks{world=%q,set=%q} %d\n", worldID, "visible", m.Visible)
	fmt.Fprintf(rw, "fogfield_chunks{world=%q,set=%q} %d\n", worldID, "explored", m.Explored)

	counter("fogfield_newly_explored_total", "Chunks added to the explored set.", m.NewlyExploredTotal)
	counter("fogfield_evicted_total", "Chunk entries evicted from the active set.", m.EvictedTotal)
	counter("fogfield_created_total", "Chunk entries created by vision aggregation.", m.CreatedTotal)
	counter("fogfield_recycled_total", "Explored chunks restored and dropped again within one tick.", m.RecycledTotal)
	counter("fogfield_invariant_fails_total", "Ticks that failed the registry invariant check.", m.InvariantFailsTotal)

	fmt.Fprintf(rw, "# HELP fogfield_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE fogfield_queue_depth gauge\n")
	fmt.Fprintf(rw, "fogfield_queue_depth{world=%q,queue=%q} %d\n", worldID, "join", m.QueueDepths.Join)
	fmt.Fprintf(rw, "fogfield_queue_depth{world=%q,queue=%q} %d\n", worldID, "move", m.QueueDepths.Move)
	fmt.Fprintf(rw, "fogfield_queue_depth{world=%q,queue=%q} %d\n", worldID, "leave", m.QueueDepths.Leave)
	fmt.Fprintf(rw, "fogfield_queue_depth{world=%q,queue=%q} %d\n", worldID, "camera", m.QueueDepths.Camera)

	gauge("fogfield_step_ms", "Last tick step duration in milliseconds.", fmt.Sprintf("%.3f", m.StepMS))
}

func writeIndexMetrics(rw io.Writer, worldID string, idx runtimeIndex) {
	switch x := idx.(type) {
	case *indexdb.SQLiteIndex:
		s := x.Stats()
		fmt.Fprintf(rw, "# HELP fogfield_index_queue_depth Index writer queue depth.\n")
		fmt.Fprintf(rw, "# TYPE fogfield_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "fogfield_index_queue_depth{world=%q,backend=%q} %d\n", worldID, "sqlite", s.QueueDepth)
		fmt.Fprintf(rw, "# HELP fogfield_index_dropped_total Index writes dropped under backpressure.\n")
		fmt.Fprintf(rw, "# TYPE fogfield_index_dropped_total counter\n")
		fmt.Fprintf(rw, "fogfield_index_dropped_total{world=%q,backend=%q} %d\n", worldID, "sqlite", s.DropTickTotal)
	case *indexdb.IngestIndex:
		s := x.Stats()
		fmt.Fprintf(rw, "# HELP fogfield_index_queue_depth Index writer queue depth.\n")
		fmt.Fprintf(rw, "# TYPE fogfield_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "fogfield_index_queue_depth{world=%q,backend=%q} %d\n", worldID, "ingest", s.QueueDepth)
		fmt.Fprintf(rw, "# HELP fogfield_index_dropped_total Index writes dropped under backpressure.\n")
		fmt.Fprintf(rw, "# TYPE fogfield_index_dropped_total counter\n")
		fmt.Fprintf(rw, "fogfield_index_dropped_total{world=%q,backend=%q} %d\n", worldID, "ingest", s.QueueDroppedTotal)
		fmt.Fprintf(rw, "# HELP fogfield_index_flush_fail_total Failed ingest flushes.\n")
		fmt.Fprintf(rw, "# TYPE fogfield_index_flush_fail_total counter\n")
		fmt.Fprintf(rw, "fogfield_index_flush_fail_total{world=%q} %d\n", worldID, s.FlushFailTotal)
	case *indexdb.KafkaIndex:
		s := x.Stats()
		fmt.Fprintf(rw, "# HELP fogfield_index_queue_depth Index writer queue depth.\n")
		fmt.Fprintf(rw, "# TYPE fogfield_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "fogfield_index_queue_depth{world=%q,backend=%q} %d\n", worldID, "kafka", s.QueueDepth)
		fmt.Fprintf(rw, "# HELP fogfield_index_dropped_total Index writes dropped under backpressure.\n")
		fmt.Fprintf(rw, "# TYPE fogfield_index_dropped_total counter\n")
		fmt.Fprintf(rw, "fogfield_index_dropped_total{world=%q,backend=%q} %d\n", worldID, "kafka", s.QueueDroppedTotal)
		fmt.Fprintf(rw, "# HELP fogfield_index_write_fail_total Failed Kafka batch writes.\n")
		fmt.Fprintf(rw, "# TYPE fogfield_index_write_fail_total counter\n")
		fmt.Fprintf(rw, "fogfield_index_write_fail_total{world=%q} %d\n", worldID, s.WriteFailTotal)
	}
}

func writeMirrorMetrics(rw io.Writer, worldID string, s logmirror.Stats) {
	fmt.Fprintf(rw, "# HELP fogfield_log_mirror_queue_depth Pending log segment uploads.\n")
	fmt.Fprintf(rw, "# TYPE fogfield_log_mirror_queue_depth gauge\n")
	fmt.Fprintf(rw, "fogfield_log_mirror_queue_depth{world=%q} %d\n", worldID, s.QueueDepth)
	fmt.Fprintf(rw, "# HELP fogfield_log_mirror_uploads_total Log segment upload outcomes.\n")
	fmt.Fprintf(rw, "# TYPE fogfield_log_mirror_uploads_total counter\n")
	fmt.Fprintf(rw, "fogfield_log_mirror_uploads_total{world=%q,result=%q} %d\n", worldID, "success", s.UploadSuccessTotal)
	fmt.Fprintf(rw, "fogfield_log_mirror_uploads_total{world=%q,result=%q} %d\n", worldID, "fail", s.UploadFailTotal)
	fmt.Fprintf(rw, "fogfield_log_mirror_uploads_total{world=%q,result=%q} %d\n", worldID, "dropped", s.DroppedTotal)
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
