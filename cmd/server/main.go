package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	persistlog "fogfield.dev/internal/persistence/log"
	"fogfield.dev/internal/sim/tuning"
	"fogfield.dev/internal/sim/world"
)

func main() {
	var (
		addr            = flag.String("addr", ":8080", "http listen address")
		worldID         = flag.String("world", "fog", "world id")
		dataDir         = flag.String("data", "./data", "runtime data directory")
		tuningPath      = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml (missing file uses defaults)")
		disableDB       = flag.Bool("disable_db", false, "disable indexing (sqlite or ingest backend)")
		checkInvariants = flag.Bool("check_invariants", false, "verify registry invariants after every tick")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(strings.TrimSpace(*tuningPath))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	if err := os.MkdirAll(worldDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}
	runID := uuid.NewString()

	// Optional: read-model index backend (does not affect fog state).
	idx, err := openRuntimeIndex(worldDir, *worldID, runID, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if rr, ok := idx.(runRecorder); ok {
			if err := rr.RecordRun(*worldID, tune); err != nil {
				logger.Printf("index backend: record run: %v", err)
			}
		}
	}

	cfg := world.ConfigFromTuning(*worldID, tune)
	cfg.CheckInvariants = *checkInvariants
	w, err := world.New(cfg, world.WithLogger(log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds)))
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	mirror, err := openLogMirror(*dataDir, log.New(os.Stdout, "[mirror] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("%v", err)
	}
	if mirror != nil {
		// Closed after the tick log so the final segment is shipped.
		defer mirror.Close()
	}

	tickLog := persistlog.NewTickLogger(worldDir)
	defer tickLog.Close()
	if mirror != nil {
		tickLog.OnSegmentClosed(mirror.Enqueue)
	}
	w.SetTickLogger(multiTickLogger{a: tickLog, b: idx})

	ctx, cancel := signalContext()
	defer cancel()

	worldDone := runWorld(ctx, w, logger)

	mux := newMux(w, serverInfo{
		WorldID:     *worldID,
		RunID:       runID,
		EnableAdmin: envBool("FOG_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		EnablePprof: envBool("FOG_ENABLE_PPROF_HTTP", false),
		Index:       idx,
		Mirror:      mirror,
	}, logger)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s world=%s run=%s chunk_size=%g view_range=%d grace=%gs",
		*addr, *worldID, runID, tune.Fog.ChunkSize, tune.Fog.ViewRange, tune.Fog.GracePeriod)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	// The deferred closes below must not race a WriteTick in flight.
	cancel()
	<-worldDone
}

// runWorld runs the world loop until ctx ends. The returned channel closes
// once Run has returned and no further ticks will be written.
func runWorld(ctx context.Context, w *world.World, logger *log.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(ctx); err != nil && err != context.Canceled && logger != nil {
			logger.Printf("world stopped: %v", err)
		}
	}()
	return done
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
