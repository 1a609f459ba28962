package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"fogfield.dev/internal/sim/fog"
	"fogfield.dev/internal/sim/world"
)

type closingTickLogger struct {
	mu          sync.Mutex
	closed      bool
	writes      int
	afterClosed int
}

func (l *closingTickLogger) WriteTick(world.TickLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes++
	if l.closed {
		l.afterClosed++
	}
	return nil
}

func (l *closingTickLogger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

func TestRunWorld_DoneMeansNoMoreTicks(t *testing.T) {
	cfg := fog.DefaultConfig()
	w, err := world.New(world.WorldConfig{ID: "fog", TickRateHz: 500, Fog: cfg})
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	tl := &closingTickLogger{}
	w.SetTickLogger(tl)

	ctx, cancel := context.WithCancel(context.Background())
	done := runWorld(ctx, w, nil)

	deadline := time.Now().Add(2 * time.Second)
	for w.CurrentTick() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("world loop did not stop")
	}
	tl.Close()
	time.Sleep(50 * time.Millisecond)

	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.writes < 5 || tl.afterClosed != 0 {
		t.Fatalf("writes=%d after close=%d", tl.writes, tl.afterClosed)
	}
}
