package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"fogfield.dev/internal/sim/world"
)

func TestTickLogger_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	for i := 0; i < 5; i++ {
		e := world.TickLogEntry{
			Tick:     uint64(i),
			Time:     float64(i) / 20,
			Explored: i * 3,
			Visible:  i,
			Digest:   "d",
		}
		if i == 2 {
			e.Evicted = [][2]int{{-1, 4}}
		}
		if err := l.WriteTick(e); err != nil {
			t.Fatalf("WriteTick: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := ListTickLogs(filepath.Join(dir, "events"))
	if err != nil {
		t.Fatalf("ListTickLogs: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("files=%v", files)
	}
	var got []world.TickLogEntry
	if err := ReadTickLog(files[0], func(e world.TickLogEntry) bool {
		got = append(got, e)
		return true
	}); err != nil {
		t.Fatalf("ReadTickLog: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("entries=%d", len(got))
	}
	if got[2].Evicted[0] != [2]int{-1, 4} || got[4].Explored != 12 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "events")
	ts := time.Date(2026, 1, 2, 3, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return ts }
	var closed []string
	w.OnClose(func(p string) { closed = append(closed, filepath.Base(p)) })
	if err := w.Write(world.TickLogEntry{Tick: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ts = ts.Add(2 * time.Minute)
	if err := w.Write(world.TickLogEntry{Tick: 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(closed) != 1 || closed[0] != "events-2026-01-02-03.jsonl.zst" {
		t.Fatalf("closed after rotation=%v", closed)
	}
	_ = w.Close()
	if len(closed) != 2 || closed[1] != "events-2026-01-02-04.jsonl.zst" {
		t.Fatalf("closed after Close=%v", closed)
	}

	for _, name := range []string{"events-2026-01-02-03.jsonl.zst", "events-2026-01-02-04.jsonl.zst"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	files, _ := ListTickLogs(dir)
	var ticks []uint64
	for _, f := range files {
		_ = ReadTickLog(f, func(e world.TickLogEntry) bool {
			ticks = append(ticks, e.Tick)
			return true
		})
	}
	if len(ticks) != 2 || ticks[0] != 1 || ticks[1] != 2 {
		t.Fatalf("ticks=%v", ticks)
	}
}
