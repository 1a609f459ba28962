package main

import (
	"fmt"
	"path/filepath"

	persistlog "fogfield.dev/internal/persistence/log"
	"fogfield.dev/internal/sim/fog"
	"fogfield.dev/internal/sim/world"
)

// segment tracks one server run inside the log stream. A run starts at tick 0
// and every restart begins a new segment.
type segment struct {
	lastTick uint64
	explored map[[2]int]bool
	field    *fog.Field
	// partial is set when the segment does not start at tick 0 (rotated
	// files removed); only per-entry relations can be checked then.
	partial bool
}

func verify(files []string, opts verifyOptions) (summary, error) {
	var (
		sum summary
		seg *segment
		err error
	)
	for _, path := range files {
		name := filepath.Base(path)
		rerr := persistlog.ReadTickLog(path, func(e world.TickLogEntry) bool {
			if seg == nil || e.Tick == 0 || e.Tick <= seg.lastTick {
				seg, err = newSegment(opts, e.Tick != 0)
				if err != nil {
					return false
				}
				sum.Runs++
			} else if e.Tick != seg.lastTick+1 {
				err = fmt.Errorf("%s: tick gap: %d -> %d", name, seg.lastTick, e.Tick)
				return false
			}
			seg.lastTick = e.Tick
			if opts.ToTick != 0 && e.Tick > opts.ToTick {
				return true
			}
			sum.Entries++
			sum.Evicted += len(e.Evicted)

			if err = seg.checkCounts(e); err != nil {
				err = fmt.Errorf("%s: tick %d: %w", name, e.Tick, err)
				return false
			}
			if e.Explored > sum.MaxExplored {
				sum.MaxExplored = e.Explored
			}

			if seg.field != nil {
				seg.field.Tick(fog.TickInput{Now: e.Time, Providers: providersOf(e), Camera: cameraOf(e)})
				if e.Tick >= opts.FromTick {
					sum.DigestsChecked++
					if got := seg.field.Digest(); got != e.Digest {
						err = fmt.Errorf("%s: digest mismatch at tick %d: got=%s want=%s", name, e.Tick, got, e.Digest)
						return false
					}
				}
			}
			return true
		})
		if err != nil {
			return sum, err
		}
		if rerr != nil {
			return sum, fmt.Errorf("%s: %w", name, rerr)
		}
	}
	return sum, nil
}

func newSegment(opts verifyOptions, partial bool) (*segment, error) {
	s := &segment{explored: map[[2]int]bool{}, partial: partial}
	if opts.Fog != nil && !partial {
		f, err := fog.NewField(*opts.Fog)
		if err != nil {
			return nil, err
		}
		s.field = f
	}
	return s, nil
}

// checkCounts verifies the set relations that must hold for every entry:
// the explored set only grows, and visible chunks are a subset of both the
// explored and the active set.
func (s *segment) checkCounts(e world.TickLogEntry) error {
	for _, c := range e.NewlyExplored {
		if s.explored[c] {
			return fmt.Errorf("chunk %v explored twice", c)
		}
		s.explored[c] = true
	}
	if !s.partial && e.Explored != len(s.explored) {
		return fmt.Errorf("explored count %d, accumulated discoveries %d", e.Explored, len(s.explored))
	}
	if e.Visible > e.Explored {
		return fmt.Errorf("visible %d exceeds explored %d", e.Visible, e.Explored)
	}
	if e.Visible > e.Active {
		return fmt.Errorf("visible %d exceeds active %d", e.Visible, e.Active)
	}
	return nil
}

func providersOf(e world.TickLogEntry) []fog.Provider {
	if len(e.Providers) == 0 {
		return nil
	}
	out := make([]fog.Provider, len(e.Providers))
	for i, p := range e.Providers {
		out[i] = fog.Provider{ID: p.ID, Pos: fog.Vec2{X: p.Pos[0], Y: p.Pos[1]}, Range: p.Range}
	}
	return out
}

func cameraOf(e world.TickLogEntry) *fog.Vec2 {
	if e.Camera == nil {
		return nil
	}
	return &fog.Vec2{X: e.Camera[0], Y: e.Camera[1]}
}
