package vision

import (
	"math"
	"sort"

	"fogfield.dev/internal/sim/fog/chunkmath"
	"fogfield.dev/internal/sim/fog/registry"
)

// DefaultSafetyFactor widens the per-provider search window to cover the
// center-vs-corner distance error.
const DefaultSafetyFactor = 1.5

// DefaultMaxRange caps a provider's range in world units. It bounds the
// per-provider search window and so the cost of one tick.
const DefaultMaxRange = 4096.0

type Coord = chunkmath.Coord

// Provider grants visibility within Range world units of Pos.
type Provider struct {
	ID    string         `json:"id"`
	Pos   chunkmath.Vec2 `json:"pos"`
	Range float64        `json:"range"`
}

func (p Provider) valid(maxRange float64) bool {
	return p.Range > 0 && p.Range <= maxRange && chunkmath.ValidPos(p.Pos)
}

type Aggregator struct {
	chunkSize float64
	safety    float64
	maxRange  float64
}

// New expects a validated chunk size. The range cap starts at DefaultMaxRange.
func New(chunkSize, safetyFactor float64) *Aggregator {
	if !(safetyFactor > 0) {
		safetyFactor = DefaultSafetyFactor
	}
	return &Aggregator{chunkSize: chunkSize, safety: safetyFactor, maxRange: DefaultMaxRange}
}

// SetMaxRange replaces the range cap. Providers above it are skipped.
// Non-positive or non-finite values restore DefaultMaxRange.
func (a *Aggregator) SetMaxRange(r float64) {
	if !(r > 0) || math.IsInf(r, 0) {
		r = DefaultMaxRange
	}
	a.maxRange = r
}

func (a *Aggregator) MaxRange() float64  { return a.maxRange }
func (a *Aggregator) ChunkSize() float64 { return a.chunkSize }

// SearchRadius is how many chunks out from the provider's own chunk could
// possibly fall within r.
func (a *Aggregator) SearchRadius(r float64) int {
	return int(math.Ceil((r / a.chunkSize) * a.safety))
}

// Compute returns the chunks whose center lies within range of at least one
// provider. It reads nothing but its arguments.
func (a *Aggregator) Compute(providers []Provider) registry.Set {
	out := registry.Set{}
	for _, p := range providers {
		if !p.valid(a.maxRange) {
			continue
		}
		home := chunkmath.WorldToChunk(p.Pos, a.chunkSize)
		rr := p.Range * p.Range
		n := a.SearchRadius(p.Range)
		for dy := -n; dy <= n; dy++ {
			for dx := -n; dx <= n; dx++ {
				c := home.Add(Coord{X: dx, Y: dy})
				if chunkmath.Center(c, a.chunkSize).DistSq(p.Pos) <= rr {
					out.Add(c)
				}
			}
		}
	}
	return out
}

// Result lists what one aggregation pass changed. All lists are row-major sorted.
type Result struct {
	NewlyExplored  []Coord `json:"newly_explored,omitempty"`
	BecameVisible  []Coord `json:"became_visible,omitempty"`
	LostVisibility []Coord `json:"lost_visibility,omitempty"`
	Created        []Coord `json:"created,omitempty"`
	// Restored is the subset of Created that came back as EXPLORED from the
	// explored set rather than from a provider.
	Restored []Coord `json:"restored,omitempty"`
}

type pendingEntry struct {
	c     Coord
	state registry.State
	t     float64
}

// Apply folds newVisible into reg at time now. Decisions are collected while
// scanning and written afterwards.
func (a *Aggregator) Apply(reg *registry.Registry, newVisible registry.Set, now float64) Result {
	var res Result
	if newVisible == nil {
		newVisible = registry.Set{}
	}

	for c := range newVisible {
		if reg.MarkExplored(c) {
			res.NewlyExplored = append(res.NewlyExplored, c)
		}
	}

	var updates []pendingEntry
	reg.RangeActive(func(e registry.Entry) bool {
		next, lost := registry.Next(e.State, newVisible.Has(e.Coord))
		if next == e.State {
			return true
		}
		t := e.LastVisibleTime
		if lost {
			t = now
			res.LostVisibility = append(res.LostVisibility, e.Coord)
		} else if next == registry.Visible {
			res.BecameVisible = append(res.BecameVisible, e.Coord)
		}
		updates = append(updates, pendingEntry{c: e.Coord, state: next, t: t})
		return true
	})

	var creates []pendingEntry
	for c := range newVisible {
		if !reg.IsActive(c) {
			creates = append(creates, pendingEntry{c: c, state: registry.Visible, t: now})
		}
	}
	// Explored chunks that are not loaded come back as EXPLORED with an
	// unknown loss time (0); the lifecycle pass decides whether they stay.
	reg.RangeExplored(func(c Coord) bool {
		if !reg.IsActive(c) && !newVisible.Has(c) {
			creates = append(creates, pendingEntry{c: c, state: registry.Explored, t: 0})
		}
		return true
	})

	for _, u := range updates {
		reg.Upsert(u.c, u.state, u.t)
	}
	for _, cr := range creates {
		reg.Upsert(cr.c, cr.state, cr.t)
		res.Created = append(res.Created, cr.c)
		if cr.state == registry.Visible {
			res.BecameVisible = append(res.BecameVisible, cr.c)
		} else {
			res.Restored = append(res.Restored, cr.c)
		}
	}
	reg.ReplaceVisible(newVisible)

	sortCoords(res.NewlyExplored)
	sortCoords(res.BecameVisible)
	sortCoords(res.LostVisibility)
	sortCoords(res.Created)
	sortCoords(res.Restored)
	return res
}

// Aggregate runs Compute then Apply.
func (a *Aggregator) Aggregate(reg *registry.Registry, providers []Provider, now float64) Result {
	return a.Apply(reg, a.Compute(providers), now)
}

func sortCoords(cs []Coord) {
	sort.Slice(cs, func(i, j int) bool { return chunkmath.Less(cs[i], cs[j]) })
}
