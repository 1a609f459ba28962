package registry

import (
	"fmt"
	"sort"

	"fogfield.dev/internal/sim/fog/chunkmath"
)

type Coord = chunkmath.Coord

// Entry is the record kept for an active (loaded) chunk.
type Entry struct {
	Coord           Coord   `json:"coord"`
	State           State   `json:"state"`
	LastVisibleTime float64 `json:"last_visible_time"`
}

type Set map[Coord]struct{}

func (s Set) Add(c Coord) { s[c] = struct{}{} }

func (s Set) Has(c Coord) bool {
	_, ok := s[c]
	return ok
}

func (s Set) Sorted() []Coord {
	out := make([]Coord, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sortCoords(out)
	return out
}

// Registry is the authoritative chunk store. It is owned by one fog field and
// accessed only from the goroutine that ticks it.
type Registry struct {
	active   map[Coord]Entry
	visible  Set
	explored Set
}

func New() *Registry {
	return &Registry{
		active:   map[Coord]Entry{},
		visible:  Set{},
		explored: Set{},
	}
}

func (r *Registry) Get(c Coord) (Entry, bool) {
	e, ok := r.active[c]
	return e, ok
}

func (r *Registry) Upsert(c Coord, state State, lastVisible float64) {
	r.active[c] = Entry{Coord: c, State: state, LastVisibleTime: lastVisible}
}

func (r *Registry) Remove(c Coord) {
	delete(r.active, c)
}

// MarkExplored inserts c into the explored set and reports whether it was new.
// There is no inverse: explored only grows.
func (r *Registry) MarkExplored(c Coord) bool {
	if r.explored.Has(c) {
		return false
	}
	r.explored.Add(c)
	return true
}

// ReplaceVisible takes ownership of s.
func (r *Registry) ReplaceVisible(s Set) {
	if s == nil {
		s = Set{}
	}
	r.visible = s
}

// RangeActive calls fn for every active entry until fn returns false.
// fn must not mutate the registry.
func (r *Registry) RangeActive(fn func(Entry) bool) {
	for _, e := range r.active {
		if !fn(e) {
			return
		}
	}
}

// RangeExplored calls fn for every explored coordinate until fn returns false.
func (r *Registry) RangeExplored(fn func(Coord) bool) {
	for c := range r.explored {
		if !fn(c) {
			return
		}
	}
}

func (r *Registry) IsActive(c Coord) bool {
	_, ok := r.active[c]
	return ok
}

func (r *Registry) IsVisible(c Coord) bool  { return r.visible.Has(c) }
func (r *Registry) IsExplored(c Coord) bool { return r.explored.Has(c) }

func (r *Registry) ActiveLen() int   { return len(r.active) }
func (r *Registry) VisibleLen() int  { return len(r.visible) }
func (r *Registry) ExploredLen() int { return len(r.explored) }

func (r *Registry) VisibleCoords() []Coord  { return r.visible.Sorted() }
func (r *Registry) ExploredCoords() []Coord { return r.explored.Sorted() }

func (r *Registry) ActiveEntries() []Entry {
	out := make([]Entry, 0, len(r.active))
	for _, e := range r.active {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return chunkmath.Less(out[i].Coord, out[j].Coord) })
	return out
}

// Snapshot is a detached copy for readers outside the tick goroutine.
type Snapshot struct {
	Active   []Entry `json:"active"`
	Visible  []Coord `json:"visible"`
	Explored []Coord `json:"explored"`
}

func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		Active:   r.ActiveEntries(),
		Visible:  r.VisibleCoords(),
		Explored: r.ExploredCoords(),
	}
}

// CheckInvariants validates the post-tick shape of the registry:
// visible ⊆ explored, visible ⊆ active, and an entry is VISIBLE exactly when
// its coordinate is in the visible set.
func (r *Registry) CheckInvariants() error {
	for c := range r.visible {
		if !r.explored.Has(c) {
			return fmt.Errorf("visible chunk %v missing from explored set", c)
		}
		e, ok := r.active[c]
		if !ok {
			return fmt.Errorf("visible chunk %v is not active", c)
		}
		if e.State != Visible {
			return fmt.Errorf("visible chunk %v has state %s", c, e.State)
		}
	}
	for c, e := range r.active {
		if e.Coord != c {
			return fmt.Errorf("entry keyed %v carries coord %v", c, e.Coord)
		}
		if e.State == Visible && !r.visible.Has(c) {
			return fmt.Errorf("chunk %v is VISIBLE but not in the visible set", c)
		}
	}
	return nil
}

func sortCoords(cs []Coord) {
	sort.Slice(cs, func(i, j int) bool { return chunkmath.Less(cs[i], cs[j]) })
}
