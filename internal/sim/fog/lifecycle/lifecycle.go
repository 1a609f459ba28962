package lifecycle

import (
	"sort"

	"fogfield.dev/internal/sim/fog/chunkmath"
	"fogfield.dev/internal/sim/fog/registry"
)

// LoadMargin is the hysteresis band, in chunks, kept loaded beyond the view range.
const LoadMargin = 2

const DefaultGracePeriod = 60.0

type Coord = chunkmath.Coord

type Config struct {
	ChunkSize   float64
	ViewRange   int
	GracePeriod float64

	// PreloadView creates UNEXPLORED entries for the camera's view square.
	PreloadView bool
}

type Manager struct {
	cfg Config
}

func New(cfg Config) *Manager {
	if cfg.ViewRange < 0 {
		cfg.ViewRange = 0
	}
	if cfg.GracePeriod < 0 {
		cfg.GracePeriod = 0
	}
	return &Manager{cfg: cfg}
}

func (m *Manager) Config() Config { return m.cfg }

// LoadRange is the retention radius in chunks.
func (m *Manager) LoadRange() int { return m.cfg.ViewRange + LoadMargin }

type Report struct {
	Skipped     bool    `json:"skipped,omitempty"`
	CameraChunk Coord   `json:"camera_chunk"`
	Evicted     []Coord `json:"evicted,omitempty"`
	Preloaded   []Coord `json:"preloaded,omitempty"`
}

// Step evicts stale entries around ref. A nil ref leaves the registry untouched.
func (m *Manager) Step(reg *registry.Registry, ref *chunkmath.Vec2, now float64) Report {
	if ref == nil {
		return Report{Skipped: true}
	}
	cam := chunkmath.WorldToChunk(*ref, m.cfg.ChunkSize)
	rep := Report{CameraChunk: cam}

	load := float64(m.LoadRange())
	loadSq := load * load

	var evictKeys []Coord
	reg.RangeActive(func(e registry.Entry) bool {
		if chunkmath.DistSq(e.Coord, cam) <= loadSq {
			return true
		}
		if m.shouldEvict(e, now) {
			evictKeys = append(evictKeys, e.Coord)
		}
		return true
	})

	var preload []Coord
	if m.cfg.PreloadView {
		for _, c := range chunkmath.SquareAround(cam, m.cfg.ViewRange) {
			if chunkmath.DistSq(c, cam) > loadSq {
				// Square corners past the load circle would be evicted next tick.
				continue
			}
			if !reg.IsActive(c) && !reg.IsExplored(c) {
				preload = append(preload, c)
			}
		}
	}

	for _, k := range evictKeys {
		reg.Remove(k)
	}
	for _, c := range preload {
		reg.Upsert(c, registry.Unexplored, 0)
	}

	sort.Slice(evictKeys, func(i, j int) bool { return chunkmath.Less(evictKeys[i], evictKeys[j]) })
	rep.Evicted = evictKeys
	rep.Preloaded = preload
	return rep
}

func (m *Manager) shouldEvict(e registry.Entry, now float64) bool {
	switch e.State {
	case registry.Visible:
		return false
	case registry.Explored:
		return now-e.LastVisibleTime > m.cfg.GracePeriod
	case registry.Unexplored:
		// Only reachable through PreloadView; the aggregator never creates these.
		return true
	default:
		return false
	}
}
