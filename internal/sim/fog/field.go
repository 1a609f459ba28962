package fog

import (
	"fogfield.dev/internal/sim/fog/chunkmath"
	"fogfield.dev/internal/sim/fog/lifecycle"
	"fogfield.dev/internal/sim/fog/registry"
	"fogfield.dev/internal/sim/fog/vision"
)

type (
	Coord    = chunkmath.Coord
	Vec2     = chunkmath.Vec2
	Provider = vision.Provider
)

// Field runs the per-tick fog pipeline over one registry:
// vision aggregation first, then lifecycle eviction.
type Field struct {
	cfg Config

	reg    *registry.Registry
	vision *vision.Aggregator
	life   *lifecycle.Manager

	ticks uint64
}

func NewField(cfg Config) (*Field, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	agg := vision.New(cfg.ChunkSize, cfg.RadiusSafetyFactor)
	agg.SetMaxRange(cfg.ProviderRangeCap())
	return &Field{
		cfg:    cfg,
		reg:    registry.New(),
		vision: agg,
		life: lifecycle.New(lifecycle.Config{
			ChunkSize:   cfg.ChunkSize,
			ViewRange:   cfg.ViewRange,
			GracePeriod: cfg.GracePeriod,
			PreloadView: cfg.PreloadView,
		}),
	}, nil
}

func (f *Field) Config() Config { return f.cfg }

// Registry exposes the store for read access; callers must not mutate it.
func (f *Field) Registry() *registry.Registry { return f.reg }

type TickInput struct {
	// Now is monotonic seconds.
	Now       float64
	Providers []Provider
	// Camera is the eviction reference point; nil skips eviction this tick.
	Camera *Vec2
}

type TickReport struct {
	Tick uint64  `json:"tick"`
	Now  float64 `json:"now"`

	Vision    vision.Result    `json:"vision"`
	Lifecycle lifecycle.Report `json:"lifecycle"`

	Active   int `json:"active"`
	Visible  int `json:"visible"`
	Explored int `json:"explored"`

	// Recycled counts explored chunks that were restored and evicted again
	// within this tick. They are left out of Vision.Created, Vision.Restored
	// and Lifecycle.Evicted since the active set never really held them.
	Recycled int `json:"recycled,omitempty"`
}

func (f *Field) Tick(in TickInput) TickReport {
	rep := TickReport{Tick: f.ticks, Now: in.Now}
	rep.Vision = f.vision.Aggregate(f.reg, in.Providers, in.Now)
	rep.Lifecycle = f.life.Step(f.reg, in.Camera, in.Now)
	rep.dropRecycled()
	rep.Active = f.reg.ActiveLen()
	rep.Visible = f.reg.VisibleLen()
	rep.Explored = f.reg.ExploredLen()
	f.ticks++
	return rep
}

func (f *Field) Ticks() uint64 { return f.ticks }

// Snapshot is safe to hand to other goroutines.
func (f *Field) Snapshot() registry.Snapshot { return f.reg.Snapshot() }

func (r *TickReport) dropRecycled() {
	if len(r.Vision.Restored) == 0 || len(r.Lifecycle.Evicted) == 0 {
		return
	}
	restored := make(registry.Set, len(r.Vision.Restored))
	for _, c := range r.Vision.Restored {
		restored.Add(c)
	}
	recycled := registry.Set{}
	evicted := r.Lifecycle.Evicted[:0]
	for _, c := range r.Lifecycle.Evicted {
		if restored.Has(c) {
			recycled.Add(c)
			continue
		}
		evicted = append(evicted, c)
	}
	if len(recycled) == 0 {
		return
	}
	r.Lifecycle.Evicted = evicted
	r.Vision.Created = without(r.Vision.Created, recycled)
	r.Vision.Restored = without(r.Vision.Restored, recycled)
	r.Recycled = len(recycled)
}

func without(cs []Coord, drop registry.Set) []Coord {
	out := cs[:0]
	for _, c := range cs {
		if !drop.Has(c) {
			out = append(out, c)
		}
	}
	return out
}
