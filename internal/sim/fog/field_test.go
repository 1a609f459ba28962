package fog

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"fogfield.dev/internal/sim/fog/chunkmath"
	"fogfield.dev/internal/sim/fog/registry"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ChunkSize = 100
	cfg.ViewRange = 1
	return cfg
}

func TestNewField_RejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkSize = 0
	if _, err := NewField(cfg); !errors.Is(err, chunkmath.ErrInvalidChunkSize) {
		t.Fatalf("expected ErrInvalidChunkSize, got %v", err)
	}
	for _, mut := range []func(*Config){
		func(c *Config) { c.ViewRange = -1 },
		func(c *Config) { c.GracePeriod = -1 },
		func(c *Config) { c.GracePeriod = math.NaN() },
		func(c *Config) { c.RadiusSafetyFactor = 0 },
		func(c *Config) { c.MaxProviderRange = -1 },
		func(c *Config) { c.MaxProviderRange = math.Inf(1) },
	} {
		cfg := testConfig()
		mut(&cfg)
		if _, err := NewField(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("expected ErrInvalidConfig for %+v, got %v", cfg, err)
		}
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestField_Scenarios(t *testing.T) {
	f, err := NewField(testConfig())
	if err != nil {
		t.Fatalf("NewField: %v", err)
	}
	reg := f.Registry()
	origin := Vec2{}
	p := Provider{ID: "scout", Pos: Vec2{}, Range: 150}

	// A: basic visibility.
	f.Tick(TickInput{Now: 0, Providers: []Provider{p}, Camera: &origin})
	if !reg.IsVisible(Coord{}) || reg.IsVisible(Coord{X: 1, Y: 1}) {
		t.Fatalf("visible set: %v", reg.VisibleCoords())
	}

	// B: fog-out.
	f.Tick(TickInput{Now: 1, Camera: &origin})
	e, _ := reg.Get(Coord{})
	if e.State != registry.Explored || e.LastVisibleTime != 1 {
		t.Fatalf("after fog-out: %+v", e)
	}

	// C: move the camera far away and let the grace period run out.
	far := Vec2{X: 5000, Y: 5000}
	f.Tick(TickInput{Now: 1 + 59, Camera: &far})
	if !reg.IsActive(Coord{}) {
		t.Fatalf("evicted before the grace period elapsed")
	}
	rep := f.Tick(TickInput{Now: 1 + 61, Camera: &far})
	if reg.IsActive(Coord{}) {
		t.Fatalf("expected eviction after the grace period")
	}
	if !reg.IsExplored(Coord{}) {
		t.Fatalf("evicted chunk must remain explored")
	}
	if len(rep.Lifecycle.Evicted) != 4 || rep.Explored != 4 || rep.Active != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}

	// Later ticks restore and drop the same far chunks; that is not a new eviction.
	for now := 63.0; now < 66; now++ {
		rep = f.Tick(TickInput{Now: now, Camera: &far})
		if len(rep.Lifecycle.Evicted) != 0 || len(rep.Vision.Created) != 0 || len(rep.Vision.Restored) != 0 {
			t.Fatalf("t=%v: restore/evict round trip reported as churn: %+v", now, rep)
		}
		if rep.Recycled != 4 || rep.Active != 0 || rep.Explored != 4 {
			t.Fatalf("t=%v: recycled=%d active=%d explored=%d", now, rep.Recycled, rep.Active, rep.Explored)
		}
	}

	// Coming back near the explored area reloads it as EXPLORED.
	back := f.Tick(TickInput{Now: 70, Camera: &origin})
	if len(back.Vision.Restored) != 4 || back.Recycled != 0 {
		t.Fatalf("reload should report restored chunks: %+v", back)
	}
	if e, ok := reg.Get(Coord{}); !ok || e.State != registry.Explored {
		t.Fatalf("explored chunk should reload near the camera: %+v ok=%v", e, ok)
	}
	if f.Ticks() != 8 {
		t.Fatalf("tick counter: %d", f.Ticks())
	}
}

func TestField_RandomWalkInvariants(t *testing.T) {
	cfg := testConfig()
	cfg.GracePeriod = 3
	f, err := NewField(cfg)
	if err != nil {
		t.Fatalf("NewField: %v", err)
	}
	reg := f.Registry()
	rng := rand.New(rand.NewSource(7))

	providers := make([]Provider, 4)
	for i := range providers {
		providers[i] = Provider{ID: string(rune('a' + i)), Range: 50 + rng.Float64()*250}
	}
	cam := Vec2{}
	prevStates := map[Coord]registry.State{}
	prevExplored := 0

	for tick := 0; tick < 300; tick++ {
		now := float64(tick) * 0.25
		for i := range providers {
			providers[i].Pos.X += (rng.Float64() - 0.5) * 120
			providers[i].Pos.Y += (rng.Float64() - 0.5) * 120
		}
		cam.X += (rng.Float64() - 0.5) * 200
		cam.Y += (rng.Float64() - 0.5) * 200
		var camPtr *Vec2
		if tick%17 != 0 {
			c := cam
			camPtr = &c
		}
		active := providers
		if tick%29 == 0 {
			active = nil
		}

		f.Tick(TickInput{Now: now, Providers: active, Camera: camPtr})

		if err := reg.CheckInvariants(); err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		if reg.ExploredLen() < prevExplored {
			t.Fatalf("tick %d: explored shrank %d -> %d", tick, prevExplored, reg.ExploredLen())
		}
		prevExplored = reg.ExploredLen()
		for _, e := range reg.ActiveEntries() {
			if prev, ok := prevStates[e.Coord]; ok && prev != registry.Unexplored && e.State == registry.Unexplored {
				t.Fatalf("tick %d: %v went %s -> UNEXPLORED", tick, e.Coord, prev)
			}
			prevStates[e.Coord] = e.State
		}
		if active == nil && reg.VisibleLen() != 0 {
			t.Fatalf("tick %d: no providers but %d visible", tick, reg.VisibleLen())
		}
	}
}

func TestField_DigestIsDeterministic(t *testing.T) {
	run := func() (*Field, []string) {
		f, err := NewField(testConfig())
		if err != nil {
			t.Fatalf("NewField: %v", err)
		}
		var digests []string
		cam := Vec2{X: 50, Y: 50}
		for i := 0; i < 20; i++ {
			now := float64(i) * 10
			f.Tick(TickInput{
				Now:       now,
				Providers: []Provider{{ID: "a", Pos: Vec2{X: float64(i) * 90, Y: 50}, Range: 150}},
				Camera:    &cam,
			})
			digests = append(digests, f.Digest())
		}
		return f, digests
	}
	_, a := run()
	_, b := run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("tick %d digest mismatch: %s vs %s", i, a[i], b[i])
		}
	}
	if a[0] == a[len(a)-1] {
		t.Fatalf("expected digest to change as the provider moves")
	}
}
