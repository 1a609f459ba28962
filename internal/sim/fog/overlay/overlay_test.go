package overlay

import (
	"testing"

	"fogfield.dev/internal/sim/fog/chunkmath"
	"fogfield.dev/internal/sim/fog/registry"
	"fogfield.dev/internal/sim/fog/vision"
)

func TestBuild(t *testing.T) {
	snap := registry.Snapshot{
		Active: []registry.Entry{
			{Coord: chunkmath.Coord{X: -1, Y: 0}, State: registry.Explored, LastVisibleTime: 4},
			{Coord: chunkmath.Coord{X: 0, Y: 0}, State: registry.Visible},
			{Coord: chunkmath.Coord{X: 1, Y: 0}, State: registry.Unexplored},
		},
	}
	ps := []vision.Provider{{ID: "p1", Pos: chunkmath.Vec2{X: 10, Y: 20}, Range: 300}}

	ov := Build(256, snap, ps, DefaultSettings())
	if len(ov.Cells) != 3 || len(ov.Providers) != 1 {
		t.Fatalf("unexpected overlay: %+v", ov)
	}
	if ov.Cells[0].Origin != [2]float64{-256, 0} || ov.Cells[0].LastVisible != 4 {
		t.Fatalf("cell 0: %+v", ov.Cells[0])
	}
	if ov.Cells[1].Opacity != 0 {
		t.Fatalf("visible chunk should be clear: %+v", ov.Cells[1])
	}
	if ov.Cells[2].Opacity != 0.8 {
		t.Fatalf("unexplored chunk should be fully fogged: %+v", ov.Cells[2])
	}
	if o := ov.Cells[0].Opacity; o <= 0 || o >= 0.8 {
		t.Fatalf("explored chunk opacity should be partial, got %v", o)
	}
	p := ov.Providers[0]
	if p.Position != [2]float64{10, 20} || p.Range != 300 || p.Falloff != ProviderFalloff {
		t.Fatalf("provider params: %+v", p)
	}
}

func TestSettingsClamp(t *testing.T) {
	s := Settings{Color: [4]float64{2, -1, 0.5, 1}, Density: 3, FogRange: -5, MaxIntensity: -0.2, ClearRadius: 2, ClearFalloff: 0}
	c := s.Clamp()
	if c.Color != [4]float64{1, 0, 0.5, 1} || c.Density != 1 || c.FogRange != 0 ||
		c.MaxIntensity != 0 || c.ClearRadius != 1 || c.ClearFalloff != 0.01 {
		t.Fatalf("clamp: %+v", c)
	}
	if d := DefaultSettings(); d.Clamp() != d {
		t.Fatalf("defaults should already be in range")
	}
}
