package overlay

import (
	"fogfield.dev/internal/sim/fog/chunkmath"
	"fogfield.dev/internal/sim/fog/registry"
	"fogfield.dev/internal/sim/fog/vision"
)

// ProviderFalloff is the edge softness sent with every provider.
const ProviderFalloff = 0.5

type Settings struct {
	Color        [4]float64 `json:"color" yaml:"color"`
	Density      float64    `json:"density" yaml:"density"`
	FogRange     float64    `json:"fog_range" yaml:"fog_range"`
	MaxIntensity float64    `json:"max_intensity" yaml:"max_intensity"`
	ClearRadius  float64    `json:"clear_radius" yaml:"clear_radius"`
	ClearFalloff float64    `json:"clear_falloff" yaml:"clear_falloff"`
}

func DefaultSettings() Settings {
	return Settings{
		Color:        [4]float64{0, 0, 0, 1},
		Density:      0.05,
		FogRange:     1000,
		MaxIntensity: 0.8,
		ClearRadius:  0.3,
		ClearFalloff: 0.1,
	}
}

func (s Settings) Clamp() Settings {
	for i := range s.Color {
		s.Color[i] = clamp(s.Color[i], 0, 1)
	}
	s.Density = clamp(s.Density, 0, 1)
	s.MaxIntensity = clamp(s.MaxIntensity, 0, 1)
	s.ClearRadius = clamp(s.ClearRadius, 0, 1)
	s.ClearFalloff = clamp(s.ClearFalloff, 0.01, 0.5)
	if s.FogRange < 0 {
		s.FogRange = 0
	}
	return s
}

type VisionParams struct {
	ID       string     `json:"id"`
	Position [2]float64 `json:"position"`
	Range    float64    `json:"range"`
	Falloff  float64    `json:"falloff"`
}

type Cell struct {
	CX          int            `json:"cx"`
	CY          int            `json:"cy"`
	State       registry.State `json:"state"`
	Origin      [2]float64     `json:"origin"`
	Size        float64        `json:"size"`
	LastVisible float64        `json:"last_visible"`
	Opacity     float64        `json:"opacity"`
}

type Overlay struct {
	ChunkSize float64        `json:"chunk_size"`
	Settings  Settings       `json:"settings"`
	Cells     []Cell         `json:"cells"`
	Providers []VisionParams `json:"providers"`
}

// Build turns a post-tick registry snapshot into presentation data.
// Cells follow the snapshot's row-major order.
func Build(chunkSize float64, snap registry.Snapshot, providers []vision.Provider, settings Settings) Overlay {
	settings = settings.Clamp()
	out := Overlay{
		ChunkSize: chunkSize,
		Settings:  settings,
		Cells:     make([]Cell, 0, len(snap.Active)),
		Providers: make([]VisionParams, 0, len(providers)),
	}
	for _, e := range snap.Active {
		out.Cells = append(out.Cells, CellFor(e, chunkSize, settings))
	}
	for _, p := range providers {
		out.Providers = append(out.Providers, VisionParams{
			ID:       p.ID,
			Position: [2]float64{p.Pos.X, p.Pos.Y},
			Range:    p.Range,
			Falloff:  ProviderFalloff,
		})
	}
	return out
}

func CellFor(e registry.Entry, chunkSize float64, settings Settings) Cell {
	o := chunkmath.Origin(e.Coord, chunkSize)
	return Cell{
		CX:          e.Coord.X,
		CY:          e.Coord.Y,
		State:       e.State,
		Origin:      [2]float64{o.X, o.Y},
		Size:        chunkSize,
		LastVisible: e.LastVisibleTime,
		Opacity:     Opacity(e.State, settings),
	}
}

// Opacity: visible chunks are clear, unexplored ones fully fogged, explored
// ones sit in between, thickened by density.
func Opacity(s registry.State, settings Settings) float64 {
	switch s {
	case registry.Visible:
		return 0
	case registry.Explored:
		return settings.MaxIntensity * clamp(0.5+settings.Density, 0, 1)
	case registry.Unexplored:
		return settings.MaxIntensity
	default:
		return settings.MaxIntensity
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
