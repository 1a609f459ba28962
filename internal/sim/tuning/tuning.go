package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"fogfield.dev/internal/sim/fog"
	"fogfield.dev/internal/sim/fog/chunkmath"
	"fogfield.dev/internal/sim/fog/overlay"
	"fogfield.dev/internal/sim/patrol"
)

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz" json:"tick_rate_hz"`

	Fog    fog.Config       `yaml:"fog" json:"fog"`
	Render overlay.Settings `yaml:"render" json:"render"`

	// Camera is the initial eviction reference point. Observers may move it.
	Camera *chunkmath.Vec2 `yaml:"camera,omitempty" json:"camera,omitempty"`

	Providers []patrol.Route `yaml:"providers" json:"providers"`

	Observer ObserverLimits `yaml:"observer" json:"observer"`
}

type ObserverLimits struct {
	FullEveryTicks int `yaml:"full_every_ticks" json:"full_every_ticks"`
	MaxCells       int `yaml:"max_cells" json:"max_cells"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz: 20,
		Fog:        fog.DefaultConfig(),
		Render:     overlay.DefaultSettings(),
		Observer: ObserverLimits{
			FullEveryTicks: 100,
			MaxCells:       16384,
		},
	}
}

// Load reads path on top of Defaults and validates the result.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 || t.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz must be in 1..1000 (got %d)", t.TickRateHz)
	}
	if err := t.Fog.Validate(); err != nil {
		return err
	}
	seen := map[string]bool{}
	for i, r := range t.Providers {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			return fmt.Errorf("providers[%d]: missing id", i)
		}
		if seen[id] {
			return fmt.Errorf("providers[%d]: duplicate id %q", i, id)
		}
		seen[id] = true
		if !(r.Range > 0) || r.Range > t.Fog.ProviderRangeCap() {
			return fmt.Errorf("providers[%d] %s: range must be in (0, %v]", i, id, t.Fog.ProviderRangeCap())
		}
		if r.Speed < 0 {
			return fmt.Errorf("providers[%d] %s: speed must be >= 0", i, id)
		}
		if len(r.Waypoints) == 0 {
			return fmt.Errorf("providers[%d] %s: at least one waypoint required", i, id)
		}
	}
	if t.Observer.FullEveryTicks < 0 || t.Observer.MaxCells < 0 {
		return fmt.Errorf("observer limits must be >= 0")
	}
	return nil
}
