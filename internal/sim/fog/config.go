package fog

import (
	"errors"
	"fmt"
	"math"

	"fogfield.dev/internal/sim/fog/chunkmath"
	"fogfield.dev/internal/sim/fog/lifecycle"
	"fogfield.dev/internal/sim/fog/vision"
)

var ErrInvalidConfig = errors.New("invalid fog config")

type Config struct {
	ChunkSize          float64 `json:"chunk_size" yaml:"chunk_size"`
	ViewRange          int     `json:"view_range" yaml:"view_range"`
	GracePeriod        float64 `json:"grace_period_seconds" yaml:"grace_period_seconds"`
	RadiusSafetyFactor float64 `json:"radius_safety_factor" yaml:"radius_safety_factor"`
	PreloadView        bool    `json:"preload_view,omitempty" yaml:"preload_view"`

	// MaxProviderRange caps provider vision range in world units; 0 uses
	// vision.DefaultMaxRange.
	MaxProviderRange float64 `json:"max_provider_range,omitempty" yaml:"max_provider_range"`
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:          256,
		ViewRange:          3,
		GracePeriod:        lifecycle.DefaultGracePeriod,
		RadiusSafetyFactor: vision.DefaultSafetyFactor,
		MaxProviderRange:   vision.DefaultMaxRange,
	}
}

// ProviderRangeCap is the effective MaxProviderRange.
func (c Config) ProviderRangeCap() float64 {
	if c.MaxProviderRange > 0 {
		return c.MaxProviderRange
	}
	return vision.DefaultMaxRange
}

func (c Config) Validate() error {
	if err := chunkmath.ValidateChunkSize(c.ChunkSize); err != nil {
		return err
	}
	if c.ViewRange < 0 {
		return fmt.Errorf("%w: view_range must be >= 0 (got %d)", ErrInvalidConfig, c.ViewRange)
	}
	if !finite(c.GracePeriod) || c.GracePeriod < 0 {
		return fmt.Errorf("%w: grace_period_seconds must be a finite value >= 0 (got %v)", ErrInvalidConfig, c.GracePeriod)
	}
	if !finite(c.RadiusSafetyFactor) || c.RadiusSafetyFactor <= 0 {
		return fmt.Errorf("%w: radius_safety_factor must be a finite value > 0 (got %v)", ErrInvalidConfig, c.RadiusSafetyFactor)
	}
	if !finite(c.MaxProviderRange) || c.MaxProviderRange < 0 {
		return fmt.Errorf("%w: max_provider_range must be a finite value >= 0 (got %v)", ErrInvalidConfig, c.MaxProviderRange)
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
