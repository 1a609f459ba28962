package tuning

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"fogfield.dev/internal/sim/fog/chunkmath"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	p := writeFile(t, `
tick_rate_hz: 10
fog:
  chunk_size: 100
  view_range: 2
camera: {x: -50, y: 25}
providers:
  - id: scout
    range: 300
    speed: 40
    loop: true
    waypoints:
      - {x: 0, y: 0}
      - {x: 500, y: 0}
`)
	tu, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.TickRateHz != 10 || tu.Fog.ChunkSize != 100 || tu.Fog.ViewRange != 2 {
		t.Fatalf("explicit fields not applied: %+v", tu)
	}
	if tu.Fog.GracePeriod != 60 || tu.Fog.RadiusSafetyFactor != 1.5 {
		t.Fatalf("defaults lost: %+v", tu.Fog)
	}
	if tu.Render.MaxIntensity != 0.8 {
		t.Fatalf("render defaults lost: %+v", tu.Render)
	}
	if tu.Camera == nil || *tu.Camera != (chunkmath.Vec2{X: -50, Y: 25}) {
		t.Fatalf("camera: %+v", tu.Camera)
	}
	if len(tu.Providers) != 1 || tu.Providers[0].ID != "scout" || len(tu.Providers[0].Waypoints) != 2 {
		t.Fatalf("providers: %+v", tu.Providers)
	}
}

func TestLoad_RejectsNonPositiveChunkSize(t *testing.T) {
	p := writeFile(t, "fog:\n  chunk_size: 0\n")
	if _, err := Load(p); !errors.Is(err, chunkmath.ErrInvalidChunkSize) {
		t.Fatalf("expected ErrInvalidChunkSize, got %v", err)
	}
}

func TestValidate_Providers(t *testing.T) {
	base := Defaults()
	if err := base.Validate(); err != nil {
		t.Fatalf("defaults: %v", err)
	}
	bad := []string{
		"providers:\n  - {id: '', range: 10, waypoints: [{x: 0, y: 0}]}\n",
		"providers:\n  - {id: a, range: 10, waypoints: [{x: 0, y: 0}]}\n  - {id: a, range: 10, waypoints: [{x: 0, y: 0}]}\n",
		"providers:\n  - {id: a, range: 0, waypoints: [{x: 0, y: 0}]}\n",
		"providers:\n  - {id: a, range: 5, speed: -1, waypoints: [{x: 0, y: 0}]}\n",
		"providers:\n  - {id: a, range: 5}\n",
		"fog: {max_provider_range: 100}\nproviders:\n  - {id: a, range: 150, waypoints: [{x: 0, y: 0}]}\n",
		"fog: {max_provider_range: -1}\n",
		"tick_rate_hz: 0\n",
	}
	for _, body := range bad {
		if _, err := Load(writeFile(t, body)); err == nil {
			t.Fatalf("expected error for %q", body)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestLoad_SampleConfig(t *testing.T) {
	tune, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load sample: %v", err)
	}
	if tune.Camera == nil || len(tune.Providers) != 2 {
		t.Fatalf("camera=%v providers=%d", tune.Camera, len(tune.Providers))
	}
	if tune.Fog.GracePeriod != 60 || tune.Fog.ChunkSize != 256 || tune.Fog.MaxProviderRange != 4096 {
		t.Fatalf("fog=%+v", tune.Fog)
	}
}
