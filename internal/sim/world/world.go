package world

import (
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fogfield.dev/internal/protocol"
	"fogfield.dev/internal/sim/fog"
	"fogfield.dev/internal/sim/fog/overlay"
	"fogfield.dev/internal/sim/patrol"
	"fogfield.dev/internal/sim/tuning"
)

type Vec2 = fog.Vec2

type WorldConfig struct {
	ID         string
	TickRateHz int

	Fog    fog.Config
	Render overlay.Settings

	// Camera is the initial eviction reference point (may be nil).
	Camera  *Vec2
	Patrols []patrol.Route

	ObserverFullEvery int
	ObserverMaxCells  int

	// CheckInvariants verifies the registry after every tick.
	CheckInvariants bool
}

// ConfigFromTuning maps a validated tuning file onto a world config.
func ConfigFromTuning(id string, t tuning.Tuning) WorldConfig {
	cfg := WorldConfig{
		ID:                id,
		TickRateHz:        t.TickRateHz,
		Fog:               t.Fog,
		Render:            t.Render,
		Patrols:           append([]patrol.Route(nil), t.Providers...),
		ObserverFullEvery: t.Observer.FullEveryTicks,
		ObserverMaxCells:  t.Observer.MaxCells,
	}
	if t.Camera != nil {
		c := *t.Camera
		cfg.Camera = &c
	}
	return cfg
}

type JoinRequest struct {
	Name  string
	Range float64
	Pos   *Vec2
	Out   chan []byte
	Resp  chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
	// ErrorCode is set when the join was refused.
	ErrorCode string
}

type MoveRequest struct {
	ProviderID string
	Pos        Vec2
	// Range 0 keeps the current range.
	Range float64
}

// CameraRequest moves the eviction reference point. Clear removes it.
// Follow pins the camera to a provider until another camera request arrives.
type CameraRequest struct {
	Pos    *Vec2
	Clear  bool
	Follow string
}

type RecordedJoin struct {
	ProviderID string `json:"provider_id"`
	Name       string `json:"name"`
}

type ProviderSample struct {
	ID    string     `json:"id"`
	Pos   [2]float64 `json:"pos"`
	Range float64    `json:"range"`
}

// World owns the fog field and drives it from a single goroutine.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg   WorldConfig
	clock func() float64
	log   *log.Logger

	tick atomic.Uint64

	field *fog.Field

	providers map[string]*providerState
	observers map[string]*observerClient

	camera       *Vec2
	cameraFollow string

	join          chan JoinRequest
	move          chan MoveRequest
	leave         chan string
	cameraReq     chan CameraRequest
	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	adminState    chan adminStateReq
	stop          chan struct{}

	// Optional logger (may be nil). Implemented in internal/persistence/*.
	tickLogger TickLogger

	totals  totals
	metrics atomic.Value // WorldMetrics
}

type providerState struct {
	id    string
	name  string
	pos   Vec2
	rng   float64
	out   chan []byte
	moves uint64
}

type totals struct {
	joins          uint64
	leaves         uint64
	newlyExplored  uint64
	evicted        uint64
	created        uint64
	recycled       uint64
	invariantFails uint64
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// TickLogEntry is the durable per-tick record. It carries the tick inputs
// (time, camera, providers) so a replay can re-run the field and compare digests.
type TickLogEntry struct {
	Tick      uint64           `json:"tick"`
	Time      float64          `json:"time"`
	Camera    *[2]float64      `json:"camera,omitempty"`
	Providers []ProviderSample `json:"providers,omitempty"`
	Joins     []RecordedJoin   `json:"joins,omitempty"`
	Leaves    []string         `json:"leaves,omitempty"`

	Active   int `json:"active"`
	Visible  int `json:"visible"`
	Explored int `json:"explored"`

	NewlyExplored  [][2]int `json:"newly_explored,omitempty"`
	BecameVisible  int      `json:"became_visible,omitempty"`
	LostVisibility int      `json:"lost_visibility,omitempty"`
	Created        int      `json:"created,omitempty"`
	Evicted        [][2]int `json:"evicted,omitempty"`
	Recycled       int      `json:"recycled,omitempty"`
	Preloaded      int      `json:"preloaded,omitempty"`

	Digest string `json:"digest"`
}

type Option func(*World)

// WithClock replaces the wall clock used by Run. The clock returns seconds
// since world start and must not go backwards.
func WithClock(clock func() float64) Option {
	return func(w *World) { w.clock = clock }
}

func WithLogger(l *log.Logger) Option {
	return func(w *World) { w.log = l }
}

func New(cfg WorldConfig, opts ...Option) (*World, error) {
	if cfg.ID == "" {
		cfg.ID = "fog"
	}
	if cfg.TickRateHz <= 0 {
		return nil, fmt.Errorf("tick rate must be > 0 (got %d)", cfg.TickRateHz)
	}
	field, err := fog.NewField(cfg.Fog)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, r := range cfg.Patrols {
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate patrol id %q", r.ID)
		}
		seen[r.ID] = true
		if r.Range > cfg.Fog.ProviderRangeCap() {
			return nil, fmt.Errorf("patrol %q: range %v exceeds max_provider_range %v", r.ID, r.Range, cfg.Fog.ProviderRangeCap())
		}
	}

	start := time.Now()
	w := &World{
		cfg:           cfg,
		clock:         func() float64 { return time.Since(start).Seconds() },
		field:         field,
		providers:     map[string]*providerState{},
		observers:     map[string]*observerClient{},
		join:          make(chan JoinRequest, 64),
		move:          make(chan MoveRequest, 1024),
		leave:         make(chan string, 64),
		cameraReq:     make(chan CameraRequest, 16),
		observerJoin:  make(chan ObserverJoinRequest, 16),
		observerSub:   make(chan ObserverSubscribeRequest, 64),
		observerLeave: make(chan string, 16),
		adminState:    make(chan adminStateReq, 4),
		stop:          make(chan struct{}),
	}
	if cfg.Camera != nil {
		c := *cfg.Camera
		w.camera = &c
	}
	for _, opt := range opts {
		opt(w)
	}
	w.metrics.Store(WorldMetrics{})
	return w, nil
}

func (w *World) newProviderID() string {
	return "P-" + uuid.NewString()
}

func (w *World) logf(format string, args ...any) {
	if w.log != nil {
		w.log.Printf(format, args...)
	}
}

// tickProviders returns connected and scripted providers at time now, ordered by ID.
func (w *World) tickProviders(now float64) []fog.Provider {
	out := patrol.Providers(w.cfg.Patrols, now)
	for _, p := range w.providers {
		out = append(out, fog.Provider{ID: p.id, Pos: p.pos, Range: p.rng})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *World) findProvider(id string, now float64) (Vec2, bool) {
	if p := w.providers[id]; p != nil {
		return p.pos, true
	}
	for _, r := range w.cfg.Patrols {
		if r.ID == id {
			return r.PositionAt(now), true
		}
	}
	return Vec2{}, false
}
