package world

import (
	"time"

	"fogfield.dev/internal/sim/fog"
)

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick uint64  `json:"tick"`
	Time float64 `json:"time"`

	Providers int         `json:"providers"`
	Patrols   int         `json:"patrols"`
	Observers int         `json:"observers"`
	Camera    *[2]float64 `json:"camera,omitempty"`

	Active   int `json:"active"`
	Visible  int `json:"visible"`
	Explored int `json:"explored"`

	JoinsTotal          uint64 `json:"joins_total"`
	LeavesTotal         uint64 `json:"leaves_total"`
	NewlyExploredTotal  uint64 `json:"newly_explored_total"`
	EvictedTotal        uint64 `json:"evicted_total"`
	CreatedTotal        uint64 `json:"created_total"`
	RecycledTotal       uint64 `json:"recycled_total"`
	InvariantFailsTotal uint64 `json:"invariant_fails_total"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`
}

type QueueDepths struct {
	Join   int `json:"join"`
	Move   int `json:"move"`
	Leave  int `json:"leave"`
	Camera int `json:"camera"`
}

func (w *World) publishMetrics(nowTick uint64, now float64, rep fog.TickReport, took time.Duration) {
	w.metrics.Store(WorldMetrics{
		Tick:                nowTick,
		Time:                now,
		Providers:           len(w.providers),
		Patrols:             len(w.cfg.Patrols),
		Observers:           len(w.observers),
		Camera:              vecPtr(w.camera),
		Active:              rep.Active,
		Visible:             rep.Visible,
		Explored:            rep.Explored,
		JoinsTotal:          w.totals.joins,
		LeavesTotal:         w.totals.leaves,
		NewlyExploredTotal:  w.totals.newlyExplored,
		EvictedTotal:        w.totals.evicted,
		CreatedTotal:        w.totals.created,
		RecycledTotal:       w.totals.recycled,
		InvariantFailsTotal: w.totals.invariantFails,
		QueueDepths: QueueDepths{
			Join:   len(w.join),
			Move:   len(w.move),
			Leave:  len(w.leave),
			Camera: len(w.cameraReq),
		},
		StepMS: float64(took.Microseconds()) / 1000,
	})
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}
