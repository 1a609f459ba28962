package world

import (
	"context"
	"errors"

	"fogfield.dev/internal/sim/fog/overlay"
	"fogfield.dev/internal/sim/fog/registry"
)

type adminStateReq struct {
	Resp chan StateView
}

// StateView is a detached copy of the fog field at a tick boundary.
type StateView struct {
	Tick     uint64           `json:"tick"`
	Digest   string           `json:"digest"`
	Camera   *[2]float64      `json:"camera,omitempty"`
	Overlay  overlay.Overlay  `json:"overlay"`
	Visible  []registry.Coord `json:"visible"`
	Explored []registry.Coord `json:"explored"`
}

// RequestState asks the world loop goroutine for a copy of the field.
// It is safe to call from other goroutines (e.g. HTTP handlers).
func (w *World) RequestState(ctx context.Context) (StateView, error) {
	if w == nil || w.adminState == nil {
		return StateView{}, errors.New("admin state not available")
	}
	resp := make(chan StateView, 1)
	select {
	case w.adminState <- adminStateReq{Resp: resp}:
	case <-ctx.Done():
		return StateView{}, ctx.Err()
	}
	select {
	case v := <-resp:
		return v, nil
	case <-ctx.Done():
		return StateView{}, ctx.Err()
	}
}

func (w *World) handleAdminState(req adminStateReq) {
	if req.Resp == nil {
		return
	}
	snap := w.field.Snapshot()
	providers := w.tickProviders(w.Metrics().Time)
	req.Resp <- StateView{
		Tick:     w.tick.Load(),
		Digest:   w.field.Digest(),
		Camera:   vecPtr(w.camera),
		Overlay:  overlay.Build(w.cfg.Fog.ChunkSize, snap, providers, w.cfg.Render),
		Visible:  snap.Visible,
		Explored: snap.Explored,
	}
}
