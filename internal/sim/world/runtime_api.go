package world

import "fogfield.dev/internal/sim/fog/lifecycle"

func (w *World) SetTickLogger(l TickLogger) { w.tickLogger = l }

func (w *World) Join() chan<- JoinRequest     { return w.join }
func (w *World) Move() chan<- MoveRequest     { return w.move }
func (w *World) Leave() chan<- string         { return w.leave }
func (w *World) Camera() chan<- CameraRequest { return w.cameraReq }

func (w *World) ObserverJoin() chan<- ObserverJoinRequest           { return w.observerJoin }
func (w *World) ObserverSubscribe() chan<- ObserverSubscribeRequest { return w.observerSub }
func (w *World) ObserverLeave() chan<- string                       { return w.observerLeave }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

// Config returns a copy of the world config; safe from any goroutine.
func (w *World) Config() WorldConfig {
	if w == nil {
		return WorldConfig{}
	}
	cfg := w.cfg
	cfg.Patrols = append(cfg.Patrols[:0:0], w.cfg.Patrols...)
	if w.cfg.Camera != nil {
		c := *w.cfg.Camera
		cfg.Camera = &c
	}
	return cfg
}

// LoadRange is the eviction radius in chunks.
func (w *World) LoadRange() int {
	if w == nil {
		return 0
	}
	return w.cfg.Fog.ViewRange + lifecycle.LoadMargin
}
