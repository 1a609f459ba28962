package world

import (
	"context"
	"encoding/json"
	"time"

	"fogfield.dev/internal/protocol"
	"fogfield.dev/internal/sim/fog"
	"fogfield.dev/internal/sim/fog/chunkmath"
)

// Inputs are the requests applied at one tick boundary, in arrival order.
type Inputs struct {
	Joins   []JoinRequest
	Moves   []MoveRequest
	Leaves  []string
	Cameras []CameraRequest
}

func (in *Inputs) reset() {
	in.Joins = in.Joins[:0]
	in.Moves = in.Moves[:0]
	in.Leaves = in.Leaves[:0]
	in.Cameras = in.Cameras[:0]
}

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending Inputs
	lastNow := 0.0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pending.Joins = append(pending.Joins, req)
		case req := <-w.move:
			pending.Moves = append(pending.Moves, req)
		case id := <-w.leave:
			pending.Leaves = append(pending.Leaves, id)
		case req := <-w.cameraReq:
			pending.Cameras = append(pending.Cameras, req)
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case req := <-w.observerSub:
			w.handleObserverSubscribe(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		case req := <-w.adminState:
			w.handleAdminState(req)
		case <-ticker.C:
			now := w.clock()
			if now < lastNow {
				now = lastNow
			}
			lastNow = now
			w.step(now, pending)
			pending.reset()
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce advances the world by a single tick using the same ordering semantics as the server.
// It is primarily intended for deterministic replays/tests.
func (w *World) StepOnce(now float64, in Inputs) TickLogEntry {
	return w.step(now, in)
}

func (w *World) step(now float64, in Inputs) TickLogEntry {
	stepStart := time.Now()
	nowTick := w.tick.Load()

	// Apply leaves and joins deterministically at tick boundary.
	recordedLeaves := make([]string, 0, len(in.Leaves))
	for _, id := range in.Leaves {
		if _, ok := w.providers[id]; ok {
			delete(w.providers, id)
			if w.cameraFollow == id {
				w.cameraFollow = ""
			}
			recordedLeaves = append(recordedLeaves, id)
		}
	}
	recordedJoins := make([]RecordedJoin, 0, len(in.Joins))
	for _, req := range in.Joins {
		resp := w.joinProvider(req)
		if req.Resp != nil {
			req.Resp <- resp
		}
		if resp.ErrorCode == "" {
			recordedJoins = append(recordedJoins, RecordedJoin{ProviderID: resp.Welcome.ProviderID, Name: req.Name})
		}
	}
	for _, mv := range in.Moves {
		if code := w.applyMove(mv); code != "" {
			w.rejectMove(mv.ProviderID, code)
		}
	}
	for _, req := range in.Cameras {
		w.applyCamera(req)
	}
	if w.cameraFollow != "" {
		if pos, ok := w.findProvider(w.cameraFollow, now); ok {
			w.camera = &pos
		}
	}

	providers := w.tickProviders(now)
	rep := w.field.Tick(fog.TickInput{Now: now, Providers: providers, Camera: w.camera})

	if w.cfg.CheckInvariants {
		if err := w.field.Registry().CheckInvariants(); err != nil {
			w.totals.invariantFails++
			w.logf("tick %d: registry invariant violated: %v", nowTick, err)
		}
	}

	entry := TickLogEntry{
		Tick:           nowTick,
		Time:           now,
		Camera:         vecPtr(w.camera),
		Providers:      sampleProviders(providers),
		Joins:          recordedJoins,
		Leaves:         recordedLeaves,
		Active:         rep.Active,
		Visible:        rep.Visible,
		Explored:       rep.Explored,
		NewlyExplored:  coordPairs(rep.Vision.NewlyExplored),
		BecameVisible:  len(rep.Vision.BecameVisible),
		LostVisibility: len(rep.Vision.LostVisibility),
		Created:        len(rep.Vision.Created),
		Evicted:        coordPairs(rep.Lifecycle.Evicted),
		Recycled:       rep.Recycled,
		Preloaded:      len(rep.Lifecycle.Preloaded),
		Digest:         w.field.Digest(),
	}
	if w.tickLogger != nil {
		if err := w.tickLogger.WriteTick(entry); err != nil {
			w.logf("tick %d: tick log: %v", nowTick, err)
		}
	}

	w.totals.joins += uint64(len(recordedJoins))
	w.totals.leaves += uint64(len(recordedLeaves))
	w.totals.newlyExplored += uint64(len(rep.Vision.NewlyExplored))
	w.totals.evicted += uint64(len(rep.Lifecycle.Evicted))
	w.totals.created += uint64(len(rep.Vision.Created))
	w.totals.recycled += uint64(rep.Recycled)

	w.sendProviderStatus(nowTick, now, rep)
	w.broadcastObservers(nowTick, now, rep, providers)

	w.tick.Add(1)
	w.publishMetrics(nowTick, now, rep, time.Since(stepStart))
	return entry
}

func (w *World) joinProvider(req JoinRequest) JoinResponse {
	if !w.validRange(req.Range) {
		return JoinResponse{ErrorCode: protocol.ErrBadRequest}
	}
	pos := Vec2{}
	if req.Pos != nil {
		if !chunkmath.ValidPos(*req.Pos) {
			return JoinResponse{ErrorCode: protocol.ErrBadRequest}
		}
		pos = *req.Pos
	}
	name := req.Name
	if name == "" {
		name = "provider"
	}
	id := w.newProviderID()
	w.providers[id] = &providerState{id: id, name: name, pos: pos, rng: req.Range, out: req.Out}
	return JoinResponse{Welcome: protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ProviderID:      id,
		WorldID:         w.cfg.ID,
		WorldParams:     w.worldParams(),
	}}
}

func (w *World) worldParams() protocol.WorldParams {
	return protocol.WorldParams{
		TickRateHz:         w.cfg.TickRateHz,
		ChunkSize:          w.cfg.Fog.ChunkSize,
		ViewRange:          w.cfg.Fog.ViewRange,
		GracePeriodSeconds: w.cfg.Fog.GracePeriod,
		RadiusSafetyFactor: w.cfg.Fog.RadiusSafetyFactor,
		MaxProviderRange:   w.cfg.Fog.ProviderRangeCap(),
	}
}

// validRange accepts ranges in (0, max_provider_range].
func (w *World) validRange(r float64) bool {
	return r > 0 && r <= w.cfg.Fog.ProviderRangeCap()
}

// applyMove returns a protocol error code when the move is refused. A refused
// move changes nothing.
func (w *World) applyMove(mv MoveRequest) string {
	p := w.providers[mv.ProviderID]
	if p == nil {
		return ""
	}
	if !chunkmath.ValidPos(mv.Pos) || (mv.Range != 0 && !w.validRange(mv.Range)) {
		return protocol.ErrBadRequest
	}
	p.pos = mv.Pos
	if mv.Range != 0 {
		p.rng = mv.Range
	}
	p.moves++
	return ""
}

func (w *World) rejectMove(providerID, code string) {
	p := w.providers[providerID]
	if p == nil || p.out == nil {
		return
	}
	b, err := json.Marshal(protocol.NewError(code, "move refused"))
	if err != nil {
		return
	}
	sendLatest(p.out, b)
}

func (w *World) applyCamera(req CameraRequest) {
	switch {
	case req.Clear:
		w.camera = nil
		w.cameraFollow = ""
	case req.Follow != "":
		w.cameraFollow = req.Follow
	case req.Pos != nil && chunkmath.ValidPos(*req.Pos):
		c := *req.Pos
		w.camera = &c
		w.cameraFollow = ""
	}
}

func (w *World) sendProviderStatus(nowTick uint64, now float64, rep fog.TickReport) {
	for _, p := range w.providers {
		if p.out == nil {
			continue
		}
		c := chunkmath.WorldToChunk(p.pos, w.cfg.Fog.ChunkSize)
		b, err := json.Marshal(protocol.StatusMsg{
			Type:            protocol.TypeStatus,
			ProtocolVersion: protocol.Version,
			Tick:            nowTick,
			Time:            now,
			ProviderID:      p.id,
			Chunk:           [2]int{c.X, c.Y},
			VisibleCount:    rep.Visible,
			ExploredCount:   rep.Explored,
		})
		if err != nil {
			continue
		}
		sendLatest(p.out, b)
	}
}

// sendLatest enqueues b, dropping the oldest queued message if the channel is
// full. It reports false when a message had to be dropped.
func sendLatest(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
	return false
}

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) TickRateHz() int {
	if w == nil {
		return 0
	}
	return w.cfg.TickRateHz
}

func vecPtr(v *Vec2) *[2]float64 {
	if v == nil {
		return nil
	}
	return &[2]float64{v.X, v.Y}
}

func coordPairs(cs []fog.Coord) [][2]int {
	if len(cs) == 0 {
		return nil
	}
	out := make([][2]int, len(cs))
	for i, c := range cs {
		out[i] = [2]int{c.X, c.Y}
	}
	return out
}

func sampleProviders(ps []fog.Provider) []ProviderSample {
	if len(ps) == 0 {
		return nil
	}
	out := make([]ProviderSample, len(ps))
	for i, p := range ps {
		out[i] = ProviderSample{ID: p.ID, Pos: [2]float64{p.Pos.X, p.Pos.Y}, Range: p.Range}
	}
	return out
}
