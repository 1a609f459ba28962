package world

import (
	"encoding/json"
	"sort"

	"fogfield.dev/internal/observerproto"
	"fogfield.dev/internal/sim/fog"
	"fogfield.dev/internal/sim/fog/chunkmath"
	"fogfield.dev/internal/sim/fog/overlay"
)

const (
	defaultObserverFullEvery = 100
	defaultObserverMaxCells  = 16384
)

// ObserverJoinRequest registers a read-only observer session that receives
// one FOG_TICK per tick on Out.
//
// All observer state is maintained by the world loop goroutine.
type ObserverJoinRequest struct {
	SessionID string
	Out       chan []byte

	FullEvery int
	MaxCells  int
}

// ObserverSubscribeRequest updates an existing observer session subscription settings.
type ObserverSubscribeRequest struct {
	SessionID string

	FullEvery int
	MaxCells  int
}

type observerClient struct {
	id  string
	out chan []byte

	fullEvery int
	maxCells  int

	// sent is the cell state the client last received, keyed by chunk.
	sent map[fog.Coord]overlay.Cell

	// needsFull forces a full resend (first tick, or after a dropped message).
	needsFull bool
	lastFull  uint64
}

func (w *World) observerLimits(fullEvery, maxCells int) (int, int) {
	fe := w.cfg.ObserverFullEvery
	if fe <= 0 {
		fe = defaultObserverFullEvery
	}
	if fullEvery > 0 && fullEvery < fe {
		fe = fullEvery
	}
	mc := w.cfg.ObserverMaxCells
	if mc <= 0 {
		mc = defaultObserverMaxCells
	}
	if maxCells > 0 && maxCells < mc {
		mc = maxCells
	}
	return fe, mc
}

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if w == nil || req.SessionID == "" || req.Out == nil {
		return
	}
	// Replace existing session id if any.
	if old := w.observers[req.SessionID]; old != nil {
		close(old.out)
	}
	fe, mc := w.observerLimits(req.FullEvery, req.MaxCells)
	w.observers[req.SessionID] = &observerClient{
		id:        req.SessionID,
		out:       req.Out,
		fullEvery: fe,
		maxCells:  mc,
		sent:      map[fog.Coord]overlay.Cell{},
		needsFull: true,
	}
}

func (w *World) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := w.observers[req.SessionID]
	if c == nil {
		return
	}
	c.fullEvery, c.maxCells = w.observerLimits(req.FullEvery, req.MaxCells)
	c.needsFull = true
}

func (w *World) handleObserverLeave(sessionID string) {
	if sessionID == "" {
		return
	}
	c := w.observers[sessionID]
	if c == nil {
		return
	}
	delete(w.observers, sessionID)
	close(c.out)
}

func (w *World) broadcastObservers(nowTick uint64, now float64, rep fog.TickReport, providers []fog.Provider) {
	if len(w.observers) == 0 {
		return
	}
	ov := overlay.Build(w.cfg.Fog.ChunkSize, w.field.Snapshot(), providers, w.cfg.Render)
	current := make(map[fog.Coord]overlay.Cell, len(ov.Cells))
	for _, cell := range ov.Cells {
		current[fog.Coord{X: cell.CX, Y: cell.CY}] = cell
	}

	for _, c := range w.observers {
		msg := observerproto.TickMsg{
			Type:            observerproto.TypeFogTick,
			ProtocolVersion: observerproto.Version,
			Tick:            nowTick,
			Time:            now,
			Camera:          vecPtr(w.camera),
			ActiveCount:     rep.Active,
			VisibleCount:    rep.Visible,
			ExploredCount:   rep.Explored,
			NewlyExplored:   coordPairs(rep.Vision.NewlyExplored),
			Evicted:         coordPairs(rep.Lifecycle.Evicted),
			Providers:       ov.Providers,
		}
		full := c.needsFull || nowTick-c.lastFull >= uint64(c.fullEvery)
		if full {
			c.fillFull(&msg, ov.Cells)
			c.lastFull = nowTick
		} else {
			c.fillDelta(&msg, ov.Cells, current)
		}
		b, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		c.needsFull = !sendLatest(c.out, b)
	}
}

func (c *observerClient) fillFull(msg *observerproto.TickMsg, cells []overlay.Cell) {
	msg.Full = true
	if len(cells) > c.maxCells {
		cells = cells[:c.maxCells]
		msg.Truncated = true
	}
	msg.Cells = cells
	c.sent = make(map[fog.Coord]overlay.Cell, len(cells))
	for _, cell := range cells {
		c.sent[fog.Coord{X: cell.CX, Y: cell.CY}] = cell
	}
}

// fillDelta sends changed cells and removals. Cells cut by maxCells stay out
// of sent so they go out on a later tick.
func (c *observerClient) fillDelta(msg *observerproto.TickMsg, cells []overlay.Cell, current map[fog.Coord]overlay.Cell) {
	msg.Cells = []overlay.Cell{}
	for _, cell := range cells {
		k := fog.Coord{X: cell.CX, Y: cell.CY}
		if prev, ok := c.sent[k]; ok && prev == cell {
			continue
		}
		if len(msg.Cells) >= c.maxCells {
			msg.Truncated = true
			break
		}
		msg.Cells = append(msg.Cells, cell)
		c.sent[k] = cell
	}
	var removed []fog.Coord
	for k := range c.sent {
		if _, ok := current[k]; !ok {
			removed = append(removed, k)
		}
	}
	for _, k := range removed {
		delete(c.sent, k)
	}
	sortCoords(removed)
	msg.Removed = coordPairs(removed)
}

func sortCoords(cs []fog.Coord) {
	sort.Slice(cs, func(i, j int) bool { return chunkmath.Less(cs[i], cs[j]) })
}
