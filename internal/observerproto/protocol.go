package observerproto

import "fogfield.dev/internal/sim/fog/overlay"

// Version is the observer protocol version (separate from the provider WS protocol).
const Version = "0.2"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeFogTick   = "FOG_TICK"
)

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type" jsonschema:"enum=SUBSCRIBE"`
	ProtocolVersion string `json:"protocol_version"`

	// FullEvery forces a full cell list every N ticks; 0 uses the server default.
	FullEvery int `json:"full_every,omitempty"`
	MaxCells  int `json:"max_cells,omitempty"`

	// Optional camera control. The most recent setter wins across observers.
	Camera         *[2]float64 `json:"camera,omitempty"`
	ClearCamera    bool        `json:"clear_camera,omitempty"`
	FollowProvider string      `json:"follow_provider,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string           `json:"protocol_version"`
	WorldID         string           `json:"world_id"`
	RunID           string           `json:"run_id,omitempty"`
	Tick            uint64           `json:"tick"`
	WorldParams     WorldParams      `json:"world_params"`
	Render          overlay.Settings `json:"render"`
	Camera          *[2]float64      `json:"camera,omitempty"`
}

type WorldParams struct {
	TickRateHz         int     `json:"tick_rate_hz"`
	ChunkSize          float64 `json:"chunk_size"`
	ViewRange          int     `json:"view_range"`
	LoadRange          int     `json:"load_range"`
	GracePeriodSeconds float64 `json:"grace_period_seconds"`
	RadiusSafetyFactor float64 `json:"radius_safety_factor"`
	MaxProviderRange   float64 `json:"max_provider_range"`
}

// Server -> Client. Sent every tick.
//
// When Full is set, Cells is the complete active set and the client replaces
// its cache. Otherwise Cells holds only changed cells and Removed lists chunks
// that left the active set since the previous message.
type TickMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Tick            uint64  `json:"tick"`
	Time            float64 `json:"time"`

	Camera *[2]float64 `json:"camera,omitempty"`

	ActiveCount   int `json:"active_count"`
	VisibleCount  int `json:"visible_count"`
	ExploredCount int `json:"explored_count"`

	NewlyExplored [][2]int `json:"newly_explored,omitempty"`
	Evicted       [][2]int `json:"evicted,omitempty"`

	Full      bool                   `json:"full"`
	Truncated bool                   `json:"truncated,omitempty"`
	Cells     []overlay.Cell         `json:"cells"`
	Removed   [][2]int               `json:"removed,omitempty"`
	Providers []overlay.VisionParams `json:"providers"`
}
