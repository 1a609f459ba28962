package protocol

// HELLO (client -> server). Registers the connection as a vision provider.
type HelloMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ProviderName    string      `json:"provider_name"`
	Range           float64     `json:"range"`
	Pos             *[2]float64 `json:"pos,omitempty"`
	MaxQueue        int         `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ProviderID      string      `json:"provider_id"`
	WorldID         string      `json:"world_id"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	TickRateHz         int     `json:"tick_rate_hz"`
	ChunkSize          float64 `json:"chunk_size"`
	ViewRange          int     `json:"view_range"`
	GracePeriodSeconds float64 `json:"grace_period_seconds"`
	RadiusSafetyFactor float64 `json:"radius_safety_factor"`
	MaxProviderRange   float64 `json:"max_provider_range"`
}

// MOVE (client -> server). Range is optional; zero keeps the current one.
type MoveMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Pos             [2]float64 `json:"pos"`
	Range           float64    `json:"range,omitempty"`
}

// STATUS (server -> client), once per tick.
type StatusMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Tick            uint64  `json:"tick"`
	Time            float64 `json:"time"`
	ProviderID      string  `json:"provider_id"`
	Chunk           [2]int  `json:"chunk"`
	VisibleCount    int     `json:"visible_count"`
	ExploredCount   int     `json:"explored_count"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message}
}
