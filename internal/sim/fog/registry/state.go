package registry

import "fmt"

// State is the per-chunk exploration state.
type State uint8

const (
	Unexplored State = iota
	Explored
	Visible
)

func (s State) String() string {
	switch s {
	case Unexplored:
		return "UNEXPLORED"
	case Explored:
		return "EXPLORED"
	case Visible:
		return "VISIBLE"
	default:
		return fmt.Sprintf("STATE(%d)", uint8(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	switch s {
	case Unexplored, Explored, Visible:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("unknown exploration state %d", uint8(s))
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "UNEXPLORED":
		*s = Unexplored
	case "EXPLORED":
		*s = Explored
	case "VISIBLE":
		*s = Visible
	default:
		return fmt.Errorf("unknown exploration state %q", string(b))
	}
	return nil
}

// Next is the only place state transitions are decided.
// lostVisibility reports the Visible->Explored edge, the one edge that stamps LastVisibleTime.
// Nothing ever transitions back to Unexplored.
func Next(cur State, visibleNow bool) (next State, lostVisibility bool) {
	switch cur {
	case Unexplored:
		if visibleNow {
			return Visible, false
		}
		return Unexplored, false
	case Explored:
		if visibleNow {
			return Visible, false
		}
		return Explored, false
	case Visible:
		if visibleNow {
			return Visible, false
		}
		return Explored, true
	default:
		panic(fmt.Sprintf("registry: unhandled exploration state %d", uint8(cur)))
	}
}
