package patrol

import (
	"math"
	"sort"

	"fogfield.dev/internal/sim/fog/chunkmath"
	"fogfield.dev/internal/sim/fog/vision"
)

type Vec2 = chunkmath.Vec2

// Route moves a scripted vision provider along a polyline at constant speed.
// Loop closes the polyline; otherwise the provider walks back and forth.
type Route struct {
	ID        string  `yaml:"id" json:"id"`
	Range     float64 `yaml:"range" json:"range"`
	Speed     float64 `yaml:"speed" json:"speed"`
	Loop      bool    `yaml:"loop" json:"loop"`
	Waypoints []Vec2  `yaml:"waypoints" json:"waypoints"`
}

func (r Route) segments() []Vec2 {
	pts := r.Waypoints
	if r.Loop && len(pts) > 1 {
		pts = append(append([]Vec2(nil), pts...), pts[0])
	}
	return pts
}

func (r Route) Length() float64 {
	pts := r.segments()
	var l float64
	for i := 1; i < len(pts); i++ {
		l += pts[i-1].Dist(pts[i])
	}
	return l
}

// PositionAt returns where the provider is t seconds after start.
func (r Route) PositionAt(t float64) Vec2 {
	if len(r.Waypoints) == 0 {
		return Vec2{}
	}
	pts := r.segments()
	total := r.Length()
	if total == 0 || r.Speed <= 0 || t <= 0 {
		return pts[0]
	}
	d := t * r.Speed
	if r.Loop {
		d = math.Mod(d, total)
	} else {
		d = math.Mod(d, 2*total)
		if d > total {
			d = 2*total - d
		}
	}
	for i := 1; i < len(pts); i++ {
		seg := pts[i-1].Dist(pts[i])
		if d <= seg {
			if seg == 0 {
				return pts[i]
			}
			f := d / seg
			return Vec2{
				X: pts[i-1].X + (pts[i].X-pts[i-1].X)*f,
				Y: pts[i-1].Y + (pts[i].Y-pts[i-1].Y)*f,
			}
		}
		d -= seg
	}
	return pts[len(pts)-1]
}

func (r Route) Provider(t float64) vision.Provider {
	return vision.Provider{ID: r.ID, Pos: r.PositionAt(t), Range: r.Range}
}

// Providers evaluates every route at t, ordered by ID.
func Providers(routes []Route, t float64) []vision.Provider {
	out := make([]vision.Provider, 0, len(routes))
	for _, r := range routes {
		out = append(out, r.Provider(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
