package patrol

import (
	"math"
	"testing"
)

func near(a, b Vec2) bool {
	return math.Abs(a.X-b.X) < 1e-9 && math.Abs(a.Y-b.Y) < 1e-9
}

func TestRoute_PingPong(t *testing.T) {
	r := Route{ID: "r", Speed: 10, Waypoints: []Vec2{{X: 0, Y: 0}, {X: 100, Y: 0}}}
	cases := []struct {
		t    float64
		want Vec2
	}{
		{0, Vec2{X: 0}},
		{5, Vec2{X: 50}},
		{10, Vec2{X: 100}},
		{15, Vec2{X: 50}},
		{20, Vec2{X: 0}},
		{25, Vec2{X: 50}},
	}
	for _, tc := range cases {
		if got := r.PositionAt(tc.t); !near(got, tc.want) {
			t.Fatalf("t=%v: got %+v want %+v", tc.t, got, tc.want)
		}
	}
}

func TestRoute_Loop(t *testing.T) {
	r := Route{ID: "r", Speed: 1, Loop: true, Waypoints: []Vec2{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}}
	if r.Length() != 40 {
		t.Fatalf("length: %v", r.Length())
	}
	if got := r.PositionAt(25); !near(got, Vec2{X: 5, Y: 10}) {
		t.Fatalf("t=25: %+v", got)
	}
	if got := r.PositionAt(41); !near(got, Vec2{X: 1, Y: 0}) {
		t.Fatalf("t=41 should wrap: %+v", got)
	}
}

func TestRoute_Degenerate(t *testing.T) {
	if got := (Route{}).PositionAt(3); got != (Vec2{}) {
		t.Fatalf("empty route: %+v", got)
	}
	still := Route{Speed: 0, Waypoints: []Vec2{{X: 3, Y: 4}, {X: 9, Y: 9}}}
	if got := still.PositionAt(100); got != (Vec2{X: 3, Y: 4}) {
		t.Fatalf("zero speed should stay at the first waypoint: %+v", got)
	}
}

func TestProviders_SortedByID(t *testing.T) {
	routes := []Route{
		{ID: "b", Range: 50, Waypoints: []Vec2{{X: 1, Y: 1}}},
		{ID: "a", Range: 70, Waypoints: []Vec2{{X: 2, Y: 2}}},
	}
	ps := Providers(routes, 0)
	if len(ps) != 2 || ps[0].ID != "a" || ps[1].ID != "b" || ps[0].Range != 70 {
		t.Fatalf("providers: %+v", ps)
	}
}
