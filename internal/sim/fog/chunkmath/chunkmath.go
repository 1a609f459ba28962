package chunkmath

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidChunkSize = errors.New("chunk size must be a finite value > 0")

const (
	// MaxWorldCoord bounds accepted world positions on either axis.
	MaxWorldCoord = 1e12
	// MaxChunkIndex bounds chunk indices so that differences and squares stay
	// exact in float64 and differences never overflow int.
	MaxChunkIndex = 1 << 40
)

// Coord addresses one chunk cell of the infinite grid.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Coord) Add(o Coord) Coord { return Coord{X: c.X + o.X, Y: c.Y + o.Y} }
func (c Coord) Sub(o Coord) Coord { return Coord{X: c.X - o.X, Y: c.Y - o.Y} }

func (c Coord) String() string { return fmt.Sprintf("(%d,%d)", c.X, c.Y) }

type Vec2 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }

func (v Vec2) DistSq(o Vec2) float64 {
	dx := v.X - o.X
	dy := v.Y - o.Y
	return dx*dx + dy*dy
}

func (v Vec2) Dist(o Vec2) float64 { return math.Sqrt(v.DistSq(o)) }

func ValidateChunkSize(size float64) error {
	if !(size > 0) || math.IsInf(size, 0) {
		return fmt.Errorf("%w (got %v)", ErrInvalidChunkSize, size)
	}
	return nil
}

// WorldToChunk floors (not truncates), so x=-1 lands in chunk -1.
// chunkSize is assumed validated. Indices saturate at ±MaxChunkIndex.
func WorldToChunk(pos Vec2, chunkSize float64) Coord {
	return Coord{
		X: chunkIndex(pos.X / chunkSize),
		Y: chunkIndex(pos.Y / chunkSize),
	}
}

func chunkIndex(v float64) int {
	f := math.Floor(v)
	switch {
	case math.IsNaN(f):
		return 0
	case f > MaxChunkIndex:
		return MaxChunkIndex
	case f < -MaxChunkIndex:
		return -MaxChunkIndex
	}
	return int(f)
}

// ValidPos reports whether pos is finite and within MaxWorldCoord.
func ValidPos(pos Vec2) bool {
	return math.Abs(pos.X) <= MaxWorldCoord && math.Abs(pos.Y) <= MaxWorldCoord
}

// DistSq is the squared chunk-space distance between a and b, computed in
// float64 so far-apart indices cannot overflow.
func DistSq(a, b Coord) float64 {
	dx := float64(a.X) - float64(b.X)
	dy := float64(a.Y) - float64(b.Y)
	return dx*dx + dy*dy
}

// Origin is the bottom-left world corner of the chunk.
func Origin(c Coord, chunkSize float64) Vec2 {
	return Vec2{X: float64(c.X) * chunkSize, Y: float64(c.Y) * chunkSize}
}

func Center(c Coord, chunkSize float64) Vec2 {
	half := chunkSize / 2
	return Origin(c, chunkSize).Add(Vec2{X: half, Y: half})
}

// Contains tests [origin, origin+size) on both axes.
func Contains(c Coord, chunkSize float64, pos Vec2) bool {
	o := Origin(c, chunkSize)
	return pos.X >= o.X && pos.X < o.X+chunkSize &&
		pos.Y >= o.Y && pos.Y < o.Y+chunkSize
}

// SquareAround returns the (2r+1)^2 window around center, row-major from (-r,-r).
func SquareAround(center Coord, r int) []Coord {
	if r < 0 {
		return nil
	}
	side := 2*r + 1
	out := make([]Coord, 0, side*side)
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			out = append(out, center.Add(Coord{X: dx, Y: dy}))
		}
	}
	return out
}

// Less orders by Y then X (row-major).
func Less(a, b Coord) bool {
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.X < b.X
}
