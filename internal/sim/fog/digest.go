package fog

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"
)

// Digest hashes the registry contents in sorted order. Two fields fed the same
// inputs produce the same digest.
func (f *Field) Digest() string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, f.ticks)
	active := f.reg.ActiveEntries()
	digestWriteU64(h, &tmp, uint64(len(active)))
	for _, e := range active {
		digestWriteI64(h, &tmp, int64(e.Coord.X))
		digestWriteI64(h, &tmp, int64(e.Coord.Y))
		h.Write([]byte{byte(e.State)})
		digestWriteU64(h, &tmp, math.Float64bits(e.LastVisibleTime))
	}
	explored := f.reg.ExploredCoords()
	digestWriteU64(h, &tmp, uint64(len(explored)))
	for _, c := range explored {
		digestWriteI64(h, &tmp, int64(c.X))
		digestWriteI64(h, &tmp, int64(c.Y))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func digestWriteU64(h hash.Hash, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hash.Hash, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}
