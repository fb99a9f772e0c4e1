package fsrs

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"
)

type fuzzRange struct {
	start, end float64
	factor     float64
}

var fuzzRanges = []fuzzRange{
	{2.5, 7.0, 0.15},
	{7.0, 20.0, 0.10},
	{20.0, math.Inf(1), 0.05},
}

// fuzzDelta is 1 + Σ factor * max(min(interval, end) - start, 0).
func fuzzDelta(interval float64) float64 {
	delta := 1.0
	for _, r := range fuzzRanges {
		delta += r.factor * math.Max(math.Min(interval, r.end)-r.start, 0)
	}
	return delta
}

// fuzzSeed derives the PRNG seed from the review itself so the same review
// always lands on the same fuzzed interval.
func fuzzSeed(now time.Time, reps int, memory float64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(now.UnixMilli()))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(reps))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(memory))
	h.Write(buf[:])
	return h.Sum64()
}

// applyFuzz spreads intervals of at least 2.5 days around their value to
// keep cards reviewed together from staying together.
func applyFuzz(interval, maxIvl int, seed uint64) int {
	if float64(interval) < 2.5 {
		return interval
	}
	ivl := float64(interval)
	delta := fuzzDelta(ivl)

	lo := max(2, int(math.Round(ivl-delta)))
	hi := min(int(math.Round(ivl+delta)), maxIvl)
	lo = min(lo, hi)

	rng := rand.New(rand.NewPCG(seed, seed>>1|1))
	fuzzed := int(math.Floor(rng.Float64()*float64(hi-lo+1))) + lo
	return min(fuzzed, maxIvl)
}
