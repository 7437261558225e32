package game

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
)

// Seed fixes every random decision of one state change. The same seed applied
// to the same state and action always yields the same result.
type Seed uint64

// NewRand returns a deterministic generator for seed.
func NewRand(seed Seed) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}

// NewSeed draws a fresh seed from the operating system.
func NewSeed() Seed {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return Seed(rand.Uint64())
	}
	return Seed(binary.LittleEndian.Uint64(b[:]))
}

// Shuffle permutes s in place using rnd.
func Shuffle[T any](rnd *rand.Rand, s []T) {
	rnd.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}
