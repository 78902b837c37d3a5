package draw

import (
	crand "crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"hash/fnv"
	"math"
)

// PRNG algorithm versions recorded on audit entries. SeededPRNGVersion is
// part of the replay contract: the hash and LCG constants below must never
// change under this version string, or historically audited draws stop
// replaying. A future algorithm change gets a new version.
const (
	SecurePRNGVersion = "secure/v1"
	SeededPRNGVersion = "lcg/v1"
)

const seedBytes = 32

// Shuffle returns a permutation of items and the seed that produced it.
//
// With an empty seed a fresh high-entropy seed is generated and every swap
// index comes from the operating system's secure generator. With a caller
// seed the permutation is fully deterministic: identical (items, seed) yield
// an identical result on any process at any time. The input slice is never
// mutated.
func Shuffle[T any](items []T, seed string) ([]T, string, error) {
	out := make([]T, len(items))
	copy(out, items)

	var src intSource
	usedSeed := seed
	if seed == "" {
		generated, err := NewSeed()
		if err != nil {
			return nil, "", err
		}
		usedSeed = generated
		src = secureSource{}
	} else {
		src = newLCG(seed)
	}

	// Fisher–Yates, high index down.
	for i := len(out) - 1; i > 0; i-- {
		j, err := src.Intn(i + 1)
		if err != nil {
			return nil, "", err
		}
		out[i], out[j] = out[j], out[i]
	}
	return out, usedSeed, nil
}

// NewSeed generates a hex-encoded 32-byte seed from the secure generator.
func NewSeed() (string, error) {
	buf := make([]byte, seedBytes)
	if _, err := crand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// intSource yields uniform integers in [0, n).
type intSource interface {
	Intn(n int) (int, error)
}

type secureSource struct{}

func (secureSource) Intn(n int) (int, error) { return secureIntn(n) }

// secureIntn draws a uniform integer in [0, n) from crypto/rand using
// rejection sampling, so no modulo bias can skew the draw.
func secureIntn(n int) (int, error) {
	if n <= 0 {
		return 0, errors.New("draw: secureIntn requires n > 0")
	}
	bound := uint64(n)
	// Largest multiple of bound representable in 64 bits; values at or
	// above it are rejected.
	limit := (math.MaxUint64 / bound) * bound
	var buf [8]byte
	for {
		if _, err := crand.Read(buf[:]); err != nil {
			return 0, err
		}
		v := binary.BigEndian.Uint64(buf[:])
		if v < limit {
			return int(v % bound), nil
		}
	}
}

// lcg is the versioned deterministic generator behind seeded draws
// (SeededPRNGVersion). The seed string is hashed with FNV-1a into the
// initial state and stepped with Knuth's MMIX multiplier. Both constants
// are frozen under lcg/v1.
type lcg struct {
	state uint64
}

func newLCG(seed string) *lcg {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	state := h.Sum64()
	if state == 0 {
		state = 0x9E3779B97F4A7C15
	}
	return &lcg{state: state}
}

func (l *lcg) next() uint64 {
	l.state = l.state*6364136223846793005 + 1442695040888963407
	return l.state
}

func (l *lcg) Intn(n int) (int, error) {
	if n <= 0 {
		return 0, errors.New("draw: lcg Intn requires n > 0")
	}
	bound := uint64(n)
	limit := (math.MaxUint64 / bound) * bound
	for {
		if v := l.next(); v < limit {
			return int(v % bound), nil
		}
	}
}
