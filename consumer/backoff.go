package consumer

import (
	rand "math/rand/v2"
	"time"
)

// retryBackoff produces decorrelated jitter delays between failed pulls.
//
// Each delay is drawn from [base, prev*multiplier) and clamped to the cap. A
// successful pull resets the sequence.
type retryBackoff struct {
	base       time.Duration
	multiplier float64
	capDur     time.Duration
	rng        *rand.Rand // nil uses the package-level source

	prev time.Duration
}

func newRetryBackoff(base time.Duration, multiplier float64, capDur time.Duration, seed int64) *retryBackoff {
	return &retryBackoff{base: base, multiplier: multiplier, capDur: capDur, rng: newRetryRNG(seed)}
}

// Next returns the next delay and remembers it.
func (b *retryBackoff) Next() time.Duration {
	b.prev = jitterBackoff(b.prev, b.base, b.multiplier, b.capDur, b.rng)

	return b.prev
}

// Reset starts the sequence over from base.
func (b *retryBackoff) Reset() {
	b.prev = 0
}

func jitterBackoff(prev, base time.Duration, mult float64, capDur time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = DefaultRetryBase
	}
	if mult < 1.0 {
		mult = 1.0
	}
	if capDur > 0 && capDur < base {
		return capDur
	}
	if prev <= 0 {
		return base
	}

	span := time.Duration(float64(prev)*mult) - base
	if span <= 0 {
		span = base
	}

	var jitter int64
	if rng != nil {
		jitter = rng.Int64N(int64(span))
	} else {
		jitter = rand.Int64N(int64(span)) //nolint:gosec // non-crypto backoff jitter
	}

	next := base + time.Duration(jitter)
	if capDur > 0 && next > capDur {
		return capDur
	}

	return next
}

// newRetryRNG returns a seeded RNG, or nil for seed 0.
//
//nolint:gosec
func newRetryRNG(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	s1 := uint64(seed)
	s2 := s1 ^ 0x9e3779b97f4a7c15

	return rand.New(rand.NewPCG(s1, s2))
}
