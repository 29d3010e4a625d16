// Package allocation picks a variant for an unassigned visitor.
package allocation

import (
	"math/rand/v2"

	"github.com/gkobilansky/form-goat/internal/store"
)

// Arm is a variant together with its observed totals. Only the bandit
// strategy reads Views and Conversions.
type Arm struct {
	Variant     store.Variant
	Views       int64
	Conversions int64
}

// Strategy chooses one arm. ok is false only when arms is empty.
type Strategy interface {
	Select(arms []Arm) (v store.Variant, ok bool)
}

// Rand is the randomness a strategy draws from. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	IntN(n int) int
	Float64() float64
}

type globalRand struct{}

func (globalRand) IntN(n int) int    { return rand.IntN(n) }
func (globalRand) Float64() float64 { return rand.Float64() }

// DefaultRand uses the math/rand/v2 package-level generator, which is
// safe for concurrent use.
var DefaultRand Rand = globalRand{}

// New returns the strategy for kind. Unknown kinds fall back to Equal.
// A nil r uses DefaultRand and a nil sampler uses the normal approximation.
func New(kind store.Allocation, r Rand, sampler Sampler) Strategy {
	if r == nil {
		r = DefaultRand
	}
	switch kind {
	case store.AllocationWeighted:
		return Weighted{Rand: r}
	case store.AllocationBandit:
		if sampler == nil {
			sampler = NormalApprox{Rand: r}
		}
		return Bandit{Sampler: sampler}
	default:
		return Equal{Rand: r}
	}
}

// Equal picks uniformly at random.
type Equal struct {
	Rand Rand
}

func (e Equal) Select(arms []Arm) (store.Variant, bool) {
	if len(arms) == 0 {
		return store.Variant{}, false
	}
	return arms[e.Rand.IntN(len(arms))].Variant, true
}

// Weighted picks proportionally to Variant.Weight. Non-positive weights
// never match; if nothing matches the last arm is returned.
type Weighted struct {
	Rand Rand
}

func (w Weighted) Select(arms []Arm) (store.Variant, bool) {
	if len(arms) == 0 {
		return store.Variant{}, false
	}

	total := 0.0
	for _, a := range arms {
		if a.Variant.Weight > 0 {
			total += a.Variant.Weight
		}
	}
	if total <= 0 {
		return arms[len(arms)-1].Variant, true
	}

	u := w.Rand.Float64() * total
	cumulative := 0.0
	for _, a := range arms {
		if a.Variant.Weight <= 0 {
			continue
		}
		cumulative += a.Variant.Weight
		if cumulative >= u {
			return a.Variant, true
		}
	}

	// Floating point overshoot
	return arms[len(arms)-1].Variant, true
}

// Bandit is Thompson sampling over Beta(conversions+1, views-conversions+1)
// posteriors: every arm draws one sample and the highest draw wins, the
// earliest arm on ties.
type Bandit struct {
	Sampler Sampler
}

func (b Bandit) Select(arms []Arm) (store.Variant, bool) {
	if len(arms) == 0 {
		return store.Variant{}, false
	}

	best := -1
	bestSample := 0.0
	for i, a := range arms {
		alpha, beta := Posterior(a.Views, a.Conversions)
		sample := b.Sampler.Sample(alpha, beta)
		if best < 0 || sample > bestSample {
			best, bestSample = i, sample
		}
	}
	return arms[best].Variant, true
}

// Posterior returns the Beta parameters for an arm with a uniform prior.
// Conversions above views are capped so beta stays >= 1.
func Posterior(views, conversions int64) (alpha, beta float64) {
	if conversions < 0 {
		conversions = 0
	}
	failures := views - conversions
	if failures < 0 {
		failures = 0
	}
	return float64(conversions) + 1, float64(failures) + 1
}
