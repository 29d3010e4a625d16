package allocation

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Sampler draws one value from Beta(alpha, beta).
type Sampler interface {
	Sample(alpha, beta float64) float64
}

const (
	SamplerNormal = "normal"
	SamplerBeta   = "beta"
)

// NewSampler returns the sampler registered under name.
func NewSampler(name string, r Rand, src rand.Source) (Sampler, error) {
	switch name {
	case "", SamplerNormal:
		if r == nil {
			r = DefaultRand
		}
		return NormalApprox{Rand: r}, nil
	case SamplerBeta:
		return ExactBeta{Src: src}, nil
	default:
		return nil, fmt.Errorf("unknown bandit sampler %q", name)
	}
}

// NormalApprox approximates a Beta draw with a normal draw of the same
// mean and variance, clamped to [0, 1]. It is inaccurate for small or
// skewed posteriors, e.g. early in a test with no conversions.
type NormalApprox struct {
	Rand Rand
}

func (n NormalApprox) Sample(alpha, beta float64) float64 {
	mean, variance := BetaMoments(alpha, beta)
	sample := mean + n.boxMuller()*math.Sqrt(variance)
	return math.Max(0, math.Min(1, sample))
}

// boxMuller returns one standard normal deviate.
func (n NormalApprox) boxMuller() float64 {
	u1 := 1 - n.Rand.Float64() // (0, 1] keeps the log finite
	u2 := n.Rand.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// BetaMoments returns the mean and variance of Beta(alpha, beta).
func BetaMoments(alpha, beta float64) (mean, variance float64) {
	sum := alpha + beta
	return alpha / sum, alpha * beta / (sum * sum * (sum + 1))
}

// ExactBeta samples the Beta distribution exactly. A nil Src uses the
// global math/rand/v2 source.
type ExactBeta struct {
	Src rand.Source
}

func (e ExactBeta) Sample(alpha, beta float64) float64 {
	return distuv.Beta{Alpha: alpha, Beta: beta, Src: e.Src}.Rand()
}
