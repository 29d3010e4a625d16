package stats_test

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/gkobilansky/form-goat/internal/stats"
)

func TestWilsonInterval_50PercentConversion(t *testing.T) {
	// 50 successes out of 100 trials
	lower, upper := stats.WilsonInterval(50, 100, 0.95)

	// Expected: approximately [0.40, 0.60] with some tolerance
	if lower < 0.38 || lower > 0.42 {
		t.Errorf("lower bound %f not in expected range [0.38, 0.42]", lower)
	}
	if upper < 0.58 || upper > 0.62 {
		t.Errorf("upper bound %f not in expected range [0.58, 0.62]", upper)
	}
}

func TestWilsonInterval_LowConversion(t *testing.T) {
	// 5 successes out of 100 trials (5% conversion)
	lower, upper := stats.WilsonInterval(5, 100, 0.95)

	// Should be roughly [0.02, 0.11]
	if lower < 0.01 || lower > 0.03 {
		t.Errorf("lower bound %f not in expected range [0.01, 0.03]", lower)
	}
	if upper < 0.09 || upper > 0.13 {
		t.Errorf("upper bound %f not in expected range [0.09, 0.13]", upper)
	}
}

func TestWilsonInterval_ZeroTrials(t *testing.T) {
	lower, upper := stats.WilsonInterval(0, 0, 0.95)

	if lower != 0 || upper != 0 {
		t.Errorf("expected [0, 0] for zero trials, got [%f, %f]", lower, upper)
	}
}

func TestWilsonInterval_Bounds(t *testing.T) {
	lower, upper := stats.WilsonInterval(0, 10, 0.99)
	if lower != 0 {
		t.Errorf("expected lower bound 0 for zero successes, got %f", lower)
	}
	if upper <= 0 || upper > 1 {
		t.Errorf("upper bound %f out of range", upper)
	}

	lower, upper = stats.WilsonInterval(10, 10, 0.99)
	if upper > 1 {
		t.Errorf("upper bound %f exceeds 1", upper)
	}
	if lower >= 1 {
		t.Errorf("lower bound %f should be below 1", lower)
	}
}

func TestZScore_CommonLevels(t *testing.T) {
	cases := map[float64]float64{
		0.90: 1.645,
		0.95: 1.960,
		0.99: 2.576,
	}
	for confidence, want := range cases {
		if got := stats.ZScore(confidence); math.Abs(got-want) > 1e-3 {
			t.Errorf("ZScore(%v) = %f, want %f", confidence, got, want)
		}
	}
}

func TestInverseNormalCDF_MatchesReference(t *testing.T) {
	for _, p := range []float64{0.001, 0.01, 0.2, 0.5, 0.8, 0.975, 0.999} {
		got := stats.InverseNormalCDF(p)
		want := distuv.UnitNormal.Quantile(p)
		if math.Abs(got-want) > 1e-6 {
			t.Errorf("InverseNormalCDF(%v) = %f, want %f", p, got, want)
		}
	}
}
