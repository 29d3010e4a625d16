package stats

import "math"

// ZTest performs a two-proportion z-test between a control and a variant
// and returns the two-tailed confidence (0-100) that their conversion
// rates differ. The result is symmetric in its two arms.
func ZTest(controlViews, controlConversions, variantViews, variantConversions int64) float64 {
	// Need data from both arms
	if controlViews < 1 || variantViews < 1 {
		return 0
	}

	p1 := float64(controlConversions) / float64(controlViews)
	p2 := float64(variantConversions) / float64(variantViews)

	// Pooled proportion under null hypothesis (p1 = p2)
	pooled := float64(controlConversions+variantConversions) / float64(controlViews+variantViews)

	// Standard error of the difference
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(controlViews) + 1/float64(variantViews)))
	if se == 0 || math.IsNaN(se) {
		return 0
	}

	z := math.Abs(p2-p1) / se

	return (2*normalCDF(z) - 1) * 100
}

// normalCDF approximates the cumulative distribution function
// of the standard normal distribution
func normalCDF(x float64) float64 {
	// Use the approximation from Abramowitz and Stegun
	// Handbook of Mathematical Functions, formula 7.1.26
	a1 := 0.254829592
	a2 := -0.284496736
	a3 := 1.421413741
	a4 := -1.453152027
	a5 := 1.061405429
	p := 0.3275911

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt(2)

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}

// NormalCDF exposes the approximated standard normal CDF.
func NormalCDF(x float64) float64 {
	return normalCDF(x)
}
