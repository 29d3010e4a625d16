package stats

import (
	"github.com/gkobilansky/form-goat/internal/store"
)

// Results holds per-variant metrics for a test, in variant order.
type Results struct {
	TestID          int64
	ControlID       string // empty when the test has no control
	ConfidenceLevel float64
	TotalViews      int64
	Variants        []VariantMetrics
}

// VariantMetrics are the aggregated numbers for one variant. Rates are
// percentages. The comparison fields are only filled for non-control
// variants of a test that has a control.
type VariantMetrics struct {
	VariantID         string
	Name              string
	IsControl         bool
	Views             int64
	Conversions       int64
	Bounces           int64
	TimeOnForm        int64
	FieldInteractions int64
	ConversionRate    float64
	BounceRate        float64
	AverageTime       float64
	CILower           float64
	CIUpper           float64

	Compared                bool
	Improvement             float64
	StatisticalSignificance float64
	IsSignificant           bool
}

// Get returns the metrics for a variant ID.
func (r *Results) Get(variantID string) (VariantMetrics, bool) {
	for _, v := range r.Variants {
		if v.VariantID == variantID {
			return v, true
		}
	}
	return VariantMetrics{}, false
}

func percent(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// Calculate derives metrics for every variant of test from its rollup
// totals. Variants without rollups count as zero.
func Calculate(test *store.Test, totals map[string]store.Totals) *Results {
	confidence := test.ConfidenceLevel
	if confidence <= 0 || confidence > 1 {
		confidence = store.DefaultConfidenceLevel
	}

	results := &Results{
		TestID:          test.ID,
		ConfidenceLevel: confidence,
		Variants:        make([]VariantMetrics, len(test.Variants)),
	}

	var control *VariantMetrics
	for i, v := range test.Variants {
		t := totals[v.ID] // Will be zero-valued if not present

		m := VariantMetrics{
			VariantID:         v.ID,
			Name:              v.Name,
			IsControl:         v.IsControl,
			Views:             t.Views,
			Conversions:       t.Conversions,
			Bounces:           t.Bounces,
			TimeOnForm:        t.TimeOnForm,
			FieldInteractions: t.FieldInteractions,
			ConversionRate:    percent(t.Conversions, t.Views),
			BounceRate:        percent(t.Bounces, t.Views),
		}
		if t.Views > 0 {
			m.AverageTime = float64(t.TimeOnForm) / float64(t.Views)
		}

		lower, upper := WilsonInterval(t.Conversions, t.Views, confidence)
		m.CILower, m.CIUpper = lower*100, upper*100

		results.Variants[i] = m
		results.TotalViews += t.Views
		if v.IsControl && control == nil {
			control = &results.Variants[i]
		}
	}

	if control == nil {
		return results
	}
	results.ControlID = control.VariantID

	for i := range results.Variants {
		m := &results.Variants[i]
		if m.VariantID == control.VariantID {
			continue
		}

		m.Compared = true
		if control.ConversionRate > 0 {
			m.Improvement = (m.ConversionRate - control.ConversionRate) / control.ConversionRate * 100
		}
		m.StatisticalSignificance = ZTest(control.Views, control.Conversions, m.Views, m.Conversions)
		m.IsSignificant = m.StatisticalSignificance >= confidence*100
	}

	return results
}

// DetermineWinner scans the control and every significant variant in
// order and returns the one with the highest conversion rate. A variant
// that is not significant is never returned. When no variant beats it the
// control itself is returned, provided it converted at all. nil means no
// winner.
//
// confidenceLevel re-evaluates significance against a different threshold;
// pass 0 to keep the flags computed by Calculate.
func DetermineWinner(results *Results, confidenceLevel float64) *VariantMetrics {
	var winner *VariantMetrics
	best := 0.0

	for i := range results.Variants {
		m := &results.Variants[i]

		if !m.IsControl {
			significant := m.IsSignificant
			if confidenceLevel > 0 {
				significant = m.Compared && m.StatisticalSignificance >= confidenceLevel*100
			}
			if !significant {
				continue
			}
		}

		if m.ConversionRate > best {
			best = m.ConversionRate
			winner = m
		}
	}

	if winner == nil {
		return nil
	}
	w := *winner
	return &w
}
