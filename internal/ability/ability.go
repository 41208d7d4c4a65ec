// Package ability maintains the per-session ability vector: one (mean,
// variance) estimate per ability key, updated once per completed item.
//
// The update is an exponentially-decaying-uncertainty rule, not a full
// Bayesian posterior: the mean moves by a fixed step scaled by the item's
// discrimination and the terminal score, and the variance shrinks by a
// constant decay factor down to a floor. This deliberately trades
// statistical fidelity for predictable, bounded movement per item.
package ability

import "math"

// Estimate is the running belief about one ability key.
type Estimate struct {
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
}

// Vector maps ability keys to estimates. Keys partition the vector by skill
// area; an update to one key never touches another.
type Vector map[string]Estimate

// Params are the scoring-supplied update knobs.
type Params struct {
	Step           float64 `json:"step"`
	VarianceDecay  float64 `json:"varianceDecay"`
	MinVariance    float64 `json:"minVariance"`
	Discrimination float64 `json:"discrimination"`
}

// DefaultParams returns the fixed default knobs.
func DefaultParams() Params {
	return Params{
		Step:           0.25,
		VarianceDecay:  0.9,
		MinVariance:    0.5,
		Discrimination: 1.0,
	}
}

// withDefaults fills zero-valued knobs from the defaults so partially
// specified scoring configs behave sanely.
func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.Step == 0 {
		p.Step = d.Step
	}
	if p.VarianceDecay == 0 {
		p.VarianceDecay = d.VarianceDecay
	}
	if p.MinVariance == 0 {
		p.MinVariance = d.MinVariance
	}
	if p.Discrimination == 0 {
		p.Discrimination = d.Discrimination
	}
	return p
}

// Update returns a fresh vector with the estimate for key moved by score.
// A missing key starts at {mean 0, variance 1}. The input vector is not
// mutated.
func Update(vec Vector, key string, score float64, p Params) Vector {
	p = p.withDefaults()

	out := make(Vector, len(vec)+1)
	for k, v := range vec {
		out[k] = v
	}

	est, ok := out[key]
	if !ok {
		est = Estimate{Mean: 0, Variance: 1}
	}

	est.Mean += p.Step * p.Discrimination * score
	est.Variance = math.Max(p.MinVariance, est.Variance*p.VarianceDecay)

	out[key] = est
	return out
}

// Clone returns an independent copy of the vector.
func Clone(vec Vector) Vector {
	out := make(Vector, len(vec))
	for k, v := range vec {
		out[k] = v
	}
	return out
}
