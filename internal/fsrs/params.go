package fsrs

import (
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/knolsched/internal/domain"
)

// DefaultWeights are the FSRS-6 default parameters.
var DefaultWeights = [21]float64{
	0.212, 1.2931, 2.3065, 8.2956, // w[0..3]  initial stability S₀(G)
	6.4133, 0.8334, 3.0194, 0.001, // w[4..7]  difficulty
	1.8722, 0.1666, 0.796, 1.4835, // w[8..11] recall stability
	0.0614, 0.2629, 1.6483, 0.6014, // w[12..15] forget stability, hard penalty
	1.8729, 0.5425, 0.0912, 0.0658, // w[16..19] easy bonus, short-term
	0.1542, // w[20] decay
}

// LowerBounds is the minimum allowed value of each weight.
var LowerBounds = [21]float64{
	0.001, 0.001, 0.001, 0.001,
	1.0, 0.001, 0.001, 0.001,
	0.0, 0.0, 0.001, 0.001,
	0.001, 0.001, 0.0, 0.0,
	1.0, 0.0, 0.0, 0.0,
	0.1,
}

// UpperBounds is the maximum allowed value of each weight.
var UpperBounds = [21]float64{
	100.0, 100.0, 100.0, 100.0,
	10.0, 4.0, 4.0, 0.75,
	4.5, 0.8, 3.5, 5.0,
	0.25, 0.9, 4.0, 1.0,
	6.0, 2.0, 2.0, 0.8,
	0.8,
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultParameters returns deck parameters with the default weights,
// 90% retention, a 100 year interval cap and the usual learning steps.
func DefaultParameters() domain.DeckParameters {
	return domain.DeckParameters{
		Weights:          DefaultWeights[:],
		RequestRetention: 0.9,
		MaximumInterval:  36500,
		LearningSteps:    []time.Duration{time.Minute, 10 * time.Minute},
		RelearningSteps:  []time.Duration{10 * time.Minute},
		Limits: domain.CardLimits{
			New:       20,
			Review:    200,
			Learning:  200,
			Suspended: 8,
		},
	}
}

// ValidateParameters checks deck parameters and returns the FSRS-6 weights
// they resolve to. Every failure wraps domain.ErrConfiguration.
func ValidateParameters(p domain.DeckParameters) ([21]float64, error) {
	if err := validate.Struct(p); err != nil {
		return [21]float64{}, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	return MigrateWeights(p.Weights)
}

// MigrateWeights converts FSRS-4.5 (17) and FSRS-5 (19) weight vectors to
// FSRS-6 and checks the result against the bounds. Migrated vectors are
// clipped into bounds; a 21 weight vector must already be inside them.
func MigrateWeights(w []float64) ([21]float64, error) {
	var out [21]float64
	for i, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return out, fmt.Errorf("%w: w[%d] is not a finite number", domain.ErrConfiguration, i)
		}
	}
	switch len(w) {
	case 21:
		copy(out[:], w)
		for i := range out {
			if out[i] < LowerBounds[i] || out[i] > UpperBounds[i] {
				return out, fmt.Errorf("%w: w[%d] = %g, bounds [%g, %g]",
					domain.ErrConfiguration, i, out[i], LowerBounds[i], UpperBounds[i])
			}
		}
		return out, nil
	case 19:
		copy(out[:], w)
		out[19] = 0
		out[20] = 0.5
	case 17:
		copy(out[:], w)
		// FSRS-5 replaced the linear initial difficulty with an exponential one.
		out[4] = w[5]*2 + w[4]
		out[5] = math.Log(w[5]*3+1) / 3
		out[6] = w[6] + 0.5
		out[17], out[18], out[19] = 0, 0, 0
		out[20] = 0.5
	default:
		return out, fmt.Errorf("%w: expected 17, 19 or 21 weights, got %d", domain.ErrConfiguration, len(w))
	}
	for i := range out {
		out[i] = math.Min(math.Max(out[i], LowerBounds[i]), UpperBounds[i])
	}
	return out, nil
}
