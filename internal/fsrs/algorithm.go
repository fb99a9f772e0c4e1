package fsrs

import (
	"math"

	"github.com/conorfennell/knolsched/internal/domain"
)

// algo holds the weights and the constants derived from them.
type algo struct {
	w      [21]float64
	decay  float64 // -w[20]
	factor float64 // 0.9^(1/decay) - 1
}

func newAlgo(w [21]float64) algo {
	decay := -w[20]
	return algo{w: w, decay: decay, factor: math.Pow(0.9, 1/decay) - 1}
}

// retrievability computes R(t, S) = (1 + factor * t / S) ^ decay.
func (a *algo) retrievability(elapsedDays, stability float64) float64 {
	if stability <= 0 {
		return 0
	}
	return math.Pow(1+a.factor*elapsedDays/stability, a.decay)
}

// initStability returns S₀(G) = w[G-1].
func (a *algo) initStability(r domain.Rating) float64 {
	return clampS(a.w[r-1])
}

// initDifficulty returns D₀(G) = w[4] - e^(w[5] * (G - 1)) + 1.
func (a *algo) initDifficulty(r domain.Rating, clamp bool) float64 {
	d := a.w[4] - math.Exp(a.w[5]*float64(r-1)) + 1
	if clamp {
		return clampD(d)
	}
	return d
}

// nextInterval computes round(S / factor * (r^(1/decay) - 1)) in days,
// clamped to [1, maxIvl].
func (a *algo) nextInterval(stability, retention float64, maxIvl int) int {
	ivl := stability / a.factor * (math.Pow(retention, 1/a.decay) - 1)
	days := int(math.Round(ivl))
	return min(max(days, 1), maxIvl)
}

// shortTermStability is the stability after a review on the same day as
// the previous one. Good and Easy never lower it.
func (a *algo) shortTermStability(stability float64, r domain.Rating) float64 {
	inc := math.Exp(a.w[17]*(float64(r)-3+a.w[18])) * math.Pow(stability, -a.w[19])
	if r == domain.Good || r == domain.Easy {
		inc = math.Max(inc, 1)
	}
	return clampS(stability * inc)
}

// nextDifficulty applies linear damping toward 10 and then mean reversion
// toward D₀(Easy).
func (a *algo) nextDifficulty(d float64, r domain.Rating) float64 {
	delta := -a.w[6] * (float64(r) - 3)
	damped := d + (10-d)*delta/9
	return clampD(a.w[7]*a.initDifficulty(domain.Easy, false) + (1-a.w[7])*damped)
}

func (a *algo) nextStability(d, s, r float64, rating domain.Rating) float64 {
	if rating == domain.Again {
		return a.nextForgetStability(d, s, r)
	}
	return a.nextRecallStability(d, s, r, rating)
}

// nextRecallStability is the stability after a successful recall:
// S * (1 + e^w8 * (11-D) * S^-w9 * (e^((1-R)*w10) - 1) * hardPenalty * easyBonus).
func (a *algo) nextRecallStability(d, s, r float64, rating domain.Rating) float64 {
	hardPenalty := 1.0
	if rating == domain.Hard {
		hardPenalty = a.w[15]
	}
	easyBonus := 1.0
	if rating == domain.Easy {
		easyBonus = a.w[16]
	}
	return s * (1 + math.Exp(a.w[8])*
		(11-d)*
		math.Pow(s, -a.w[9])*
		(math.Exp((1-r)*a.w[10])-1)*
		hardPenalty*easyBonus)
}

// nextForgetStability is the stability after a lapse, bounded above by the
// short-term penalty so a lapse never increases stability.
func (a *algo) nextForgetStability(d, s, r float64) float64 {
	long := a.w[11] *
		math.Pow(d, -a.w[12]) *
		(math.Pow(s+1, a.w[13]) - 1) *
		math.Exp((1-r)*a.w[14])
	short := s / math.Exp(a.w[17]*a.w[18])
	return math.Min(long, short)
}

func clampS(s float64) float64 {
	return math.Max(s, 0.001)
}

func clampD(d float64) float64 {
	return math.Min(math.Max(d, 1), 10)
}
