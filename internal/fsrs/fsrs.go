package fsrs

import (
	"fmt"
	"math"
	"time"

	"github.com/conorfennell/knolsched/internal/domain"
)

const day = 24 * time.Hour

// Model applies the FSRS-6 memory model with one deck's parameters.
// A Model holds no mutable state and is safe for concurrent use.
type Model struct {
	algo   algo
	params domain.DeckParameters
}

// New validates the deck parameters and builds a Model from them.
func New(p domain.DeckParameters) (*Model, error) {
	w, err := ValidateParameters(p)
	if err != nil {
		return nil, err
	}
	return &Model{algo: newAlgo(w), params: p}, nil
}

// Outcome is the projected result of one rating.
type Outcome struct {
	State         domain.State
	Due           time.Time
	Interval      time.Duration
	ScheduledDays int
	Stability     float64
	Difficulty    float64
}

// EmptyCard returns the zero memory state of a card that is due at now.
func EmptyCard(now time.Time) domain.Card {
	return domain.Card{
		Due:   now,
		State: domain.New,
	}
}

// Next reviews the card at now with the given grade and returns the new
// card together with the log entry recording the transition. The input
// card is not modified, and identical inputs always give identical
// results. Elapsed days are counted in whole calendar days in the
// location of now.
func (m *Model) Next(card domain.Card, now time.Time, rating domain.Rating) (domain.Card, domain.ReviewLog, error) {
	if !rating.IsGrade() {
		return domain.Card{}, domain.ReviewLog{}, fmt.Errorf("%w: %s cannot drive a review", domain.ErrInvalidRating, rating)
	}
	if !card.State.IsValid() {
		return domain.Card{}, domain.ReviewLog{}, fmt.Errorf("%w: card in %s", domain.ErrInvalidTransition, card.State)
	}

	elapsed := elapsedDays(card.LastReview, now)
	entry := snapshot(card, rating, now, elapsed)

	c := card.Clone()
	c.Stability, c.Difficulty = m.memory(card, rating, elapsed)
	c.ElapsedDays = elapsed
	c.Reps++

	var interval time.Duration
	switch card.State {
	case domain.New, domain.Learning:
		interval = m.stepTransition(&c, card, rating, m.params.LearningSteps, domain.Learning)
	case domain.Relearning:
		if rating == domain.Again {
			c.Lapses++
		}
		interval = m.stepTransition(&c, card, rating, m.params.RelearningSteps, domain.Relearning)
	case domain.Review:
		if rating == domain.Again {
			c.Lapses++
			c.State = domain.Relearning
			c.Step = 0
			interval = m.params.RelearningSteps[0]
			break
		}
		c.State = domain.Review
		c.Step = 0
		interval = time.Duration(m.fuzz(m.reviewDays(card, rating, elapsed), &c, now)) * day
	}

	interval = min(interval, time.Duration(m.params.MaximumInterval)*day)
	c.ScheduledDays = int(interval / day)
	c.Due = now.Add(interval)
	reviewed := now
	c.LastReview = &reviewed

	return c, entry, nil
}

// memory computes the stability and difficulty after rating the card.
func (m *Model) memory(card domain.Card, rating domain.Rating, elapsed int) (float64, float64) {
	if card.State == domain.New || card.Stability <= 0 {
		return m.algo.initStability(rating), m.algo.initDifficulty(rating, true)
	}
	d := clampD(card.Difficulty)
	var s float64
	if elapsed == 0 {
		s = m.algo.shortTermStability(card.Stability, rating)
	} else {
		r := m.algo.retrievability(float64(elapsed), card.Stability)
		s = clampS(m.algo.nextStability(d, card.Stability, r, rating))
	}
	return s, m.algo.nextDifficulty(d, rating)
}

// stepTransition moves a New, Learning or Relearning card along its steps
// and graduates it to Review once it passes the last one.
func (m *Model) stepTransition(c *domain.Card, prev domain.Card, rating domain.Rating, steps []time.Duration, stepping domain.State) time.Duration {
	step := prev.Step
	if prev.State == domain.New {
		step = 0
	}
	if step >= len(steps) && rating != domain.Again {
		return m.graduate(c)
	}

	switch rating {
	case domain.Again:
		c.State = stepping
		c.Step = 0
		return steps[0]
	case domain.Hard:
		c.State = stepping
		c.Step = step
		if step > 0 {
			return steps[step]
		}
		if len(steps) == 1 {
			return steps[0] * 3 / 2
		}
		return (steps[0] + steps[1]) / 2
	case domain.Good:
		if step+1 >= len(steps) {
			return m.graduate(c)
		}
		c.State = stepping
		c.Step = step + 1
		return steps[step+1]
	default:
		return m.graduate(c)
	}
}

func (m *Model) graduate(c *domain.Card) time.Duration {
	c.State = domain.Review
	c.Step = 0
	days := m.algo.nextInterval(c.Stability, m.params.RequestRetention, m.params.MaximumInterval)
	return time.Duration(days) * day
}

// reviewDays returns the interval of a passing review of a Review card,
// keeping Hard <= Good < Easy.
func (m *Model) reviewDays(card domain.Card, rating domain.Rating, elapsed int) int {
	ivl := func(r domain.Rating) int {
		s, _ := m.memory(card, r, elapsed)
		return m.algo.nextInterval(s, m.params.RequestRetention, m.params.MaximumInterval)
	}
	hard, good, easy := ivl(domain.Hard), ivl(domain.Good), ivl(domain.Easy)
	hard = min(hard, good)
	good = max(good, hard+1)
	easy = max(easy, good+1)

	days := good
	switch rating {
	case domain.Hard:
		days = hard
	case domain.Easy:
		days = easy
	}
	return min(days, m.params.MaximumInterval)
}

func (m *Model) fuzz(days int, c *domain.Card, now time.Time) int {
	if !m.params.EnableFuzz {
		return days
	}
	return applyFuzz(days, m.params.MaximumInterval, fuzzSeed(now, c.Reps, c.Difficulty*c.Stability))
}

// Forget resets the card to a New memory state at now. Reps and lapses are
// zeroed when resetCounters is set and kept otherwise. The returned log
// entry carries the Manual rating so the reset can be rolled back.
func Forget(card domain.Card, now time.Time, resetCounters bool) (domain.Card, domain.ReviewLog) {
	entry := snapshot(card, domain.Manual, now, elapsedDays(card.LastReview, now))
	entry.ResetCounters = resetCounters

	c := card.Clone()
	c.State = domain.New
	c.Step = 0
	c.Stability = 0
	c.Difficulty = 0
	c.ElapsedDays = 0
	c.ScheduledDays = 0
	c.Due = now
	if resetCounters {
		c.Reps = 0
		c.Lapses = 0
	}
	return c, entry
}

// Rollback undoes the transition recorded by entry, restoring the card to
// the snapshot taken before it. Reps never drop by more than the single
// increment a review adds. An entry whose snapshot is not a reachable
// card state resets the card to its empty state instead.
func Rollback(card domain.Card, entry domain.ReviewLog) (domain.Card, error) {
	if entry.CardID != card.ID {
		return domain.Card{}, fmt.Errorf("%w: log %s belongs to card %s", domain.ErrInvalidTransition, entry.ID, entry.CardID)
	}
	if entry.Deleted {
		return domain.Card{}, fmt.Errorf("%w: log %s was already undone", domain.ErrInvalidTransition, entry.ID)
	}

	c := card.Clone()
	if !entry.State.IsValid() || entry.Stability < 0 || math.IsNaN(entry.Stability) {
		reset := EmptyCard(entry.ReviewedAt)
		c.Due, c.State, c.Step = reset.Due, reset.State, reset.Step
		c.Stability, c.Difficulty = 0, 0
		c.ElapsedDays, c.ScheduledDays = 0, 0
		c.Reps, c.Lapses = 0, 0
		c.LastReview = nil
		return c, nil
	}

	c.State = entry.State
	c.Step = entry.Step
	c.Due = entry.Due
	c.Stability = entry.Stability
	c.Difficulty = entry.Difficulty
	c.ElapsedDays = entry.LastElapsedDays
	c.ScheduledDays = entry.ScheduledDays
	c.Reps = max(entry.Reps, card.Reps-1, 0)
	c.Lapses = max(entry.Lapses, 0)
	c.LastReview = cloneTime(entry.LastReview)
	c.Suspended = cloneTime(entry.Suspended)
	return c, nil
}

// Retrievability returns the probability in [0, 1] that the card is still
// recalled at now. Cards that were never reviewed return 0.
func (m *Model) Retrievability(card domain.Card, now time.Time) float64 {
	if card.LastReview == nil || card.Stability <= 0 || card.State == domain.New {
		return 0
	}
	elapsed := math.Max(now.Sub(*card.LastReview).Hours()/24, 0)
	r := m.algo.retrievability(elapsed, card.Stability)
	return math.Min(math.Max(r, 0), 1)
}

// Preview evaluates Next for every grade without persisting anything.
func (m *Model) Preview(card domain.Card, now time.Time) (map[domain.Rating]Outcome, error) {
	out := make(map[domain.Rating]Outcome, len(domain.Grades))
	for _, r := range domain.Grades {
		c, _, err := m.Next(card, now, r)
		if err != nil {
			return nil, err
		}
		out[r] = Outcome{
			State:         c.State,
			Due:           c.Due,
			Interval:      c.Due.Sub(now),
			ScheduledDays: c.ScheduledDays,
			Stability:     c.Stability,
			Difficulty:    c.Difficulty,
		}
	}
	return out, nil
}

// Replay rebuilds the card's memory state from its empty state by applying
// the non-deleted entries of history in order, ignoring the stability and
// difficulty currently stored on the card. Each entry is applied at its
// LocalTime, so day boundaries fall where they did when it was written.
// Manual entries replay as a Forget, resetting the counters when the
// original forget did. It returns the rebuilt card and the number of
// entries applied; identity, suspension and deletion are kept from card.
func (m *Model) Replay(card domain.Card, history []domain.ReviewLog) (domain.Card, int, error) {
	var (
		c       domain.Card
		applied int
	)
	for _, entry := range history {
		if entry.Deleted {
			continue
		}
		if entry.CardID != card.ID {
			return domain.Card{}, 0, fmt.Errorf("%w: log %s belongs to card %s", domain.ErrInvalidTransition, entry.ID, entry.CardID)
		}
		at := entry.LocalTime()
		if applied == 0 {
			c = EmptyCard(at)
			c.ID, c.DeckID, c.UserID, c.Hash = card.ID, card.DeckID, card.UserID, card.Hash
		}
		if entry.Rating == domain.Manual {
			c, _ = Forget(c, at, entry.ResetCounters)
		} else {
			var err error
			c, _, err = m.Next(c, at, entry.Rating)
			if err != nil {
				return domain.Card{}, 0, err
			}
		}
		applied++
	}
	if applied == 0 {
		return card.Clone(), 0, nil
	}
	c.Suspended = cloneTime(card.Suspended)
	c.Deleted = card.Deleted
	return c, applied, nil
}

// snapshot records the card as it is before a transition.
func snapshot(card domain.Card, rating domain.Rating, now time.Time, elapsed int) domain.ReviewLog {
	_, offset := now.Zone()
	return domain.ReviewLog{
		CardID:          card.ID,
		Rating:          rating,
		State:           card.State,
		Step:            card.Step,
		Due:             card.Due,
		Stability:       card.Stability,
		Difficulty:      card.Difficulty,
		ElapsedDays:     elapsed,
		LastElapsedDays: card.ElapsedDays,
		ScheduledDays:   card.ScheduledDays,
		Reps:            card.Reps,
		Lapses:          card.Lapses,
		LastReview:      cloneTime(card.LastReview),
		Suspended:       cloneTime(card.Suspended),
		ReviewedAt:      now,
		UTCOffset:       time.Duration(offset) * time.Second,
	}
}

// elapsedDays counts the calendar days between last and now, both taken in
// the location of now.
func elapsedDays(last *time.Time, now time.Time) int {
	if last == nil {
		return 0
	}
	ly, lm, ld := last.In(now.Location()).Date()
	ny, nm, nd := now.Date()
	from := time.Date(ly, lm, ld, 0, 0, 0, 0, time.UTC)
	to := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return max(int(to.Sub(from)/day), 0)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
