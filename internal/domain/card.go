package domain

import "time"

// SuspendForever is the suspension sentinel for cards that stay out of the
// due queue until they are manually reactivated.
var SuspendForever = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// Note represents a single question-answer-context entry parsed from a source.
type Note struct {
	Question string
	Answer   string
	Context  string
	Hash     string
}

// Card is the persisted scheduling record of a single flashcard.
//
// Due, Stability, Difficulty, Reps, Lapses and State only ever change
// together, inside one scheduler operation.
type Card struct {
	ID     string
	DeckID string
	UserID string
	Hash   string

	Due           time.Time
	Stability     float64
	Difficulty    float64
	ElapsedDays   int
	ScheduledDays int
	Reps          int
	Lapses        int
	State         State
	Step          int
	LastReview    *time.Time

	// Suspended is nil for an active card. Otherwise the card is held back
	// while now is before *Suspended.
	Suspended *time.Time
	Deleted   bool
}

// IsSuspended reports whether the card is held out of the queue at now.
func (c Card) IsSuspended(now time.Time) bool {
	return c.Suspended != nil && now.Before(*c.Suspended)
}

// Clone returns a copy of the card that shares no pointers with c.
func (c Card) Clone() Card {
	out := c
	out.LastReview = cloneTime(c.LastReview)
	out.Suspended = cloneTime(c.Suspended)
	return out
}

// ReviewLog records a single scheduling transition for a card.
//
// The memory fields are a snapshot of the card as it was before the
// transition, which is what makes a log entry sufficient to roll the
// transition back. Entries are never edited; undo only sets Deleted.
type ReviewLog struct {
	ID     string
	CardID string
	Rating Rating

	State           State
	Step            int
	Due             time.Time
	Stability       float64
	Difficulty      float64
	ElapsedDays     int // day gap observed by this transition
	LastElapsedDays int // the card's ElapsedDays before this transition
	ScheduledDays   int
	Reps            int
	Lapses          int
	LastReview      *time.Time
	Suspended       *time.Time

	ReviewedAt time.Time
	UTCOffset  time.Duration // user's offset from UTC when the entry was written
	DurationMs int
	Deleted    bool

	// ResetCounters is set on Manual entries whose forget zeroed reps and
	// lapses.
	ResetCounters bool
}

// LocalTime returns ReviewedAt in the zone the transition was computed in.
func (l ReviewLog) LocalTime() time.Time {
	if l.UTCOffset == 0 {
		return l.ReviewedAt.UTC()
	}
	return l.ReviewedAt.In(time.FixedZone("", int(l.UTCOffset/time.Second)))
}

// ReviewCount is the number of active graded entries of one deck whose
// card was in State before the review.
type ReviewCount struct {
	DeckID string
	State  State
	Count  int
}

// ReviewResult is returned by every mutating scheduler operation.
type ReviewResult struct {
	CardID    string
	UserID    string
	DeckID    string
	LogID     string // empty when the operation wrote no log entry
	NextState State
	NextDue   time.Time
	Suspended *time.Time
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
