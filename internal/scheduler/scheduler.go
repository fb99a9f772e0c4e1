// Package scheduler runs the spaced-repetition operations on stored cards.
// Every mutating operation is one unit of work: the card, its deck and its
// review log are read and written inside a single storage transaction, so
// a card never changes without the log entry that records the change.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/fsrs"
)

// DefaultRescheduleWorkers is the number of cards rescheduled concurrently
// unless WithRescheduleWorkers says otherwise.
const DefaultRescheduleWorkers = 4

// Scheduler orchestrates the memory model over a store.
type Scheduler struct {
	store   domain.Store
	logger  *slog.Logger
	workers int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used for operation events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRescheduleWorkers bounds how many cards Reschedule processes at once.
func WithRescheduleWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// New creates a Scheduler on top of store.
func New(store domain.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:   store,
		logger:  slog.Default(),
		workers: DefaultRescheduleWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Review applies a rating to the card at now. offset is the user's UTC
// offset and decides where day boundaries fall.
func (s *Scheduler) Review(ctx context.Context, userID, cardID string, now time.Time, rating domain.Rating, offset time.Duration, durationMs int) (domain.ReviewResult, error) {
	const op = "review"
	if !rating.IsGrade() {
		return domain.ReviewResult{}, opError(op, cardID, fmt.Errorf("%w: %s", domain.ErrInvalidRating, rating))
	}

	var (
		res         domain.ReviewResult
		autoSuspend bool
	)
	err := s.update(ctx, func(uow domain.UnitOfWork) error {
		card, err := loadCard(ctx, uow, userID, cardID)
		if err != nil {
			return err
		}
		deck, err := loadDeck(ctx, uow, card.DeckID)
		if err != nil {
			return err
		}
		model, err := fsrs.New(deck.Parameters)
		if err != nil {
			return fmt.Errorf("deck %s: %w", deck.ID, err)
		}

		at, local := clock(now, offset)
		if err := checkOrder(ctx, uow, card, at); err != nil {
			return err
		}
		next, entry, err := model.Next(*card, local, rating)
		if err != nil {
			return err
		}
		toUTC(&next)
		entry.ReviewedAt = at
		entry.DurationMs = durationMs

		if limit := deck.Parameters.Limits.Suspended; rating == domain.Again && limit > 0 &&
			next.Lapses > card.Lapses && next.Lapses%limit == 0 {
			until := domain.SuspendForever
			next.Suspended = &until
			autoSuspend = true
		}

		if err := uow.SaveCard(ctx, next); err != nil {
			return err
		}
		saved, err := uow.AppendLog(ctx, entry)
		if err != nil {
			return err
		}
		res = result(next, saved.ID)
		return nil
	})
	if err != nil {
		return domain.ReviewResult{}, opError(op, cardID, err)
	}

	reviewsTotal.WithLabelValues(rating.String()).Inc()
	if autoSuspend {
		suspensionsTotal.WithLabelValues(reasonAuto).Inc()
		s.logger.Info("card suspended after repeated lapses", "card_id", cardID, "user_id", userID)
	}
	s.logged(op, res)
	return res, nil
}

// Forget resets the card to the New state. Reps and lapses are zeroed when
// resetCounters is set. A log entry is always written so the reset can be
// undone.
func (s *Scheduler) Forget(ctx context.Context, userID, cardID string, now time.Time, offset time.Duration, resetCounters bool) (domain.ReviewResult, error) {
	const op = "forget"
	var res domain.ReviewResult
	err := s.update(ctx, func(uow domain.UnitOfWork) error {
		card, err := loadCard(ctx, uow, userID, cardID)
		if err != nil {
			return err
		}
		at, local := clock(now, offset)
		if err := checkOrder(ctx, uow, card, at); err != nil {
			return err
		}
		next, entry := fsrs.Forget(*card, local, resetCounters)
		toUTC(&next)
		entry.ReviewedAt = at

		if err := uow.SaveCard(ctx, next); err != nil {
			return err
		}
		saved, err := uow.AppendLog(ctx, entry)
		if err != nil {
			return err
		}
		res = result(next, saved.ID)
		return nil
	})
	if err != nil {
		return domain.ReviewResult{}, opError(op, cardID, err)
	}
	forgetsTotal.Inc()
	s.logged(op, res)
	return res, nil
}

// Undo rolls back the transition recorded by the log entry logID. Only the
// card's most recent entry that has not already been undone qualifies. The
// entry is kept and marked deleted.
func (s *Scheduler) Undo(ctx context.Context, userID, cardID, logID string) (domain.ReviewResult, error) {
	const op = "undo"
	var res domain.ReviewResult
	err := s.update(ctx, func(uow domain.UnitOfWork) error {
		card, err := loadCard(ctx, uow, userID, cardID)
		if err != nil {
			return err
		}
		entry, err := uow.GetLog(ctx, logID)
		if err != nil {
			return err
		}
		if entry == nil || entry.CardID != card.ID {
			return fmt.Errorf("log %s: %w", logID, domain.ErrNotFound)
		}
		if entry.Deleted {
			return fmt.Errorf("%w: log %s was already undone", domain.ErrInvalidTransition, logID)
		}

		history, err := uow.FindLogsByCard(ctx, card.ID)
		if err != nil {
			return err
		}
		if latest := latestActive(history); latest == nil || latest.ID != entry.ID {
			return fmt.Errorf("%w: log %s is not the latest review of the card", domain.ErrInvalidTransition, logID)
		}

		prev, err := fsrs.Rollback(*card, *entry)
		if err != nil {
			return err
		}
		if err := uow.SaveCard(ctx, prev); err != nil {
			return err
		}
		if err := uow.MarkLogDeleted(ctx, entry.ID); err != nil {
			return err
		}
		res = result(prev, entry.ID)
		return nil
	})
	if err != nil {
		return domain.ReviewResult{}, opError(op, cardID, err)
	}
	undosTotal.Inc()
	s.logged(op, res)
	return res, nil
}

// Suspend holds the card out of the due queue until it is reactivated, or
// reactivates it. Memory state is untouched and no log entry is written.
func (s *Scheduler) Suspend(ctx context.Context, userID, cardID string, now time.Time, suspended bool) (domain.ReviewResult, error) {
	const op = "suspend"
	var res domain.ReviewResult
	err := s.update(ctx, func(uow domain.UnitOfWork) error {
		card, err := loadCard(ctx, uow, userID, cardID)
		if err != nil {
			return err
		}
		next := card.Clone()
		next.Suspended = nil
		if suspended {
			until := domain.SuspendForever
			next.Suspended = &until
		}
		if err := uow.SaveCard(ctx, next); err != nil {
			return err
		}
		res = result(next, "")
		return nil
	})
	if err != nil {
		return domain.ReviewResult{}, opError(op, cardID, err)
	}
	if suspended {
		suspensionsTotal.WithLabelValues(reasonManual).Inc()
	}
	s.logger.Debug("card suspension updated", "op", op, "card_id", cardID, "user_id", userID,
		"suspended", res.Suspended != nil && now.Before(*res.Suspended))
	return res, nil
}

// Reschedule rebuilds each card's memory state by replaying its review log
// through the memory model, using override when it is not nil and the
// card's deck parameters otherwise. No log entries are written. Every card
// is its own unit of work, so one failure does not undo the others. It
// returns the ids of the updated cards in input order; cards without any
// replayable history are skipped. Per-card failures are joined into the
// returned error.
func (s *Scheduler) Reschedule(ctx context.Context, userID string, cardIDs []string, override *domain.DeckParameters) ([]string, error) {
	const op = "reschedule"
	var shared *fsrs.Model
	if override != nil {
		m, err := fsrs.New(*override)
		if err != nil {
			return nil, opError(op, "", err)
		}
		shared = m
	}

	updated := make([]bool, len(cardIDs))
	errs := make([]error, len(cardIDs))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, id := range cardIDs {
		g.Go(func() error {
			ok, err := s.rescheduleCard(ctx, userID, id, shared)
			switch {
			case err != nil:
				errs[i] = opError(op, id, err)
				rescheduledCardsTotal.WithLabelValues(outcomeFailed).Inc()
				s.logger.Warn("failed to reschedule card", "card_id", id, "user_id", userID, "error", err)
			case ok:
				updated[i] = true
				rescheduledCardsTotal.WithLabelValues(outcomeUpdated).Inc()
			default:
				rescheduledCardsTotal.WithLabelValues(outcomeSkipped).Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	var ids []string
	for i, ok := range updated {
		if ok {
			ids = append(ids, cardIDs[i])
		}
	}
	s.logger.Debug("cards rescheduled", "op", op, "user_id", userID, "requested", len(cardIDs), "updated", len(ids))
	return ids, errors.Join(errs...)
}

func (s *Scheduler) rescheduleCard(ctx context.Context, userID, cardID string, model *fsrs.Model) (bool, error) {
	var changed bool
	err := s.update(ctx, func(uow domain.UnitOfWork) error {
		card, err := loadCard(ctx, uow, userID, cardID)
		if err != nil {
			return err
		}
		m := model
		if m == nil {
			deck, err := loadDeck(ctx, uow, card.DeckID)
			if err != nil {
				return err
			}
			if m, err = fsrs.New(deck.Parameters); err != nil {
				return fmt.Errorf("deck %s: %w", deck.ID, err)
			}
		}

		history, err := uow.FindLogsByCard(ctx, card.ID)
		if err != nil {
			return err
		}
		next, applied, err := m.Replay(*card, history)
		if err != nil {
			return err
		}
		if applied == 0 {
			return nil
		}
		toUTC(&next)
		if err := uow.SaveCard(ctx, next); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

// Queue is the due cards of a user grouped by state.
type Queue struct {
	New        []domain.Card
	Learning   []domain.Card
	Relearning []domain.Card
	Review     []domain.Card
}

// Len returns the number of cards in the queue.
func (q Queue) Len() int {
	return len(q.New) + len(q.Learning) + len(q.Relearning) + len(q.Review)
}

// DueCards returns the user's active cards due at or before now, grouped by
// state in due order. The New and Review limits of a deck are daily: cards
// reviewed from New or Review since the start of the user's day, in the zone
// given by offset, count against them. The Learning limit caps the Learning
// and Relearning cards of a deck in one queue.
func (s *Scheduler) DueCards(ctx context.Context, userID string, now time.Time, offset time.Duration) (Queue, error) {
	const op = "due_cards"
	var q Queue
	err := s.view(ctx, func(uow domain.UnitOfWork) error {
		cards, err := uow.FindDueCards(ctx, userID, now)
		if err != nil {
			return err
		}
		done, err := uow.CountReviewsSince(ctx, userID, startOfDay(now, offset))
		if err != nil {
			return err
		}

		type served struct{ new, review, learning int }
		limits := make(map[string]domain.CardLimits)
		counts := make(map[string]*served)
		for _, rc := range done {
			n := counts[rc.DeckID]
			if n == nil {
				n = &served{}
				counts[rc.DeckID] = n
			}
			switch rc.State {
			case domain.New:
				n.new += rc.Count
			case domain.Review:
				n.review += rc.Count
			}
		}
		for _, c := range cards {
			if c.Deleted || c.IsSuspended(now) || c.UserID != userID {
				continue
			}
			lim, ok := limits[c.DeckID]
			if !ok {
				deck, err := loadDeck(ctx, uow, c.DeckID)
				if err != nil {
					return err
				}
				lim = deck.Parameters.Limits
				limits[c.DeckID] = lim
				if counts[c.DeckID] == nil {
					counts[c.DeckID] = &served{}
				}
			}
			n := counts[c.DeckID]

			switch c.State {
			case domain.New:
				if underLimit(n.new, lim.New) {
					n.new++
					q.New = append(q.New, c)
				}
			case domain.Learning, domain.Relearning:
				if !underLimit(n.learning, lim.Learning) {
					continue
				}
				n.learning++
				if c.State == domain.Learning {
					q.Learning = append(q.Learning, c)
				} else {
					q.Relearning = append(q.Relearning, c)
				}
			case domain.Review:
				if underLimit(n.review, lim.Review) {
					n.review++
					q.Review = append(q.Review, c)
				}
			}
		}
		return nil
	})
	if err != nil {
		return Queue{}, opError(op, "", err)
	}
	return q, nil
}

func underLimit(n, limit int) bool {
	return limit == 0 || n < limit
}

// startOfDay returns local midnight of now's day in the zone of offset.
func startOfDay(now time.Time, offset time.Duration) time.Time {
	_, local := clock(now, offset)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, local.Location())
}

// Preview projects the outcome of every grade for the card at now without
// writing anything.
func (s *Scheduler) Preview(ctx context.Context, userID, cardID string, now time.Time, offset time.Duration) (map[domain.Rating]fsrs.Outcome, error) {
	const op = "preview"
	var out map[domain.Rating]fsrs.Outcome
	err := s.view(ctx, func(uow domain.UnitOfWork) error {
		card, err := loadCard(ctx, uow, userID, cardID)
		if err != nil {
			return err
		}
		deck, err := loadDeck(ctx, uow, card.DeckID)
		if err != nil {
			return err
		}
		model, err := fsrs.New(deck.Parameters)
		if err != nil {
			return fmt.Errorf("deck %s: %w", deck.ID, err)
		}
		_, local := clock(now, offset)
		if out, err = model.Preview(*card, local); err != nil {
			return err
		}
		for r, o := range out {
			o.Due = o.Due.UTC()
			out[r] = o
		}
		return nil
	})
	if err != nil {
		return nil, opError(op, cardID, err)
	}
	return out, nil
}

// CardStats summarizes the memory state of one card.
type CardStats struct {
	CardID         string
	State          domain.State
	Due            time.Time
	Stability      float64
	Difficulty     float64
	Retrievability float64
	Reps           int
	Lapses         int
	Reviews        int // log entries that have not been undone
	Suspended      bool
}

// Stats reports the card's memory state and recall probability at now.
func (s *Scheduler) Stats(ctx context.Context, userID, cardID string, now time.Time) (CardStats, error) {
	const op = "stats"
	var st CardStats
	err := s.view(ctx, func(uow domain.UnitOfWork) error {
		card, err := loadCard(ctx, uow, userID, cardID)
		if err != nil {
			return err
		}
		deck, err := loadDeck(ctx, uow, card.DeckID)
		if err != nil {
			return err
		}
		model, err := fsrs.New(deck.Parameters)
		if err != nil {
			return fmt.Errorf("deck %s: %w", deck.ID, err)
		}
		history, err := uow.FindLogsByCard(ctx, card.ID)
		if err != nil {
			return err
		}

		st = CardStats{
			CardID:         card.ID,
			State:          card.State,
			Due:            card.Due,
			Stability:      card.Stability,
			Difficulty:     card.Difficulty,
			Retrievability: model.Retrievability(*card, now),
			Reps:           card.Reps,
			Lapses:         card.Lapses,
			Suspended:      card.IsSuspended(now),
		}
		for _, e := range history {
			if !e.Deleted {
				st.Reviews++
			}
		}
		return nil
	})
	if err != nil {
		return CardStats{}, opError(op, cardID, err)
	}
	return st, nil
}

// update runs fn in a unit of work and commits it when fn succeeds.
func (s *Scheduler) update(ctx context.Context, fn func(domain.UnitOfWork) error) error {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	if err := fn(uow); err != nil {
		return err
	}
	return uow.Commit()
}

// view runs fn in a unit of work that is always rolled back.
func (s *Scheduler) view(ctx context.Context, fn func(domain.UnitOfWork) error) error {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()
	return fn(uow)
}

func (s *Scheduler) logged(op string, res domain.ReviewResult) {
	s.logger.Debug("card updated",
		"op", op,
		"card_id", res.CardID,
		"user_id", res.UserID,
		"state", res.NextState.String(),
		"due", res.NextDue,
	)
}

// loadCard returns the user's card. Cards that are missing, deleted or
// owned by another user are all reported as not found.
func loadCard(ctx context.Context, cs domain.CardStore, userID, cardID string) (*domain.Card, error) {
	card, err := cs.LoadCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card == nil || card.Deleted || card.UserID != userID {
		return nil, fmt.Errorf("card %s: %w", cardID, domain.ErrNotFound)
	}
	return card, nil
}

func loadDeck(ctx context.Context, ds domain.DeckStore, deckID string) (*domain.Deck, error) {
	deck, err := ds.LoadDeck(ctx, deckID)
	if err != nil {
		return nil, err
	}
	if deck == nil {
		return nil, fmt.Errorf("deck %s: %w", deckID, domain.ErrNotFound)
	}
	return deck, nil
}

// checkOrder rejects a transition at that would precede the card's last
// recorded one. The ledger is ordered by review time, so accepting it would
// put the new entry before entries that were applied earlier.
func checkOrder(ctx context.Context, ls domain.ReviewLogStore, card *domain.Card, at time.Time) error {
	if card.LastReview != nil && at.Before(*card.LastReview) {
		return fmt.Errorf("%w: %s is before the last review at %s", domain.ErrInvalidTransition,
			at.Format(time.RFC3339), card.LastReview.UTC().Format(time.RFC3339))
	}
	history, err := ls.FindLogsByCard(ctx, card.ID)
	if err != nil {
		return err
	}
	if latest := latestActive(history); latest != nil && at.Before(latest.ReviewedAt) {
		return fmt.Errorf("%w: %s is before log %s at %s", domain.ErrInvalidTransition,
			at.Format(time.RFC3339), latest.ID, latest.ReviewedAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// latestActive returns the last entry of history that has not been undone.
func latestActive(history []domain.ReviewLog) *domain.ReviewLog {
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].Deleted {
			return &history[i]
		}
	}
	return nil
}

// clock returns now at millisecond precision in UTC, for storage, and the
// same instant in the user's zone, for day arithmetic.
func clock(now time.Time, offset time.Duration) (time.Time, time.Time) {
	at := now.Truncate(time.Millisecond).UTC()
	return at, at.In(time.FixedZone("", int(offset/time.Second)))
}

func toUTC(c *domain.Card) {
	c.Due = c.Due.UTC()
	if c.LastReview != nil {
		t := c.LastReview.UTC()
		c.LastReview = &t
	}
}

func result(c domain.Card, logID string) domain.ReviewResult {
	return domain.ReviewResult{
		CardID:    c.ID,
		UserID:    c.UserID,
		DeckID:    c.DeckID,
		LogID:     logID,
		NextState: c.State,
		NextDue:   c.Due,
		Suspended: c.Clone().Suspended,
	}
}

func opError(op, cardID string, err error) error {
	return &domain.OpError{Op: op, CardID: cardID, Err: err}
}
