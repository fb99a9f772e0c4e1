package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/fsrs"
	"github.com/conorfennell/knolsched/internal/storage"
)

const user = "user-1"

var t0 = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db    *storage.DB
	sched *Scheduler
	deck  domain.Deck
}

func testParameters() domain.DeckParameters {
	p := fsrs.DefaultParameters()
	p.EnableFuzz = false
	return p
}

func setup(t *testing.T, p domain.DeckParameters) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Open() returned an unexpected error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	deck, err := db.InsertDeck(ctx, domain.Deck{UserID: user, Name: "go", Parameters: p})
	if err != nil {
		t.Fatalf("InsertDeck() returned an unexpected error: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{db: db, sched: New(db, WithLogger(logger), WithRescheduleWorkers(2)), deck: deck}
}

func (f *fixture) addCard(t *testing.T, hash string) domain.Card {
	t.Helper()
	c := fsrs.EmptyCard(t0)
	c.DeckID = f.deck.ID
	c.UserID = f.deck.UserID
	card, err := f.db.InsertCard(context.Background(), c, domain.Note{Question: "Q " + hash, Hash: hash}, "")
	if err != nil {
		t.Fatalf("InsertCard() returned an unexpected error: %v", err)
	}
	return card
}

func (f *fixture) load(t *testing.T, id string) domain.Card {
	t.Helper()
	uow, err := f.db.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() returned an unexpected error: %v", err)
	}
	defer uow.Rollback()
	c, err := uow.LoadCard(context.Background(), id)
	if err != nil || c == nil {
		t.Fatalf("LoadCard(%s) = %v, %v", id, c, err)
	}
	return *c
}

func (f *fixture) logs(t *testing.T, id string) []domain.ReviewLog {
	t.Helper()
	uow, err := f.db.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() returned an unexpected error: %v", err)
	}
	defer uow.Rollback()
	logs, err := uow.FindLogsByCard(context.Background(), id)
	if err != nil {
		t.Fatalf("FindLogsByCard(%s) returned an unexpected error: %v", id, err)
	}
	return logs
}

func (f *fixture) save(t *testing.T, c domain.Card) {
	t.Helper()
	uow, err := f.db.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() returned an unexpected error: %v", err)
	}
	defer uow.Rollback()
	if err := uow.SaveCard(context.Background(), c); err != nil {
		t.Fatalf("SaveCard() returned an unexpected error: %v", err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatalf("Commit() returned an unexpected error: %v", err)
	}
}

func (f *fixture) review(t *testing.T, id string, now time.Time, r domain.Rating) domain.ReviewResult {
	t.Helper()
	res, err := f.sched.Review(context.Background(), user, id, now, r, 0, 1200)
	if err != nil {
		t.Fatalf("Review(%s) returned an unexpected error: %v", r, err)
	}
	return res
}

func TestReviewNewCard(t *testing.T) {
	f := setup(t, testParameters())
	card := f.addCard(t, "h1")
	before := testutil.ToFloat64(reviewsTotal.WithLabelValues("Good"))

	res := f.review(t, card.ID, t0, domain.Good)

	if res.CardID != card.ID || res.DeckID != f.deck.ID || res.UserID != user {
		t.Errorf("Unexpected result identity: %+v", res)
	}
	if res.NextState != domain.Learning {
		t.Errorf("Expected Learning, got %s", res.NextState)
	}
	if !res.NextDue.After(t0) {
		t.Errorf("Expected due after %v, got %v", t0, res.NextDue)
	}
	if res.LogID == "" {
		t.Error("Expected a log id")
	}

	got := f.load(t, card.ID)
	if got.Reps != 1 || got.Stability <= 0 || !got.Due.Equal(res.NextDue) {
		t.Errorf("Unexpected stored card: %+v", got)
	}
	logs := f.logs(t, card.ID)
	if len(logs) != 1 || logs[0].ID != res.LogID || logs[0].DurationMs != 1200 || logs[0].State != domain.New {
		t.Errorf("Unexpected log: %+v", logs)
	}
	if diff := testutil.ToFloat64(reviewsTotal.WithLabelValues("Good")) - before; diff != 1 {
		t.Errorf("Expected reviews_total{rating=Good} to grow by 1, got %v", diff)
	}
}

func TestReviewErrors(t *testing.T) {
	f := setup(t, testParameters())
	card := f.addCard(t, "h1")

	tests := []struct {
		name   string
		user   string
		cardID string
		rating domain.Rating
		want   error
	}{
		{name: "missing card", user: user, cardID: "nope", rating: domain.Good, want: domain.ErrNotFound},
		{name: "other user", user: "user-2", cardID: card.ID, rating: domain.Good, want: domain.ErrNotFound},
		{name: "manual rating", user: user, cardID: card.ID, rating: domain.Manual, want: domain.ErrInvalidRating},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.sched.Review(context.Background(), tt.user, tt.cardID, t0, tt.rating, 0, 0)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
			var opErr *domain.OpError
			if !errors.As(err, &opErr) || opErr.Op != "review" || opErr.CardID != tt.cardID {
				t.Errorf("Expected an OpError for review of %s, got %v", tt.cardID, err)
			}
		})
	}

	t.Run("deleted card", func(t *testing.T) {
		gone := f.addCard(t, "gone")
		if err := f.db.SetCardDeleted(context.Background(), gone.ID, true); err != nil {
			t.Fatalf("SetCardDeleted() returned an unexpected error: %v", err)
		}
		if _, err := f.sched.Review(context.Background(), user, gone.ID, t0, domain.Good, 0, 0); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("malformed deck parameters", func(t *testing.T) {
		p := testParameters()
		p.Weights = []float64{1, 2, 3}
		if err := f.db.UpdateDeckParameters(context.Background(), f.deck.ID, p); err != nil {
			t.Fatalf("UpdateDeckParameters() returned an unexpected error: %v", err)
		}
		if _, err := f.sched.Review(context.Background(), user, card.ID, t0, domain.Good, 0, 0); !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("Expected ErrConfiguration, got %v", err)
		}
		if got := f.load(t, card.ID); got.Reps != 0 {
			t.Errorf("Expected the card untouched, got reps %d", got.Reps)
		}
	})
}

func TestReviewUsesUserDayBoundary(t *testing.T) {
	f := setup(t, testParameters())
	card := f.addCard(t, "h1")

	// 23:30 and 00:30 the next morning in UTC+2, but the same UTC day.
	first := time.Date(2024, time.March, 1, 21, 30, 0, 0, time.UTC)
	offset := 2 * time.Hour
	if _, err := f.sched.Review(context.Background(), user, card.ID, first, domain.Easy, offset, 0); err != nil {
		t.Fatalf("Review() returned an unexpected error: %v", err)
	}
	if _, err := f.sched.Review(context.Background(), user, card.ID, first.Add(time.Hour), domain.Good, offset, 0); err != nil {
		t.Fatalf("Review() returned an unexpected error: %v", err)
	}
	got := f.load(t, card.ID)
	if got.ElapsedDays != 1 {
		t.Errorf("Expected 1 elapsed day across local midnight, got %d", got.ElapsedDays)
	}
	if got.Due.Location() != time.UTC {
		t.Errorf("Expected due stored in UTC, got %v", got.Due.Location())
	}
}

// A transition dated before the card's last one would be filed ahead of it
// in the ledger, so it is refused and the latest entry stays undoable.
func TestReviewRejectsEarlierTime(t *testing.T) {
	f := setup(t, testParameters())
	card := f.addCard(t, "h1")

	latest := f.review(t, card.ID, t0.Add(time.Hour), domain.Good)
	before := f.load(t, card.ID)

	if _, err := f.sched.Review(context.Background(), user, card.ID, t0, domain.Good, 0, 0); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for an earlier review, got %v", err)
	}
	if _, err := f.sched.Forget(context.Background(), user, card.ID, t0, 0, false); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for an earlier forget, got %v", err)
	}
	if diff := cmp.Diff(before, f.load(t, card.ID)); diff != "" {
		t.Errorf("Refused transitions changed the card (-want +got):\n%s", diff)
	}
	if logs := f.logs(t, card.ID); len(logs) != 1 {
		t.Fatalf("Expected a single log entry, got %d", len(logs))
	}

	t.Run("earlier than a forget", func(t *testing.T) {
		forgot, err := f.sched.Forget(context.Background(), user, card.ID, t0.Add(3*time.Hour), 0, false)
		if err != nil {
			t.Fatalf("Forget() returned an unexpected error: %v", err)
		}
		if _, err := f.sched.Review(context.Background(), user, card.ID, t0.Add(2*time.Hour), domain.Good, 0, 0); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("Expected ErrInvalidTransition, got %v", err)
		}
		if _, err := f.sched.Undo(context.Background(), user, card.ID, forgot.LogID); err != nil {
			t.Fatalf("Undo() returned an unexpected error: %v", err)
		}
		if _, err := f.sched.Undo(context.Background(), user, card.ID, latest.LogID); err != nil {
			t.Fatalf("Undo() returned an unexpected error: %v", err)
		}
		if diff := cmp.Diff(card, f.load(t, card.ID)); diff != "" {
			t.Errorf("Card after undoing everything differs (-want +got):\n%s", diff)
		}
	})
}

// A review followed by its undo leaves the card as it was and retires
// exactly that one log entry.
func TestUndoRestoresCard(t *testing.T) {
	f := setup(t, testParameters())
	card := f.addCard(t, "h1")

	first := f.review(t, card.ID, t0, domain.Good)
	before := f.load(t, card.ID)
	second := f.review(t, card.ID, t0.Add(10*time.Minute), domain.Good)

	res, err := f.sched.Undo(context.Background(), user, card.ID, second.LogID)
	if err != nil {
		t.Fatalf("Undo() returned an unexpected error: %v", err)
	}
	if res.LogID != second.LogID || res.NextState != before.State || !res.NextDue.Equal(before.Due) {
		t.Errorf("Unexpected undo result: %+v", res)
	}

	if diff := cmp.Diff(before, f.load(t, card.ID)); diff != "" {
		t.Errorf("Card after undo differs (-want +got):\n%s", diff)
	}
	logs := f.logs(t, card.ID)
	if len(logs) != 2 {
		t.Fatalf("Expected both log entries retained, got %d", len(logs))
	}
	if logs[0].ID != first.LogID || logs[0].Deleted {
		t.Errorf("Expected the first entry untouched, got %+v", logs[0])
	}
	if logs[1].ID != second.LogID || !logs[1].Deleted {
		t.Errorf("Expected the second entry marked deleted, got %+v", logs[1])
	}

	t.Run("back to empty", func(t *testing.T) {
		if _, err := f.sched.Undo(context.Background(), user, card.ID, first.LogID); err != nil {
			t.Fatalf("Undo() returned an unexpected error: %v", err)
		}
		if diff := cmp.Diff(card, f.load(t, card.ID)); diff != "" {
			t.Errorf("Card after undoing every review differs (-want +got):\n%s", diff)
		}
	})
}

func TestUndoErrors(t *testing.T) {
	f := setup(t, testParameters())
	card := f.addCard(t, "h1")
	other := f.addCard(t, "h2")

	first := f.review(t, card.ID, t0, domain.Good)
	second := f.review(t, card.ID, t0.Add(10*time.Minute), domain.Good)
	foreign := f.review(t, other.ID, t0, domain.Good)

	tests := []struct {
		name  string
		logID string
		want  error
	}{
		{name: "unknown log", logID: "nope", want: domain.ErrNotFound},
		{name: "log of another card", logID: foreign.LogID, want: domain.ErrNotFound},
		{name: "not the latest entry", logID: first.LogID, want: domain.ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.sched.Undo(context.Background(), user, card.ID, tt.logID); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	t.Run("already undone", func(t *testing.T) {
		if _, err := f.sched.Undo(context.Background(), user, card.ID, second.LogID); err != nil {
			t.Fatalf("Undo() returned an unexpected error: %v", err)
		}
		if _, err := f.sched.Undo(context.Background(), user, card.ID, second.LogID); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("Expected ErrInvalidTransition, got %v", err)
		}
	})
}

func TestForgetAndUndo(t *testing.T) {
	f := setup(t, testParameters())
	card := f.addCard(t, "h1")
	f.review(t, card.ID, t0, domain.Easy)
	f.review(t, card.ID, t0.Add(5*24*time.Hour), domain.Again)
	before := f.load(t, card.ID)

	now := t0.Add(6 * 24 * time.Hour)
	res, err := f.sched.Forget(context.Background(), user, card.ID, now, 0, true)
	if err != nil {
		t.Fatalf("Forget() returned an unexpected error: %v", err)
	}
	got := f.load(t, card.ID)
	if got.State != domain.New || got.Reps != 0 || got.Lapses != 0 || got.Stability != 0 || !got.Due.Equal(now) {
		t.Errorf("Unexpected card after forget: %+v", got)
	}
	logs := f.logs(t, card.ID)
	if last := logs[len(logs)-1]; last.ID != res.LogID || last.Rating != domain.Manual {
		t.Errorf("Expected a Manual log entry, got %+v", last)
	}

	if _, err := f.sched.Undo(context.Background(), user, card.ID, res.LogID); err != nil {
		t.Fatalf("Undo() returned an unexpected error: %v", err)
	}
	if diff := cmp.Diff(before, f.load(t, card.ID)); diff != "" {
		t.Errorf("Card after undoing forget differs (-want +got):\n%s", diff)
	}
}

// With a lapse threshold of 8, the eighth lapse suspends the card and
// takes it out of the due queue.
func TestAutoSuspension(t *testing.T) {
	p := testParameters()
	p.Limits.Suspended = 8
	f := setup(t, p)
	card := f.addCard(t, "h1")
	before := testutil.ToFloat64(suspensionsTotal.WithLabelValues(reasonAuto))

	now := t0
	f.review(t, card.ID, now, domain.Easy)
	now = now.Add(4 * 24 * time.Hour)

	var res domain.ReviewResult
	for lapse := 1; lapse <= 8; lapse++ {
		res = f.review(t, card.ID, now, domain.Again)
		got := f.load(t, card.ID)
		if got.Lapses != lapse {
			t.Fatalf("Expected %d lapses, got %d", lapse, got.Lapses)
		}
		if lapse < 8 && got.Suspended != nil {
			t.Fatalf("Card suspended early at lapse %d", lapse)
		}
		now = now.Add(time.Hour)
	}

	if res.Suspended == nil || !res.Suspended.After(now) {
		t.Fatalf("Expected the card suspended after the 8th lapse, got %v", res.Suspended)
	}
	if diff := testutil.ToFloat64(suspensionsTotal.WithLabelValues(reasonAuto)) - before; diff != 1 {
		t.Errorf("Expected one automatic suspension, got %v", diff)
	}

	later := now.Add(30 * 24 * time.Hour)
	q, err := f.sched.DueCards(context.Background(), user, later, 0)
	if err != nil {
		t.Fatalf("DueCards() returned an unexpected error: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("Expected the suspended card out of the queue, got %+v", q)
	}

	t.Run("undo lifts the suspension", func(t *testing.T) {
		if _, err := f.sched.Undo(context.Background(), user, card.ID, res.LogID); err != nil {
			t.Fatalf("Undo() returned an unexpected error: %v", err)
		}
		got := f.load(t, card.ID)
		if got.Suspended != nil || got.Lapses != 7 {
			t.Errorf("Expected an active card with 7 lapses, got %+v", got)
		}
	})
}

func TestAutoSuspensionDisabled(t *testing.T) {
	p := testParameters()
	p.Limits.Suspended = 0
	f := setup(t, p)
	card := f.addCard(t, "h1")

	f.review(t, card.ID, t0, domain.Easy)
	now := t0.Add(4 * 24 * time.Hour)
	for range 10 {
		f.review(t, card.ID, now, domain.Again)
		now = now.Add(time.Hour)
	}
	if got := f.load(t, card.ID); got.Suspended != nil {
		t.Errorf("Expected no suspension, got %v", got.Suspended)
	}
}

func TestSuspend(t *testing.T) {
	f := setup(t, testParameters())
	card := f.addCard(t, "h1")

	res, err := f.sched.Suspend(context.Background(), user, card.ID, t0, true)
	if err != nil {
		t.Fatalf("Suspend() returned an unexpected error: %v", err)
	}
	if res.Suspended == nil || !res.Suspended.Equal(domain.SuspendForever) || res.LogID != "" {
		t.Errorf("Unexpected suspend result: %+v", res)
	}
	q, err := f.sched.DueCards(context.Background(), user, t0.Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("DueCards() returned an unexpected error: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("Expected no due cards while suspended, got %d", q.Len())
	}

	if _, err := f.sched.Suspend(context.Background(), user, card.ID, t0, false); err != nil {
		t.Fatalf("Suspend() returned an unexpected error: %v", err)
	}
	q, err = f.sched.DueCards(context.Background(), user, t0.Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("DueCards() returned an unexpected error: %v", err)
	}
	if len(q.New) != 1 {
		t.Errorf("Expected the reactivated card back in the queue, got %d", len(q.New))
	}

	got := f.load(t, card.ID)
	got.Suspended = nil
	if diff := cmp.Diff(card, got); diff != "" {
		t.Errorf("Suspend changed memory state (-want +got):\n%s", diff)
	}
	if logs := f.logs(t, card.ID); len(logs) != 0 {
		t.Errorf("Expected no log entries, got %d", len(logs))
	}
}

// Rescheduling a card with five reviews gives the state those reviews
// produce under the new parameters, whatever the stored memory state.
func TestRescheduleReplaysHistory(t *testing.T) {
	f := setup(t, testParameters())
	card := f.addCard(t, "h1")

	reviews := []struct {
		at     time.Time
		rating domain.Rating
	}{
		{t0, domain.Good},
		{t0.Add(10 * time.Minute), domain.Good},
		{t0.Add(3 * 24 * time.Hour), domain.Good},
		{t0.Add(10 * 24 * time.Hour), domain.Hard},
		{t0.Add(30 * 24 * time.Hour), domain.Easy},
	}
	for _, r := range reviews {
		f.review(t, card.ID, r.at, r.rating)
	}

	stored := f.load(t, card.ID)
	stored.Stability = 99
	stored.Difficulty = 1
	f.save(t, stored)

	override := testParameters()
	override.RequestRetention = 0.8
	override.MaximumInterval = 3650

	ids, err := f.sched.Reschedule(context.Background(), user, []string{card.ID}, &override)
	if err != nil {
		t.Fatalf("Reschedule() returned an unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{card.ID}, ids); diff != "" {
		t.Errorf("Reschedule() ids differ (-want +got):\n%s", diff)
	}

	model, err := fsrs.New(override)
	if err != nil {
		t.Fatalf("fsrs.New() returned an unexpected error: %v", err)
	}
	want := card
	for _, r := range reviews {
		if want, _, err = model.Next(want, r.at, r.rating); err != nil {
			t.Fatalf("Next(%s) returned an unexpected error: %v", r.rating, err)
		}
	}

	got := f.load(t, card.ID)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Rescheduled card differs from reviewing under the new parameters (-want +got):\n%s", diff)
	}
	if got.Stability == 99 {
		t.Error("Expected stored stability to be recomputed")
	}
	if len(f.logs(t, card.ID)) != 5 {
		t.Error("Expected reschedule to write no log entries")
	}
}

// Reviews taken in the user's zone replay in that zone, so rescheduling
// under the deck's own parameters leaves the card as it is.
func TestRescheduleUnchangedParameters(t *testing.T) {
	for _, fuzz := range []bool{false, true} {
		p := testParameters()
		p.EnableFuzz = fuzz
		f := setup(t, p)
		card := f.addCard(t, "h1")

		// 23:30 and 00:30 the next morning in UTC+2.
		first := time.Date(2024, time.March, 1, 21, 30, 0, 0, time.UTC)
		offset := 2 * time.Hour
		for i, r := range []domain.Rating{domain.Easy, domain.Good} {
			if _, err := f.sched.Review(context.Background(), user, card.ID, first.Add(time.Duration(i)*time.Hour), r, offset, 0); err != nil {
				t.Fatalf("Review() returned an unexpected error: %v", err)
			}
		}
		before := f.load(t, card.ID)

		if _, err := f.sched.Reschedule(context.Background(), user, []string{card.ID}, nil); err != nil {
			t.Fatalf("Reschedule() returned an unexpected error: %v", err)
		}
		if diff := cmp.Diff(before, f.load(t, card.ID)); diff != "" {
			t.Errorf("fuzz=%t: reschedule changed the card (-want +got):\n%s", fuzz, diff)
		}
	}
}

func TestRescheduleBatch(t *testing.T) {
	f := setup(t, testParameters())
	reviewed := f.addCard(t, "h1")
	fresh := f.addCard(t, "h2")
	another := f.addCard(t, "h3")
	f.review(t, reviewed.ID, t0, domain.Good)
	f.review(t, another.ID, t0, domain.Easy)

	ids, err := f.sched.Reschedule(context.Background(), user, []string{another.ID, "missing", fresh.ID, reviewed.ID}, nil)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected the missing card reported as not found, got %v", err)
	}
	if diff := cmp.Diff([]string{another.ID, reviewed.ID}, ids); diff != "" {
		t.Errorf("Reschedule() ids differ (-want +got):\n%s", diff)
	}

	t.Run("invalid override", func(t *testing.T) {
		bad := testParameters()
		bad.RequestRetention = 0
		if _, err := f.sched.Reschedule(context.Background(), user, []string{reviewed.ID}, &bad); !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("Expected ErrConfiguration, got %v", err)
		}
	})
}

func TestDueCardsLimits(t *testing.T) {
	p := testParameters()
	p.Limits = domain.CardLimits{New: 2, Review: 1, Learning: 1, Suspended: 8}
	f := setup(t, p)

	var cards []domain.Card
	for _, h := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		cards = append(cards, f.addCard(t, h))
	}
	// Two cards in Review, two in Learning, three left New.
	f.review(t, cards[0].ID, t0, domain.Easy)
	f.review(t, cards[1].ID, t0, domain.Easy)
	f.review(t, cards[2].ID, t0, domain.Good)
	f.review(t, cards[3].ID, t0, domain.Good)

	q, err := f.sched.DueCards(context.Background(), user, t0.Add(60*24*time.Hour), 0)
	if err != nil {
		t.Fatalf("DueCards() returned an unexpected error: %v", err)
	}
	if len(q.New) != 2 || len(q.Review) != 1 || len(q.Learning)+len(q.Relearning) != 1 {
		t.Errorf("Expected 2 new, 1 review and 1 learning card, got %d, %d, %d",
			len(q.New), len(q.Review), len(q.Learning)+len(q.Relearning))
	}

	other, err := f.sched.DueCards(context.Background(), "user-2", t0.Add(60*24*time.Hour), 0)
	if err != nil {
		t.Fatalf("DueCards() returned an unexpected error: %v", err)
	}
	if other.Len() != 0 {
		t.Errorf("Expected no cards for another user, got %d", other.Len())
	}
}

func TestDueCardsCountsTodaysReviews(t *testing.T) {
	p := testParameters()
	p.Limits = domain.CardLimits{New: 2, Review: 1, Learning: 0, Suspended: 8}
	f := setup(t, p)

	var cards []domain.Card
	for _, h := range []string{"a", "b", "c", "d"} {
		cards = append(cards, f.addCard(t, h))
	}
	f.review(t, cards[0].ID, t0, domain.Good)

	q, err := f.sched.DueCards(context.Background(), user, t0.Add(time.Minute), 0)
	if err != nil {
		t.Fatalf("DueCards() returned an unexpected error: %v", err)
	}
	if len(q.New) != 1 {
		t.Errorf("Expected one more new card today, got %d", len(q.New))
	}

	t.Run("undone reviews do not count", func(t *testing.T) {
		res := f.review(t, cards[1].ID, t0.Add(2*time.Minute), domain.Good)
		if _, err := f.sched.Undo(context.Background(), user, cards[1].ID, res.LogID); err != nil {
			t.Fatalf("Undo() returned an unexpected error: %v", err)
		}
		q, err := f.sched.DueCards(context.Background(), user, t0.Add(3*time.Minute), 0)
		if err != nil {
			t.Fatalf("DueCards() returned an unexpected error: %v", err)
		}
		if len(q.New) != 1 {
			t.Errorf("Expected one more new card today, got %d", len(q.New))
		}
	})

	t.Run("limits reset at the user's midnight", func(t *testing.T) {
		// t0 is 09:00 UTC; 15:30 UTC is already the next day in UTC+10.
		q, err := f.sched.DueCards(context.Background(), user, t0.Add(6*time.Hour+30*time.Minute), 10*time.Hour)
		if err != nil {
			t.Fatalf("DueCards() returned an unexpected error: %v", err)
		}
		if len(q.New) != 2 {
			t.Errorf("Expected the full new limit on a new day, got %d", len(q.New))
		}
	})

	t.Run("review limit", func(t *testing.T) {
		f.review(t, cards[2].ID, t0.Add(5*time.Minute), domain.Easy)
		f.review(t, cards[3].ID, t0.Add(5*time.Minute), domain.Easy)
		next := t0.Add(40 * 24 * time.Hour)
		f.review(t, cards[2].ID, next, domain.Good)

		q, err := f.sched.DueCards(context.Background(), user, next.Add(time.Minute), 0)
		if err != nil {
			t.Fatalf("DueCards() returned an unexpected error: %v", err)
		}
		if len(q.Review) != 0 {
			t.Errorf("Expected the daily review limit used up, got %d", len(q.Review))
		}
		q, err = f.sched.DueCards(context.Background(), user, next.Add(24*time.Hour), 0)
		if err != nil {
			t.Fatalf("DueCards() returned an unexpected error: %v", err)
		}
		if len(q.Review) != 1 {
			t.Errorf("Expected one review the next day, got %d", len(q.Review))
		}
	})
}

func TestPreviewAndStats(t *testing.T) {
	f := setup(t, testParameters())
	card := f.addCard(t, "h1")

	preview, err := f.sched.Preview(context.Background(), user, card.ID, t0, 0)
	if err != nil {
		t.Fatalf("Preview() returned an unexpected error: %v", err)
	}
	if len(preview) != 4 {
		t.Fatalf("Expected an outcome per grade, got %d", len(preview))
	}
	if preview[domain.Easy].State != domain.Review || preview[domain.Again].State != domain.Learning {
		t.Errorf("Unexpected preview states: %+v", preview)
	}
	if got := f.load(t, card.ID); got.Reps != 0 {
		t.Error("Expected Preview to write nothing")
	}

	f.review(t, card.ID, t0, domain.Easy)
	st, err := f.sched.Stats(context.Background(), user, card.ID, t0.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Stats() returned an unexpected error: %v", err)
	}
	if st.Reviews != 1 || st.Reps != 1 || st.State != domain.Review {
		t.Errorf("Unexpected stats: %+v", st)
	}
	if st.Retrievability <= 0 || st.Retrievability >= 1 {
		t.Errorf("Expected retrievability in (0, 1), got %v", st.Retrievability)
	}

	if _, err := f.sched.Stats(context.Background(), user, "nope", t0); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

// failingLogs is a store whose units of work cannot append log entries.
type failingLogs struct {
	*storage.DB
}

func (s failingLogs) Begin(ctx context.Context) (domain.UnitOfWork, error) {
	uow, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return failingUnit{uow}, nil
}

type failingUnit struct {
	domain.UnitOfWork
}

func (failingUnit) AppendLog(context.Context, domain.ReviewLog) (domain.ReviewLog, error) {
	return domain.ReviewLog{}, errors.New("disk full")
}

func TestReviewIsAtomic(t *testing.T) {
	f := setup(t, testParameters())
	card := f.addCard(t, "h1")
	sched := New(failingLogs{f.db}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	if _, err := sched.Review(context.Background(), user, card.ID, t0, domain.Good, 0, 0); err == nil {
		t.Fatal("Expected Review() to fail when the log cannot be written")
	}
	if _, err := sched.Forget(context.Background(), user, card.ID, t0, 0, true); err == nil {
		t.Fatal("Expected Forget() to fail when the log cannot be written")
	}
	if diff := cmp.Diff(card, f.load(t, card.ID)); diff != "" {
		t.Errorf("Card changed without a log entry (-want +got):\n%s", diff)
	}
}
