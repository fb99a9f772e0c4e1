package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/knolsched/internal/domain"
)

const logColumns = `id, card_id, rating, state, step, due, stability, difficulty, elapsed_days,
	last_elapsed_days, scheduled_days, reps, lapses, last_review, suspended, reviewed_at,
	utc_offset, duration_ms, reset_counters, deleted`

func scanLog(row rowScanner) (domain.ReviewLog, error) {
	var (
		l                     domain.ReviewLog
		due, reviewedAt       int64
		offset                int
		lastReview, suspended sql.NullInt64
	)
	err := row.Scan(
		&l.ID,
		&l.CardID,
		&l.Rating,
		&l.State,
		&l.Step,
		&due,
		&l.Stability,
		&l.Difficulty,
		&l.ElapsedDays,
		&l.LastElapsedDays,
		&l.ScheduledDays,
		&l.Reps,
		&l.Lapses,
		&lastReview,
		&suspended,
		&reviewedAt,
		&offset,
		&l.DurationMs,
		&l.ResetCounters,
		&l.Deleted,
	)
	if err != nil {
		return domain.ReviewLog{}, err
	}
	l.Due = fromMillis(due)
	l.ReviewedAt = fromMillis(reviewedAt)
	l.UTCOffset = time.Duration(offset) * time.Second
	l.LastReview = timeFromNull(lastReview)
	l.Suspended = timeFromNull(suspended)
	return l, nil
}

// AppendLog stores a review log entry. Entries without an id get a
// time-ordered one so entries sharing a timestamp keep insertion order.
func (t *Tx) AppendLog(ctx context.Context, l domain.ReviewLog) (domain.ReviewLog, error) {
	if l.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.ReviewLog{}, fmt.Errorf("failed to generate log id: %w", err)
		}
		l.ID = id.String()
	}
	_, err := t.tx.ExecContext(ctx, t.dialect.rebind(`
		INSERT INTO review_logs (`+logColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		l.ID,
		l.CardID,
		int(l.Rating),
		int(l.State),
		l.Step,
		toMillis(l.Due),
		l.Stability,
		l.Difficulty,
		l.ElapsedDays,
		l.LastElapsedDays,
		l.ScheduledDays,
		l.Reps,
		l.Lapses,
		nullMillis(l.LastReview),
		nullMillis(l.Suspended),
		toMillis(l.ReviewedAt),
		int(l.UTCOffset/time.Second),
		l.DurationMs,
		l.ResetCounters,
		l.Deleted,
	)
	if err != nil {
		return domain.ReviewLog{}, fmt.Errorf("failed to append log for card %s: %w", l.CardID, err)
	}
	return l, nil
}

// GetLog retrieves a log entry by id. A missing entry is (nil, nil).
func (t *Tx) GetLog(ctx context.Context, id string) (*domain.ReviewLog, error) {
	row := t.tx.QueryRowContext(ctx, t.dialect.rebind(`
		SELECT `+logColumns+` FROM review_logs WHERE id = ?
	`), id)
	l, err := scanLog(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Log not found
		}
		return nil, fmt.Errorf("failed to get log %s: %w", id, err)
	}
	return &l, nil
}

// FindLogsByCard returns a card's full history ordered by review time.
// Entries sharing a timestamp keep the order they were appended in.
func (t *Tx) FindLogsByCard(ctx context.Context, cardID string) ([]domain.ReviewLog, error) {
	rows, err := t.tx.QueryContext(ctx, t.dialect.rebind(`
		SELECT `+logColumns+` FROM review_logs
		WHERE card_id = ?
		ORDER BY reviewed_at, id
	`), cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to find logs for card %s: %w", cardID, err)
	}
	defer rows.Close()

	var logs []domain.ReviewLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log row for card %s: %w", cardID, err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// MarkLogDeleted retires a log entry. The row itself is kept.
func (t *Tx) MarkLogDeleted(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, t.dialect.rebind(`
		UPDATE review_logs SET deleted = ? WHERE id = ?
	`), true, id)
	if err != nil {
		return fmt.Errorf("failed to mark log %s deleted: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to mark log %s deleted: %w", id, domain.ErrNotFound)
	}
	return nil
}

// CountReviewsSince counts the user's graded, not undone entries reviewed at
// or after since, grouped by deck and the card's state before the review.
func (t *Tx) CountReviewsSince(ctx context.Context, userID string, since time.Time) ([]domain.ReviewCount, error) {
	rows, err := t.tx.QueryContext(ctx, t.dialect.rebind(`
		SELECT c.deck_id, l.state, COUNT(*)
		FROM review_logs l JOIN cards c ON c.id = l.card_id
		WHERE c.user_id = ? AND l.deleted = ? AND l.rating <> ? AND l.reviewed_at >= ?
		GROUP BY c.deck_id, l.state
	`), userID, false, int(domain.Manual), toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("failed to count reviews for user %s: %w", userID, err)
	}
	defer rows.Close()

	var counts []domain.ReviewCount
	for rows.Next() {
		var rc domain.ReviewCount
		if err := rows.Scan(&rc.DeckID, &rc.State, &rc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan review count for user %s: %w", userID, err)
		}
		counts = append(counts, rc)
	}
	return counts, rows.Err()
}
