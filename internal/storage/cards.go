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

const cardColumns = `id, deck_id, user_id, hash, due, stability, difficulty, elapsed_days,
	scheduled_days, reps, lapses, state, step, last_review, suspended, deleted`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (domain.Card, error) {
	var (
		c                     domain.Card
		due                   int64
		lastReview, suspended sql.NullInt64
	)
	err := row.Scan(
		&c.ID,
		&c.DeckID,
		&c.UserID,
		&c.Hash,
		&due,
		&c.Stability,
		&c.Difficulty,
		&c.ElapsedDays,
		&c.ScheduledDays,
		&c.Reps,
		&c.Lapses,
		&c.State,
		&c.Step,
		&lastReview,
		&suspended,
		&c.Deleted,
	)
	if err != nil {
		return domain.Card{}, err
	}
	c.Due = fromMillis(due)
	c.LastReview = timeFromNull(lastReview)
	c.Suspended = timeFromNull(suspended)
	return c, nil
}

func queryCards(ctx context.Context, q querier, query string, args ...any) ([]domain.Card, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// LoadCard retrieves a card by id and locks its row for the rest of the
// transaction where the database supports it. A missing card is (nil, nil).
func (t *Tx) LoadCard(ctx context.Context, id string) (*domain.Card, error) {
	row := t.tx.QueryRowContext(ctx, t.dialect.rebind(`
		SELECT `+cardColumns+`
		FROM cards WHERE id = ?`+t.dialect.forUpdate), id)
	c, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Card not found
		}
		return nil, fmt.Errorf("failed to load card %s: %w", id, err)
	}
	return &c, nil
}

// SaveCard writes the card's scheduling state.
func (t *Tx) SaveCard(ctx context.Context, c domain.Card) error {
	res, err := t.tx.ExecContext(ctx, t.dialect.rebind(`
		UPDATE cards
		SET due = ?, stability = ?, difficulty = ?, elapsed_days = ?, scheduled_days = ?,
			reps = ?, lapses = ?, state = ?, step = ?, last_review = ?, suspended = ?, deleted = ?
		WHERE id = ?
	`),
		toMillis(c.Due),
		c.Stability,
		c.Difficulty,
		c.ElapsedDays,
		c.ScheduledDays,
		c.Reps,
		c.Lapses,
		int(c.State),
		c.Step,
		nullMillis(c.LastReview),
		nullMillis(c.Suspended),
		c.Deleted,
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save card %s: %w", c.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to save card %s: %w", c.ID, domain.ErrNotFound)
	}
	return nil
}

// FindDueCards returns the user's active cards due at or before now.
func (t *Tx) FindDueCards(ctx context.Context, userID string, now time.Time) ([]domain.Card, error) {
	ms := toMillis(now)
	cards, err := queryCards(ctx, t.tx, t.dialect.rebind(`
		SELECT `+cardColumns+`
		FROM cards
		WHERE user_id = ? AND deleted = ? AND due <= ? AND (suspended IS NULL OR suspended <= ?)
		ORDER BY due, id
	`), userID, false, ms, ms)
	if err != nil {
		return nil, fmt.Errorf("failed to find due cards for user %s: %w", userID, err)
	}
	return cards, nil
}

// InsertCard inserts a new card for a note. The card's scheduling fields
// should come from the memory model's empty state.
func (db *DB) InsertCard(ctx context.Context, c domain.Card, note domain.Note, sourceID string) (domain.Card, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Hash == "" {
		c.Hash = note.Hash
	}
	_, err := db.conn.ExecContext(ctx, db.dialect.rebind(`
		INSERT INTO cards (id, deck_id, user_id, hash, question, answer, context, source_id,
			due, stability, difficulty, elapsed_days, scheduled_days, reps, lapses, state, step,
			last_review, suspended, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		c.ID,
		c.DeckID,
		c.UserID,
		c.Hash,
		note.Question,
		note.Answer,
		note.Context,
		sql.NullString{String: sourceID, Valid: sourceID != ""},
		toMillis(c.Due),
		c.Stability,
		c.Difficulty,
		c.ElapsedDays,
		c.ScheduledDays,
		c.Reps,
		c.Lapses,
		int(c.State),
		c.Step,
		nullMillis(c.LastReview),
		nullMillis(c.Suspended),
		c.Deleted,
	)
	if err != nil {
		return domain.Card{}, fmt.Errorf("failed to insert card %s: %w", c.Hash, err)
	}
	return c, nil
}

// FindCardByHash retrieves a deck's card by its note hash, deleted or not.
func (db *DB) FindCardByHash(ctx context.Context, deckID, hash string) (*domain.Card, error) {
	row := db.conn.QueryRowContext(ctx, db.dialect.rebind(`
		SELECT `+cardColumns+`
		FROM cards WHERE deck_id = ? AND hash = ?
	`), deckID, hash)
	c, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Card not found
		}
		return nil, fmt.Errorf("failed to find card by hash %s: %w", hash, err)
	}
	return &c, nil
}

// FindNote returns the content of a card.
func (db *DB) FindNote(ctx context.Context, cardID string) (*domain.Note, error) {
	var n domain.Note
	err := db.conn.QueryRowContext(ctx, db.dialect.rebind(`
		SELECT question, answer, context, hash FROM cards WHERE id = ?
	`), cardID).Scan(&n.Question, &n.Answer, &n.Context, &n.Hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find note for card %s: %w", cardID, err)
	}
	return &n, nil
}

// GetCardsBySourceID retrieves the active cards that came from a source.
func (db *DB) GetCardsBySourceID(ctx context.Context, sourceID string) ([]domain.Card, error) {
	cards, err := queryCards(ctx, db.conn, db.dialect.rebind(`
		SELECT `+cardColumns+`
		FROM cards WHERE source_id = ? AND deleted = ?
	`), sourceID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get cards for source %s: %w", sourceID, err)
	}
	return cards, nil
}

// CardIDsByDeck lists the ids of a deck's active cards.
func (db *DB) CardIDsByDeck(ctx context.Context, deckID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, db.dialect.rebind(`
		SELECT id FROM cards WHERE deck_id = ? AND deleted = ? ORDER BY id
	`), deckID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards of deck %s: %w", deckID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan card id for deck %s: %w", deckID, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetCardDeleted soft-deletes a card, or restores it. Deleted cards keep
// their history but are left out of every scheduling query.
func (db *DB) SetCardDeleted(ctx context.Context, id string, deleted bool) error {
	_, err := db.conn.ExecContext(ctx, db.dialect.rebind(`
		UPDATE cards SET deleted = ? WHERE id = ?
	`), deleted, id)
	if err != nil {
		return fmt.Errorf("failed to set deleted=%t on card %s: %w", deleted, id, err)
	}
	return nil
}

// ClaimCard attributes a card to sourceID and makes sure it is active. It
// reports whether anything changed.
func (db *DB) ClaimCard(ctx context.Context, id, sourceID string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, db.dialect.rebind(`
		UPDATE cards SET source_id = ?, deleted = ?
		WHERE id = ? AND (deleted = ? OR source_id IS NULL OR source_id <> ?)
	`), sourceID, false, id, true, sourceID)
	if err != nil {
		return false, fmt.Errorf("failed to claim card %s for source %s: %w", id, sourceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim card %s for source %s: %w", id, sourceID, err)
	}
	return n > 0, nil
}
