package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/conorfennell/knolsched/internal/domain"
)

func loadDeck(ctx context.Context, q querier, d dialect, id string) (*domain.Deck, error) {
	var (
		deck                    domain.Deck
		weights, learn, relearn string
	)
	p := &deck.Parameters
	err := q.QueryRowContext(ctx, d.rebind(`
		SELECT id, user_id, name, weights, request_retention, maximum_interval, enable_fuzz,
			learning_steps, relearning_steps, limit_new, limit_review, limit_learning, limit_suspended
		FROM decks WHERE id = ?
	`), id).Scan(
		&deck.ID,
		&deck.UserID,
		&deck.Name,
		&weights,
		&p.RequestRetention,
		&p.MaximumInterval,
		&p.EnableFuzz,
		&learn,
		&relearn,
		&p.Limits.New,
		&p.Limits.Review,
		&p.Limits.Learning,
		&p.Limits.Suspended,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Deck not found
		}
		return nil, fmt.Errorf("failed to load deck %s: %w", id, err)
	}
	for _, f := range []struct {
		raw string
		dst any
	}{{weights, &p.Weights}, {learn, &p.LearningSteps}, {relearn, &p.RelearningSteps}} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("%w: deck %s has malformed parameters: %v", domain.ErrConfiguration, id, err)
		}
	}
	return &deck, nil
}

// LoadDeck retrieves a deck and its parameters. A missing deck is (nil, nil).
func (t *Tx) LoadDeck(ctx context.Context, id string) (*domain.Deck, error) {
	return loadDeck(ctx, t.tx, t.dialect, id)
}

// FindDeck retrieves a deck outside of a unit of work.
func (db *DB) FindDeck(ctx context.Context, id string) (*domain.Deck, error) {
	return loadDeck(ctx, db.conn, db.dialect, id)
}

func encodeParameters(p domain.DeckParameters) (weights, learn, relearn string, err error) {
	var raw [3][]byte
	for i, v := range []any{p.Weights, p.LearningSteps, p.RelearningSteps} {
		if raw[i], err = json.Marshal(v); err != nil {
			return "", "", "", fmt.Errorf("failed to encode deck parameters: %w", err)
		}
	}
	return string(raw[0]), string(raw[1]), string(raw[2]), nil
}

// InsertDeck stores a new deck, assigning an id when it has none.
func (db *DB) InsertDeck(ctx context.Context, deck domain.Deck) (domain.Deck, error) {
	if deck.ID == "" {
		deck.ID = uuid.NewString()
	}
	weights, learn, relearn, err := encodeParameters(deck.Parameters)
	if err != nil {
		return domain.Deck{}, err
	}
	p := deck.Parameters
	_, err = db.conn.ExecContext(ctx, db.dialect.rebind(`
		INSERT INTO decks (id, user_id, name, weights, request_retention, maximum_interval, enable_fuzz,
			learning_steps, relearning_steps, limit_new, limit_review, limit_learning, limit_suspended)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		deck.ID, deck.UserID, deck.Name, weights, p.RequestRetention, p.MaximumInterval, p.EnableFuzz,
		learn, relearn, p.Limits.New, p.Limits.Review, p.Limits.Learning, p.Limits.Suspended,
	)
	if err != nil {
		return domain.Deck{}, fmt.Errorf("failed to insert deck %s: %w", deck.Name, err)
	}
	return deck, nil
}

// UpdateDeckParameters replaces a deck's parameters. Existing cards keep
// their schedule until they are rescheduled.
func (db *DB) UpdateDeckParameters(ctx context.Context, deckID string, p domain.DeckParameters) error {
	weights, learn, relearn, err := encodeParameters(p)
	if err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx, db.dialect.rebind(`
		UPDATE decks
		SET weights = ?, request_retention = ?, maximum_interval = ?, enable_fuzz = ?,
			learning_steps = ?, relearning_steps = ?,
			limit_new = ?, limit_review = ?, limit_learning = ?, limit_suspended = ?
		WHERE id = ?
	`),
		weights, p.RequestRetention, p.MaximumInterval, p.EnableFuzz, learn, relearn,
		p.Limits.New, p.Limits.Review, p.Limits.Learning, p.Limits.Suspended, deckID,
	)
	if err != nil {
		return fmt.Errorf("failed to update parameters of deck %s: %w", deckID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to update parameters of deck %s: %w", deckID, domain.ErrNotFound)
	}
	return nil
}
