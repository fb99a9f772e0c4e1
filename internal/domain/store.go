package domain

import (
	"context"
	"time"
)

// CardStore loads and saves scheduling records. Lookups return (nil, nil)
// when the card does not exist.
type CardStore interface {
	LoadCard(ctx context.Context, id string) (*Card, error)
	SaveCard(ctx context.Context, card Card) error
	// FindDueCards returns the user's cards that are not deleted, not
	// suspended at now and due at or before now, ordered by due.
	FindDueCards(ctx context.Context, userID string, now time.Time) ([]Card, error)
}

// ReviewLogStore is the append-mostly review ledger.
type ReviewLogStore interface {
	// AppendLog stores entry, assigning an ID when it has none.
	AppendLog(ctx context.Context, entry ReviewLog) (ReviewLog, error)
	GetLog(ctx context.Context, id string) (*ReviewLog, error)
	// FindLogsByCard returns every entry of the card, deleted ones included,
	// ordered by ReviewedAt.
	FindLogsByCard(ctx context.Context, cardID string) ([]ReviewLog, error)
	MarkLogDeleted(ctx context.Context, id string) error
	// CountReviewsSince counts the user's graded entries reviewed at or
	// after since that have not been undone, per deck and prior state.
	CountReviewsSince(ctx context.Context, userID string, since time.Time) ([]ReviewCount, error)
}

// DeckStore supplies deck parameters. Lookups return (nil, nil) when the
// deck does not exist.
type DeckStore interface {
	LoadDeck(ctx context.Context, id string) (*Deck, error)
}

// UnitOfWork is one storage transaction. Nothing written through it is
// visible to others until Commit; Rollback after Commit is a no-op.
type UnitOfWork interface {
	CardStore
	ReviewLogStore
	DeckStore
	Commit() error
	Rollback() error
}

// Store begins units of work.
type Store interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}
