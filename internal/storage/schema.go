package storage

// schema is applied statement by statement so that both drivers accept it.
// Timestamps are stored as unix milliseconds.
var schema = []string{
	`-- The 'decks' table stores the memory model parameters shared by a deck's cards.
CREATE TABLE IF NOT EXISTS decks (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    weights TEXT NOT NULL,
    request_retention DOUBLE PRECISION NOT NULL,
    maximum_interval INTEGER NOT NULL,
    enable_fuzz BOOLEAN NOT NULL DEFAULT FALSE,
    learning_steps TEXT NOT NULL,
    relearning_steps TEXT NOT NULL,
    limit_new INTEGER NOT NULL DEFAULT 0,
    limit_review INTEGER NOT NULL DEFAULT 0,
    limit_learning INTEGER NOT NULL DEFAULT 0,
    limit_suspended INTEGER NOT NULL DEFAULT 0
)`,
	`-- The 'sources' table tracks where a deck's notes come from, either a local directory or a git repository.
CREATE TABLE IF NOT EXISTS sources (
    id TEXT PRIMARY KEY,
    deck_id TEXT NOT NULL REFERENCES decks(id),
    path TEXT NOT NULL,
    type TEXT NOT NULL,
    last_scanned BIGINT,
    UNIQUE (deck_id, path)
)`,
	`-- The 'cards' table stores each flashcard together with its scheduling state.
CREATE TABLE IF NOT EXISTS cards (
    id TEXT PRIMARY KEY,
    deck_id TEXT NOT NULL REFERENCES decks(id),
    user_id TEXT NOT NULL,
    hash TEXT NOT NULL,
    question TEXT NOT NULL DEFAULT '',
    answer TEXT NOT NULL DEFAULT '',
    context TEXT NOT NULL DEFAULT '',
    source_id TEXT,
    due BIGINT NOT NULL,
    stability DOUBLE PRECISION NOT NULL DEFAULT 0,
    difficulty DOUBLE PRECISION NOT NULL DEFAULT 0,
    elapsed_days INTEGER NOT NULL DEFAULT 0,
    scheduled_days INTEGER NOT NULL DEFAULT 0,
    reps INTEGER NOT NULL DEFAULT 0,
    lapses INTEGER NOT NULL DEFAULT 0,
    state INTEGER NOT NULL DEFAULT 0, -- 0: New, 1: Learning, 2: Review, 3: Relearning
    step INTEGER NOT NULL DEFAULT 0,
    last_review BIGINT,
    suspended BIGINT,
    deleted BOOLEAN NOT NULL DEFAULT FALSE,
    UNIQUE (deck_id, hash)
)`,
	`CREATE INDEX IF NOT EXISTS cards_user_due ON cards (user_id, due)`,
	`-- The 'review_logs' table is the ledger of scheduling transitions. Rows are never updated except for 'deleted'.
CREATE TABLE IF NOT EXISTS review_logs (
    id TEXT PRIMARY KEY,
    card_id TEXT NOT NULL,
    rating INTEGER NOT NULL,
    state INTEGER NOT NULL,
    step INTEGER NOT NULL DEFAULT 0,
    due BIGINT NOT NULL,
    stability DOUBLE PRECISION NOT NULL,
    difficulty DOUBLE PRECISION NOT NULL,
    elapsed_days INTEGER NOT NULL,
    last_elapsed_days INTEGER NOT NULL,
    scheduled_days INTEGER NOT NULL,
    reps INTEGER NOT NULL,
    lapses INTEGER NOT NULL,
    last_review BIGINT,
    suspended BIGINT,
    reviewed_at BIGINT NOT NULL,
    utc_offset INTEGER NOT NULL DEFAULT 0, -- seconds east of UTC
    duration_ms INTEGER NOT NULL DEFAULT 0,
    reset_counters BOOLEAN NOT NULL DEFAULT FALSE,
    deleted BOOLEAN NOT NULL DEFAULT FALSE
)`,
	`CREATE INDEX IF NOT EXISTS review_logs_card ON review_logs (card_id, reviewed_at)`,
}
