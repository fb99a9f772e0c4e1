package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source types.
const (
	SourceLocal = "local"
	SourceGit   = "git"
)

// Source represents a card source, either a local path or a Git URL.
type Source struct {
	ID          string
	DeckID      string
	Path        string
	Type        string
	LastScanned *time.Time
}

func scanSource(row rowScanner) (Source, error) {
	var (
		s       Source
		scanned sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.DeckID, &s.Path, &s.Type, &scanned); err != nil {
		return Source{}, err
	}
	s.LastScanned = timeFromNull(scanned)
	return s, nil
}

// InsertSource inserts a new source for a deck and returns its ID.
func (db *DB) InsertSource(ctx context.Context, deckID, path, sourceType string) (string, error) {
	id := uuid.NewString()
	_, err := db.conn.ExecContext(ctx, db.dialect.rebind(`
		INSERT INTO sources (id, deck_id, path, type)
		VALUES (?, ?, ?, ?)
	`), id, deckID, path, sourceType)
	if err != nil {
		return "", fmt.Errorf("failed to insert source %s: %w", path, err)
	}
	return id, nil
}

// FindSourceByPath retrieves a deck's source by its path.
func (db *DB) FindSourceByPath(ctx context.Context, deckID, path string) (*Source, error) {
	row := db.conn.QueryRowContext(ctx, db.dialect.rebind(`
		SELECT id, deck_id, path, type, last_scanned
		FROM sources WHERE deck_id = ? AND path = ?
	`), deckID, path)
	s, err := scanSource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Source not found
		}
		return nil, fmt.Errorf("failed to find source by path %s: %w", path, err)
	}
	return &s, nil
}

// GetSourcesByDeck retrieves all sources of a deck.
func (db *DB) GetSourcesByDeck(ctx context.Context, deckID string) ([]Source, error) {
	rows, err := db.conn.QueryContext(ctx, db.dialect.rebind(`
		SELECT id, deck_id, path, type, last_scanned
		FROM sources WHERE deck_id = ? ORDER BY path
	`), deckID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sources of deck %s: %w", deckID, err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// UpdateSourceLastScanned updates the last_scanned timestamp for a source.
func (db *DB) UpdateSourceLastScanned(ctx context.Context, sourceID string, at time.Time) error {
	_, err := db.conn.ExecContext(ctx, db.dialect.rebind(`
		UPDATE sources
		SET last_scanned = ?
		WHERE id = ?
	`), toMillis(at), sourceID)
	if err != nil {
		return fmt.Errorf("failed to update last scanned for source %s: %w", sourceID, err)
	}
	return nil
}
