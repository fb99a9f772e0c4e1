// Package sync turns the notes of a deck's sources into cards.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/fsrs"
	"github.com/conorfennell/knolsched/internal/gitsource"
	"github.com/conorfennell/knolsched/internal/knol"
	"github.com/conorfennell/knolsched/internal/parser"
	"github.com/conorfennell/knolsched/internal/storage"
)

// Report counts what a sync changed.
type Report struct {
	Sources  int
	Notes    int
	Inserted int
	Restored int
	Deleted  int
}

// SourceType guesses whether path names a git repository or a local
// directory.
func SourceType(path string) string {
	if _, err := gitsource.LocalPath("", path); err == nil {
		return storage.SourceGit
	}
	return storage.SourceLocal
}

// RunSync reconciles every source of the deck with its cards. New notes
// become cards in the memory model's empty state at now, notes that
// reappear get their card and its history back, notes that moved between
// sources take their card with them, and cards whose note is gone are
// soft-deleted. Git sources are cloned or pulled below reposDir.
// A failing source is logged and skipped; the failures are joined into the
// returned error.
func RunSync(ctx context.Context, db *storage.DB, deckID, reposDir string, now time.Time) (Report, error) {
	var report Report
	deck, err := db.FindDeck(ctx, deckID)
	if err != nil {
		return report, err
	}
	if deck == nil {
		return report, fmt.Errorf("deck %s: %w", deckID, domain.ErrNotFound)
	}

	sources, err := db.GetSourcesByDeck(ctx, deckID)
	if err != nil {
		return report, err
	}
	if len(sources) == 0 {
		slog.Info("No sources configured for deck", "deck_id", deckID)
		return report, nil
	}

	if err := os.MkdirAll(reposDir, os.ModePerm); err != nil {
		return report, fmt.Errorf("failed to create repos directory: %w", err)
	}
	syncer := &gitsource.Syncer{BaseDir: reposDir}

	var errs []error
	for _, source := range sources {
		slog.Info("Syncing source", "id", source.ID, "type", source.Type, "path", source.Path)

		dir := source.Path
		if source.Type == storage.SourceGit {
			if dir, err = syncer.Sync(ctx, source.Path); err != nil {
				slog.Error("Error syncing git repo", "url", source.Path, "error", err)
				errs = append(errs, err)
				continue
			}
		}

		if err := reconcile(ctx, db, deck, source, dir, now, &report); err != nil {
			slog.Error("Error reconciling source", "id", source.ID, "error", err)
			errs = append(errs, fmt.Errorf("source %s: %w", source.Path, err))
			continue
		}
		report.Sources++
	}
	slog.Info("Sync process complete.",
		"deck_id", deckID,
		"notes", report.Notes,
		"inserted", report.Inserted,
		"restored", report.Restored,
		"deleted", report.Deleted,
	)
	return report, errors.Join(errs...)
}

func reconcile(ctx context.Context, db *storage.DB, deck *domain.Deck, source storage.Source, dir string, now time.Time, report *Report) error {
	notes, err := parser.ParseDir(dir)
	if notes == nil && err != nil {
		return err
	}
	if err != nil {
		// Notes from the files that did parse are still reconciled.
		slog.Warn("Some files could not be parsed", "path", dir, "error", err)
	}

	seen := make(map[string]bool, len(notes))
	for _, note := range notes {
		note.Hash = knol.Hash(note)
		if seen[note.Hash] {
			continue
		}
		seen[note.Hash] = true
		report.Notes++

		existing, err := db.FindCardByHash(ctx, deck.ID, note.Hash)
		if err != nil {
			return err
		}
		if existing == nil {
			card := fsrs.EmptyCard(now)
			card.DeckID = deck.ID
			card.UserID = deck.UserID
			if _, err := db.InsertCard(ctx, card, note, source.ID); err != nil {
				return err
			}
			report.Inserted++
			continue
		}

		// The note may have moved here from another source of the deck.
		claimed, err := db.ClaimCard(ctx, existing.ID, source.ID)
		if err != nil {
			return err
		}
		if claimed && existing.Deleted {
			report.Restored++
		}
	}

	cards, err := db.GetCardsBySourceID(ctx, source.ID)
	if err != nil {
		return err
	}
	for _, c := range cards {
		if seen[c.Hash] {
			continue
		}
		slog.Info("Orphaned card, deleting", "hash", c.Hash)
		if err := db.SetCardDeleted(ctx, c.ID, true); err != nil {
			return err
		}
		report.Deleted++
	}

	return db.UpdateSourceLastScanned(ctx, source.ID, now)
}
