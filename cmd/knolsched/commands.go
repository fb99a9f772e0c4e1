package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/storage"
	"github.com/conorfennell/knolsched/internal/sync"
)

const timeFormat = time.RFC3339

func newDeckCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deck",
		Short: "Manage decks",
	}

	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a deck with the configured default parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deck, err := a.db.InsertDeck(cmd.Context(), domain.Deck{
				UserID:     a.user,
				Name:       args[0],
				Parameters: a.cfg.Defaults,
			})
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", deck.ID)
			return nil
		},
	}

	var replay bool
	update := &cobra.Command{
		Use:   "update DECK_ID",
		Short: "Replace a deck's parameters with the configured defaults",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deckID := args[0]
			if err := a.db.UpdateDeckParameters(cmd.Context(), deckID, a.cfg.Defaults); err != nil {
				return err
			}
			if !replay {
				return nil
			}
			return rescheduleDeck(cmd, a, deckID, nil)
		},
	}
	update.Flags().BoolVar(&replay, "reschedule", false, "Reschedule the deck's cards under the new parameters")

	cmd.AddCommand(create, update)
	return cmd
}

func newSourceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Manage note sources",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add DECK_ID PATH_OR_GIT_URL",
		Short: "Add a local directory or git repository to a deck",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceType := sync.SourceType(args[1])
			id, err := a.db.InsertSource(cmd.Context(), args[0], args[1], sourceType)
			if err != nil {
				return err
			}
			printf(cmd, "%s %s\n", id, sourceType)
			return nil
		},
	})
	return cmd
}

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync DECK_ID",
		Short: "Create, restore and retire cards from the deck's sources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := sync.RunSync(cmd.Context(), a.db, args[0], a.cfg.ReposDir, time.Now())
			printf(cmd, "sources %d, notes %d, inserted %d, restored %d, deleted %d\n",
				report.Sources, report.Notes, report.Inserted, report.Restored, report.Deleted)
			return err
		},
	}
}

func printResult(cmd *cobra.Command, res domain.ReviewResult) {
	printf(cmd, "%s %s due %s", res.CardID, res.NextState, res.NextDue.Format(timeFormat))
	if res.Suspended != nil {
		printf(cmd, " suspended")
	}
	if res.LogID != "" {
		printf(cmd, " log %s", res.LogID)
	}
	printf(cmd, "\n")
}

func newReviewCmd(a *app) *cobra.Command {
	var durationMs int
	cmd := &cobra.Command{
		Use:   "review CARD_ID again|hard|good|easy",
		Short: "Rate a card",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rating, err := domain.ParseRating(args[1])
			if err != nil {
				return err
			}
			res, err := a.sched.Review(cmd.Context(), a.user, args[0], time.Now(), rating, a.cfg.TimezoneOffset, durationMs)
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		},
	}
	cmd.Flags().IntVar(&durationMs, "duration-ms", 0, "Time spent answering, in milliseconds")
	return cmd
}

func newForgetCmd(a *app) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "forget CARD_ID",
		Short: "Reset a card to New",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.sched.Forget(cmd.Context(), a.user, args[0], time.Now(), a.cfg.TimezoneOffset, reset)
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "Also zero the card's reps and lapses")
	return cmd
}

func newUndoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "undo CARD_ID LOG_ID",
		Short: "Roll back a card's latest review",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.sched.Undo(cmd.Context(), a.user, args[0], args[1])
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		},
	}
}

func newSuspendCmd(a *app) *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   "suspend CARD_ID",
		Short: "Hold a card out of the due queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.sched.Suspend(cmd.Context(), a.user, args[0], time.Now(), !off)
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "Reactivate the card instead")
	return cmd
}

func newRescheduleCmd(a *app) *cobra.Command {
	var (
		cardIDs     []string
		useDefaults bool
	)
	cmd := &cobra.Command{
		Use:   "reschedule [DECK_ID | --card CARD_ID...]",
		Short: "Replay the review history of a deck's cards, or of the given cards",
		Args:  cobra.RangeArgs(0, 1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 1) == (len(cardIDs) > 0) {
				return errors.New("reschedule needs either a DECK_ID or --card, not both")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var override *domain.DeckParameters
			if useDefaults {
				override = &a.cfg.Defaults
			}
			if len(cardIDs) > 0 {
				return reschedule(cmd, a, cardIDs, override)
			}
			return rescheduleDeck(cmd, a, args[0], override)
		},
	}
	cmd.Flags().StringSliceVar(&cardIDs, "card", nil, "Only reschedule these cards")
	cmd.Flags().BoolVar(&useDefaults, "defaults", false, "Replay under the configured default parameters instead of the deck's")
	return cmd
}

func rescheduleDeck(cmd *cobra.Command, a *app, deckID string, override *domain.DeckParameters) error {
	ids, err := a.db.CardIDsByDeck(cmd.Context(), deckID)
	if err != nil {
		return err
	}
	return reschedule(cmd, a, ids, override)
}

func reschedule(cmd *cobra.Command, a *app, cardIDs []string, override *domain.DeckParameters) error {
	updated, err := a.sched.Reschedule(cmd.Context(), a.user, cardIDs, override)
	printf(cmd, "rescheduled %d of %d cards\n", len(updated), len(cardIDs))
	return err
}

func newDueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "due",
		Short: "List the cards due now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.sched.DueCards(cmd.Context(), a.user, time.Now(), a.cfg.TimezoneOffset)
			if err != nil {
				return err
			}
			for _, group := range [][]domain.Card{q.Relearning, q.Learning, q.Review, q.New} {
				for _, c := range group {
					if err := printCard(cmd, a.db, c); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

func printCard(cmd *cobra.Command, db *storage.DB, c domain.Card) error {
	note, err := db.FindNote(cmd.Context(), c.ID)
	if err != nil {
		return err
	}
	question := ""
	if note != nil {
		question = note.Question
	}
	printf(cmd, "%s\t%s\t%s\t%s\n", c.ID, c.State, c.Due.Format(timeFormat), question)
	return nil
}

func newPreviewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "preview CARD_ID",
		Short: "Show what each rating would do to a card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outcomes, err := a.sched.Preview(cmd.Context(), a.user, args[0], time.Now(), a.cfg.TimezoneOffset)
			if err != nil {
				return err
			}
			for _, r := range domain.Grades {
				o := outcomes[r]
				printf(cmd, "%-5s %-10s %-12s due %s\n", r, o.State, o.Interval.Round(time.Minute), o.Due.Format(timeFormat))
			}
			return nil
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats CARD_ID",
		Short: "Show a card's memory state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.sched.Stats(cmd.Context(), a.user, args[0], time.Now())
			if err != nil {
				return err
			}
			printf(cmd, "state %s\ndue %s\nstability %.2f\ndifficulty %.2f\nretrievability %.1f%%\nreps %d\nlapses %d\nreviews %d\nsuspended %t\n",
				st.State, st.Due.Format(timeFormat), st.Stability, st.Difficulty,
				st.Retrievability*100, st.Reps, st.Lapses, st.Reviews, st.Suspended)
			return nil
		},
	}
}
