package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conorfennell/knolsched/internal/config"
	"github.com/conorfennell/knolsched/internal/scheduler"
	"github.com/conorfennell/knolsched/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// app is what every subcommand works with once the root command has
// loaded the configuration.
type app struct {
	cfg   *config.Config
	db    *storage.DB
	sched *scheduler.Scheduler
	user  string
}

// NewRootCmd constructs the root CLI command; exposed for unit testing.
func NewRootCmd() *cobra.Command {
	var (
		a          app
		configPath string
	)

	rootCmd := &cobra.Command{
		Use:           "knolsched",
		Short:         "Spaced-repetition scheduling for markdown notes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			logger := cfg.Log.NewLogger(cmd.ErrOrStderr())
			slog.SetDefault(logger)

			db, err := storage.Open(cmd.Context(), cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return err
			}
			slog.Debug("database opened", "driver", cfg.Database.Driver)

			a.cfg = cfg
			a.db = db
			a.sched = scheduler.New(db,
				scheduler.WithLogger(logger),
				scheduler.WithRescheduleWorkers(cfg.Reschedule.Workers),
			)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.db == nil {
				return nil
			}
			return a.db.Close()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to a YAML config file")
	flags.StringVar(&a.user, "user", defaultUser(), "User whose cards are scheduled")
	config.RegisterFlags(flags)

	rootCmd.AddCommand(
		newDeckCmd(&a),
		newSourceCmd(&a),
		newSyncCmd(&a),
		newReviewCmd(&a),
		newForgetCmd(&a),
		newUndoCmd(&a),
		newSuspendCmd(&a),
		newRescheduleCmd(&a),
		newDueCmd(&a),
		newPreviewCmd(&a),
		newStatsCmd(&a),
	)
	return rootCmd
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
