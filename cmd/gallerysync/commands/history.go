package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gallerysync/pkg/app"
	"gallerysync/pkg/exporter"
	"gallerysync/pkg/journal"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recorded sync runs",
	Long:  `Without arguments, list the most recent runs. With a run id, show its errors and uploaded files.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if GS == nil {
			return fmt.Errorf("app not initialized")
		}
		if len(args) == 0 {
			return runHistory(cmd.Context(), GS, cmd.OutOrStdout(), historyLimit)
		}
		return runShow(cmd.Context(), GS, cmd.OutOrStdout(), args[0])
	},
}

var errNoJournal = errors.New("journal is disabled (journal.driver = none)")

func runHistory(ctx context.Context, a *app.App, w io.Writer, limit int) error {
	if a.Journal == nil {
		return errNoJournal
	}
	runs, err := a.Journal.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	exporter.PrintRuns(w, runs)
	return nil
}

func runShow(ctx context.Context, a *app.App, w io.Writer, id string) error {
	if a.Journal == nil {
		return errNoJournal
	}
	run, err := a.Journal.GetRun(ctx, id)
	if errors.Is(err, journal.ErrRunNotFound) {
		return fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return err
	}
	exporter.PrintRuns(w, []journal.RunModel{*run})

	entries, err := journal.RunErrors(run)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		fmt.Fprintf(w, "\n❌ Errors:\n")
		for _, e := range entries {
			fmt.Fprintf(w, "  [%s] %s: %s\n", e.Stage, e.Variant, e.Error)
		}
	}

	uploads, err := a.Journal.UploadsForRun(ctx, run.ID)
	if err != nil {
		return err
	}
	if len(uploads) > 0 {
		fmt.Fprintf(w, "\n⬆️  Uploaded:\n")
		exporter.PrintUploads(w, uploads)
	}
	return nil
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")
	rootCmd.AddCommand(historyCmd)
}
