package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/vdms-tools/vdmsched/internal/history"
)

func newLogsCmd() *cobra.Command {
	var (
		jobID  string
		user   string
		follow bool
		lines  int
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show run history",
		Long: "Displays recent job runs from the run-history database, optionally filtered by\n" +
			"job or user. With --follow, polls for new runs every 2s.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryLogs(cmd, history.Filters{JobID: jobID, User: user}, follow, lines)
		},
	}

	cmd.Flags().StringVarP(&jobID, "job", "j", "", "filter by job ID")
	cmd.Flags().StringVarP(&user, "user", "u", "", "filter by user")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "tail mode — poll for new runs every 2s")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of recent runs to show")
	return cmd
}

func runHistoryLogs(cmd *cobra.Command, filters history.Filters, follow bool, lines int) error {
	env, err := newEnv(cmd, false)
	if err != nil {
		return err
	}

	store, err := history.Open(env.home.HistoryDB())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	recs, err := store.Recent(filters, lines)
	if err != nil {
		return err
	}

	if len(recs) == 0 && !follow {
		fmt.Fprintln(out, "No run history.")
		return nil
	}
	for _, rec := range recs {
		printRunRecord(out, rec)
	}

	if !follow {
		return nil
	}

	var lastID uint
	if len(recs) > 0 {
		lastID = recs[len(recs)-1].ID
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			newRecs, err := store.After(filters, lastID)
			if err != nil {
				fmt.Fprintf(out, "poll error: %v\n", err)
				continue
			}
			for _, rec := range newRecs {
				printRunRecord(out, rec)
				lastID = rec.ID
			}
		}
	}
}

func printRunRecord(out io.Writer, rec history.RunRecord) {
	line := fmt.Sprintf("[%s] job=%s user=%s trigger=%s status=%s fetched=%d",
		rec.StartedAt.Format("2006-01-02 15:04:05"),
		rec.JobID, rec.User, rec.Trigger, rec.Status, rec.BytesFetched)
	if rec.ResumeTime != nil {
		line += " resume=" + rec.ResumeTime.Format("2006-01-02")
	}
	if rec.Detail != "" {
		line += " detail=" + rec.Detail
	}
	fmt.Fprintln(out, line)
}
