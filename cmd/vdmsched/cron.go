package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vdms-tools/vdmsched/internal/cron"
	"github.com/vdms-tools/vdmsched/internal/queue"
)

func newCronStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cron:start",
		Short: "Install a daily crontab entry that runs the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cronStart(cmd, true)
		},
	}
}

func newCronStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cron:stop",
		Short: "Remove the crontab entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cronStop(cmd)
		},
	}
}

func newCronRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cron:restart",
		Short: "Reinstall the crontab entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cronStop(cmd); err != nil {
				return err
			}
			return cronStart(cmd, true)
		},
	}
}

func newCronInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cron:info",
		Short: "Show the installed crontab entry",
		RunE:  cronInfo,
	}
}

func newCronRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cron:run",
		Short: "Queue run triggered by the crontab",
		Long: "Runs the queue as the crontab entry does, then moves the daily fire time so the\n" +
			"next run lands roughly a day out.",
		RunE: cronRun,
	}
}

func cronStart(cmd *cobra.Command, instant bool) error {
	env, err := newEnv(cmd, true)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	return env.withQueue(func(q *queue.Queue) (bool, error) {
		if q.Crontab() != "" {
			fmt.Fprintln(out, "Crontab entry already exists.")
			return false, nil
		}
		entry, err := cron.InstallDaily(executable, env.home.Dir, env.home.LogFile(),
			cron.StartTime(time.Now(), instant))
		if err != nil {
			return false, err
		}
		q.SetCrontab(entry)
		fmt.Fprintln(out, "Crontab entry added:")
		fmt.Fprintln(out, entry)
		if next, err := cron.NextRun(entry, time.Now()); err == nil {
			fmt.Fprintf(out, "Next run: %s\n", next.Format("2006-01-02 15:04"))
		}
		return true, nil
	})
}

func cronStop(cmd *cobra.Command) error {
	env, err := newEnv(cmd, true)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	return env.withQueue(func(q *queue.Queue) (bool, error) {
		if q.Crontab() == "" {
			fmt.Fprintln(out, "Crontab entry does not exist.")
			return false, nil
		}
		if _, err := cron.Remove(); err != nil {
			return false, err
		}
		q.SetCrontab("")
		fmt.Fprintln(out, "Crontab entry removed.")
		return true, nil
	})
}

func cronInfo(cmd *cobra.Command, args []string) error {
	env, err := newEnv(cmd, false)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	return env.withQueue(func(q *queue.Queue) (bool, error) {
		if q.Crontab() == "" {
			fmt.Fprintln(out, "Crontab entry does not exist.")
			return false, nil
		}
		fmt.Fprintln(out, q.Crontab())
		if next, err := cron.NextRun(q.Crontab(), time.Now()); err == nil {
			fmt.Fprintf(out, "Next run: %s\n", next.Format("2006-01-02 15:04"))
		}
		return false, nil
	})
}

// cronRun is the crontab-triggered entry point: run the queue, then move the
// daily fire time just behind the current minute so the next trigger lands a
// day from now rather than two minutes after the original cron:start.
func cronRun(cmd *cobra.Command, args []string) error {
	env, err := newEnv(cmd, false)
	if err != nil {
		return err
	}
	env.log.WithField("time", time.Now().Format(time.RFC3339)).
		Info("queue run triggered by crontab")

	if err := runQueue(cmd, "", "cron"); err != nil {
		return err
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	return env.withQueue(func(q *queue.Queue) (bool, error) {
		if q.Crontab() == "" {
			return false, nil
		}
		entry, err := cron.InstallDaily(executable, env.home.Dir, env.home.LogFile(),
			cron.StartTime(time.Now(), false))
		if err != nil {
			return false, err
		}
		q.SetCrontab(entry)
		return true, nil
	})
}
