package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/vdms-tools/vdmsched/internal/archive"
	"github.com/vdms-tools/vdmsched/internal/history"
	"github.com/vdms-tools/vdmsched/internal/job"
	"github.com/vdms-tools/vdmsched/internal/notify"
	"github.com/vdms-tools/vdmsched/internal/queue"
	"github.com/vdms-tools/vdmsched/internal/runner"
)

func newRunCmd() *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process runnable jobs",
		Long: "Runs all runnable jobs in priority order, or a single job given --job. A job\n" +
			"suspended on the provider quota resumes from its progress time on the next run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueue(cmd, jobID, "manual")
		},
	}

	cmd.Flags().StringVarP(&jobID, "job", "j", "", "run only this job")
	return cmd
}

// runQueue performs the run action under the queue lock, which is held for
// the whole invocation so a cron-triggered run and a manual one cannot
// interleave.
func runQueue(cmd *cobra.Command, jobID, trigger string) error {
	env, err := newEnv(cmd, trigger != "cron")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	release, err := queue.Lock(env.home.QueueFile())
	if err != nil {
		return err
	}
	defer release()

	q, err := queue.Load(env.home.QueueFile())
	if err != nil {
		return err
	}

	r, err := newRunner(env, trigger)
	if err != nil {
		return err
	}

	if jobID != "" {
		j := q.Find(jobID)
		if j == nil {
			return fmt.Errorf("no job with id %q in queue", jobID)
		}
		if _, err := r.Run(ctx, q, j); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Job %s finished with status %s.\n", j.ID, j.Status)
		return nil
	}

	if err := r.RunAll(ctx, q); err != nil {
		return err
	}
	printJobs(cmd.OutOrStdout(), q.Items(nil, nil))
	return nil
}

func newRunner(env *appEnv, trigger string) (*runner.Runner, error) {
	store, err := history.Open(env.home.HistoryDB())
	if err != nil {
		return nil, err
	}
	return &runner.Runner{
		QueuePath: env.home.QueueFile(),
		Filler:    &archive.CommandFiller{Log: env.log},
		History:   store,
		Notifier:  &notify.Notifier{WebhookURL: env.defaults.NotifySlackWebhook, Log: env.log},
		Log:       env.log,
		Trigger:   trigger,
	}, nil
}

func newResetCmd() *cobra.Command {
	var (
		jobID string
		user  string
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reschedule errored jobs",
		Long: "Puts errored jobs back in the scheduled state. With --job only that job is\n" +
			"reset; otherwise all errored jobs, optionally filtered by --user.",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(cmd, true)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return env.withQueue(func(q *queue.Queue) (bool, error) {
				var targets []*job.Job
				if jobID != "" {
					j := q.Find(jobID)
					if j == nil {
						return false, fmt.Errorf("no job with id %q in queue", jobID)
					}
					targets = []*job.Job{j}
				} else {
					targets = q.Items([]job.Status{job.StatusError}, parseUserFlag(user))
				}

				reset := 0
				for _, j := range targets {
					if err := j.Reset(); err != nil {
						return false, err
					}
					reset++
				}
				fmt.Fprintf(out, "Reset %d job(s).\n", reset)
				printJobs(out, q.Items(nil, nil))
				return reset > 0, nil
			})
		},
	}

	cmd.Flags().StringVarP(&jobID, "job", "j", "", "reset only this job")
	cmd.Flags().StringVarP(&user, "user", "u", "", "filter by user")
	return cmd
}
