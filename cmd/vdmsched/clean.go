package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vdms-tools/vdmsched/internal/queue"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove completed and cancelled jobs from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(cmd, true)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return env.withQueue(func(q *queue.Queue) (bool, error) {
				removed := q.Clean()
				fmt.Fprintf(out, "Removed %d job(s).\n", removed)
				printJobs(out, q.Items(nil, nil))
				return removed > 0, nil
			})
		},
	}
}
