package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vdms-tools/vdmsched/internal/queue"
)

func newCancelCmd() *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a job",
		Long: "Cancels a scheduled or errored job. A job that is currently processing cannot\n" +
			"be cancelled; wait for the external request to return.",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(cmd, true)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return env.withQueue(func(q *queue.Queue) (bool, error) {
				j := q.Find(jobID)
				if j == nil {
					return false, fmt.Errorf("no job with id %q in queue", jobID)
				}
				if err := j.Cancel(); err != nil {
					return false, err
				}
				fmt.Fprintf(out, "Cancelled job %s.\n", j.ID)
				printJobs(out, q.Items(nil, nil))
				return true, nil
			})
		},
	}

	cmd.Flags().StringVarP(&jobID, "job", "j", "", "job ID (required)")
	cmd.MarkFlagRequired("job")
	return cmd
}
