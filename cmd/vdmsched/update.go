package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vdms-tools/vdmsched/internal/queue"
)

func newUpdateCmd() *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "update [field=value ...]",
		Short: "Update job parameters",
		Long: "Updates fields of a job that is not currently processing. Updatable fields:\n" +
			"endtime, priority, max_request_size, force_request_threshold, email, client_args.",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(cmd, true)
			if err != nil {
				return err
			}
			fields, err := parseFieldArgs(args)
			if err != nil {
				return err
			}
			if len(fields) == 0 {
				return fmt.Errorf("no fields to update; pass field=value arguments")
			}
			return env.withQueue(func(q *queue.Queue) (bool, error) {
				j := q.Find(jobID)
				if j == nil {
					return false, fmt.Errorf("no job with id %q in queue", jobID)
				}
				if err := j.ApplyUpdates(fields); err != nil {
					return false, err
				}
				printJobDetails(cmd.OutOrStdout(), j)
				return true, nil
			})
		},
	}

	cmd.Flags().StringVarP(&jobID, "job", "j", "", "job ID (required)")
	cmd.MarkFlagRequired("job")
	return cmd
}
