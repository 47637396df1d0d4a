package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vdms-tools/vdmsched/internal/queue"
)

func newInfoCmd() *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show job details",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(cmd, false)
			if err != nil {
				return err
			}
			return env.withQueue(func(q *queue.Queue) (bool, error) {
				j := q.Find(jobID)
				if j == nil {
					return false, fmt.Errorf("no job with id %q in queue", jobID)
				}
				printJobDetails(cmd.OutOrStdout(), j)
				return false, nil
			})
		},
	}

	cmd.Flags().StringVarP(&jobID, "job", "j", "", "job ID (required)")
	cmd.MarkFlagRequired("job")
	return cmd
}
