package main

import (
	"github.com/spf13/cobra"

	"github.com/vdms-tools/vdmsched/internal/queue"
)

func newListCmd() *cobra.Command {
	var (
		status string
		user   string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(cmd, false)
			if err != nil {
				return err
			}
			statuses, err := parseStatusFlag(status)
			if err != nil {
				return err
			}
			return env.withQueue(func(q *queue.Queue) (bool, error) {
				printJobs(cmd.OutOrStdout(), q.Items(statuses, parseUserFlag(user)))
				return false, nil
			})
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status (comma-separated)")
	cmd.Flags().StringVarP(&user, "user", "u", "", "filter by user (comma-separated)")
	return cmd
}
