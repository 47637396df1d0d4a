package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vdms-tools/vdmsched/internal/config"
	"github.com/vdms-tools/vdmsched/internal/job"
	"github.com/vdms-tools/vdmsched/internal/queue"
)

func newAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add [field=value ...]",
		Short: "Add a job to the queue",
		Long: "Creates a new archive-fill job from the defaults file merged under the given\n" +
			"field=value overrides, and schedules it. Recognized fields: starttime, endtime,\n" +
			"station, channel, sds_root, priority, force_request_threshold, max_request_size,\n" +
			"email, client, client_args, user.",
		RunE: runAdd,
	}
}

func runAdd(cmd *cobra.Command, args []string) error {
	env, err := newEnv(cmd, true)
	if err != nil {
		return err
	}

	overrides, err := parseFieldArgs(args)
	if err != nil {
		return err
	}

	fields := env.defaults.Fields()
	for k, v := range overrides {
		fields[k] = v
	}
	if fields["user"] == "" {
		fields["user"] = config.CurrentUser()
	}

	j, err := job.FromFields(fields)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	return env.withQueue(func(q *queue.Queue) (bool, error) {
		if err := q.Add(j); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "New job %s:\n", j.ID)
		printJobDetails(out, j)
		fmt.Fprintln(out, "\nEntire queue:")
		printJobs(out, q.Items(nil, nil))
		return true, nil
	})
}
