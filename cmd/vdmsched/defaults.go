package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newDefaultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "defaults",
		Short: "Show the configured job defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(cmd, false)
			if err != nil {
				return err
			}

			fields := env.defaults.Fields()
			if env.defaults.NotifySlackWebhook != "" {
				fields["notify_slack_webhook"] = env.defaults.NotifySlackWebhook
			}
			if len(fields) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No defaults configured in %s.\n", env.home.DefaultsFile())
				return nil
			}

			keys := make([]string, 0, len(fields))
			for k := range fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, k := range keys {
				fmt.Fprintf(w, "%s\t%s\n", k, fields[k])
			}
			return w.Flush()
		},
	}
}
