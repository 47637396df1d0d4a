package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vdmsched",
		Short: "vdmsched — persistent job queue for filling a local SDS waveform archive",
		Long: "Vdmsched queues large, quota-limited verification data requests and retries\n" +
			"them across cron-scheduled runs until the local archive is complete.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringP("dir", "d", "",
		"scheduler home directory (default $VDMSCHED_HOME or ~/.vdmsched)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newInfoCmd())
	cmd.AddCommand(newUpdateCmd())
	cmd.AddCommand(newCancelCmd())
	cmd.AddCommand(newCleanCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newDefaultsCmd())
	cmd.AddCommand(newCronStartCmd())
	cmd.AddCommand(newCronStopCmd())
	cmd.AddCommand(newCronRestartCmd())
	cmd.AddCommand(newCronInfoCmd())
	cmd.AddCommand(newCronRunCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vdmsched %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
