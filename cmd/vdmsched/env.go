package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vdms-tools/vdmsched/internal/config"
	"github.com/vdms-tools/vdmsched/internal/job"
	"github.com/vdms-tools/vdmsched/internal/queue"
)

// appEnv is the per-invocation environment: resolved home directory, loaded
// defaults, and logger. It is built once per action and passed down
// explicitly.
type appEnv struct {
	home     config.Home
	defaults *config.Defaults
	log      *logrus.Logger
}

// newEnv resolves the home directory and loads the defaults file. When
// logToFile is set, log output is mirrored to the log file in the home
// directory; cron-triggered runs skip that because the crontab entry already
// redirects their output there.
func newEnv(cmd *cobra.Command, logToFile bool) (*appEnv, error) {
	dir, _ := cmd.Flags().GetString("dir")
	home, err := config.ResolveHome(dir)
	if err != nil {
		return nil, err
	}

	defaults, err := config.Load(home.DefaultsFile())
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetOutput(cmd.ErrOrStderr())
	if logToFile {
		f, err := os.OpenFile(home.LogFile(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err == nil {
			log.SetOutput(io.MultiWriter(cmd.ErrOrStderr(), f))
		} else {
			log.WithError(err).Warn("log file not writable, logging to stderr only")
		}
	}

	return &appEnv{home: home, defaults: defaults, log: log}, nil
}

// withQueue runs fn under the queue file lock as one load-mutate-persist
// unit. The queue is persisted only when fn reports a successful mutation,
// so a failure never corrupts the persisted state.
func (e *appEnv) withQueue(fn func(q *queue.Queue) (changed bool, err error)) error {
	release, err := queue.Lock(e.home.QueueFile())
	if err != nil {
		return err
	}
	defer release()

	q, err := queue.Load(e.home.QueueFile())
	if err != nil {
		return err
	}

	changed, err := fn(q)
	if err != nil {
		return err
	}
	if changed {
		return q.Persist(e.home.QueueFile())
	}
	return nil
}

// parseFieldArgs parses trailing "field=value" (or "field:value") arguments.
func parseFieldArgs(args []string) (map[string]string, error) {
	fields := make(map[string]string)
	for _, arg := range args {
		arg = strings.TrimSuffix(arg, ",")
		k, v, ok := strings.Cut(arg, "=")
		if !ok {
			k, v, ok = strings.Cut(arg, ":")
		}
		if !ok || k == "" {
			return nil, fmt.Errorf("malformed argument %q (want field=value)", arg)
		}
		fields[k] = v
	}
	return fields, nil
}

// parseStatusFlag parses a comma-separated status filter.
func parseStatusFlag(s string) ([]job.Status, error) {
	if s == "" {
		return nil, nil
	}
	var out []job.Status
	for _, part := range strings.Split(s, ",") {
		st, err := job.ParseStatus(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func parseUserFlag(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// printJobs renders a job table in insertion order.
func printJobs(out io.Writer, jobs []*job.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs in queue.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATION\tCHANNEL\tSTART\tEND\tPRI\tUSER\tSTATUS\tPROGRESS")
	for _, j := range jobs {
		progress := "-"
		if j.ProgressTime != nil {
			progress = j.ProgressTime.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			j.ID, j.Station, j.Channel,
			j.Starttime.Format("2006-01-02"), j.Endtime.Format("2006-01-02"),
			j.Priority, j.User, j.Status, progress)
	}
	w.Flush()
}

// printJobDetails renders the full field set of one job.
func printJobDetails(out io.Writer, j *job.Job) {
	fmt.Fprintf(out, "ID:              %s\n", j.ID)
	fmt.Fprintf(out, "Status:          %s\n", j.Status)
	fmt.Fprintf(out, "Starttime:       %s\n", j.Starttime.Format("2006-01-02"))
	fmt.Fprintf(out, "Endtime:         %s\n", j.Endtime.Format("2006-01-02"))
	if j.ProgressTime != nil {
		fmt.Fprintf(out, "Progress:        %s\n", j.ProgressTime.Format("2006-01-02"))
	}
	fmt.Fprintf(out, "Station:         %s\n", j.Station)
	fmt.Fprintf(out, "Channel:         %s\n", j.Channel)
	fmt.Fprintf(out, "SDS root:        %s\n", j.SDSRoot)
	fmt.Fprintf(out, "Gap threshold:   %s\n", j.ForceRequestThreshold)
	fmt.Fprintf(out, "Request limit:   %s\n", j.MaxRequestSizeHuman())
	fmt.Fprintf(out, "Client:          %s\n", j.Client)
	if len(j.ClientArgs) > 0 {
		keys := make([]string, 0, len(j.ClientArgs))
		for k := range j.ClientArgs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "Client arg:      %s=%s\n", k, j.ClientArgs[k])
		}
	}
	if len(j.Email) > 0 {
		fmt.Fprintf(out, "Email:           %s\n", strings.Join(j.Email, ", "))
	}
	fmt.Fprintf(out, "Priority:        %d\n", j.Priority)
	fmt.Fprintf(out, "User:            %s\n", j.User)
	fmt.Fprintf(out, "Created:         %s\n", j.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Updated:         %s\n", j.UpdatedAt.Format("2006-01-02 15:04:05"))
	if j.ErrorDetail != "" {
		fmt.Fprintf(out, "Error:           %s\n", j.ErrorDetail)
	}
}
