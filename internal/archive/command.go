package archive

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/units"
	"github.com/sirupsen/logrus"
)

// quotaExitCode is the exit status by which the external client signals that
// the provider's daily request quota was reached (EX_TEMPFAIL).
const quotaExitCode = 75

const day = 24 * time.Hour

// fetchedRe extracts the byte count from the client's summary line.
var fetchedRe = regexp.MustCompile(`fetched\s+(\d+)\s+bytes`)

// execCommand is swapped out in tests.
var execCommand = exec.CommandContext

// CommandFiller fills the local archive by shelling out to an external
// request client once per day of the requested range, accumulating request
// bytes against the per-run quota.
type CommandFiller struct {
	Log *logrus.Logger
}

// Fill walks the request range a day at a time. It stops early when the
// provider quota is hit (resumable tomorrow) or when the accumulated request
// size reaches the per-run limit (resumable immediately).
func (f *CommandFiller) Fill(ctx context.Context, req Request) (Report, error) {
	log := f.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	// End is exclusive, with a one-day floor so a job whose end equals its
	// start still covers that day.
	start := req.Start.UTC().Truncate(day)
	end := req.End.UTC().Truncate(day)
	days := int(end.Sub(start) / day)
	if days < 1 {
		days = 1
	}

	log.WithFields(logrus.Fields{
		"station":  req.Station,
		"channel":  req.Channel,
		"start":    start.Format("2006-01-02"),
		"end":      end.Format("2006-01-02"),
		"days":     days,
		"sds_root": req.SDSRoot,
		"limit":    sizeHuman(req.MaxBytes),
	}).Info("archive fill starting")

	var total int64
	for i := 0; i < days; i++ {
		t := start.Add(time.Duration(i) * day)

		if err := ctx.Err(); err != nil {
			return Report{Success: false, BytesFetched: total, Err: err.Error()}, nil
		}

		fetched, quota, detail := f.fillDay(ctx, req, t)
		total += fetched

		if detail != "" {
			log.WithField("day", t.Format("2006-01-02")).Error(detail)
			return Report{
				Success:      false,
				BytesFetched: total,
				Err:          detail,
			}, nil
		}
		if quota {
			// Day truncation can put the unfinished day before an intraday
			// start time; clamp so the resume point stays inside the job
			// range. Resuming re-requests the partial day.
			resume := t
			if resume.Before(req.Start) {
				resume = req.Start
			}
			log.WithField("day", t.Format("2006-01-02")).
				Warn("provider daily quota reached, suspending")
			return Report{
				Success:       true,
				QuotaExceeded: true,
				ResumeTime:    &resume,
				BytesFetched:  total,
			}, nil
		}

		log.WithFields(logrus.Fields{
			"day":     t.Format("2006-01-02"),
			"fetched": sizeHuman(fetched),
		}).Info("day done")

		if req.MaxBytes > 0 && total >= req.MaxBytes && i < days-1 {
			next := t.Add(day)
			log.WithField("total", sizeHuman(total)).
				Warn("per-run request limit reached, suspending")
			return Report{
				Success:      true,
				ResumeTime:   &next,
				BytesFetched: total,
			}, nil
		}
	}

	log.WithField("total", sizeHuman(total)).Info("archive fill completed")
	return Report{Success: true, Completed: true, BytesFetched: total}, nil
}

// fillDay runs the external client for a single day. It returns the fetched
// byte count, whether the provider quota was hit, and a failure detail.
func (f *CommandFiller) fillDay(ctx context.Context, req Request, t time.Time) (int64, bool, string) {
	args := []string{
		"--station", req.Station,
		"--channel", req.Channel,
		"--start", t.Format("2006-01-02"),
		"--end", t.Add(day).Format("2006-01-02"),
		"--sds-root", req.SDSRoot,
		"--gap-threshold", req.ForceThreshold.String(),
	}
	for _, k := range sortedKeys(req.ClientArgs) {
		args = append(args, "--"+k+"="+req.ClientArgs[k])
	}

	cmd := execCommand(ctx, req.Client, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	fetched := parseFetched(stdout.String())
	if err == nil {
		return fetched, false, ""
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == quotaExitCode {
		return fetched, true, ""
	}

	detail := strings.TrimSpace(stderr.String())
	if detail == "" {
		detail = err.Error()
	}
	return fetched, false, (&ExternalError{Client: req.Client, Detail: detail}).Error()
}

// parseFetched reads the byte count from the client's summary output.
func parseFetched(out string) int64 {
	m := fetchedRe.FindStringSubmatch(out)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func sizeHuman(n int64) string {
	if n == 0 {
		return "none"
	}
	return units.Base2Bytes(n).String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
