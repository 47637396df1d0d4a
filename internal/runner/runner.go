// Package runner executes one job per invocation via the archive-fill
// collaborator and drives the job state machine from the outcome.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vdms-tools/vdmsched/internal/archive"
	"github.com/vdms-tools/vdmsched/internal/history"
	"github.com/vdms-tools/vdmsched/internal/job"
	"github.com/vdms-tools/vdmsched/internal/notify"
	"github.com/vdms-tools/vdmsched/internal/queue"
)

// Runner executes jobs against the archive-fill collaborator. History and
// Notifier are optional.
type Runner struct {
	QueuePath string
	Filler    archive.Filler
	History   *history.Store
	Notifier  *notify.Notifier
	Log       *logrus.Logger
	Trigger   string // "manual" or "cron"
}

func (r *Runner) log() *logrus.Logger {
	if r.Log != nil {
		return r.Log
	}
	return logrus.StandardLogger()
}

// Run executes exactly one job to completion or suspension. It marks the job
// processing and persists immediately so a concurrent invocation sees it as
// taken, then invokes the collaborator once and maps the outcome onto the
// state machine. The updated job is persisted unconditionally; panics from
// the collaborator are converted to the error state. There is no retry
// within an invocation.
//
// The returned runNext reports whether the invocation may proceed to the
// next runnable job: false once the provider's daily quota is exhausted.
func (r *Runner) Run(ctx context.Context, q *queue.Queue, j *job.Job) (runNext bool, err error) {
	if err := j.MarkProcessing(); err != nil {
		return true, err
	}
	if err := q.Persist(r.QueuePath); err != nil {
		return false, err
	}

	started := time.Now().UTC()
	r.log().WithFields(logrus.Fields{
		"job":      j.ID,
		"station":  j.Station,
		"channel":  j.Channel,
		"start":    j.EffectiveStart().Format("2006-01-02"),
		"end":      j.Endtime.Format("2006-01-02"),
		"priority": j.Priority,
	}).Info("processing job")

	rep := r.fill(ctx, j)
	runNext = r.apply(j, rep)

	if perr := q.Persist(r.QueuePath); perr != nil {
		return false, perr
	}

	r.record(j, rep, started)
	r.Notifier.JobOutcome(j)

	r.log().WithFields(logrus.Fields{
		"job":     j.ID,
		"status":  string(j.Status),
		"fetched": rep.BytesFetched,
	}).Info("job run finished")
	return runNext, nil
}

// fill invokes the collaborator, converting panics and transport errors into
// a failure report.
func (r *Runner) fill(ctx context.Context, j *job.Job) (rep archive.Report) {
	defer func() {
		if p := recover(); p != nil {
			rep = archive.Report{Err: fmt.Sprintf("archive-fill panic: %v", p)}
		}
	}()

	req := archive.Request{
		Start:          j.EffectiveStart(),
		End:            j.Endtime,
		Station:        j.Station,
		Channel:        j.Channel,
		SDSRoot:        j.SDSRoot,
		ForceThreshold: time.Duration(j.ForceRequestThreshold),
		MaxBytes:       j.MaxRequestSize,
		Client:         j.Client,
		ClientArgs:     j.ClientArgs,
	}
	rep, err := r.Filler.Fill(ctx, req)
	if err != nil {
		return archive.Report{Err: err.Error(), BytesFetched: rep.BytesFetched}
	}
	return rep
}

// apply maps a report onto the job state machine and reports whether the
// invocation may continue with further jobs.
func (r *Runner) apply(j *job.Job, rep archive.Report) (runNext bool) {
	switch {
	case !rep.Success:
		detail := rep.Err
		if detail == "" {
			detail = "archive-fill failed without detail"
		}
		j.MarkError(detail)
		return true // per-job failures are isolated

	case rep.Completed:
		j.MarkCompleted()
		return true

	case rep.ResumeTime != nil:
		if err := j.MarkQuotaExceeded(*rep.ResumeTime); err != nil {
			j.MarkError(err.Error())
			return true
		}
		// Provider quota is per day and shared: once hit, later jobs in
		// this invocation cannot succeed either.
		return !rep.QuotaExceeded

	default:
		j.MarkError("archive-fill reported a suspended run without a resume time")
		return true
	}
}

func (r *Runner) record(j *job.Job, rep archive.Report, started time.Time) {
	if r.History == nil {
		return
	}
	rec := &history.RunRecord{
		JobID:        j.ID,
		User:         j.User,
		Status:       string(j.Status),
		Trigger:      r.Trigger,
		StartedAt:    started,
		FinishedAt:   time.Now().UTC(),
		BytesFetched: rep.BytesFetched,
		ResumeTime:   rep.ResumeTime,
		Detail:       j.ErrorDetail,
	}
	if err := r.History.Record(rec); err != nil {
		r.log().WithError(err).Warn("run history not recorded")
	}
}

// RunAll processes the runnable jobs in priority order, FIFO among equals.
// Jobs already marked processing by another invocation are left alone. A
// failed job does not stop the invocation; an exhausted provider quota does.
func (r *Runner) RunAll(ctx context.Context, q *queue.Queue) error {
	for _, active := range q.Processing() {
		r.log().WithField("job", active.ID).
			Warn("job is already being processed by another invocation, skipping")
	}
	// Snapshot up front: a job suspended by its own per-run limit stays
	// runnable but must not be retried within this invocation.
	for _, j := range q.Runnable() {
		if !j.Status.Runnable() {
			continue
		}
		runNext, err := r.Run(ctx, q, j)
		if err != nil {
			return err
		}
		if !runNext {
			r.log().Info("provider quota exhausted, ending this invocation")
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}
