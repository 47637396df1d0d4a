// Package archive defines the archive-fill collaborator consumed by the
// runner: one bounded unit of data-retrieval work with a structured outcome.
package archive

import (
	"context"
	"fmt"
	"time"
)

// Request describes one bounded unit of archive-fill work.
type Request struct {
	Start          time.Time
	End            time.Time
	Station        string // SEED station selector, glob patterns allowed
	Channel        string // SEED channel selector, glob patterns allowed
	SDSRoot        string
	ForceThreshold time.Duration // tolerated gap per day before re-requesting
	MaxBytes       int64         // per-run request quota, 0 = unlimited
	Client         string        // external client binary
	ClientArgs     map[string]string
}

// Report is the structured outcome of one archive-fill run.
//
// QuotaExceeded means the provider's daily quota was hit: the job can resume
// tomorrow but no further request will succeed today. A self-imposed
// MaxBytes stop instead leaves QuotaExceeded false with Completed false and
// a ResumeTime set, so the scheduler may move on to the next job.
type Report struct {
	Success       bool
	Completed     bool
	QuotaExceeded bool
	ResumeTime    *time.Time
	BytesFetched  int64
	Err           string
}

// Filler performs archive-fill work. Implementations are synchronous and may
// be slow; cancellation is cooperative via the context.
type Filler interface {
	Fill(ctx context.Context, req Request) (Report, error)
}

// ExternalError reports a failure of the external archive-fill collaborator.
// It is captured into the job's error state, never fatal to the scheduler.
type ExternalError struct {
	Client string
	Detail string
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("archive: %s: %s", e.Client, e.Detail)
}
