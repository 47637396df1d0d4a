// Package queue provides the persisted, priority-ordered job collection.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vdms-tools/vdmsched/internal/job"
)

// SchemaVersion identifies the persisted queue file layout.
const SchemaVersion = 1

const readme = "This file locks the jobs to a known state. " +
	"It is generated automatically. Do not modify!"

// DuplicateIDError reports an add of a job whose ID is already present.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("queue: job %s already exists", e.ID)
}

// CorruptQueueError reports a persisted queue file whose queue-level hash
// does not match its contents. The file is not trusted, even partially.
type CorruptQueueError struct {
	Path   string
	Reason string
}

func (e *CorruptQueueError) Error() string {
	return fmt.Sprintf("queue: %s is corrupt: %s", e.Path, e.Reason)
}

// Queue is an ordered collection of jobs, unique by ID. Insertion order is
// preserved; priority ordering applies only to runnable-job selection.
type Queue struct {
	jobs    []*job.Job
	crontab string
}

// file is the persisted form of a queue.
type file struct {
	Readme        string     `json:"_readme"`
	SchemaVersion int        `json:"schema_version"`
	Crontab       string     `json:"crontab,omitempty"`
	ContentHash   string     `json:"content_hash"`
	Jobs          []*job.Job `json:"jobs"`
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// Load reads a persisted queue. A missing file yields an empty queue. A
// queue-level hash mismatch fails with CorruptQueueError; a per-job hash
// mismatch fails with IntegrityError naming the offending job.
func Load(path string) (*Queue, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: read %s: %w", path, err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &CorruptQueueError{Path: path, Reason: err.Error()}
	}
	if f.SchemaVersion != SchemaVersion {
		return nil, &CorruptQueueError{Path: path,
			Reason: fmt.Sprintf("unsupported schema version %d", f.SchemaVersion)}
	}

	hashes := make([]string, len(f.Jobs))
	for i, j := range f.Jobs {
		hashes[i] = j.ContentHash
	}
	if job.HashList(SchemaVersion, f.Crontab, hashes) != f.ContentHash {
		return nil, &CorruptQueueError{Path: path,
			Reason: "content hash mismatch, the file was modified outside the API"}
	}

	seen := make(map[string]bool, len(f.Jobs))
	for _, j := range f.Jobs {
		if err := j.VerifyIntegrity(); err != nil {
			return nil, err
		}
		if seen[j.ID] {
			return nil, &CorruptQueueError{Path: path,
				Reason: fmt.Sprintf("duplicate job ID %s", j.ID)}
		}
		seen[j.ID] = true
	}

	return &Queue{jobs: f.Jobs, crontab: f.Crontab}, nil
}

// Persist writes the queue atomically: the file is written to a temp name in
// the same directory and renamed into place, so a crash mid-write never
// leaves a partially written queue.
func (q *Queue) Persist(path string) error {
	hashes := make([]string, len(q.jobs))
	for i, j := range q.jobs {
		hashes[i] = j.ContentHash
	}
	f := file{
		Readme:        readme,
		SchemaVersion: SchemaVersion,
		Crontab:       q.crontab,
		ContentHash:   job.HashList(SchemaVersion, q.crontab, hashes),
		Jobs:          q.jobs,
	}

	data, err := json.MarshalIndent(&f, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: serialize: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".queue-*")
	if err != nil {
		return fmt.Errorf("queue: write %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("queue: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("queue: write %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("queue: write %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("queue: replace %s: %w", path, err)
	}
	return nil
}

// Len returns the number of jobs in the queue.
func (q *Queue) Len() int { return len(q.jobs) }

// Add appends a job, failing with DuplicateIDError if its ID is taken.
func (q *Queue) Add(j *job.Job) error {
	if q.Find(j.ID) != nil {
		return &DuplicateIDError{ID: j.ID}
	}
	q.jobs = append(q.jobs, j)
	return nil
}

// Remove deletes a job by ID and reports whether it was present.
func (q *Queue) Remove(id string) bool {
	for i, j := range q.jobs {
		if j.ID == id {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return true
		}
	}
	return false
}

// Find returns the job with the given ID, or nil if absent.
func (q *Queue) Find(id string) *job.Job {
	for _, j := range q.jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

// First returns the highest-priority runnable job, ties broken by earliest
// creation time, or nil if no job is runnable.
func (q *Queue) First() *job.Job {
	var best *job.Job
	for _, j := range q.jobs {
		if !j.Status.Runnable() {
			continue
		}
		if best == nil || j.Priority > best.Priority ||
			(j.Priority == best.Priority && j.CreatedAt.Before(best.CreatedAt)) {
			best = j
		}
	}
	return best
}

// Runnable returns all runnable jobs ordered by descending priority, then
// FIFO on creation time.
func (q *Queue) Runnable() []*job.Job {
	var out []*job.Job
	for _, j := range q.jobs {
		if j.Status.Runnable() {
			out = append(out, j)
		}
	}
	// Insertion sort keeps equal-priority jobs in creation order.
	for i := 1; i < len(out); i++ {
		for k := i; k > 0; k-- {
			a, b := out[k-1], out[k]
			if b.Priority > a.Priority ||
				(b.Priority == a.Priority && b.CreatedAt.Before(a.CreatedAt)) {
				out[k-1], out[k] = b, a
			} else {
				break
			}
		}
	}
	return out
}

// Scheduled returns the jobs currently in the scheduled state.
func (q *Queue) Scheduled() []*job.Job {
	return q.filter(func(j *job.Job) bool { return j.Status == job.StatusScheduled })
}

// Processing returns the jobs currently marked processing.
func (q *Queue) Processing() []*job.Job {
	return q.filter(func(j *job.Job) bool { return j.Status == job.StatusProcessing })
}

// Items returns jobs matching the optional status and user filters, in
// insertion order. Empty filters match everything.
func (q *Queue) Items(statuses []job.Status, users []string) []*job.Job {
	return q.filter(func(j *job.Job) bool {
		return matchStatus(j, statuses) && matchUser(j, users)
	})
}

func matchStatus(j *job.Job, statuses []job.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if j.Status == s {
			return true
		}
	}
	return false
}

func matchUser(j *job.Job, users []string) bool {
	if len(users) == 0 {
		return true
	}
	for _, u := range users {
		if j.User == u {
			return true
		}
	}
	return false
}

func (q *Queue) filter(keep func(*job.Job) bool) []*job.Job {
	var out []*job.Job
	for _, j := range q.jobs {
		if keep(j) {
			out = append(out, j)
		}
	}
	return out
}

// JobIDs returns all job IDs in insertion order.
func (q *Queue) JobIDs() []string {
	ids := make([]string, len(q.jobs))
	for i, j := range q.jobs {
		ids[i] = j.ID
	}
	return ids
}

// Clean removes all jobs in terminal states and returns the count removed.
// Active work is never removed by Clean.
func (q *Queue) Clean() int {
	kept := q.jobs[:0]
	removed := 0
	for _, j := range q.jobs {
		if j.Status.Terminal() {
			removed++
			continue
		}
		kept = append(kept, j)
	}
	q.jobs = kept
	return removed
}

// Crontab returns the crontab line recorded at cron:start, or "".
func (q *Queue) Crontab() string { return q.crontab }

// SetCrontab records (or clears) the installed crontab line.
func (q *Queue) SetCrontab(line string) { q.crontab = line }
