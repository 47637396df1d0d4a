// Package job provides the archive-fill work unit and its status state machine.
package job

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/units"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusScheduled     Status = "scheduled"
	StatusProcessing    Status = "processing"
	StatusCompleted     Status = "completed"
	StatusQuotaExceeded Status = "quota_exceeded"
	StatusError         Status = "error"
	StatusCancelled     Status = "cancelled"
)

// ValidTransitions maps each status to its valid next statuses. Completed and
// cancelled are terminal. A quota_exceeded job re-enters the runnable pool
// automatically; an errored job needs an explicit reset.
var ValidTransitions = map[Status][]Status{
	StatusScheduled:     {StatusProcessing, StatusCancelled},
	StatusProcessing:    {StatusCompleted, StatusQuotaExceeded, StatusError},
	StatusQuotaExceeded: {StatusProcessing},
	StatusError:         {StatusScheduled, StatusCancelled},
}

// Runnable reports whether a job in this status is eligible to be picked up
// by the next run action.
func (s Status) Runnable() bool {
	return s == StatusScheduled || s == StatusQuotaExceeded
}

// Terminal reports whether this status ends the job lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParseStatus validates a status string from the CLI or a persisted file.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(s)) {
	case StatusScheduled, StatusProcessing, StatusCompleted,
		StatusQuotaExceeded, StatusError, StatusCancelled:
		return Status(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("job: unknown status %q", s)
}

// Job is one scheduled unit of archive-fill work plus scheduling metadata.
// All mutation goes through methods so the content hash stays consistent.
type Job struct {
	ID string `json:"id"`

	// Work parameters.
	Starttime             time.Time         `json:"starttime"`
	Endtime               time.Time         `json:"endtime"`
	Station               string            `json:"station"`
	Channel               string            `json:"channel"`
	SDSRoot               string            `json:"sds_root"`
	ForceRequestThreshold Duration          `json:"force_request_threshold"`
	MaxRequestSize        int64             `json:"max_request_size_bytes"`
	Email                 []string          `json:"email,omitempty"`
	Client                string            `json:"client"`
	ClientArgs            map[string]string `json:"client_args,omitempty"`

	// Scheduling metadata.
	Priority  int       `json:"priority"`
	User      string    `json:"user"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Execution state.
	Status       Status     `json:"status"`
	ProgressTime *time.Time `json:"progress_time,omitempty"`
	ErrorDetail  string     `json:"error,omitempty"`

	ContentHash string `json:"content_hash"`
}

// Duration marshals as a human-readable string ("5m0s") so the persisted
// queue file stays inspectable.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.String())), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("job: duration: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("job: duration: %w", err)
	}
	*d = Duration(v)
	return nil
}

// Params holds the validated inputs for creating a job.
type Params struct {
	Starttime             time.Time
	Endtime               time.Time
	Station               string
	Channel               string
	SDSRoot               string
	ForceRequestThreshold time.Duration
	MaxRequestSize        int64
	Email                 []string
	Client                string
	ClientArgs            map[string]string
	Priority              int
	User                  string
}

const defaultClient = "waveforms2sds"

// New creates a job in the scheduled state with a freshly computed content
// hash. An empty end time means a single-day job ending at the start time.
func New(p Params) (*Job, error) {
	if p.Starttime.IsZero() {
		return nil, &ValidationError{Msg: "starttime is required"}
	}
	if p.Endtime.IsZero() {
		p.Endtime = p.Starttime
	}
	if p.Endtime.Before(p.Starttime) {
		return nil, &ValidationError{Msg: fmt.Sprintf(
			"endtime %s precedes starttime %s",
			p.Endtime.Format(timeLayout), p.Starttime.Format(timeLayout))}
	}
	if p.Station == "" {
		return nil, &ValidationError{Msg: "station selector is required"}
	}
	if p.Channel == "" {
		return nil, &ValidationError{Msg: "channel selector is required"}
	}
	if p.SDSRoot == "" {
		return nil, &ValidationError{Msg: "sds_root is required"}
	}
	if p.Priority <= 0 {
		return nil, &ValidationError{Msg: fmt.Sprintf("priority must be positive, got %d", p.Priority)}
	}
	if p.ForceRequestThreshold < 0 || p.ForceRequestThreshold >= 24*time.Hour {
		return nil, &ValidationError{Msg: fmt.Sprintf(
			"force_request_threshold must lie within [0, 24h), got %s", p.ForceRequestThreshold)}
	}
	if p.MaxRequestSize < 0 {
		return nil, &ValidationError{Msg: "max_request_size must not be negative"}
	}
	if p.Client == "" {
		p.Client = defaultClient
	}
	if p.User == "" {
		return nil, &ValidationError{Msg: "user is required"}
	}

	id, err := generateID()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Second)
	j := &Job{
		ID:                    id,
		Starttime:             p.Starttime,
		Endtime:               p.Endtime,
		Station:               p.Station,
		Channel:               p.Channel,
		SDSRoot:               p.SDSRoot,
		ForceRequestThreshold: Duration(p.ForceRequestThreshold),
		MaxRequestSize:        p.MaxRequestSize,
		Email:                 p.Email,
		Client:                p.Client,
		ClientArgs:            p.ClientArgs,
		Priority:              p.Priority,
		User:                  p.User,
		CreatedAt:             now,
		UpdatedAt:             now,
		Status:                StatusScheduled,
	}
	j.ContentHash = j.computeHash()
	return j, nil
}

// generateID creates an 8-char hex job ID.
func generateID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("job: generate ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// VerifyIntegrity recomputes the content hash and compares it against the
// stored one.
func (j *Job) VerifyIntegrity() error {
	if j.computeHash() != j.ContentHash {
		return &IntegrityError{ID: j.ID}
	}
	return nil
}

// transition applies one state-machine step, or fails with InvalidStateError.
func (j *Job) transition(to Status) error {
	for _, v := range ValidTransitions[j.Status] {
		if v == to {
			j.Status = to
			j.touch()
			return nil
		}
	}
	return &InvalidStateError{ID: j.ID, From: j.Status, To: to}
}

// touch bumps the audit timestamp and refreshes the content hash.
func (j *Job) touch() {
	j.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	j.ContentHash = j.computeHash()
}

// MarkProcessing transitions a runnable job to processing. The processing
// status acts as an advisory lock across scheduler invocations.
func (j *Job) MarkProcessing() error {
	return j.transition(StatusProcessing)
}

// MarkCompleted records full completion and clears the resumption point.
func (j *Job) MarkCompleted() error {
	if err := j.transition(StatusCompleted); err != nil {
		return err
	}
	j.ProgressTime = nil
	j.ErrorDetail = ""
	j.touch()
	return nil
}

// MarkQuotaExceeded records a suspended run. The resume time becomes the
// effective start of the next run and must lie within [starttime, endtime).
func (j *Job) MarkQuotaExceeded(resume time.Time) error {
	if resume.Before(j.Starttime) || !resume.Before(j.Endtime) {
		return &ValidationError{Msg: fmt.Sprintf(
			"resume time %s outside job range [%s, %s)",
			resume.Format(timeLayout), j.Starttime.Format(timeLayout), j.Endtime.Format(timeLayout))}
	}
	if err := j.transition(StatusQuotaExceeded); err != nil {
		return err
	}
	r := resume
	j.ProgressTime = &r
	j.ErrorDetail = ""
	j.touch()
	return nil
}

// MarkError records a failed run, preserving the failure detail verbatim.
func (j *Job) MarkError(detail string) error {
	if err := j.transition(StatusError); err != nil {
		return err
	}
	j.ErrorDetail = detail
	j.touch()
	return nil
}

// Cancel is valid only from scheduled or error.
func (j *Job) Cancel() error {
	return j.transition(StatusCancelled)
}

// Reset puts an errored job back in the runnable pool. The progress time is
// left untouched so a partially completed range resumes where it stopped.
func (j *Job) Reset() error {
	if j.Status != StatusError {
		return &InvalidStateError{ID: j.ID, From: j.Status, To: StatusScheduled}
	}
	if err := j.transition(StatusScheduled); err != nil {
		return err
	}
	j.ErrorDetail = ""
	j.touch()
	return nil
}

// EffectiveStart is where the next run begins: the resumption point of a
// suspended run if set, the job start time otherwise.
func (j *Job) EffectiveStart() time.Time {
	if j.ProgressTime != nil {
		return *j.ProgressTime
	}
	return j.Starttime
}

// MaxRequestSizeHuman renders the per-run byte quota, or "none".
func (j *Job) MaxRequestSizeHuman() string {
	if j.MaxRequestSize == 0 {
		return "none"
	}
	return units.Base2Bytes(j.MaxRequestSize).String()
}

const timeLayout = "2006-01-02"

var timeLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// ParseTime accepts the date and timestamp layouts recognized on the CLI and
// in the defaults file.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("job: unrecognized time %q (want e.g. 2019-10-01 or RFC3339)", s)
}

// FromFields builds a job from merged defaults and CLI field=value overrides.
func FromFields(fields map[string]string) (*Job, error) {
	var p Params
	p.Priority = 1
	for _, key := range sortedKeys(fields) {
		if err := applyField(&p, key, fields[key]); err != nil {
			return nil, err
		}
	}
	return New(p)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func applyField(p *Params, key, value string) error {
	var err error
	switch key {
	case "starttime":
		p.Starttime, err = ParseTime(value)
	case "endtime":
		if value != "" {
			p.Endtime, err = ParseTime(value)
		}
	case "station":
		p.Station = value
	case "channel":
		p.Channel = value
	case "sds_root":
		p.SDSRoot = value
	case "force_request_threshold":
		p.ForceRequestThreshold, err = time.ParseDuration(value)
	case "max_request_size":
		p.MaxRequestSize, err = ParseSize(value)
	case "email":
		if value != "" {
			p.Email = strings.Split(value, ",")
		}
	case "client":
		p.Client = value
	case "client_args", "client_kwargs": // client_kwargs is the historical name
		p.ClientArgs, err = parseClientArgs(value)
	case "priority":
		p.Priority, err = strconv.Atoi(value)
	case "user":
		p.User = value
	default:
		return &ValidationError{Msg: fmt.Sprintf("unknown field %q", key)}
	}
	if err != nil {
		return &ValidationError{Msg: fmt.Sprintf("field %q: %v", key, err)}
	}
	return nil
}

// ParseSize parses a human-readable byte size such as "2GiB" or "500MB". A
// bare number is a byte count.
func ParseSize(s string) (int64, error) {
	if s == "" || s == "none" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
		return n, nil
	}
	v, err := units.ParseBase2Bytes(normalizeSize(s))
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

// normalizeSize maps decimal suffixes onto their binary counterparts so the
// common "2GB" spelling is accepted alongside "2GiB".
func normalizeSize(s string) string {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for _, prefix := range []string{"K", "M", "G", "T"} {
		if strings.HasSuffix(upper, prefix+"IB") {
			return upper[:len(upper)-3] + prefix + "iB"
		}
		if strings.HasSuffix(upper, prefix+"B") {
			return upper[:len(upper)-2] + prefix + "iB"
		}
	}
	return upper
}

// parseClientArgs parses a semicolon-separated key=value list.
func parseClientArgs(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	args := make(map[string]string)
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("malformed client arg %q (want key=value)", pair)
		}
		args[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return args, nil
}

// updatableFields is the subset of fields that may change after creation.
var updatableFields = map[string]bool{
	"endtime":                 true,
	"priority":                true,
	"max_request_size":        true,
	"force_request_threshold": true,
	"email":                   true,
	"client_args":             true,
	"client_kwargs":           true,
}

// ApplyUpdates changes updatable fields on a job that is not currently
// processing, then recomputes the content hash. Validation runs against the
// resulting field set, so an update can never leave the job inconsistent.
func (j *Job) ApplyUpdates(fields map[string]string) error {
	if j.Status == StatusProcessing {
		return &InvalidStateError{ID: j.ID, From: j.Status, To: j.Status}
	}
	p := Params{
		Starttime:             j.Starttime,
		Endtime:               j.Endtime,
		Station:               j.Station,
		Channel:               j.Channel,
		SDSRoot:               j.SDSRoot,
		ForceRequestThreshold: time.Duration(j.ForceRequestThreshold),
		MaxRequestSize:        j.MaxRequestSize,
		Email:                 j.Email,
		Client:                j.Client,
		ClientArgs:            j.ClientArgs,
		Priority:              j.Priority,
		User:                  j.User,
	}
	for _, key := range sortedKeys(fields) {
		if !updatableFields[key] {
			return &ValidationError{Msg: fmt.Sprintf("field %q cannot be updated", key)}
		}
		if err := applyField(&p, key, fields[key]); err != nil {
			return err
		}
	}
	if p.Endtime.Before(p.Starttime) {
		return &ValidationError{Msg: "endtime precedes starttime"}
	}
	if p.Priority <= 0 {
		return &ValidationError{Msg: fmt.Sprintf("priority must be positive, got %d", p.Priority)}
	}
	if p.ForceRequestThreshold < 0 || p.ForceRequestThreshold >= 24*time.Hour {
		return &ValidationError{Msg: "force_request_threshold must lie within [0, 24h)"}
	}
	if j.ProgressTime != nil && !j.ProgressTime.Before(p.Endtime) {
		return &ValidationError{Msg: "endtime would fall before the current progress time"}
	}

	j.Endtime = p.Endtime
	j.ForceRequestThreshold = Duration(p.ForceRequestThreshold)
	j.MaxRequestSize = p.MaxRequestSize
	j.Email = p.Email
	j.ClientArgs = p.ClientArgs
	j.Priority = p.Priority
	j.touch()
	return nil
}
