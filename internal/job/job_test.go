package job

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validParams() Params {
	return Params{
		Starttime:             mustTime("2019-10-01"),
		Endtime:               mustTime("2019-10-31"),
		Station:               "I18*",
		Channel:               "BDF",
		SDSRoot:               "/data/sds",
		ForceRequestThreshold: 5 * time.Minute,
		MaxRequestSize:        2 << 30,
		Priority:              1,
		User:                  "alice",
	}
}

func mustTime(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func newJob(t *testing.T) *Job {
	t.Helper()
	j, err := New(validParams())
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	return j
}

func TestNew_Defaults(t *testing.T) {
	j := newJob(t)

	if len(j.ID) != 8 {
		t.Errorf("ID = %q, want 8 hex chars", j.ID)
	}
	if j.Status != StatusScheduled {
		t.Errorf("Status = %q, want scheduled", j.Status)
	}
	if j.Client != defaultClient {
		t.Errorf("Client = %q, want %q", j.Client, defaultClient)
	}
	if j.ContentHash == "" {
		t.Error("ContentHash not computed")
	}
	if j.ProgressTime != nil {
		t.Error("ProgressTime should start unset")
	}
}

func TestNew_EmptyEndtimeMeansSingleDay(t *testing.T) {
	p := validParams()
	p.Endtime = time.Time{}
	j, err := New(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !j.Endtime.Equal(j.Starttime) {
		t.Errorf("Endtime = %s, want starttime %s", j.Endtime, j.Starttime)
	}
}

func TestNew_Validation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Params)
		want   string
	}{
		{"inverted range", func(p *Params) { p.Endtime = p.Starttime.Add(-24 * time.Hour) }, "precedes"},
		{"missing starttime", func(p *Params) { p.Starttime = time.Time{}; p.Endtime = time.Time{} }, "starttime is required"},
		{"missing station", func(p *Params) { p.Station = "" }, "station selector"},
		{"missing channel", func(p *Params) { p.Channel = "" }, "channel selector"},
		{"missing sds_root", func(p *Params) { p.SDSRoot = "" }, "sds_root"},
		{"zero priority", func(p *Params) { p.Priority = 0 }, "priority must be positive"},
		{"negative priority", func(p *Params) { p.Priority = -3 }, "priority must be positive"},
		{"threshold too large", func(p *Params) { p.ForceRequestThreshold = 24 * time.Hour }, "force_request_threshold"},
		{"negative threshold", func(p *Params) { p.ForceRequestThreshold = -time.Second }, "force_request_threshold"},
		{"negative size", func(p *Params) { p.MaxRequestSize = -1 }, "max_request_size"},
		{"missing user", func(p *Params) { p.User = "" }, "user is required"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.mutate(&p)
			_, err := New(p)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error = %v, want ValidationError", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tc.want)
			}
		})
	}
}

func TestVerifyIntegrity_FreshJob(t *testing.T) {
	j := newJob(t)
	if err := j.VerifyIntegrity(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestVerifyIntegrity_DetectsFieldTampering(t *testing.T) {
	j := newJob(t)
	j.Priority = 99 // edit outside the API
	err := j.VerifyIntegrity()
	var ierr *IntegrityError
	if !errors.As(err, &ierr) {
		t.Fatalf("error = %v, want IntegrityError", err)
	}
	if ierr.ID != j.ID {
		t.Errorf("IntegrityError.ID = %q, want %q", ierr.ID, j.ID)
	}
}

func TestVerifyIntegrity_DetectsHashTampering(t *testing.T) {
	j := newJob(t)
	j.ContentHash = strings.Repeat("0", 64)
	if err := j.VerifyIntegrity(); err == nil {
		t.Fatal("expected IntegrityError")
	}
}

// at forces a job into a given state through valid transitions only.
func at(t *testing.T, s Status) *Job {
	t.Helper()
	j := newJob(t)
	resume := j.Starttime.AddDate(0, 0, 14)
	switch s {
	case StatusScheduled:
	case StatusProcessing:
		mustDo(t, j.MarkProcessing())
	case StatusCompleted:
		mustDo(t, j.MarkProcessing())
		mustDo(t, j.MarkCompleted())
	case StatusQuotaExceeded:
		mustDo(t, j.MarkProcessing())
		mustDo(t, j.MarkQuotaExceeded(resume))
	case StatusError:
		mustDo(t, j.MarkProcessing())
		mustDo(t, j.MarkError("boom"))
	case StatusCancelled:
		mustDo(t, j.Cancel())
	}
	if j.Status != s {
		t.Fatalf("setup: status = %q, want %q", j.Status, s)
	}
	return j
}

func mustDo(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("setup transition failed: %v", err)
	}
}

func TestStateMachine_Exhaustive(t *testing.T) {
	all := []Status{StatusScheduled, StatusProcessing, StatusCompleted,
		StatusQuotaExceeded, StatusError, StatusCancelled}

	allowed := map[Status]map[Status]bool{
		StatusScheduled:     {StatusProcessing: true, StatusCancelled: true},
		StatusProcessing:    {StatusCompleted: true, StatusQuotaExceeded: true, StatusError: true},
		StatusQuotaExceeded: {StatusProcessing: true},
		StatusError:         {StatusScheduled: true, StatusCancelled: true},
	}

	apply := func(j *Job, to Status) error {
		switch to {
		case StatusScheduled:
			return j.Reset()
		case StatusProcessing:
			return j.MarkProcessing()
		case StatusCompleted:
			return j.MarkCompleted()
		case StatusQuotaExceeded:
			return j.MarkQuotaExceeded(j.Starttime.AddDate(0, 0, 14))
		case StatusError:
			return j.MarkError("boom")
		case StatusCancelled:
			return j.Cancel()
		}
		t.Fatalf("unknown status %q", to)
		return nil
	}

	for _, from := range all {
		for _, to := range all {
			if from == to {
				continue
			}
			t.Run(string(from)+"_to_"+string(to), func(t *testing.T) {
				j := at(t, from)
				err := apply(j, to)
				if allowed[from][to] {
					if err != nil {
						t.Fatalf("transition %s -> %s failed: %v", from, to, err)
					}
					if j.Status != to {
						t.Errorf("status = %q, want %q", j.Status, to)
					}
					return
				}
				var serr *InvalidStateError
				if !errors.As(err, &serr) {
					t.Fatalf("transition %s -> %s: error = %v, want InvalidStateError", from, to, err)
				}
				if j.Status != from {
					t.Errorf("status changed to %q on rejected transition", j.Status)
				}
			})
		}
	}
}

func TestMarkQuotaExceeded_SetsProgressTime(t *testing.T) {
	j := at(t, StatusProcessing)
	resume := mustTime("2019-10-15")
	if err := j.MarkQuotaExceeded(resume); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.ProgressTime == nil || !j.ProgressTime.Equal(resume) {
		t.Errorf("ProgressTime = %v, want %s", j.ProgressTime, resume)
	}
	if got := j.EffectiveStart(); !got.Equal(resume) {
		t.Errorf("EffectiveStart = %s, want resume time %s", got, resume)
	}
}

func TestMarkQuotaExceeded_ResumeOutsideRange(t *testing.T) {
	cases := map[string]time.Time{
		"before start": mustTime("2019-09-30"),
		"at end":       mustTime("2019-10-31"),
		"after end":    mustTime("2019-11-05"),
	}
	for name, resume := range cases {
		t.Run(name, func(t *testing.T) {
			j := at(t, StatusProcessing)
			err := j.MarkQuotaExceeded(resume)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error = %v, want ValidationError", err)
			}
			if j.Status != StatusProcessing {
				t.Errorf("status = %q, want processing left untouched", j.Status)
			}
		})
	}
}

func TestMarkError_PreservesDetailVerbatim(t *testing.T) {
	j := at(t, StatusProcessing)
	detail := "archive: nms_client: daily quota of 2 GiB exhausted\nsecond line"
	if err := j.MarkError(detail); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.ErrorDetail != detail {
		t.Errorf("ErrorDetail = %q, want verbatim %q", j.ErrorDetail, detail)
	}
}

func TestReset_KeepsProgressTime(t *testing.T) {
	j := at(t, StatusProcessing)
	resume := mustTime("2019-10-15")
	mustDo(t, j.MarkQuotaExceeded(resume))
	mustDo(t, j.MarkProcessing())
	mustDo(t, j.MarkError("boom"))

	if err := j.Reset(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Status != StatusScheduled {
		t.Errorf("status = %q, want scheduled", j.Status)
	}
	if j.ErrorDetail != "" {
		t.Errorf("ErrorDetail = %q, want cleared", j.ErrorDetail)
	}
	if j.ProgressTime == nil || !j.ProgressTime.Equal(resume) {
		t.Errorf("ProgressTime = %v, want unchanged %s", j.ProgressTime, resume)
	}
}

func TestMarkCompleted_ClearsProgress(t *testing.T) {
	j := at(t, StatusQuotaExceeded)
	mustDo(t, j.MarkProcessing())
	if err := j.MarkCompleted(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.ProgressTime != nil {
		t.Error("ProgressTime should be cleared on completion")
	}
}

func TestApplyUpdates_RejectedWhileProcessing(t *testing.T) {
	j := at(t, StatusProcessing)
	err := j.ApplyUpdates(map[string]string{"priority": "5"})
	var serr *InvalidStateError
	if !errors.As(err, &serr) {
		t.Fatalf("error = %v, want InvalidStateError", err)
	}
}

func TestApplyUpdates_RecomputesHashAndBumpsUpdatedAt(t *testing.T) {
	j := newJob(t)
	before := j.ContentHash
	j.UpdatedAt = j.UpdatedAt.Add(-time.Hour) // make the bump observable
	wasUpdated := j.UpdatedAt

	if err := j.ApplyUpdates(map[string]string{"priority": "5", "max_request_size": "500MB"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Priority != 5 {
		t.Errorf("Priority = %d, want 5", j.Priority)
	}
	if j.MaxRequestSize != 500*1024*1024 {
		t.Errorf("MaxRequestSize = %d, want 500 MiB", j.MaxRequestSize)
	}
	if j.ContentHash == before {
		t.Error("ContentHash not recomputed")
	}
	if !j.UpdatedAt.After(wasUpdated) {
		t.Error("UpdatedAt not bumped")
	}
	if err := j.VerifyIntegrity(); err != nil {
		t.Errorf("integrity after update: %v", err)
	}
}

func TestApplyUpdates_ImmutableField(t *testing.T) {
	j := newJob(t)
	err := j.ApplyUpdates(map[string]string{"station": "I45*"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if !strings.Contains(err.Error(), "cannot be updated") {
		t.Errorf("error = %q, want to mention immutability", err.Error())
	}
}

func TestApplyUpdates_EndtimeBeforeProgress(t *testing.T) {
	j := at(t, StatusQuotaExceeded) // progress at 2019-10-15
	err := j.ApplyUpdates(map[string]string{"endtime": "2019-10-10"})
	if err == nil {
		t.Fatal("expected error for endtime before progress time")
	}
}

func TestFromFields(t *testing.T) {
	j, err := FromFields(map[string]string{
		"starttime":               "2019-10-01",
		"endtime":                 "2019-10-31",
		"station":                 "I18*",
		"channel":                 "*",
		"sds_root":                "/data/sds",
		"priority":                "5",
		"max_request_size":        "2GB",
		"force_request_threshold": "300s",
		"email":                   "alice@example.org,bob@example.org",
		"client_args":             "timeout=120;format=mseed",
		"user":                    "alice",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Priority != 5 {
		t.Errorf("Priority = %d, want 5", j.Priority)
	}
	if j.MaxRequestSize != 2<<30 {
		t.Errorf("MaxRequestSize = %d, want 2 GiB", j.MaxRequestSize)
	}
	if time.Duration(j.ForceRequestThreshold) != 300*time.Second {
		t.Errorf("ForceRequestThreshold = %s, want 5m", j.ForceRequestThreshold)
	}
	if len(j.Email) != 2 {
		t.Errorf("Email = %v, want two addresses", j.Email)
	}
	if j.ClientArgs["timeout"] != "120" || j.ClientArgs["format"] != "mseed" {
		t.Errorf("ClientArgs = %v", j.ClientArgs)
	}
}

func TestFromFields_ClientKwargsAlias(t *testing.T) {
	j, err := FromFields(map[string]string{
		"starttime":     "2019-10-01",
		"station":       "I18*",
		"channel":       "*",
		"sds_root":      "/data/sds",
		"user":          "alice",
		"client_kwargs": "zone=IMS",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.ClientArgs["zone"] != "IMS" {
		t.Errorf("ClientArgs = %v, want the client_kwargs value", j.ClientArgs)
	}

	// Updatable under either name.
	if err := j.ApplyUpdates(map[string]string{"client_kwargs": "zone=IDC"}); err != nil {
		t.Fatalf("ApplyUpdates: %v", err)
	}
	if j.ClientArgs["zone"] != "IDC" {
		t.Errorf("ClientArgs = %v after update", j.ClientArgs)
	}
}

func TestFromFields_UnknownField(t *testing.T) {
	_, err := FromFields(map[string]string{"starttime": "2019-10-01", "stations": "I18*"})
	if err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("error = %v, want unknown field", err)
	}
}

func TestParseSize(t *testing.T) {
	cases := map[string]int64{
		"":      0,
		"none":  0,
		"2GiB":  2 << 30,
		"2GB":   2 << 30,
		"500MB": 500 << 20,
		"1024":  1024,
	}
	for in, want := range cases {
		got, err := ParseSize(in)
		if err != nil {
			t.Errorf("ParseSize(%q): unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseSize(%q) = %d, want %d", in, got, want)
		}
	}
	if _, err := ParseSize("lots"); err == nil {
		t.Error("ParseSize(lots): expected error")
	}
}

func TestParseTime(t *testing.T) {
	for _, in := range []string{"2019-10-01", "2019-10-01 06:30:00", "2019-10-01T06:30:00", "2019-10-01T06:30:00Z"} {
		if _, err := ParseTime(in); err != nil {
			t.Errorf("ParseTime(%q): unexpected error: %v", in, err)
		}
	}
	if _, err := ParseTime("next tuesday"); err == nil {
		t.Error("ParseTime(next tuesday): expected error")
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus("Quota_Exceeded"); err != nil || s != StatusQuotaExceeded {
		t.Errorf("ParseStatus = %q, %v", s, err)
	}
	if _, err := ParseStatus("paused"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	d := Duration(5 * time.Minute)
	data, err := d.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"5m0s"` {
		t.Errorf("marshal = %s, want \"5m0s\"", data)
	}
	var back Duration
	if err := back.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != d {
		t.Errorf("round trip = %s, want %s", back, d)
	}
}
