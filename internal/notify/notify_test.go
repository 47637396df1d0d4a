package notify

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"github.com/vdms-tools/vdmsched/internal/job"
)

func stubWebhook(t *testing.T, fail bool) *[]string {
	t.Helper()
	var texts []string
	orig := postWebhook
	postWebhook = func(url string, msg *slack.WebhookMessage) error {
		texts = append(texts, msg.Text)
		if fail {
			return errors.New("503 from hooks.slack.com")
		}
		return nil
	}
	t.Cleanup(func() { postWebhook = orig })
	return &texts
}

func testJob(t *testing.T) *job.Job {
	t.Helper()
	start, _ := time.Parse("2006-01-02", "2019-10-01")
	end, _ := time.Parse("2006-01-02", "2019-10-31")
	j, err := job.New(job.Params{
		Starttime: start,
		Endtime:   end,
		Station:   "I18*",
		Channel:   "BDF",
		SDSRoot:   "/data/sds",
		Priority:  1,
		User:      "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func TestJobOutcome_Completed(t *testing.T) {
	texts := stubWebhook(t, false)
	n := &Notifier{WebhookURL: "https://hooks.slack.com/services/x"}

	j := testJob(t)
	j.MarkProcessing()
	j.MarkCompleted()
	n.JobOutcome(j)

	if len(*texts) != 1 {
		t.Fatalf("messages = %d, want 1", len(*texts))
	}
	msg := (*texts)[0]
	for _, want := range []string{j.ID, "I18*", "completed", "alice"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestJobOutcome_ErrorIncludesDetail(t *testing.T) {
	texts := stubWebhook(t, false)
	n := &Notifier{WebhookURL: "https://hooks.slack.com/services/x"}

	j := testJob(t)
	j.MarkProcessing()
	j.MarkError("connection refused")
	n.JobOutcome(j)

	if len(*texts) != 1 {
		t.Fatalf("messages = %d, want 1", len(*texts))
	}
	if !strings.Contains((*texts)[0], "connection refused") {
		t.Errorf("message %q missing the failure detail", (*texts)[0])
	}
}

func TestJobOutcome_QuietStates(t *testing.T) {
	texts := stubWebhook(t, false)
	n := &Notifier{WebhookURL: "https://hooks.slack.com/services/x"}

	scheduled := testJob(t)
	n.JobOutcome(scheduled)

	suspended := testJob(t)
	suspended.MarkProcessing()
	resume := suspended.Starttime.AddDate(0, 0, 5)
	suspended.MarkQuotaExceeded(resume)
	n.JobOutcome(suspended)

	if len(*texts) != 0 {
		t.Errorf("messages = %v, want none for non-terminal outcomes", *texts)
	}
}

func TestJobOutcome_NoWebhookConfigured(t *testing.T) {
	texts := stubWebhook(t, false)

	var n *Notifier
	j := testJob(t)
	j.MarkProcessing()
	j.MarkCompleted()
	n.JobOutcome(j) // nil receiver is a no-op

	(&Notifier{}).JobOutcome(j) // empty URL too

	if len(*texts) != 0 {
		t.Errorf("messages = %v, want none", *texts)
	}
}

func TestJobOutcome_DeliveryFailureDoesNotPanic(t *testing.T) {
	stubWebhook(t, true)
	n := &Notifier{WebhookURL: "https://hooks.slack.com/services/x"}

	j := testJob(t)
	j.MarkProcessing()
	j.MarkCompleted()
	n.JobOutcome(j) // failure is swallowed
}
