// Package notify posts a short message when a job reaches a terminal run
// outcome, so operators don't have to poll the queue.
package notify

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"github.com/vdms-tools/vdmsched/internal/job"
)

// postWebhook is swapped out in tests.
var postWebhook = slack.PostWebhook

// Notifier sends run-outcome notifications. A zero Notifier is a no-op.
type Notifier struct {
	WebhookURL string
	Log        *logrus.Logger
}

// JobOutcome notifies about a job that finished a run in a noteworthy state.
// Delivery failures are logged, never propagated: notification must not
// fail a run.
func (n *Notifier) JobOutcome(j *job.Job) {
	if n == nil || n.WebhookURL == "" {
		return
	}
	var text string
	switch j.Status {
	case job.StatusCompleted:
		text = fmt.Sprintf("Job %s (%s %s) completed: %s..%s archived for %s.",
			j.ID, j.Station, j.Channel,
			j.Starttime.Format("2006-01-02"), j.Endtime.Format("2006-01-02"), j.User)
	case job.StatusError:
		text = fmt.Sprintf("Job %s (%s %s) failed for %s: %s",
			j.ID, j.Station, j.Channel, j.User, j.ErrorDetail)
	default:
		return
	}

	err := postWebhook(n.WebhookURL, &slack.WebhookMessage{Text: text})
	if err != nil && n.Log != nil {
		n.Log.WithError(err).WithField("job", j.ID).Warn("notification delivery failed")
	}
}
