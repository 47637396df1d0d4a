package job

import "fmt"

// ValidationError reports job parameters that fail validation at add or
// update time. The queue is left unchanged.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "job: invalid parameters: " + e.Msg
}

// InvalidStateError reports a status transition that is not allowed by the
// job state machine.
type InvalidStateError struct {
	ID   string
	From Status
	To   Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("job %s: invalid status transition from %q to %q", e.ID, e.From, e.To)
}

// IntegrityError reports a job whose stored content hash does not match a
// recomputation over its current field values. This signals an out-of-band
// edit of the persisted file and is never repaired silently.
type IntegrityError struct {
	ID string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("job %s: content hash mismatch, the persisted job was modified outside the API", e.ID)
}
