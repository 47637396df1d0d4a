package queue

import (
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// lockTimeout bounds how long an invocation waits for a concurrent one to
// finish its load-mutate-persist unit.
const lockTimeout = 30 * time.Second

// Lock takes an advisory file lock guarding the queue file, so concurrent
// scheduler invocations (a manual call racing a cron-triggered run) cannot
// interleave their load-mutate-persist units and lose updates. The content
// hash alone only detects tampering after the fact.
func Lock(queuePath string) (release func(), err error) {
	fl := flock.New(queuePath + ".flock")
	deadline := time.Now().Add(lockTimeout)
	for {
		ok, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("queue: lock %s: %w", fl.Path(), err)
		}
		if ok {
			return func() { fl.Unlock() }, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("queue: %s is locked by another invocation", fl.Path())
		}
		time.Sleep(200 * time.Millisecond)
	}
}
