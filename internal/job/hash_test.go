package job

import (
	"testing"
	"time"
)

func TestComputeHash_Deterministic(t *testing.T) {
	j := newJob(t)
	if j.computeHash() != j.computeHash() {
		t.Error("hash differs across recomputations of the same job")
	}
}

func TestComputeHash_IgnoresUpdatedAt(t *testing.T) {
	j := newJob(t)
	before := j.computeHash()
	j.UpdatedAt = j.UpdatedAt.Add(48 * time.Hour)
	if j.computeHash() != before {
		t.Error("hash changed with UpdatedAt; audit timestamp must stay excluded")
	}
}

func TestComputeHash_CoversContentFields(t *testing.T) {
	mutations := map[string]func(*Job){
		"station":       func(j *Job) { j.Station = "I45*" },
		"channel":       func(j *Job) { j.Channel = "SHZ" },
		"sds_root":      func(j *Job) { j.SDSRoot = "/other" },
		"priority":      func(j *Job) { j.Priority++ },
		"user":          func(j *Job) { j.User = "mallory" },
		"status":        func(j *Job) { j.Status = StatusCompleted },
		"starttime":     func(j *Job) { j.Starttime = j.Starttime.AddDate(0, 0, 1) },
		"endtime":       func(j *Job) { j.Endtime = j.Endtime.AddDate(0, 0, 1) },
		"threshold":     func(j *Job) { j.ForceRequestThreshold += Duration(time.Second) },
		"size":          func(j *Job) { j.MaxRequestSize++ },
		"error":         func(j *Job) { j.ErrorDetail = "x" },
		"progress_time": func(j *Job) { p := j.Starttime.AddDate(0, 0, 2); j.ProgressTime = &p },
		"client":        func(j *Job) { j.Client = "other" },
		"client_args":   func(j *Job) { j.ClientArgs = map[string]string{"a": "b"} },
		"email":         func(j *Job) { j.Email = []string{"x@example.org"} },
		"id":            func(j *Job) { j.ID = "deadbeef" },
		"created_at":    func(j *Job) { j.CreatedAt = j.CreatedAt.Add(time.Hour) },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			j := newJob(t)
			before := j.computeHash()
			mutate(j)
			if j.computeHash() == before {
				t.Errorf("hash unchanged after mutating %s", name)
			}
		})
	}
}

func TestHashList_Deterministic(t *testing.T) {
	hashes := []string{"aa", "bb", "cc"}
	if HashList(1, "", hashes) != HashList(1, "", []string{"aa", "bb", "cc"}) {
		t.Error("hash differs for equal input")
	}
}

func TestHashList_DetectsStructuralChanges(t *testing.T) {
	base := HashList(1, "", []string{"aa", "bb", "cc"})

	if HashList(1, "", []string{"aa", "cc", "bb"}) == base {
		t.Error("reordering not detected")
	}
	if HashList(1, "", []string{"aa", "bb"}) == base {
		t.Error("deletion not detected")
	}
	if HashList(1, "", []string{"aa", "bb", "cc", "dd"}) == base {
		t.Error("insertion not detected")
	}
	if HashList(2, "", []string{"aa", "bb", "cc"}) == base {
		t.Error("schema version not covered")
	}
	if HashList(1, "30 6 * * * vdmsched cron:run", []string{"aa", "bb", "cc"}) == base {
		t.Error("crontab line not covered")
	}
}
