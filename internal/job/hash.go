package job

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// computeHash fingerprints the job's mutable content fields. The hash covers
// work parameters, scheduling metadata, and execution state, but not the hash
// field itself and not UpdatedAt, so a no-op reload keeps the hash stable.
// Serializing a map gives canonical key ordering.
func (j *Job) computeHash() string {
	content := map[string]any{
		"id":                      j.ID,
		"starttime":               j.Starttime.UTC().Format(time.RFC3339),
		"endtime":                 j.Endtime.UTC().Format(time.RFC3339),
		"station":                 j.Station,
		"channel":                 j.Channel,
		"sds_root":                j.SDSRoot,
		"force_request_threshold": j.ForceRequestThreshold.String(),
		"max_request_size_bytes":  j.MaxRequestSize,
		"email":                   j.Email,
		"client":                  j.Client,
		"client_args":             j.ClientArgs,
		"priority":                j.Priority,
		"user":                    j.User,
		"created_at":              j.CreatedAt.UTC().Format(time.RFC3339),
		"status":                  string(j.Status),
		"error":                   j.ErrorDetail,
	}
	if j.ProgressTime != nil {
		content["progress_time"] = j.ProgressTime.UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(content)
	if err != nil {
		// Only plain values above; Marshal cannot fail on them.
		panic(fmt.Sprintf("job: hash serialization: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashList fingerprints the queue-level content: schema version, the
// installed crontab line, and an ordered list of per-job hashes. It detects
// reordering, insertion, and deletion of the persisted records outside the
// API, and edits to the crontab field.
func HashList(schemaVersion int, crontab string, hashes []string) string {
	h := sha256.New()
	fmt.Fprintf(h, "v%d:c%q:n%d", schemaVersion, crontab, len(hashes))
	for _, jh := range hashes {
		fmt.Fprintf(h, ":%s", jh)
	}
	return hex.EncodeToString(h.Sum(nil))
}
