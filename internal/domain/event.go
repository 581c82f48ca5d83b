package domain

// JobStatus is the lifecycle phase of a background generation job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
)

// Valid reports whether s is one of the known job statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobSucceeded, JobFailed:
		return true
	}
	return false
}

// JobProgressEvent is a transient status update about an asynchronous
// generation job (image, video, voiceover, subtitle). Task runners publish
// one per state change; the event is discarded after delivery attempts and
// never persisted. The authoritative job state lives with the runner.
type JobProgressEvent struct {
	JobID         string    `json:"jobId"`
	Service       string    `json:"service"`
	Status        JobStatus `json:"status"`
	Progress      int       `json:"progress"`
	Message       string    `json:"message,omitempty"`
	Error         string    `json:"error,omitempty"`
	ResultURL     string    `json:"resultUrl,omitempty"`
	OwnerClientID string    `json:"ownerClientId"`
	OwnerUserID   string    `json:"userId,omitempty"`
}
