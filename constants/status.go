package constants

// JobStatus is the canonical status of a redaction job.
type JobStatus string

// Stable values (exposed to callers as-is).
const (
	JobStatusPending    JobStatus = "pending"    // created, waiting for a worker
	JobStatusProcessing JobStatus = "processing" // stages running
	JobStatusCompleted  JobStatus = "completed"  // terminal, result attached
	JobStatusFailed     JobStatus = "failed"     // terminal failure
)

// IsTerminal reports whether no further status change is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether from -> to is an edge of the job state machine.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusProcessing
	case JobStatusProcessing:
		return to == JobStatusCompleted || to == JobStatusFailed
	default:
		return false
	}
}
