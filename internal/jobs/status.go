package jobs

// Status represents the lifecycle state of a batch run. These values
// are stored in the capture_runs table (capture_runs.status) when the
// database mirror is enabled.
type Status string

const (
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusFailed      Status = "failed"
)

// StatusFor maps a finished run to its Status.
func StatusFor(sum Summary, err error) Status {
	switch {
	case sum.Interrupted:
		return StatusInterrupted
	case err != nil:
		return StatusFailed
	default:
		return StatusCompleted
	}
}
