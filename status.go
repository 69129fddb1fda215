package pipeline

// Status is the life-cycle state of one node execution.
type Status string

const (
	StatusQueued       Status = "QUEUED"
	StatusRunning      Status = "RUNNING"
	StatusTaskWaiting  Status = "TASK_WAITING"
	StatusAsyncWaiting Status = "ASYNC_WAITING"
	StatusInputWaiting Status = "INPUT_WAITING"
	StatusPaused       Status = "PAUSED"
	StatusSucceeded    Status = "SUCCEEDED"
	StatusFailed       Status = "FAILED"
	StatusAborted      Status = "ABORTED"
	StatusExpired      Status = "EXPIRED"
	StatusSkipped      Status = "SKIPPED"
	StatusErrored      Status = "ERRORED"
)

// StatusSet is an allowed-from / membership set over statuses.
type StatusSet map[Status]struct{}

// NewStatusSet builds a set from the given statuses.
func NewStatusSet(statuses ...Status) StatusSet {
	set := make(StatusSet, len(statuses))
	for _, st := range statuses {
		set[st] = struct{}{}
	}
	return set
}

// Contains reports set membership.
func (s StatusSet) Contains(st Status) bool {
	_, ok := s[st]
	return ok
}

var (
	terminalStatuses = NewStatusSet(
		StatusSucceeded, StatusFailed, StatusErrored, StatusAborted,
		StatusExpired, StatusSkipped,
	)
	resumableStatuses = NewStatusSet(
		StatusQueued, StatusRunning, StatusPaused,
		StatusAsyncWaiting, StatusTaskWaiting, StatusInputWaiting,
	)
	flowingStatuses = NewStatusSet(
		StatusQueued, StatusRunning, StatusAsyncWaiting, StatusTaskWaiting,
	)
	waitingStatuses = NewStatusSet(
		StatusAsyncWaiting, StatusTaskWaiting, StatusInputWaiting, StatusPaused,
	)
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool { return terminalStatuses.Contains(s) }

// IsResumable reports whether an external response may still resume the node.
func (s Status) IsResumable() bool { return resumableStatuses.Contains(s) }

// IsFlowing reports whether the node is actively progressing. A resume from a
// non-flowing status triggers a run-level aggregate recalculation.
func (s Status) IsFlowing() bool { return flowingStatuses.Contains(s) }

// IsWaiting reports whether the node is parked on an external suspension point.
func (s Status) IsWaiting() bool { return waitingStatuses.Contains(s) }

// TerminalStatuses returns a copy of the terminal status set.
func TerminalStatuses() StatusSet { return cloneStatusSet(terminalStatuses) }

// ResumableStatuses returns a copy of the resumable status set.
func ResumableStatuses() StatusSet { return cloneStatusSet(resumableStatuses) }

func cloneStatusSet(in StatusSet) StatusSet {
	out := make(StatusSet, len(in))
	for st := range in {
		out[st] = struct{}{}
	}
	return out
}
