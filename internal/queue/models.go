package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusStarted  Status = "started"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
	StatusDeferred Status = "deferred"
	StatusCanceled Status = "canceled"
)

// CanceledByUser is the error message stamped on user-canceled jobs.
const CanceledByUser = "canceled by user"

// LogLimit caps the number of retained job log lines. Older lines are
// trimmed as new ones are appended.
const LogLimit = 200

var allStatuses = []Status{
	StatusQueued,
	StatusStarted,
	StatusFinished,
	StatusFailed,
	StatusDeferred,
	StatusCanceled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalStatuses = map[Status]struct{}{
	StatusFinished: {},
	StatusFailed:   {},
	StatusCanceled: {},
}

// Options captures the edit flags requested for a job.
type Options struct {
	Detect               bool    `json:"detect"`
	Augment              bool    `json:"augment,omitempty"`
	NoSave               bool    `json:"nosave,omitempty"`
	SuperResolution      bool    `json:"superResolution,omitempty"`
	SuperResolutionScale float64 `json:"superResolutionScale,omitempty"`
	FPS60                bool    `json:"fps60,omitempty"`
}

// Job represents one execution of the edit pipeline for one source object.
type Job struct {
	ID        string
	OwnerSub  string
	SourceKey string
	Options   Options
	Status    Status

	Logs         []string
	OutputKey    string
	JSONKey      string
	DetectMP4Key string
	ErrorMessage string

	Abort           bool
	CancelRequested bool
	Canceled        bool
	ChildPID        int

	TimeoutSeconds   int
	ResultRetention  int
	FailureRetention int

	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     *time.Time
	EndedAt       *time.Time
	LastHeartbeat *time.Time
}

// EnqueueParams describe a job to insert.
type EnqueueParams struct {
	OwnerSub  string
	SourceKey string
	Options   Options

	// Durations in seconds; zero values fall back to store defaults.
	TimeoutSeconds   int
	ResultRetention  int
	FailureRetention int
}

// CancelOutcome reports the result of a cancellation request.
type CancelOutcome struct {
	// Canceled is true when the job moved directly to the canceled state.
	Canceled bool
	// AlreadyStarted is true when only the abort flags could be set and the
	// worker will complete the transition at its next checkpoint.
	AlreadyStarted bool
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether the status is a final state.
func IsTerminal(status Status) bool {
	_, ok := terminalStatuses[status]
	return ok
}

// IsTerminal reports whether the job reached a final state.
func (j Job) IsTerminal() bool {
	return IsTerminal(j.Status)
}

// AbortRequested reports whether any of the cooperative cancellation flags
// has been raised.
func (j Job) AbortRequested() bool {
	return j.Abort || j.CancelRequested || j.Canceled
}

// LogTail returns up to n of the most recent log lines.
func (j Job) LogTail(n int) []string {
	if n <= 0 || len(j.Logs) == 0 {
		return nil
	}
	if len(j.Logs) <= n {
		cp := make([]string, len(j.Logs))
		copy(cp, j.Logs)
		return cp
	}
	cp := make([]string, n)
	copy(cp, j.Logs[len(j.Logs)-n:])
	return cp
}

func appendBounded(logs []string, lines []string) []string {
	logs = append(logs, lines...)
	if len(logs) > LogLimit {
		logs = logs[len(logs)-LogLimit:]
	}
	return logs
}
