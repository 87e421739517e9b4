package sandbox

import (
	"time"

	"mercator-hq/callisto/pkg/script"
)

// JobState tracks a job through its life.
type JobState int

const (
	// StatePending means the worker is being spawned.
	StatePending JobState = iota
	// StateRunning means the worker holds the connection.
	StateRunning
	// StateCompletedOk means the worker answered and exited cleanly.
	StateCompletedOk
	// StateCompletedError means the script failed or the worker died.
	StateCompletedError
	// StateTimedOut means the worker was killed after its lifetime.
	StateTimedOut
	// StateRemoved means the job left the in-flight set.
	StateRemoved
	// StateRejected means the job never started because all slots were taken.
	StateRejected
)

// String returns the state name.
func (s JobState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompletedOk:
		return "completed_ok"
	case StateCompletedError:
		return "completed_error"
	case StateTimedOut:
		return "timed_out"
	case StateRemoved:
		return "removed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Job is one script execution.
type Job struct {
	// WorkerID identifies the worker process bound to the job.
	WorkerID string

	// ClientID is the client the request came from.
	ClientID string

	// FilePath is the script being executed.
	FilePath string

	// Started is when the job entered the in-flight set.
	Started time.Time

	// State is where the job is in its life. TimedOut may replace Pending
	// or Running at any time; Removed is set once it leaves the set.
	State JobState
}

// matches reports whether all three identifying fields are equal.
func (j Job) matches(o Job) bool {
	return j.WorkerID == o.WorkerID && j.ClientID == o.ClientID && j.FilePath == o.FilePath
}

// Outcome describes how a job ended.
type Outcome struct {
	// Job is the job as it left the in-flight set, StateRemoved unless it
	// was rejected.
	Job Job

	// State is the terminal state.
	State JobState

	// Status is the status the manager wrote to the connection itself. Zero
	// when the worker answered or nothing could be sent.
	Status int

	// Reusable is set when the worker exited cleanly after answering, so the
	// connection can wait for the next request.
	Reusable bool

	// ExitCode of the worker, -1 when killed or never started.
	ExitCode int

	// Err is the script failure reported by the worker.
	Err *script.Error

	// Duration from spawn to exit.
	Duration time.Duration
}
