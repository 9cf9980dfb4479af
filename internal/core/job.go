package core

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a Job.
type State string

const (
	StateSubmitted State = "submitted"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

var allowedTransitions = map[State]map[State]bool{
	StateSubmitted: {
		StateRunning: true,
		StateFailed:  true, // cancelled while queued, or interrupted by a restart
	},
	StateRunning: {
		StateSucceeded: true,
		StateFailed:    true,
	},
	StateSucceeded: {},
	StateFailed:    {},
}

// IsKnownState reports whether s is one of the four job states.
func IsKnownState(s State) bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

func CanTransition(from, to State) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Job is one model-build request.
type Job struct {
	ID        string         `json:"id"`
	Prompt    string         `json:"prompt"`
	Config    map[string]any `json:"config,omitempty"`
	State     State          `json:"state"`
	Reason    string         `json:"reason,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Transition moves the job to state to, recording reason and the time of the change.
func (j *Job) Transition(to State, reason string, at time.Time) error {
	if !CanTransition(j.State, to) {
		return fmt.Errorf("%w: %q -> %q (job_id=%s)", ErrInvalidTransition, j.State, to, j.ID)
	}
	j.State = to
	j.Reason = reason
	j.UpdatedAt = at
	return nil
}

// FailedProgress marks a terminal failure entry in a job's progress log.
const FailedProgress = -1.0

// ProgressEntry is one record of a job's progress log.
type ProgressEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Progress  float64   `json:"progress"`
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message"`
}

func (e ProgressEntry) Failed() bool {
	return e.Progress < 0
}

// Terminal reports whether no entry may follow e.
func (e ProgressEntry) Terminal() bool {
	return e.Failed() || e.Progress >= 1.0
}
