// Package types defines shared types used across the application.
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Status is the outcome of a step or of a whole scenario run.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// ErrorKind classifies a step failure.
type ErrorKind string

const (
	// NavigationFailed means the target was unreachable or answered with a non-2xx status.
	NavigationFailed ErrorKind = "NavigationFailed"
	// WaitTimeout means a selector or condition was not satisfied within its bound.
	WaitTimeout ErrorKind = "WaitTimeout"
	// AssertionFailed means an element was absent or its state did not match.
	AssertionFailed ErrorKind = "AssertionFailed"
	// CaptureFailed means a screenshot could not be taken or written.
	CaptureFailed ErrorKind = "CaptureFailed"
	// ActionFailed means the page rejected a click or focus for a reason other than a timeout.
	ActionFailed ErrorKind = "ActionFailed"
	// Aborted means the run was cancelled while the step was executing.
	Aborted ErrorKind = "Aborted"
	// Panic means the step panicked. The panic was recovered by the runner.
	Panic ErrorKind = "Panic"
)

// StepOutcome is the recorded outcome of a single step.
type StepOutcome struct {
	Index       int           `json:"index"`
	Kind        string        `json:"kind"`
	Description string        `json:"description"`
	Status      Status        `json:"status"`
	ErrorKind   ErrorKind     `json:"errorKind,omitempty"`
	Message     string        `json:"message,omitempty"`
	Duration    time.Duration `json:"duration"`
	Artifact    string        `json:"artifact,omitempty"`
}

// Result represents the outcome of one scenario run.
type Result struct {
	RunID      string        `json:"runId"`
	Scenario   string        `json:"scenario"`
	BaseURL    string        `json:"baseUrl"`
	Driver     string        `json:"driver"`
	Status     Status        `json:"status"`
	Steps      []StepOutcome `json:"steps"`
	Artifacts  []string      `json:"artifacts"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// Passed reports whether every step of the run passed.
func (r *Result) Passed() bool {
	return r.Status == StatusPassed
}

// Failed returns the outcomes of all failed steps in order.
func (r *Result) Failed() []StepOutcome {
	failed := []StepOutcome{}
	for _, s := range r.Steps {
		if s.Status == StatusFailed {
			failed = append(failed, s)
		}
	}
	return failed
}

// Duration is the wall time of the run.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Err aggregates all step failures into one error. It returns nil if the run passed.
func (r *Result) Err() error {
	var result *multierror.Error
	for _, s := range r.Failed() {
		result = multierror.Append(result, fmt.Errorf("step %d (%s): %s: %s", s.Index, s.Kind, s.ErrorKind, s.Message))
	}
	if result == nil {
		return nil
	}
	return result.ErrorOrNil()
}

// ErrNoScenarios is returned when a run was requested without any scenario.
var ErrNoScenarios = errors.New("no scenarios to run")
