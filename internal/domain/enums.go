// Package domain defines the core domain models for the control plane.
package domain

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusPaused    RunStatus = "PAUSED"
	RunStatusSuccess   RunStatus = "SUCCESS"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is accepted from the status.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusPaused,
		RunStatusSuccess, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// EventType represents the type of an event reported by an agent.
type EventType string

const (
	EventTypeRunStarted        EventType = "RUN_STARTED"
	EventTypeRunCompleted      EventType = "RUN_COMPLETED"
	EventTypeWorkflowStarted   EventType = "WORKFLOW_STARTED"
	EventTypeWorkflowCompleted EventType = "WORKFLOW_COMPLETED"
	EventTypeWorkflowSkipped   EventType = "WORKFLOW_SKIPPED"
	EventTypeJobStarted        EventType = "JOB_STARTED"
	EventTypeJobCompleted      EventType = "JOB_COMPLETED"
	EventTypeStepStarted       EventType = "STEP_STARTED"
	EventTypeStepCompleted     EventType = "STEP_COMPLETED"
)

// CommandType represents an operator instruction addressed to an agent.
type CommandType string

const (
	CommandTypeStop   CommandType = "STOP"
	CommandTypePause  CommandType = "PAUSE"
	CommandTypeResume CommandType = "RESUME"
)
