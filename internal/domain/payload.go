package domain

import (
	"fmt"
	"time"
)

// Payload is the closed set of per-type event shapes. Each variant knows its
// EventType and how to flatten itself onto the wire Event.
type Payload interface {
	EventType() EventType
	flatten(e *Event)
}

// RunStartedPayload is the payload for RUN_STARTED.
type RunStartedPayload struct{}

// RunCompletedPayload is the payload for RUN_COMPLETED.
type RunCompletedPayload struct {
	Success bool
}

// WorkflowStartedPayload is the payload for WORKFLOW_STARTED.
type WorkflowStartedPayload struct {
	WorkflowName string
}

// WorkflowCompletedPayload is the payload for WORKFLOW_COMPLETED.
type WorkflowCompletedPayload struct {
	WorkflowName string
	Success      bool
	Error        string
}

// WorkflowSkippedPayload is the payload for WORKFLOW_SKIPPED.
type WorkflowSkippedPayload struct {
	WorkflowName string
	Reason       string
}

// JobStartedPayload is the payload for JOB_STARTED.
type JobStartedPayload struct {
	WorkflowName string
	JobName      string
}

// JobCompletedPayload is the payload for JOB_COMPLETED.
type JobCompletedPayload struct {
	WorkflowName string
	JobName      string
	Success      bool
}

// StepStartedPayload is the payload for STEP_STARTED.
type StepStartedPayload struct {
	WorkflowName string
	JobName      string
	StepIndex    int
	StepName     string
}

// StepCompletedPayload is the payload for STEP_COMPLETED.
type StepCompletedPayload struct {
	WorkflowName string
	JobName      string
	StepIndex    int
	StepName     string
	Success      bool
	Error        string
}

func (RunStartedPayload) EventType() EventType        { return EventTypeRunStarted }
func (RunCompletedPayload) EventType() EventType      { return EventTypeRunCompleted }
func (WorkflowStartedPayload) EventType() EventType   { return EventTypeWorkflowStarted }
func (WorkflowCompletedPayload) EventType() EventType { return EventTypeWorkflowCompleted }
func (WorkflowSkippedPayload) EventType() EventType   { return EventTypeWorkflowSkipped }
func (JobStartedPayload) EventType() EventType        { return EventTypeJobStarted }
func (JobCompletedPayload) EventType() EventType      { return EventTypeJobCompleted }
func (StepStartedPayload) EventType() EventType       { return EventTypeStepStarted }
func (StepCompletedPayload) EventType() EventType     { return EventTypeStepCompleted }

func (RunStartedPayload) flatten(*Event) {}

func (p RunCompletedPayload) flatten(e *Event) {
	e.Success = &p.Success
}

func (p WorkflowStartedPayload) flatten(e *Event) {
	e.WorkflowName = &p.WorkflowName
}

func (p WorkflowCompletedPayload) flatten(e *Event) {
	e.WorkflowName = &p.WorkflowName
	e.Success = &p.Success
	e.Error = optional(p.Error)
}

func (p WorkflowSkippedPayload) flatten(e *Event) {
	e.WorkflowName = &p.WorkflowName
	e.Reason = optional(p.Reason)
}

func (p JobStartedPayload) flatten(e *Event) {
	e.WorkflowName = &p.WorkflowName
	e.JobName = &p.JobName
}

func (p JobCompletedPayload) flatten(e *Event) {
	e.WorkflowName = &p.WorkflowName
	e.JobName = &p.JobName
	e.Success = &p.Success
}

func (p StepStartedPayload) flatten(e *Event) {
	e.WorkflowName = &p.WorkflowName
	e.JobName = &p.JobName
	e.StepIndex = &p.StepIndex
	e.StepName = optional(p.StepName)
}

func (p StepCompletedPayload) flatten(e *Event) {
	e.WorkflowName = &p.WorkflowName
	e.JobName = &p.JobName
	e.StepIndex = &p.StepIndex
	e.StepName = optional(p.StepName)
	e.Success = &p.Success
	e.Error = optional(p.Error)
}

// NewEvent builds the wire event for a typed payload.
func NewEvent(runID string, ts time.Time, p Payload) Event {
	e := Event{
		EventType: p.EventType(),
		RunID:     runID,
		Timestamp: ts,
	}
	p.flatten(&e)
	return e
}

// Payload decodes the flattened event into its typed variant, failing with
// ErrInvalidArgument when the type is unknown or a field the variant
// requires is missing.
func (e Event) Payload() (Payload, error) {
	switch e.EventType {
	case EventTypeRunStarted:
		return RunStartedPayload{}, nil
	case EventTypeRunCompleted:
		if e.Success == nil {
			return nil, e.missing("success")
		}
		return RunCompletedPayload{Success: *e.Success}, nil
	case EventTypeWorkflowStarted:
		if e.WorkflowName == nil {
			return nil, e.missing("workflowName")
		}
		return WorkflowStartedPayload{WorkflowName: *e.WorkflowName}, nil
	case EventTypeWorkflowCompleted:
		if e.WorkflowName == nil {
			return nil, e.missing("workflowName")
		}
		if e.Success == nil {
			return nil, e.missing("success")
		}
		return WorkflowCompletedPayload{
			WorkflowName: *e.WorkflowName,
			Success:      *e.Success,
			Error:        deref(e.Error),
		}, nil
	case EventTypeWorkflowSkipped:
		if e.WorkflowName == nil {
			return nil, e.missing("workflowName")
		}
		return WorkflowSkippedPayload{WorkflowName: *e.WorkflowName, Reason: deref(e.Reason)}, nil
	case EventTypeJobStarted:
		if e.WorkflowName == nil || e.JobName == nil {
			return nil, e.missing("workflowName, jobName")
		}
		return JobStartedPayload{WorkflowName: *e.WorkflowName, JobName: *e.JobName}, nil
	case EventTypeJobCompleted:
		if e.WorkflowName == nil || e.JobName == nil {
			return nil, e.missing("workflowName, jobName")
		}
		if e.Success == nil {
			return nil, e.missing("success")
		}
		return JobCompletedPayload{WorkflowName: *e.WorkflowName, JobName: *e.JobName, Success: *e.Success}, nil
	case EventTypeStepStarted:
		if e.WorkflowName == nil || e.JobName == nil || e.StepIndex == nil {
			return nil, e.missing("workflowName, jobName, stepIndex")
		}
		return StepStartedPayload{
			WorkflowName: *e.WorkflowName,
			JobName:      *e.JobName,
			StepIndex:    *e.StepIndex,
			StepName:     deref(e.StepName),
		}, nil
	case EventTypeStepCompleted:
		if e.WorkflowName == nil || e.JobName == nil || e.StepIndex == nil {
			return nil, e.missing("workflowName, jobName, stepIndex")
		}
		if e.Success == nil {
			return nil, e.missing("success")
		}
		return StepCompletedPayload{
			WorkflowName: *e.WorkflowName,
			JobName:      *e.JobName,
			StepIndex:    *e.StepIndex,
			StepName:     deref(e.StepName),
			Success:      *e.Success,
			Error:        deref(e.Error),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidArgument, e.EventType)
	}
}

// Validate checks the event at the ingestion boundary.
func (e Event) Validate() error {
	if e.RunID == "" {
		return fmt.Errorf("%w: runId is required", ErrInvalidArgument)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidArgument)
	}
	if e.StepIndex != nil && *e.StepIndex < 0 {
		return fmt.Errorf("%w: stepIndex must not be negative", ErrInvalidArgument)
	}
	_, err := e.Payload()
	return err
}

// Normalize validates the event and rebuilds it from its typed variant, so
// only the fields the event type carries survive.
func (e Event) Normalize() (Event, error) {
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	p, err := e.Payload()
	if err != nil {
		return Event{}, err
	}
	return NewEvent(e.RunID, e.Timestamp, p), nil
}

func (e Event) missing(fields string) error {
	return fmt.Errorf("%w: %s event requires %s", ErrInvalidArgument, e.EventType, fields)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
