package domain

import "time"

// Run represents one execution attempt of an external workflow.
type Run struct {
	ID              string     `json:"id"`
	Status          RunStatus  `json:"status"`
	WorkflowsDir    string     `json:"workflowsDir"`
	AgentToken      string     `json:"-"`
	StartedAt       time.Time  `json:"startedAt"`
	CompletedAt     *time.Time `json:"completedAt"`
	EventCount      int        `json:"eventCount"`
	IsPaused        bool       `json:"isPaused"`
	PausedAt        *time.Time `json:"pausedAt"`
	CurrentWorkflow *string    `json:"currentWorkflow"`
	CurrentJob      *string    `json:"currentJob"`
	CurrentStep     *int       `json:"currentStep"`

	// Events is the in-memory event log. It is only populated for runs
	// resident in the run cache.
	Events []Event `json:"-"`
}

// Clone returns a deep copy of the run.
func (r Run) Clone() Run {
	out := r
	out.CompletedAt = cloneTime(r.CompletedAt)
	out.PausedAt = cloneTime(r.PausedAt)
	out.CurrentWorkflow = cloneString(r.CurrentWorkflow)
	out.CurrentJob = cloneString(r.CurrentJob)
	if r.CurrentStep != nil {
		step := *r.CurrentStep
		out.CurrentStep = &step
	}
	if r.Events != nil {
		out.Events = append([]Event(nil), r.Events...)
	}
	return out
}

// AdvancePosition moves the last-known execution position forward using the
// fields carried by e. Fields the event does not carry are left untouched.
func (r *Run) AdvancePosition(e Event) {
	if e.WorkflowName != nil {
		r.CurrentWorkflow = cloneString(e.WorkflowName)
	}
	if e.JobName != nil {
		r.CurrentJob = cloneString(e.JobName)
	}
	if e.StepIndex != nil {
		step := *e.StepIndex
		r.CurrentStep = &step
	}
}

// Event represents an immutable fact reported by an agent about one run.
// It travels over the wire in this flattened shape; Payload returns the
// typed variant for its EventType.
type Event struct {
	EventType    EventType `json:"eventType"`
	RunID        string    `json:"runId"`
	Timestamp    time.Time `json:"timestamp"`
	WorkflowName *string   `json:"workflowName,omitempty"`
	JobName      *string   `json:"jobName,omitempty"`
	StepIndex    *int      `json:"stepIndex,omitempty"`
	StepName     *string   `json:"stepName,omitempty"`
	Success      *bool     `json:"success,omitempty"`
	Error        *string   `json:"error,omitempty"`
	Reason       *string   `json:"reason,omitempty"`
}

// DedupKey identifies an event for consumers that need exactly-once counting.
// Ingestion itself is at-least-once and never deduplicates.
type DedupKey struct {
	EventType EventType
	RunID     string
	Timestamp int64
	StepIndex int
}

// DedupKey returns the (eventType, runId, timestamp, stepIndex) tuple of e.
func (e Event) DedupKey() DedupKey {
	key := DedupKey{
		EventType: e.EventType,
		RunID:     e.RunID,
		Timestamp: e.Timestamp.UnixNano(),
		StepIndex: -1,
	}
	if e.StepIndex != nil {
		key.StepIndex = *e.StepIndex
	}
	return key
}

// Command represents an instruction directed at one run's agent.
type Command struct {
	CommandType CommandType `json:"commandType"`
	RunID       string      `json:"runId"`
	Timestamp   time.Time   `json:"timestamp"`
	AgentToken  string      `json:"agentToken"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
