package domain

import "time"

// RegisterRunRequest registers a new run on behalf of an agent.
type RegisterRunRequest struct {
	RunID        string    `json:"runId"`
	WorkflowsDir string    `json:"workflowsDir"`
	StartedAt    time.Time `json:"startedAt"`
	AgentToken   string    `json:"agentToken"`
}

// ReportEventsRequest carries a batch of agent events.
type ReportEventsRequest struct {
	Events []Event `json:"events"`
}

// CompleteRunRequest marks a run as finished.
type CompleteRunRequest struct {
	RunID       string    `json:"runId"`
	Success     bool      `json:"success"`
	CompletedAt time.Time `json:"completedAt"`
}

// RunIDRequest identifies a run for cancel/stop/pause/resume.
type RunIDRequest struct {
	RunID string `json:"runId"`
}
