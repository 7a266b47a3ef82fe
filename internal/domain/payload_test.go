package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventFlattensStepCompleted(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := NewEvent("r1", ts, StepCompletedPayload{
		WorkflowName: "build",
		JobName:      "test",
		StepIndex:    2,
		StepName:     "go test",
		Success:      false,
		Error:        "exit 1",
	})

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "STEP_COMPLETED", wire["eventType"])
	assert.Equal(t, "r1", wire["runId"])
	assert.Equal(t, "build", wire["workflowName"])
	assert.Equal(t, float64(2), wire["stepIndex"])
	assert.Equal(t, false, wire["success"])
	assert.Equal(t, "exit 1", wire["error"])
	assert.NotContains(t, wire, "reason")

	p, err := e.Payload()
	require.NoError(t, err)
	assert.Equal(t, StepCompletedPayload{
		WorkflowName: "build",
		JobName:      "test",
		StepIndex:    2,
		StepName:     "go test",
		Error:        "exit 1",
	}, p)
}

func TestRunStartedOmitsOptionalFields(t *testing.T) {
	e := NewEvent("r1", time.Now(), RunStartedPayload{})
	data, err := json.Marshal(e)
	require.NoError(t, err)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Len(t, wire, 3)
}

func TestValidateRejectsMissingVariantFields(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		event Event
	}{
		{"unknown type", Event{EventType: "BOGUS", RunID: "r1", Timestamp: now}},
		{"missing run id", Event{EventType: EventTypeRunStarted, Timestamp: now}},
		{"missing timestamp", Event{EventType: EventTypeRunStarted, RunID: "r1"}},
		{"completed without success", Event{EventType: EventTypeRunCompleted, RunID: "r1", Timestamp: now}},
		{"job without workflow", Event{EventType: EventTypeJobStarted, RunID: "r1", Timestamp: now, JobName: strPtr("j")}},
		{"step without index", Event{EventType: EventTypeStepStarted, RunID: "r1", Timestamp: now, WorkflowName: strPtr("w"), JobName: strPtr("j")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidArgument))
		})
	}
}

func TestValidateAcceptsWellFormedEvents(t *testing.T) {
	now := time.Now()
	for _, p := range []Payload{
		RunStartedPayload{},
		RunCompletedPayload{Success: true},
		WorkflowStartedPayload{WorkflowName: "w"},
		WorkflowCompletedPayload{WorkflowName: "w", Success: true},
		WorkflowSkippedPayload{WorkflowName: "w", Reason: "condition false"},
		JobStartedPayload{WorkflowName: "w", JobName: "j"},
		JobCompletedPayload{WorkflowName: "w", JobName: "j", Success: true},
		StepStartedPayload{WorkflowName: "w", JobName: "j", StepIndex: 0, StepName: "checkout"},
		StepCompletedPayload{WorkflowName: "w", JobName: "j", StepIndex: 0, Success: true},
	} {
		assert.NoError(t, NewEvent("r1", now, p).Validate(), "payload %T", p)
	}
}

func TestAdvancePositionKeepsUnsetFields(t *testing.T) {
	run := Run{ID: "r1"}
	run.AdvancePosition(NewEvent("r1", time.Now(), StepStartedPayload{WorkflowName: "w", JobName: "j", StepIndex: 3}))
	run.AdvancePosition(NewEvent("r1", time.Now(), RunStartedPayload{}))

	require.NotNil(t, run.CurrentWorkflow)
	require.NotNil(t, run.CurrentStep)
	assert.Equal(t, "w", *run.CurrentWorkflow)
	assert.Equal(t, "j", *run.CurrentJob)
	assert.Equal(t, 3, *run.CurrentStep)
}

func TestDedupKeyDistinguishesSteps(t *testing.T) {
	ts := time.Now()
	a := NewEvent("r1", ts, StepStartedPayload{WorkflowName: "w", JobName: "j", StepIndex: 0})
	b := NewEvent("r1", ts, StepStartedPayload{WorkflowName: "w", JobName: "j", StepIndex: 1})

	assert.NotEqual(t, a.DedupKey(), b.DedupKey())
	assert.Equal(t, a.DedupKey(), a.DedupKey())
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, RunStatusSuccess.IsTerminal())
	assert.True(t, RunStatusCancelled.IsTerminal())
	assert.False(t, RunStatusPaused.IsTerminal())
	assert.False(t, RunStatus("bogus").Valid())
}

func strPtr(s string) *string { return &s }

func TestNormalizeDropsFieldsOutsideVariant(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job, step, reason := "jobX", 7, "stray"
	e := Event{
		EventType:    EventTypeWorkflowStarted,
		RunID:        "r1",
		Timestamp:    ts,
		WorkflowName: &[]string{"build"}[0],
		JobName:      &job,
		StepIndex:    &step,
		Reason:       &reason,
	}

	got, err := e.Normalize()
	require.NoError(t, err)
	assert.Equal(t, NewEvent("r1", ts, WorkflowStartedPayload{WorkflowName: "build"}), got)
	assert.Nil(t, got.JobName)
	assert.Nil(t, got.StepIndex)
	assert.Nil(t, got.Reason)

	_, err = Event{EventType: EventTypeJobStarted, RunID: "r1", Timestamp: ts}.Normalize()
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
