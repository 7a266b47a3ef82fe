package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xiaot623/gogo/controlplane/internal/domain"
)

func TestStatusIcon(t *testing.T) {
	assert.Equal(t, "✓", statusIcon(domain.RunStatusSuccess))
	assert.Equal(t, "⊘", statusIcon(domain.RunStatusCancelled))
	assert.Equal(t, "?", statusIcon(domain.RunStatus("BOGUS")))
	assert.Equal(t, "● RUNNING", formatStatus(domain.RunStatusRunning))
}

func TestFormatEvent(t *testing.T) {
	ts := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	e := domain.NewEvent("r1", ts, domain.StepCompletedPayload{
		WorkflowName: "build",
		JobName:      "test",
		StepIndex:    2,
		StepName:     "go test",
		Success:      false,
		Error:        "exit 1",
	})

	got := formatEvent(e)
	assert.Contains(t, got, "STEP_COMPLETED workflow=build job=test step=2(go test) success=false")
	assert.Contains(t, got, `error="exit 1"`)
	assert.NotContains(t, got, "reason=")
}

func TestFormatPositionAndDuration(t *testing.T) {
	started := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	r := domain.Run{ID: "r1", StartedAt: started}
	assert.Equal(t, "-", formatPosition(r))
	assert.Equal(t, "-", formatDuration(r))

	wf, job, step := "build", "test", 3
	completed := started.Add(90 * time.Second)
	r.CurrentWorkflow, r.CurrentJob, r.CurrentStep = &wf, &job, &step
	r.CompletedAt = &completed
	assert.Equal(t, "build / test / step 3", formatPosition(r))
	assert.Equal(t, "1m30s", formatDuration(r))
}

func TestPrintRun(t *testing.T) {
	var buf bytes.Buffer
	printRun(&buf, domain.Run{ID: "r1", Status: domain.RunStatusPaused, IsPaused: true, WorkflowsDir: "/flows"})
	out := buf.String()
	assert.Contains(t, out, "Run:        r1")
	assert.Contains(t, out, "⏸ PAUSED")
	assert.Contains(t, out, "Paused at:  -")
}
