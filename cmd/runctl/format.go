package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xiaot623/gogo/controlplane/internal/domain"
)

const timeLayout = "2006-01-02 15:04:05"

var statusIcons = map[domain.RunStatus]string{
	domain.RunStatusSuccess:   "✓",
	domain.RunStatusFailed:    "✗",
	domain.RunStatusRunning:   "●",
	domain.RunStatusPaused:    "⏸",
	domain.RunStatusPending:   "○",
	domain.RunStatusCancelled: "⊘",
}

func statusIcon(s domain.RunStatus) string {
	if icon, ok := statusIcons[s]; ok {
		return icon
	}
	return "?"
}

func formatStatus(s domain.RunStatus) string {
	return statusIcon(s) + " " + string(s)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func formatDuration(r domain.Run) string {
	if r.CompletedAt == nil {
		return "-"
	}
	return r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
}

// formatPosition renders the workflow/job/step the run last reported.
func formatPosition(r domain.Run) string {
	var parts []string
	if r.CurrentWorkflow != nil {
		parts = append(parts, *r.CurrentWorkflow)
	}
	if r.CurrentJob != nil {
		parts = append(parts, *r.CurrentJob)
	}
	if r.CurrentStep != nil {
		parts = append(parts, fmt.Sprintf("step %d", *r.CurrentStep))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " / ")
}

func formatEvent(e domain.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Timestamp.Local().Format(timeLayout), e.EventType)
	if e.WorkflowName != nil {
		fmt.Fprintf(&b, " workflow=%s", *e.WorkflowName)
	}
	if e.JobName != nil {
		fmt.Fprintf(&b, " job=%s", *e.JobName)
	}
	if e.StepIndex != nil {
		fmt.Fprintf(&b, " step=%d", *e.StepIndex)
		if e.StepName != nil {
			fmt.Fprintf(&b, "(%s)", *e.StepName)
		}
	}
	if e.Success != nil {
		fmt.Fprintf(&b, " success=%t", *e.Success)
	}
	if e.Error != nil {
		fmt.Fprintf(&b, " error=%q", *e.Error)
	}
	if e.Reason != nil {
		fmt.Fprintf(&b, " reason=%q", *e.Reason)
	}
	return b.String()
}

func printRun(w io.Writer, r domain.Run) {
	fmt.Fprintf(w, "Run:        %s\n", r.ID)
	fmt.Fprintf(w, "Status:     %s\n", formatStatus(r.Status))
	fmt.Fprintf(w, "Workflows:  %s\n", r.WorkflowsDir)
	fmt.Fprintf(w, "Started:    %s\n", formatTime(&r.StartedAt))
	fmt.Fprintf(w, "Completed:  %s\n", formatTime(r.CompletedAt))
	fmt.Fprintf(w, "Duration:   %s\n", formatDuration(r))
	fmt.Fprintf(w, "Events:     %d\n", r.EventCount)
	fmt.Fprintf(w, "Position:   %s\n", formatPosition(r))
	if r.IsPaused {
		fmt.Fprintf(w, "Paused at:  %s\n", formatTime(r.PausedAt))
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
