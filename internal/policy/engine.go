// Package policy evaluates operator commands against a rego policy before
// they are dispatched to an agent.
package policy

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/open-policy-agent/opa/rego"

	"github.com/xiaot623/gogo/controlplane/internal/domain"
)

// Decisions returned by the policy.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// Input is the document the policy sees as `input`.
type Input struct {
	CommandType  domain.CommandType `json:"command_type"`
	RunID        string             `json:"run_id"`
	Status       domain.RunStatus   `json:"status"`
	WorkflowsDir string             `json:"workflows_dir"`
	StartedAt    time.Time          `json:"started_at"`
}

// NewEngine creates a new policy engine with the given policy content.
// The module must define data.command_policy.decision, either as a string
// or as an object with decision and reason keys.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.command_policy.decision"),
		rego.Module("command_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadEngine reads the policy from path, or uses DefaultPolicy when path is empty.
func LoadEngine(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate returns the decision and optional reason for input.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, "default", nil
	}

	switch val := results[0].Expressions[0].Value.(type) {
	case string:
		return val, "", nil
	case map[string]interface{}:
		decision, _ := val["decision"].(string)
		reason, _ := val["reason"].(string)
		if decision == "" {
			return "", "", fmt.Errorf("policy object has no decision")
		}
		return decision, reason, nil
	default:
		return "", "", fmt.Errorf("unexpected policy result type %T", val)
	}
}

// Check evaluates cmd against the policy and returns domain.ErrCommandDenied
// unless it is allowed.
func (e *Engine) Check(ctx context.Context, cmd domain.CommandType, run domain.Run) error {
	decision, reason, err := e.Evaluate(ctx, Input{
		CommandType:  cmd,
		RunID:        run.ID,
		Status:       run.Status,
		WorkflowsDir: run.WorkflowsDir,
		StartedAt:    run.StartedAt,
	})
	if err != nil {
		return err
	}
	if decision == DecisionAllow {
		return nil
	}
	if reason == "" {
		reason = decision
	}
	return fmt.Errorf("%w: %s on run %s: %s", domain.ErrCommandDenied, cmd, run.ID, reason)
}

// DefaultPolicy allows every command.
const DefaultPolicy = `
package command_policy

default decision = "allow"
`
