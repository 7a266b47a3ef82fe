package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/controlplane/internal/domain"
)

const restrictivePolicy = `
package command_policy

default decision = "allow"

decision = "deny" {
	input.command_type == "STOP"
	startswith(input.workflows_dir, "/prod")
}

decision = {"decision": "deny", "reason": "resume is disabled"} {
	input.command_type == "RESUME"
}
`

func TestDefaultPolicyAllowsEverything(t *testing.T) {
	e, err := NewEngine(context.Background(), DefaultPolicy)
	require.NoError(t, err)

	for _, cmd := range []domain.CommandType{domain.CommandTypeStop, domain.CommandTypePause, domain.CommandTypeResume} {
		err := e.Check(context.Background(), cmd, domain.Run{ID: "r1", Status: domain.RunStatusRunning})
		assert.NoError(t, err, cmd)
	}
}

func TestPolicyDenies(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx, restrictivePolicy)
	require.NoError(t, err)

	prod := domain.Run{ID: "r1", Status: domain.RunStatusRunning, WorkflowsDir: "/prod/flows", StartedAt: time.Now()}
	dev := domain.Run{ID: "r2", Status: domain.RunStatusRunning, WorkflowsDir: "/dev/flows", StartedAt: time.Now()}

	err = e.Check(ctx, domain.CommandTypeStop, prod)
	assert.ErrorIs(t, err, domain.ErrCommandDenied)

	assert.NoError(t, e.Check(ctx, domain.CommandTypeStop, dev))
	assert.NoError(t, e.Check(ctx, domain.CommandTypePause, prod))

	decision, reason, err := e.Evaluate(ctx, Input{CommandType: domain.CommandTypeResume, RunID: "r2"})
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, decision)
	assert.Equal(t, "resume is disabled", reason)

	err = e.Check(ctx, domain.CommandTypeResume, dev)
	require.ErrorIs(t, err, domain.ErrCommandDenied)
	assert.Contains(t, err.Error(), "resume is disabled")
}

func TestInvalidPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), "package command_policy\n\ndecision = {")
	assert.Error(t, err)
}

func TestLoadEngineFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.rego")
	require.NoError(t, os.WriteFile(path, []byte(restrictivePolicy), 0o644))

	e, err := LoadEngine(context.Background(), path)
	require.NoError(t, err)
	assert.ErrorIs(t, e.Check(context.Background(), domain.CommandTypeResume, domain.Run{ID: "r1"}), domain.ErrCommandDenied)

	_, err = LoadEngine(context.Background(), filepath.Join(t.TempDir(), "missing.rego"))
	assert.Error(t, err)

	e, err = LoadEngine(context.Background(), "")
	require.NoError(t, err)
	assert.NoError(t, e.Check(context.Background(), domain.CommandTypeStop, domain.Run{ID: "r1"}))
}
