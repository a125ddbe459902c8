package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crabeye/mcp-bridge/internal/bridgeerr"
	"github.com/crabeye/mcp-bridge/internal/config"
)

func TestResolveCascade(t *testing.T) {
	e := New()
	e.Update(config.PolicyAlways, map[string]config.ServerConfig{
		"linear": {Bridge: &config.BridgeMeta{
			ToolPolicy: config.PolicyPrompt,
			Tools:      map[string]config.ToolPolicy{"delete_issue": config.PolicyNever},
		}},
	})

	assert.Equal(t, config.PolicyNever, e.Resolve("linear", "delete_issue"))
	assert.Equal(t, config.PolicyPrompt, e.Resolve("linear", "create_issue"))
	assert.Equal(t, config.PolicyAlways, e.Resolve("github", "create_pr"))
}

func TestEnforceAlwaysPasses(t *testing.T) {
	e := New()
	e.Update(config.PolicyAlways, nil)
	err := e.Enforce(context.Background(), "github", "create_pr", nil, nil)
	assert.NoError(t, err)
}

func TestEnforceNeverDenies(t *testing.T) {
	e := New()
	e.Update(config.PolicyAlways, map[string]config.ServerConfig{
		"linear": {Bridge: &config.BridgeMeta{Tools: map[string]config.ToolPolicy{"delete_issue": config.PolicyNever}}},
	})
	err := e.Enforce(context.Background(), "linear", "delete_issue", nil, nil)
	var polErr *bridgeerr.PolicyError
	require.ErrorAs(t, err, &polErr)
	assert.Equal(t, "delete_issue", polErr.Tool)
}

func TestEnforcePromptWithoutElicitFnFails(t *testing.T) {
	e := New()
	e.Update(config.PolicyPrompt, nil)
	err := e.Enforce(context.Background(), "github", "create_pr", nil, nil)
	var polErr *bridgeerr.PolicyError
	require.ErrorAs(t, err, &polErr)
	assert.Contains(t, polErr.Reason, "does not support elicitation")
}

func TestEnforcePromptDeclinedFails(t *testing.T) {
	e := New()
	e.Update(config.PolicyPrompt, nil)
	elicit := func(ctx context.Context, message string) (ElicitResult, error) {
		return ElicitResult{Action: "decline"}, nil
	}
	err := e.Enforce(context.Background(), "github", "create_pr", map[string]any{"x": 1}, elicit)
	var polErr *bridgeerr.PolicyError
	require.ErrorAs(t, err, &polErr)
	assert.Contains(t, polErr.Reason, "declined")
}

func TestEnforcePromptAcceptedPasses(t *testing.T) {
	e := New()
	e.Update(config.PolicyPrompt, nil)
	elicit := func(ctx context.Context, message string) (ElicitResult, error) {
		assert.Contains(t, message, "github__create_pr")
		return ElicitResult{Action: "accept"}, nil
	}
	err := e.Enforce(context.Background(), "github", "create_pr", map[string]any{"x": 1}, elicit)
	assert.NoError(t, err)
}

func TestEnforcePromptElicitFnErrorFails(t *testing.T) {
	e := New()
	e.Update(config.PolicyPrompt, nil)
	elicit := func(ctx context.Context, message string) (ElicitResult, error) {
		return ElicitResult{}, errors.New("client does not implement elicitation")
	}
	err := e.Enforce(context.Background(), "github", "create_pr", nil, elicit)
	var polErr *bridgeerr.PolicyError
	require.ErrorAs(t, err, &polErr)
}
