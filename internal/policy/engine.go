// Package policy evaluates tool invocations against a rego policy. The
// decision is recorded on the normalized tool message; it does not block
// the backend, which has already executed the tool.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a policy engine from rego policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_policy.decision"),
		rego.Module("tool_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// ToolInput is the policy input for one tool invocation.
type ToolInput struct {
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args"`
}

// Evaluate returns the policy decision for a tool invocation: one of
// "allow", "warn", "deny". Missing results default to allow.
func (e *Engine) Evaluate(ctx context.Context, input ToolInput) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(map[string]any{
		"tool_name": input.ToolName,
		"args":      input.Args,
	}))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "allow", nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return "allow", nil
}

// DefaultPolicy flags destructive shell commands and denies privileged ones.
const DefaultPolicy = `
package tool_policy

default decision = "allow"

decision = "deny" {
	input.tool_name == "Bash"
	startswith(input.args.command, "sudo")
}

decision = "warn" {
	input.tool_name == "Bash"
	contains(input.args.command, "rm -rf")
	not startswith(input.args.command, "sudo")
}

decision = "warn" {
	input.tool_name == "Write"
	startswith(input.args.file_path, "/etc/")
}
`
