// Package buildcheck gates project builds on a type check. A failed gate
// is a domain outcome feeding the caller's auto-fix loop, not an
// infrastructure error.
package buildcheck

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/appmint-dev/sandbox-orchestrator/internal/cfg"
	"github.com/appmint-dev/sandbox-orchestrator/internal/provider"
	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
	"github.com/appmint-dev/sandbox-orchestrator/internal/store"
	"github.com/appmint-dev/sandbox-orchestrator/internal/transfer"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/logger"
)

const typecheckCommand = "npx tsc --noEmit --pretty false"

// Gate validates a project's build inside its sandbox and persists the
// outcome as the project build status.
type Gate struct {
	provider provider.Provider
	executor *transfer.CommandExecutor
	store    store.Store
	timeout  time.Duration
}

func NewGate(p provider.Provider, executor *transfer.CommandExecutor, st store.Store, config cfg.Config) *Gate {
	return &Gate{
		provider: p,
		executor: executor,
		store:    st,
		timeout:  config.BuildCheckTimeout,
	}
}

// Validate runs the build gate and persists the outcome. On failure the
// returned result carries the issue list alongside a BuildFailedError so
// callers can branch on it as a value.
func (g *Gate) Validate(ctx context.Context, projectID string, sandboxID string) (sandbox.BuildValidationResult, error) {
	result, err := g.run(ctx, sandboxID)
	if err != nil {
		return sandbox.BuildValidationResult{}, err
	}

	if result.Passed {
		if err := g.store.SetBuildStatus(ctx, projectID, sandbox.BuildStatusReady, ""); err != nil {
			return result, fmt.Errorf("failed to persist build status: %w", err)
		}

		return result, nil
	}

	joined := strings.Join(result.Issues, "\n")
	if err := g.store.SetBuildStatus(ctx, projectID, sandbox.BuildStatusError, joined); err != nil {
		return result, fmt.Errorf("failed to persist build status: %w", err)
	}

	zap.L().Info("Build validation found issues",
		logger.WithProjectID(projectID),
		logger.WithSandboxID(sandboxID),
		zap.Int("issue_count", len(result.Issues)),
	)

	return result, &sandbox.BuildFailedError{Issues: result.Issues}
}

// run dispatches on provider capability: providers with a native build
// validation use it, container-backed providers run the type check as a
// sandbox command.
func (g *Gate) run(ctx context.Context, sandboxID string) (sandbox.BuildValidationResult, error) {
	checkCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if validator, ok := g.provider.(provider.BuildValidator); ok {
		result, err := validator.ValidateBuild(checkCtx, sandboxID)
		if err != nil {
			return sandbox.BuildValidationResult{}, fmt.Errorf("build validation failed for sandbox %s: %w", sandboxID, err)
		}

		return result, nil
	}

	result, err := g.executor.Execute(checkCtx, sandboxID, typecheckCommand, transfer.WithTimeout(g.timeout))
	if err != nil {
		return sandbox.BuildValidationResult{}, fmt.Errorf("type check failed to run in sandbox %s: %w", sandboxID, err)
	}

	if result.ExitCode == 0 {
		return sandbox.BuildValidationResult{Passed: true, Issues: []string{}}, nil
	}

	issues := parseIssues(result.Stdout, result.Stderr)
	if len(issues) == 0 {
		issues = []string{fmt.Sprintf("type check exited with code %d", result.ExitCode)}
	}

	return sandbox.BuildValidationResult{Passed: false, Issues: issues}, nil
}

// parseIssues turns captured type checker output into one issue per
// non-empty line.
func parseIssues(stdout string, stderr string) []string {
	var issues []string

	for _, output := range []string{stdout, stderr} {
		for _, line := range strings.Split(output, "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				issues = append(issues, line)
			}
		}
	}

	return issues
}
