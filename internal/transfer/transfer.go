// Package transfer wraps a provider with the command execution and file
// transfer semantics the rest of the service relies on: default timeouts,
// working-directory resolution and independent batch writes.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/appmint-dev/sandbox-orchestrator/internal/cfg"
	"github.com/appmint-dev/sandbox-orchestrator/internal/provider"
	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/logger"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/utils"
)

// Agents older than this do not expose the binary upload endpoint.
const minBinaryUploadAgentVersion = "0.2.0"

type CommandExecutor struct {
	provider       provider.Provider
	workDir        string
	defaultTimeout time.Duration
}

func NewCommandExecutor(p provider.Provider, config cfg.Config) *CommandExecutor {
	return &CommandExecutor{
		provider:       p,
		workDir:        config.WorkDir,
		defaultTimeout: config.CommandTimeout,
	}
}

type execSettings struct {
	cwd     string
	env     map[string]string
	timeout time.Duration
}

type ExecOption func(*execSettings)

func WithTimeout(timeout time.Duration) ExecOption {
	return func(s *execSettings) {
		s.timeout = timeout
	}
}

func WithCwd(cwd string) ExecOption {
	return func(s *execSettings) {
		s.cwd = cwd
	}
}

func WithEnv(env map[string]string) ExecOption {
	return func(s *execSettings) {
		s.env = env
	}
}

// Execute runs a command in the sandbox working directory. Commands are
// bounded by the default timeout unless overridden; a timeout surfaces as a
// *sandbox.TimeoutError from the provider.
func (e *CommandExecutor) Execute(ctx context.Context, sandboxID string, command string, opts ...ExecOption) (*sandbox.CommandResult, error) {
	settings := execSettings{
		cwd:     e.workDir,
		timeout: e.defaultTimeout,
	}
	for _, opt := range opts {
		opt(&settings)
	}

	result, err := e.provider.Exec(ctx, sandboxID, command, provider.ExecOptions{
		Cwd:     settings.cwd,
		Env:     settings.env,
		Timeout: settings.timeout,
	})
	if err != nil {
		return nil, err
	}

	if result.ExitCode != 0 {
		zap.L().Debug("Command exited non-zero",
			logger.WithSandboxID(sandboxID),
			zap.String("command", utils.Truncate(command, 120)),
			zap.Int("exit_code", result.ExitCode),
		)
	}

	return &result, nil
}

type FileTransferLayer struct {
	provider provider.Provider
	workDir  string
}

func NewFileTransferLayer(p provider.Provider, config cfg.Config) *FileTransferLayer {
	return &FileTransferLayer{
		provider: p,
		workDir:  config.WorkDir,
	}
}

// resolvePath anchors relative paths at the sandbox working directory.
func (f *FileTransferLayer) resolvePath(filePath string) string {
	if path.IsAbs(filePath) {
		return filePath
	}

	return path.Join(f.workDir, filePath)
}

func (f *FileTransferLayer) ReadFile(ctx context.Context, sandboxID string, filePath string) (string, error) {
	return f.provider.ReadFile(ctx, sandboxID, f.resolvePath(filePath))
}

func (f *FileTransferLayer) WriteFile(ctx context.Context, sandboxID string, filePath string, content string) error {
	return f.provider.WriteFile(ctx, sandboxID, f.resolvePath(filePath), content)
}

// WriteFileBinary refuses uploads to sandboxes whose agent predates the
// binary endpoint. Unknown agent versions are not gated.
func (f *FileTransferLayer) WriteFileBinary(ctx context.Context, sandboxID string, filePath string, data []byte) error {
	instance, err := f.provider.Get(ctx, sandboxID)
	if err != nil {
		return err
	}

	if instance.AgentVersion != "" && !utils.IsGTEVersion(instance.AgentVersion, minBinaryUploadAgentVersion) {
		return fmt.Errorf("binary upload requires agent version >= %s, sandbox %s runs %s", minBinaryUploadAgentVersion, sandboxID, instance.AgentVersion)
	}

	return f.provider.WriteFileBinary(ctx, sandboxID, f.resolvePath(filePath), data)
}

func (f *FileTransferLayer) ListFiles(ctx context.Context, sandboxID string, dirPath string) ([]sandbox.FileInfo, error) {
	if dirPath == "" {
		dirPath = f.workDir
	}

	return f.provider.ListFiles(ctx, sandboxID, f.resolvePath(dirPath))
}

func (f *FileTransferLayer) FindFiles(ctx context.Context, sandboxID string, pattern string) ([]sandbox.FileInfo, error) {
	return f.provider.FindFiles(ctx, sandboxID, f.workDir, pattern)
}

// FileExists reports whether the file is present in the sandbox.
func (f *FileTransferLayer) FileExists(ctx context.Context, sandboxID string, filePath string) (bool, error) {
	_, err := f.provider.ReadFile(ctx, sandboxID, f.resolvePath(filePath))
	if err != nil {
		var fileNotFound *sandbox.FileNotFoundError
		if errors.As(err, &fileNotFound) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// BatchWrite applies each write independently and reports per-file outcomes.
// A failed file never rolls back or stops the others.
func (f *FileTransferLayer) BatchWrite(ctx context.Context, sandboxID string, files []sandbox.WriteEntry) []sandbox.WriteResult {
	results := make([]sandbox.WriteResult, 0, len(files))

	for _, entry := range files {
		if err := f.WriteFile(ctx, sandboxID, entry.Path, entry.Content); err != nil {
			zap.L().Warn("Batch write failed for file",
				logger.WithSandboxID(sandboxID),
				zap.String("path", entry.Path),
				zap.Error(err),
			)

			results = append(results, sandbox.WriteResult{
				Path:  entry.Path,
				Error: err.Error(),
			})

			continue
		}

		results = append(results, sandbox.WriteResult{
			Path:    entry.Path,
			Success: true,
		})
	}

	return results
}
