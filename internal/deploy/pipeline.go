// Package deploy packages a sandbox's production build and publishes it to
// the hosting plane. A failed deployment is reported inside the result
// payload, never raised: the API layer answers 200 either way and callers
// branch on Success.
package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/appmint-dev/sandbox-orchestrator/internal/artifacts"
	"github.com/appmint-dev/sandbox-orchestrator/internal/cfg"
	"github.com/appmint-dev/sandbox-orchestrator/internal/registry"
	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
	"github.com/appmint-dev/sandbox-orchestrator/internal/transfer"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/logger"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/telemetry"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/utils"
)

const (
	productionBuildCommand = "npm run build"
	productionBuildTimeout = 5 * time.Minute

	// buildOutputDir is where the project's production build lands,
	// relative to the sandbox working directory.
	buildOutputDir = "dist"

	publishRetryMax    = 3
	publishWaitMin     = time.Second
	publishWaitMax     = 10 * time.Second
	publishBodyExcerpt = 500
)

// Pipeline builds a project inside its sandbox, bundles the output into the
// artifact store and announces the bundle to the hosting plane.
type Pipeline struct {
	registry registry.SandboxRegistry
	executor *transfer.CommandExecutor
	files    *transfer.FileTransferLayer
	store    artifacts.Store
	client   *retryablehttp.Client

	workDir      string
	baseURL      string
	publishURL   string
	publishToken string
}

func NewPipeline(reg registry.SandboxRegistry, executor *transfer.CommandExecutor, files *transfer.FileTransferLayer, store artifacts.Store, config cfg.Config) *Pipeline {
	client := retryablehttp.NewClient()
	client.RetryMax = publishRetryMax
	client.RetryWaitMin = publishWaitMin
	client.RetryWaitMax = publishWaitMax
	client.Logger = nil

	return &Pipeline{
		registry:     reg,
		executor:     executor,
		files:        files,
		store:        store,
		client:       client,
		workDir:      config.WorkDir,
		baseURL:      strings.TrimSuffix(config.DeployBaseURL, "/"),
		publishURL:   config.DeployPublishURL,
		publishToken: config.DeployPublishToken,
	}
}

// Deploy runs the full pipeline for a project. It never returns a Go error:
// every failure is folded into the result with the step log collected so far.
func (p *Pipeline) Deploy(ctx context.Context, projectID string, appName string) sandbox.DeployResult {
	if appName == "" {
		appName = projectID
	}
	appName = normalizeAppName(appName)

	logs := []string{fmt.Sprintf("deploying project %s as %q", projectID, appName)}

	fail := func(step string, err error) sandbox.DeployResult {
		message := fmt.Sprintf("%s: %v", step, err)
		logs = append(logs, message)

		telemetry.ReportError(ctx, "deployment failed", err, attribute.String("project.id", projectID))
		zap.L().Warn("Deployment failed",
			logger.WithProjectID(projectID),
			zap.String("app_name", appName),
			zap.String("step", step),
			zap.Error(err),
		)

		return sandbox.DeployResult{Error: message, Logs: logs}
	}

	handle, err := p.registry.GetHandle(ctx, projectID)
	if err != nil {
		return fail("resolving project sandbox", err)
	}
	logs = append(logs, fmt.Sprintf("using sandbox %s", handle.SandboxID))

	if err := p.runProductionBuild(ctx, handle.SandboxID); err != nil {
		return fail("production build", err)
	}
	logs = append(logs, "production build succeeded")

	bundle, err := p.collectBuildOutput(ctx, handle.SandboxID)
	if err != nil {
		return fail("collecting build output", err)
	}
	logs = append(logs, fmt.Sprintf("collected %d files from %s/", len(bundle), buildOutputDir))

	data, err := artifacts.PackBundle(bundle)
	if err != nil {
		return fail("packaging bundle", err)
	}

	key := artifacts.DeploymentBundleKey(projectID, appName)
	if err := p.store.Put(ctx, key, data); err != nil {
		return fail("uploading bundle", err)
	}
	logs = append(logs, fmt.Sprintf("uploaded bundle %s (%d bytes) to %s", key, len(data), p.store))

	if p.publishURL == "" {
		logs = append(logs, "hosting plane publish skipped: no publish URL configured")
	} else {
		if err := p.publish(ctx, projectID, appName, key); err != nil {
			return fail("publishing to hosting plane", err)
		}
		logs = append(logs, "hosting plane accepted the bundle")
	}

	deploymentURL := fmt.Sprintf("%s/%s", p.baseURL, appName)
	logs = append(logs, fmt.Sprintf("deployed to %s", deploymentURL))

	zap.L().Info("Deployment succeeded",
		logger.WithProjectID(projectID),
		logger.WithSandboxID(handle.SandboxID),
		zap.String("app_name", appName),
		zap.String("deployment_url", deploymentURL),
	)

	return sandbox.DeployResult{
		Success:       true,
		DeploymentURL: deploymentURL,
		Logs:          logs,
	}
}

func (p *Pipeline) runProductionBuild(ctx context.Context, sandboxID string) error {
	result, err := p.executor.Execute(ctx, sandboxID, productionBuildCommand, transfer.WithTimeout(productionBuildTimeout))
	if err != nil {
		return err
	}

	if result.ExitCode != 0 {
		return fmt.Errorf("%q exited with code %d: %s", productionBuildCommand, result.ExitCode, utils.Truncate(result.Stderr, publishBodyExcerpt))
	}

	return nil
}

// collectBuildOutput walks the build output directory and returns its files
// keyed by path relative to the directory root.
func (p *Pipeline) collectBuildOutput(ctx context.Context, sandboxID string) (map[string][]byte, error) {
	outputRoot := strings.TrimSuffix(p.workDir, "/") + "/" + buildOutputDir

	bundle := map[string][]byte{}

	dirs := []string{buildOutputDir}
	for len(dirs) > 0 {
		dir := dirs[0]
		dirs = dirs[1:]

		entries, err := p.files.ListFiles(ctx, sandboxID, dir)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", dir, err)
		}

		for _, entry := range entries {
			if entry.IsDir {
				dirs = append(dirs, entry.Path)
				continue
			}

			content, err := p.files.ReadFile(ctx, sandboxID, entry.Path)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", entry.Path, err)
			}

			bundle[relativeToOutput(outputRoot, entry.Path)] = []byte(content)
		}
	}

	if len(bundle) == 0 {
		return nil, fmt.Errorf("build produced no files under %s/", buildOutputDir)
	}

	return bundle, nil
}

func relativeToOutput(outputRoot string, entryPath string) string {
	if rel := strings.TrimPrefix(entryPath, outputRoot+"/"); rel != entryPath {
		return rel
	}

	return strings.TrimPrefix(entryPath, buildOutputDir+"/")
}

type publishRequest struct {
	ProjectID string `json:"projectID"`
	AppName   string `json:"appName"`
	BundleKey string `json:"bundleKey"`
}

// publish announces the uploaded bundle to the hosting plane, which serves
// it under the app's public URL. Transient failures are retried by the
// client; a non-2xx answer after retries is a deploy failure.
func (p *Pipeline) publish(ctx context.Context, projectID string, appName string, bundleKey string) error {
	body, err := json.Marshal(publishRequest{
		ProjectID: projectID,
		AppName:   appName,
		BundleKey: bundleKey,
	})
	if err != nil {
		return fmt.Errorf("failed to encode publish request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.publishURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build publish request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if p.publishToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.publishToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("hosting plane request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("hosting plane answered %d", resp.StatusCode)
	}

	return nil
}

// normalizeAppName lowercases the app name and squeezes everything outside
// [a-z0-9-] into single dashes, so it is safe in a URL host or path.
func normalizeAppName(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}

	return strings.TrimSuffix(b.String(), "-")
}
