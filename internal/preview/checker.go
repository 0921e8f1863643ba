// Package preview verifies that a sandbox preview endpoint actually
// serves traffic before its URL is handed to anyone.
package preview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/flowchartsman/retry"
	"go.uber.org/zap"

	"github.com/appmint-dev/sandbox-orchestrator/internal/cfg"
	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/logger"
)

const (
	probeAttempts     = 10
	probeInitialDelay = 250 * time.Millisecond
	probeMaxDelay     = 2 * time.Second

	// Daytona fronts fresh sandboxes with an interstitial warning page.
	// This header tells the proxy to skip it and hit the app directly.
	daytonaSkipWarningHeader = "X-Daytona-Skip-Preview-Warning"
)

type probeResult struct {
	Healthy bool
	Reason  string
}

// HealthChecker probes preview URLs over plain HTTP.
type HealthChecker struct {
	client  *http.Client
	timeout time.Duration
}

func NewHealthChecker(config cfg.Config) *HealthChecker {
	return &HealthChecker{
		client:  &http.Client{},
		timeout: config.PreviewProbeTimeout,
	}
}

// EnsureHealthy probes the preview endpoint until it answers with a 2xx,
// bounded by the configured probe timeout. overrideURL takes precedence
// over the URL stored on the handle. On failure the returned error embeds
// the last probe's reason verbatim.
func (c *HealthChecker) EnsureHealthy(ctx context.Context, handle *sandbox.Handle, overrideURL string) error {
	url := overrideURL
	if url == "" {
		url = handle.PreviewURL
	}

	if url == "" {
		return &sandbox.PreviewUnhealthyError{URL: url, Reason: "no preview URL available"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var last probeResult

	retrier := retry.NewRetrier(probeAttempts, probeInitialDelay, probeMaxDelay)
	err := retrier.RunContext(probeCtx, func(ctx context.Context) error {
		last = c.probe(ctx, url, handle.ProviderKind)
		if last.Healthy {
			return nil
		}

		return errors.New(last.Reason)
	})
	if err != nil {
		reason := last.Reason
		if reason == "" {
			reason = err.Error()
		}

		zap.L().Warn("Preview endpoint is not healthy",
			logger.WithSandboxID(handle.SandboxID),
			zap.String("preview_url", url),
			zap.String("reason", reason),
		)

		return &sandbox.PreviewUnhealthyError{URL: url, Reason: reason}
	}

	return nil
}

func (c *HealthChecker) probe(ctx context.Context, url string, kind sandbox.ProviderKind) probeResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return probeResult{Reason: fmt.Sprintf("invalid preview URL: %s", err)}
	}

	if kind == sandbox.ProviderDaytona {
		req.Header.Set(daytonaSkipWarningHeader, "true")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return probeResult{Reason: fmt.Sprintf("Timeout after %dms", c.timeout.Milliseconds())}
		}

		return probeResult{Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return probeResult{Reason: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	return probeResult{Healthy: true}
}
