package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
)

const (
	clientRetryMax     = 3
	clientRetryWaitMin = 500 * time.Millisecond
	clientRetryWaitMax = 5 * time.Second
)

var errNotFound = errors.New("not found")

func newRetryableClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = clientRetryMax
	client.RetryWaitMin = clientRetryWaitMin
	client.RetryWaitMax = clientRetryWaitMax
	client.Logger = nil

	// Per-call deadlines come from the request context, not the client.
	client.HTTPClient.Timeout = 0

	return client
}

// doJSON performs a JSON round trip against a provider API and decodes the
// response into out when it is non-nil. A 404 maps to errNotFound so call
// sites can attach the missing resource's identity.
func doJSON(ctx context.Context, client *retryablehttp.Client, kind sandbox.ProviderKind, method, url string, headers http.Header, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}

		reader = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return err
		}

		return &sandbox.ProviderUnavailableError{Provider: kind, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode >= http.StatusBadRequest:
		data, _ := io.ReadAll(resp.Body)

		return fmt.Errorf("%s API error (status %d): %s", kind, resp.StatusCode, data)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
