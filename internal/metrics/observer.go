// Package metrics publishes the orchestrator's operational counters. The
// registry handle gauge is observed from the registry itself so it stays
// correct across replicas and restarts.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/appmint-dev/sandbox-orchestrator/internal/registry"
	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/telemetry"
)

const meterName = "orchestrator.metrics"

type Observer struct {
	sandboxCreated   metric.Int64Counter
	sandboxRecovered metric.Int64Counter
	snapshotCreated  metric.Int64Counter
	deployStarted    metric.Int64Counter
	sandboxRunning   metric.Int64UpDownCounter
}

func NewObserver(meterProvider metric.MeterProvider, reg registry.SandboxRegistry) (*Observer, error) {
	meter := meterProvider.Meter(meterName)

	sandboxCreated, err := telemetry.GetCounter(meter, telemetry.SandboxCreateMeterName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox created counter: %w", err)
	}

	sandboxRecovered, err := telemetry.GetCounter(meter, telemetry.SandboxRecoveredMeterName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox recovered counter: %w", err)
	}

	snapshotCreated, err := telemetry.GetCounter(meter, telemetry.SnapshotCreateMeterName)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot created counter: %w", err)
	}

	deployStarted, err := telemetry.GetCounter(meter, telemetry.DeployStartedMeterName)
	if err != nil {
		return nil, fmt.Errorf("failed to create deploy started counter: %w", err)
	}

	sandboxRunning, err := telemetry.GetUpDownCounter(meter, telemetry.SandboxCountMeterName)
	if err != nil {
		return nil, fmt.Errorf("failed to create running sandbox counter: %w", err)
	}

	_, err = telemetry.GetObservableUpDownCounter(meter, telemetry.RegistryHandleCountMeterName,
		func(ctx context.Context, observer metric.Int64Observer) error {
			handles, err := reg.ListHandles(ctx)
			if err != nil {
				return fmt.Errorf("failed to list sandbox handles: %w", err)
			}

			observer.Observe(int64(len(handles)))

			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry handle counter: %w", err)
	}

	return &Observer{
		sandboxCreated:   sandboxCreated,
		sandboxRecovered: sandboxRecovered,
		snapshotCreated:  snapshotCreated,
		deployStarted:    deployStarted,
		sandboxRunning:   sandboxRunning,
	}, nil
}

func (o *Observer) SandboxCreated(ctx context.Context, kind sandbox.ProviderKind) {
	o.sandboxCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("provider.kind", string(kind))))
	o.sandboxRunning.Add(ctx, 1)
}

func (o *Observer) SandboxDeleted(ctx context.Context) {
	o.sandboxRunning.Add(ctx, -1)
}

func (o *Observer) SandboxRecovered(ctx context.Context) {
	o.sandboxRecovered.Add(ctx, 1)
}

func (o *Observer) SnapshotCreated(ctx context.Context) {
	o.snapshotCreated.Add(ctx, 1)
}

func (o *Observer) DeployStarted(ctx context.Context) {
	o.deployStarted.Add(ctx, 1)
}
