package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	"google.golang.org/grpc/encoding/gzip"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type (
	CounterType                 string
	UpDownCounterType           string
	ObservableUpDownCounterType string
	HistogramType               string
)

const (
	SandboxCreateMeterName    CounterType = "orchestrator.sandbox.created"
	SandboxRecoveredMeterName CounterType = "orchestrator.sandbox.recovered"
	SnapshotCreateMeterName   CounterType = "orchestrator.snapshot.created"
	DeployStartedMeterName    CounterType = "orchestrator.deploy.started"
)

const (
	SandboxCountMeterName UpDownCounterType = "orchestrator.sandbox.running"
)

const (
	RegistryHandleCountMeterName ObservableUpDownCounterType = "orchestrator.registry.handles"
)

const (
	APIRequestDurationMeterName HistogramType = "orchestrator.api.request.duration"
)

var counterDesc = map[CounterType]string{
	SandboxCreateMeterName:    "Number of sandboxes created.",
	SandboxRecoveredMeterName: "Number of sandboxes recovered after a failed health probe.",
	SnapshotCreateMeterName:   "Number of filesystem snapshots created.",
	DeployStartedMeterName:    "Number of deployments started.",
}

var counterUnits = map[CounterType]string{
	SandboxCreateMeterName:    "{sandbox}",
	SandboxRecoveredMeterName: "{sandbox}",
	SnapshotCreateMeterName:   "{snapshot}",
	DeployStartedMeterName:    "{deploy}",
}

var upDownCounterDesc = map[UpDownCounterType]string{
	SandboxCountMeterName: "Counter of running sandboxes.",
}

var upDownCounterUnits = map[UpDownCounterType]string{
	SandboxCountMeterName: "{sandbox}",
}

var observableUpDownCounterDesc = map[ObservableUpDownCounterType]string{
	RegistryHandleCountMeterName: "Counter of sandbox handles tracked in the registry.",
}

var observableUpDownCounterUnits = map[ObservableUpDownCounterType]string{
	RegistryHandleCountMeterName: "{handle}",
}

var histogramDesc = map[HistogramType]string{
	APIRequestDurationMeterName: "Duration of handled API requests.",
}

var histogramUnits = map[HistogramType]string{
	APIRequestDurationMeterName: "ms",
}

func GetCounter(meter metric.Meter, name CounterType) (metric.Int64Counter, error) {
	desc := counterDesc[name]
	unit := counterUnits[name]
	return meter.Int64Counter(string(name),
		metric.WithDescription(desc),
		metric.WithUnit(unit),
	)
}

func GetUpDownCounter(meter metric.Meter, name UpDownCounterType) (metric.Int64UpDownCounter, error) {
	desc := upDownCounterDesc[name]
	unit := upDownCounterUnits[name]
	return meter.Int64UpDownCounter(string(name),
		metric.WithDescription(desc),
		metric.WithUnit(unit),
	)
}

func GetHistogram(meter metric.Meter, name HistogramType) (metric.Int64Histogram, error) {
	desc := histogramDesc[name]
	unit := histogramUnits[name]
	return meter.Int64Histogram(string(name),
		metric.WithDescription(desc),
		metric.WithUnit(unit),
	)
}

func GetObservableUpDownCounter(meter metric.Meter, name ObservableUpDownCounterType, callback metric.Int64Callback) (metric.Int64ObservableUpDownCounter, error) {
	desc := observableUpDownCounterDesc[name]
	unit := observableUpDownCounterUnits[name]
	return meter.Int64ObservableUpDownCounter(string(name),
		metric.WithDescription(desc),
		metric.WithUnit(unit),
		metric.WithInt64Callback(callback),
	)
}

type noopMetricExporter struct{}

func (noopMetricExporter) Temporality(kind sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(kind)
}

func (noopMetricExporter) Aggregation(kind sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(kind)
}

func (noopMetricExporter) Export(context.Context, *metricdata.ResourceMetrics) error { return nil }

func (noopMetricExporter) ForceFlush(context.Context) error { return nil }

func (noopMetricExporter) Shutdown(context.Context) error { return nil }

func NewMeterExporter(ctx context.Context, extraOption ...otlpmetricgrpc.Option) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithEndpoint(OtelCollectorGRPCEndpoint),
		otlpmetricgrpc.WithCompressor(gzip.Name),
	}
	opts = append(opts, extraOption...)

	return otlpmetricgrpc.New(ctx, opts...)
}

func NewMeterProvider(exporter sdkmetric.Exporter, exportPeriod time.Duration, res *resource.Resource) metric.MeterProvider {
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(
				exporter,
				sdkmetric.WithInterval(exportPeriod),
			),
		),
	)
}
