package middleware

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetricsMiddleware_RecordsRequestDuration(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	engine := gin.New()
	engine.Use(IncludeRoutes(MetricsMiddleware(provider, "test-api"), "/sandbox/:projectID"))
	engine.GET("/sandbox/:projectID", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	require.Equal(t, http.StatusOK, get(engine, "/sandbox/proj-1").Code)
	require.Equal(t, http.StatusOK, get(engine, "/health").Code)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &rm))

	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)
	assert.Equal(t, "orchestrator.api.request.duration", rm.ScopeMetrics[0].Metrics[0].Name)

	hist, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Histogram[int64])
	require.True(t, ok)

	// The /health request is outside the included routes, only the
	// sandbox request produced a data point.
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)

	route, ok := hist.DataPoints[0].Attributes.Value(attribute.Key("http.route"))
	require.True(t, ok)
	assert.Equal(t, "/sandbox/:projectID", route.AsString())

	status, ok := hist.DataPoints[0].Attributes.Value(attribute.Key("http.status_code"))
	require.True(t, ok)
	assert.Equal(t, int64(http.StatusOK), status.AsInt64())
}
