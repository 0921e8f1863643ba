package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/appmint-dev/sandbox-orchestrator/pkg/telemetry"
)

// MetricsMiddleware records a duration histogram per handled request,
// tagged with method, route pattern and status code. Meant to be scoped to
// the expensive routes with IncludeRoutes rather than the whole surface.
func MetricsMiddleware(provider metric.MeterProvider, serviceName string) gin.HandlerFunc {
	meter := provider.Meter(serviceName)

	duration, err := telemetry.GetHistogram(meter, telemetry.APIRequestDurationMeterName)
	if err != nil {
		zap.L().Error("failed to create request duration histogram", zap.Error(err))

		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "nonconfigured"
		}

		start := time.Now()
		c.Next()

		duration.Record(c.Request.Context(), time.Since(start).Milliseconds(),
			metric.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", route),
				attribute.Int("http.status_code", c.Writer.Status()),
			),
		)
	}
}
