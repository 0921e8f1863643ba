// Package middleware carries the gin middleware shared by the HTTP server.
package middleware

import (
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls how requests are logged.
type Config struct {
	TimeFormat string
	UTC        bool
	// DefaultLevel is used for requests that finish without errors.
	DefaultLevel zapcore.Level
}

// LoggingMiddleware logs one line per finished request. Handler errors
// recorded on the context are logged with the request fields attached.
func LoggingMiddleware(l *zap.Logger, conf Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		end := time.Now()
		latency := end.Sub(start)
		if conf.UTC {
			end = end.UTC()
		}

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
			zap.Duration("latency", latency),
		}
		if conf.TimeFormat != "" {
			fields = append(fields, zap.String("time", end.Format(conf.TimeFormat)))
		}

		if len(c.Errors) > 0 {
			for _, e := range c.Errors.Errors() {
				l.Error(e, fields...)
			}

			return
		}

		l.Log(conf.DefaultLevel, path, fields...)
	}
}

// ExcludeRoutes runs the handler for every route except the listed ones.
// Routes are matched against the registered pattern, not the raw URL, so
// parameterized routes like "/sandbox/:projectID" can be excluded.
func ExcludeRoutes(handler gin.HandlerFunc, routes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if slices.Contains(routes, c.FullPath()) {
			c.Next()

			return
		}

		handler(c)
	}
}

// IncludeRoutes runs the handler only for the listed routes.
func IncludeRoutes(handler gin.HandlerFunc, routes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !slices.Contains(routes, c.FullPath()) {
			c.Next()

			return
		}

		handler(c)
	}
}
