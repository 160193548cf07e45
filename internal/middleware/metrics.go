package middleware

import (
	"time"

	"storefront-service/prometheus"

	"github.com/labstack/echo/v4"
)

// MetricsMiddleware adds prometheus metrics to track HTTP requests. It must
// run outside the request logger so the error handler has already written
// the status it reads.
func MetricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()

		err := next(c)

		path := c.Path()
		if path == "" {
			path = "unmatched"
		}
		prometheus.ObserveHTTPRequest(c.Request().Method, path, c.Response().Status, time.Since(start))

		return err
	}
}
