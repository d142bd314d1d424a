package middleware

import (
	"time"

	applogger "CripteX/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs every request at debug level, client errors at info
// and server errors at warn. Route templates are logged instead of raw URLs.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			res := c.Response()
			fields := []applogger.Field{
				applogger.String("method", c.Request().Method),
				applogger.String("route", routeOf(c)),
				applogger.Int("status", res.Status),
				applogger.String("remote", c.RealIP()),
				applogger.Duration("latency_ms", time.Since(start)),
			}

			switch {
			case res.Status >= 500:
				l.Warn("http request", fields...)
			case res.Status >= 400:
				l.Info("http request", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}

func routeOf(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return c.Request().URL.Path
}
