package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	apperrors "github.com/spec-kit/account-workflows/pkg/util/errorutil"
)

// RequestLogger logs every request and records its metrics. The route
// template is used as the metric label to keep cardinality bounded.
func RequestLogger(logger *zap.Logger, metrics *Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		elapsed := time.Since(start)

		status := c.Response().StatusCode()
		var (
			fiberErr  *fiber.Error
			domainErr *apperrors.DomainError
		)
		switch {
		case errors.As(err, &fiberErr):
			status = fiberErr.Code
		case errors.As(err, &domainErr):
			status = domainErr.HTTPStatus
		case err != nil:
			status = http.StatusInternalServerError
		}
		metrics.RecordRequest(RouteLabel(c), c.Method(), status, elapsed)

		logger.Info("request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
			zap.String("ip", c.IP()),
		)
		return err
	}
}

// RouteLabel returns the matched route template, or the raw path when no
// route matched.
func RouteLabel(c *fiber.Ctx) string {
	if r := c.Route(); r != nil && r.Path != "" {
		return r.Path
	}
	return c.Path()
}
