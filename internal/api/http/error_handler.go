package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/api/dto"
	"github.com/spec-kit/helpdesk-engine/internal/observability"
	"github.com/spec-kit/helpdesk-engine/pkg/util"
)

// NewErrorHandler maps every error escaping a handler onto the uniform
// error envelope. DomainError carries its own status; anything else is a 500
// with the cause kept out of the response body.
func NewErrorHandler(logger *zap.Logger, metrics *observability.Metrics) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(dto.ErrorResponse{
				Code:    "HTTP_ERROR",
				Message: fiberErr.Message,
			})
		}

		domainErr := util.ToDomainError(err)
		if domainErr.HTTPStatus >= fiber.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("path", c.Path()),
				zap.String("method", c.Method()),
				zap.Error(err))
		}
		if metrics != nil {
			metrics.RecordError(c.Path(), c.Method(), domainErr.Code)
		}
		return c.Status(domainErr.HTTPStatus).JSON(dto.ErrorResponse{
			Code:    domainErr.Code,
			Message: domainErr.Message,
			Details: domainErr.Details,
		})
	}
}
