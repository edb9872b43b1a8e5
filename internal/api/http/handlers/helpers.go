package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/account-workflows/internal/api/dto"
	"github.com/spec-kit/account-workflows/internal/auth"
	"github.com/spec-kit/account-workflows/internal/domain"
	apperrors "github.com/spec-kit/account-workflows/pkg/util/errorutil"
)

func currentPrincipal(c *fiber.Ctx) (domain.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return domain.Principal{}, apperrors.NewUnauthorized("authentication required")
	}
	return principal, nil
}

// bind parses the JSON body into req and validates it.
func bind(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	return dto.Validate(req)
}
