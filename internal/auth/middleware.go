package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/account-workflows/internal/domain"
	"github.com/spec-kit/account-workflows/internal/repository"
	apperrors "github.com/spec-kit/account-workflows/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens *TokenManager
	staff  repository.StaffDirectory
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, staff repository.StaffDirectory) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, staff: staff}
}

// Handle enforces authentication for protected routes. Tokens may also be
// passed as an access_token query parameter for event streams.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	raw, err := bearerToken(c)
	if err != nil {
		return err
	}

	claims, err := m.tokens.ParseToken(raw)
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	staff, err := m.staff.GetByID(c.UserContext(), claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewUnauthorized("staff not found")
		}
		return apperrors.NewStoreError("load staff", claims.Subject, err)
	}
	if !staff.Active {
		return apperrors.NewUnauthorized("staff member is inactive")
	}

	c.Locals(principalKey, domain.Principal{ID: staff.ID, Name: staff.Name, Role: staff.Role})
	return c.Next()
}

func bearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		if token := c.Query("access_token"); token != "" {
			return token, nil
		}
		return "", apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", apperrors.NewUnauthorized("invalid authorization header")
	}
	return parts[1], nil
}

// PrincipalFromContext retrieves the authenticated caller.
func PrincipalFromContext(c *fiber.Ctx) (domain.Principal, bool) {
	principal, ok := c.Locals(principalKey).(domain.Principal)
	return principal, ok
}
