package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-engine/internal/api/dto"
	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/service"
	"github.com/spec-kit/helpdesk-engine/pkg/util"
)

// AuthHandler exposes registration and login.
type AuthHandler struct {
	authSvc *service.AuthService
}

// NewAuthHandler creates the handler.
func NewAuthHandler(authSvc *service.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid request body", nil)
	}
	result, err := h.authSvc.Register(c.UserContext(), req.Name, req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(dto.AuthResponse{
		User:  dto.NewUserResponse(result.User),
		Token: result.Token,
	})
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid request body", nil)
	}
	result, err := h.authSvc.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(dto.AuthResponse{
		User:  dto.NewUserResponse(result.User),
		Token: result.Token,
	})
}

// Me handles GET /api/v1/auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	actor := auth.ActorFrom(c)
	if actor == nil {
		return util.NewUnauthorized("not authenticated")
	}
	return c.JSON(dto.NewUserResponse(actor))
}
