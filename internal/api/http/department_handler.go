package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-engine/internal/api/dto"
	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/service"
	"github.com/spec-kit/helpdesk-engine/pkg/util"
)

// DepartmentHandler exposes department and membership management.
type DepartmentHandler struct {
	directory *service.DirectoryService
}

// NewDepartmentHandler creates the handler.
func NewDepartmentHandler(directory *service.DirectoryService) *DepartmentHandler {
	return &DepartmentHandler{directory: directory}
}

// Create handles POST /api/v1/departments.
func (h *DepartmentHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateDepartmentRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid request body", nil)
	}
	department, err := h.directory.CreateDepartment(c.UserContext(), auth.ActorFrom(c),
		req.Name, req.Code, req.Description, req.Email)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(department)
}

// List handles GET /api/v1/departments.
func (h *DepartmentHandler) List(c *fiber.Ctx) error {
	departments, err := h.directory.ListDepartments(c.UserContext(), c.QueryBool("active_only", true))
	if err != nil {
		return err
	}
	return c.JSON(departments)
}

// AddMember handles POST /api/v1/departments/:id/members.
func (h *DepartmentHandler) AddMember(c *fiber.Ctx) error {
	var req dto.AddMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid request body", nil)
	}
	if req.UserID == "" {
		return util.NewValidationError("user_id is required", map[string]any{"field": "user_id"})
	}
	membership, err := h.directory.AddMember(c.UserContext(), auth.ActorFrom(c), c.Params("id"), req.UserID, req.Role)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(membership)
}

// RemoveMember handles DELETE /api/v1/departments/:id/members/:userId.
func (h *DepartmentHandler) RemoveMember(c *fiber.Ctx) error {
	if err := h.directory.RemoveMember(c.UserContext(), auth.ActorFrom(c), c.Params("id"), c.Params("userId")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListMembers handles GET /api/v1/departments/:id/members.
func (h *DepartmentHandler) ListMembers(c *fiber.Ctx) error {
	members, err := h.directory.ListMembers(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(members)
}
