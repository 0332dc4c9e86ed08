package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-engine/internal/api/dto"
	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	"github.com/spec-kit/helpdesk-engine/internal/service"
	"github.com/spec-kit/helpdesk-engine/pkg/util"
)

// TicketHandler exposes ticket lifecycle operations.
type TicketHandler struct {
	lifecycle *service.LifecycleService
	rejection *service.RejectionService
}

// NewTicketHandler creates the handler.
func NewTicketHandler(lifecycle *service.LifecycleService, rejection *service.RejectionService) *TicketHandler {
	return &TicketHandler{lifecycle: lifecycle, rejection: rejection}
}

// Create handles POST /api/v1/tickets.
func (h *TicketHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid request body", nil)
	}
	ticket, err := h.lifecycle.Create(c.UserContext(), auth.ActorFrom(c), service.CreateTicketInput{
		Title:        req.Title,
		Description:  req.Description,
		Priority:     domain.TicketPriority(req.Priority),
		DepartmentID: req.DepartmentID,
		DueDate:      req.DueDate,
		SimilarToID:  req.SimilarToID,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(dto.NewTicketResponse(ticket))
}

// List handles GET /api/v1/tickets.
func (h *TicketHandler) List(c *fiber.Ctx) error {
	filter := repository.TicketFilter{
		Limit:  c.QueryInt("limit", 20),
		Offset: c.QueryInt("offset", 0),
	}
	if status := c.Query("status"); status != "" {
		filter.Statuses = []domain.TicketStatus{domain.TicketStatus(status)}
	}
	if priority := c.Query("priority"); priority != "" {
		filter.Priorities = []domain.TicketPriority{domain.TicketPriority(priority)}
	}
	if departmentID := c.Query("department_id"); departmentID != "" {
		filter.DepartmentID = &departmentID
	}
	if search := c.Query("search"); search != "" {
		filter.SearchTerm = &search
	}

	tickets, err := h.lifecycle.List(c.UserContext(), auth.ActorFrom(c), filter)
	if err != nil {
		return err
	}
	out := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		out = append(out, dto.NewTicketResponse(&tickets[i]))
	}
	return c.JSON(out)
}

// Get handles GET /api/v1/tickets/:id.
func (h *TicketHandler) Get(c *fiber.Ctx) error {
	view, err := h.lifecycle.View(c.UserContext(), auth.ActorFrom(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketDetailResponse(view))
}

// History handles GET /api/v1/tickets/:id/history.
func (h *TicketHandler) History(c *fiber.Ctx) error {
	entries, err := h.lifecycle.History(c.UserContext(), auth.ActorFrom(c), c.Params("id"),
		c.QueryInt("limit", 50), c.QueryInt("offset", 0))
	if err != nil {
		return err
	}
	out := make([]dto.HistoryEntryResponse, 0, len(entries))
	for i := range entries {
		out = append(out, dto.NewHistoryEntryResponse(&entries[i]))
	}
	return c.JSON(out)
}

// Assign handles POST /api/v1/tickets/:id/assign.
func (h *TicketHandler) Assign(c *fiber.Ctx) error {
	var req dto.AssignTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid request body", nil)
	}
	if req.AssigneeID == "" {
		return util.NewValidationError("assignee_id is required", map[string]any{"field": "assignee_id"})
	}
	ticket, err := h.lifecycle.AssignToUser(c.UserContext(), auth.ActorFrom(c), c.Params("id"), req.AssigneeID)
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketResponse(ticket))
}

// Claim handles POST /api/v1/tickets/:id/claim.
func (h *TicketHandler) Claim(c *fiber.Ctx) error {
	ticket, err := h.lifecycle.Claim(c.UserContext(), auth.ActorFrom(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketResponse(ticket))
}

// Reject handles POST /api/v1/tickets/:id/reject.
func (h *TicketHandler) Reject(c *fiber.Ctx) error {
	var req dto.RejectTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid request body", nil)
	}
	outcome, err := h.rejection.Reject(c.UserContext(), auth.ActorFrom(c), c.Params("id"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(dto.RejectResponse{
		RemovedFromQueue: outcome.RemovedFromQueue,
		WasAssignee:      outcome.WasAssignee,
		AutoAssigneeID:   outcome.AutoAssigneeID,
	})
}

// Close handles POST /api/v1/tickets/:id/close.
func (h *TicketHandler) Close(c *fiber.Ctx) error {
	ticket, err := h.lifecycle.Close(c.UserContext(), auth.ActorFrom(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketResponse(ticket))
}

// Resolve handles POST /api/v1/tickets/:id/resolve.
func (h *TicketHandler) Resolve(c *fiber.Ctx) error {
	ticket, err := h.lifecycle.Resolve(c.UserContext(), auth.ActorFrom(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketResponse(ticket))
}

// Reopen handles POST /api/v1/tickets/:id/reopen.
func (h *TicketHandler) Reopen(c *fiber.Ctx) error {
	ticket, err := h.lifecycle.Reopen(c.UserContext(), auth.ActorFrom(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketResponse(ticket))
}

// Delete handles DELETE /api/v1/tickets/:id.
func (h *TicketHandler) Delete(c *fiber.Ctx) error {
	if err := h.lifecycle.Delete(c.UserContext(), auth.ActorFrom(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UpdatePriority handles PATCH /api/v1/tickets/:id/priority.
func (h *TicketHandler) UpdatePriority(c *fiber.Ctx) error {
	var req dto.UpdatePriorityRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid request body", nil)
	}
	ticket, err := h.lifecycle.UpdatePriority(c.UserContext(), auth.ActorFrom(c), c.Params("id"),
		domain.TicketPriority(req.Priority))
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketResponse(ticket))
}

// Reroute handles PATCH /api/v1/tickets/:id/department.
func (h *TicketHandler) Reroute(c *fiber.Ctx) error {
	var req dto.RerouteTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid request body", nil)
	}
	ticket, err := h.lifecycle.Reroute(c.UserContext(), auth.ActorFrom(c), c.Params("id"), req.DepartmentID)
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketResponse(ticket))
}
