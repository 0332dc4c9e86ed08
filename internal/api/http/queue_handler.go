package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-engine/internal/api/dto"
	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/service"
)

// QueueHandler exposes the personal work queue.
type QueueHandler struct {
	queueSvc *service.QueueService
}

// NewQueueHandler creates the handler.
func NewQueueHandler(queueSvc *service.QueueService) *QueueHandler {
	return &QueueHandler{queueSvc: queueSvc}
}

// MyQueue handles GET /api/v1/queue. The listing always reconciles first,
// so the response reflects current eligibility.
func (h *QueueHandler) MyQueue(c *fiber.Ctx) error {
	filter := service.QueueFilter{
		Sort: service.QueueSort(c.Query("sort", string(service.QueueSortNewest))),
	}
	if departmentID := c.Query("department_id"); departmentID != "" {
		filter.DepartmentID = &departmentID
	}
	if priority := c.Query("priority"); priority != "" {
		p := domain.TicketPriority(priority)
		filter.Priority = &p
	}

	items, stats, err := h.queueSvc.MyQueue(c.UserContext(), auth.ActorFrom(c), filter)
	if err != nil {
		return err
	}
	return c.JSON(dto.NewQueueResponse(items, stats))
}

// Size handles GET /api/v1/queue/size.
func (h *QueueHandler) Size(c *fiber.Ctx) error {
	size, err := h.queueSvc.QueueSize(c.UserContext(), auth.ActorFrom(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"size": size})
}

// Sync handles POST /api/v1/queue/sync.
func (h *QueueHandler) Sync(c *fiber.Ctx) error {
	if err := h.queueSvc.SyncForUser(c.UserContext(), auth.ActorFrom(c).ID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
