package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/service"
)

// NotificationHandler exposes the per-user notification feed.
type NotificationHandler struct {
	notifications *service.NotificationService
}

// NewNotificationHandler creates the handler.
func NewNotificationHandler(notifications *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// List handles GET /api/v1/notifications.
func (h *NotificationHandler) List(c *fiber.Ctx) error {
	items, err := h.notifications.ListForUser(c.UserContext(), auth.ActorFrom(c).ID,
		c.QueryBool("unread_only", false), c.QueryInt("limit", 50), c.QueryInt("offset", 0))
	if err != nil {
		return err
	}
	return c.JSON(items)
}

// UnreadCount handles GET /api/v1/notifications/unread-count.
func (h *NotificationHandler) UnreadCount(c *fiber.Ctx) error {
	count, err := h.notifications.UnreadCount(c.UserContext(), auth.ActorFrom(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"count": count})
}

// MarkRead handles POST /api/v1/notifications/:id/read.
func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	if err := h.notifications.MarkRead(c.UserContext(), auth.ActorFrom(c).ID, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MarkAllRead handles POST /api/v1/notifications/read-all.
func (h *NotificationHandler) MarkAllRead(c *fiber.Ctx) error {
	if err := h.notifications.MarkAllRead(c.UserContext(), auth.ActorFrom(c).ID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Delete handles DELETE /api/v1/notifications/:id.
func (h *NotificationHandler) Delete(c *fiber.Ctx) error {
	if err := h.notifications.Delete(c.UserContext(), auth.ActorFrom(c).ID, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
