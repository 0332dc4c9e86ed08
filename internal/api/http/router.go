package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/config"
	"github.com/spec-kit/helpdesk-engine/internal/observability"
	"github.com/spec-kit/helpdesk-engine/internal/persistence"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	"github.com/spec-kit/helpdesk-engine/internal/service"
)

// ServerDeps bundles everything the HTTP surface needs.
type ServerDeps struct {
	Config        *config.Config
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	Postgres      *persistence.Postgres
	Users         repository.UserRepository
	Tokens        *auth.TokenManager
	AuthSvc       *service.AuthService
	Lifecycle     *service.LifecycleService
	Rejection     *service.RejectionService
	QueueSvc      *service.QueueService
	Directory     *service.DirectoryService
	Notifications *service.NotificationService
}

// NewServer builds the Fiber app with all routes registered.
func NewServer(deps ServerDeps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      deps.Config.App.Name,
		ReadTimeout:  deps.Config.App.RequestTimeout(),
		WriteTimeout: deps.Config.App.RequestTimeout(),
		ErrorHandler: NewErrorHandler(deps.Logger, deps.Metrics),
	})

	app.Use(recover.New())
	app.Use(observability.RequestLogger(deps.Logger, deps.Metrics))

	app.Get("/healthz", healthHandler(deps))

	api := app.Group("/api/v1")

	authHandler := NewAuthHandler(deps.AuthSvc)
	api.Post("/auth/register", authHandler.Register)
	api.Post("/auth/login", authHandler.Login)

	authed := api.Group("", auth.Middleware(deps.Tokens, deps.Users))
	authed.Get("/auth/me", authHandler.Me)

	ticketHandler := NewTicketHandler(deps.Lifecycle, deps.Rejection)
	tickets := authed.Group("/tickets")
	tickets.Post("", ticketHandler.Create)
	tickets.Get("", ticketHandler.List)
	tickets.Get("/:id", ticketHandler.Get)
	tickets.Delete("/:id", ticketHandler.Delete)
	tickets.Get("/:id/history", ticketHandler.History)
	tickets.Post("/:id/assign", ticketHandler.Assign)
	tickets.Post("/:id/claim", ticketHandler.Claim)
	tickets.Post("/:id/reject", ticketHandler.Reject)
	tickets.Post("/:id/close", ticketHandler.Close)
	tickets.Post("/:id/resolve", ticketHandler.Resolve)
	tickets.Post("/:id/reopen", ticketHandler.Reopen)
	tickets.Patch("/:id/priority", ticketHandler.UpdatePriority)
	tickets.Patch("/:id/department", ticketHandler.Reroute)

	queueHandler := NewQueueHandler(deps.QueueSvc)
	queue := authed.Group("/queue")
	queue.Get("", queueHandler.MyQueue)
	queue.Get("/size", queueHandler.Size)
	queue.Post("/sync", queueHandler.Sync)

	notificationHandler := NewNotificationHandler(deps.Notifications)
	notifications := authed.Group("/notifications")
	notifications.Get("", notificationHandler.List)
	notifications.Get("/unread-count", notificationHandler.UnreadCount)
	notifications.Post("/read-all", notificationHandler.MarkAllRead)
	notifications.Post("/:id/read", notificationHandler.MarkRead)
	notifications.Delete("/:id", notificationHandler.Delete)

	departmentHandler := NewDepartmentHandler(deps.Directory)
	departments := authed.Group("/departments")
	departments.Get("", departmentHandler.List)
	departments.Post("", auth.RequireAdmin(), departmentHandler.Create)
	departments.Get("/:id/members", departmentHandler.ListMembers)
	departments.Post("/:id/members", departmentHandler.AddMember)
	departments.Delete("/:id/members/:userId", departmentHandler.RemoveMember)

	return app
}

func healthHandler(deps ServerDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		status := "ok"
		code := fiber.StatusOK
		if err := deps.Postgres.Ping(ctx); err != nil {
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"status":  status,
			"version": deps.Config.App.Version,
		})
	}
}
