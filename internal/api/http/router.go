package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/account-workflows/internal/api/http/handlers"
	"github.com/spec-kit/account-workflows/internal/auth"
	"github.com/spec-kit/account-workflows/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Closures       *handlers.ClosureHandler
	Tickets        *handlers.TicketsHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        http.Handler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	api := app.Group("/api/v1", cfg.AuthMiddleware.Handle, auth.RequireRole())
	governor := auth.RequireRole(domain.RoleGovernor)

	api.Post("/closures", auth.RequireRole(domain.RoleAdmin), cfg.Closures.Create)
	api.Post("/closures/sweep", governor, cfg.Closures.Sweep)
	api.Post("/closures/:id/approve", governor, cfg.Closures.Approve)
	api.Post("/closures/:id/reject", governor, cfg.Closures.Reject)
	api.Get("/investors/:id/closure", cfg.Closures.Current)
	api.Get("/investors/:id/closure/stream", cfg.Closures.Stream)
	api.Get("/investors/:id/standing", cfg.Closures.Standing)

	api.Post("/tickets", cfg.Tickets.CreateTicket)
	api.Get("/tickets", cfg.Tickets.ListTickets)
	api.Get("/tickets/stream", cfg.Tickets.Stream)
	api.Get("/tickets/:id", cfg.Tickets.GetTicket)
	api.Post("/tickets/:id/responses", cfg.Tickets.AddResponse)
	api.Patch("/tickets/:id/status", governor, cfg.Tickets.UpdateStatus)
	api.Post("/tickets/:id/assign", governor, cfg.Tickets.Assign)
	api.Post("/tickets/:id/escalate", cfg.Tickets.Escalate)
	api.Patch("/tickets/:id/priority", governor, cfg.Tickets.UpdatePriority)
	api.Get("/tickets/:id/audit", cfg.Tickets.AuditTrail)
	api.Get("/tickets/:id/audit/verify", governor, cfg.Tickets.VerifyAuditTrail)
}
