package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coreman27/infra/internal/handlers"
)

// RenewalPath is the callback path of renewal tasks.
const RenewalPath = "/tasks/renewal"

// Handlers groups the HTTP handlers the service exposes
type Handlers struct {
	Health *handlers.HealthHandler
	Push   *handlers.PushHandler
	Tasks  *handlers.TasksHandler
}

// SetupRoutes configures all application routes with dependencies
func SetupRoutes(app *fiber.App, h Handlers, gatherer prometheus.Gatherer) {
	app.Get("/health", h.Health.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Change notifications from the push transport
	app.Post("/events/push", h.Push.Push)

	// Scheduled task callbacks
	app.Post(RenewalPath, h.Tasks.Renewal)
}
