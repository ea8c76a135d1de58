package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/coreman27/infra/internal/database"
)

// BrokerHealth is satisfied by rabbitmq.Connection.
type BrokerHealth interface {
	IsHealthy() bool
}

// HealthHandler reports the state of the service's dependencies
type HealthHandler struct {
	DB  *gorm.DB
	RMQ BrokerHealth
}

// NewHealthHandler creates a health handler. rmq may be nil when no broker
// is configured.
func NewHealthHandler(db *gorm.DB, rmq BrokerHealth) *HealthHandler {
	return &HealthHandler{DB: db, RMQ: rmq}
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// HealthCheck handles GET /health
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	services := make(map[string]string)
	status := "healthy"

	if err := database.HealthCheck(ctx, h.DB); err != nil {
		services["database"] = "unhealthy: " + err.Error()
		status = "unhealthy"
	} else {
		services["database"] = "healthy"
	}

	switch {
	case h.RMQ == nil:
		services["rabbitmq"] = "disabled"
	case !h.RMQ.IsHealthy():
		services["rabbitmq"] = "unhealthy: connection closed"
		status = "unhealthy"
	default:
		services["rabbitmq"] = "healthy"
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
	}

	if status == "unhealthy" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(response)
	}
	return c.JSON(response)
}
