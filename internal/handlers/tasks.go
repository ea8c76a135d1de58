package handlers

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/coreman27/infra/internal/contract"
	"github.com/coreman27/infra/internal/scheduler"
	"github.com/coreman27/infra/internal/sideeffect"
)

// Renewer is satisfied by contract.Machine.
type Renewer interface {
	Renew(ctx context.Context, contractID string) (contract.RenewalResult, error)
}

// TasksHandler receives scheduled task callbacks
type TasksHandler struct {
	Renewer Renewer
	Secret  string
	Logger  *zap.Logger
}

func NewTasksHandler(r Renewer, secret string, logger *zap.Logger) *TasksHandler {
	return &TasksHandler{Renewer: r, Secret: secret, Logger: logger}
}

type renewalRequest struct {
	ContractID string `json:"contractId"`
}

// Renewal handles POST /tasks/renewal. Only transient failures answer 500,
// which makes the task runner retry.
func (h *TasksHandler) Renewal(c *fiber.Ctx) error {
	body := c.Body()
	if !scheduler.VerifySignature(body, h.Secret, c.Get(scheduler.SignatureHeader)) {
		h.Logger.Warn("Rejected task callback with invalid signature",
			zap.String("task_name", c.Get(scheduler.TaskNameHeader)),
			zap.String("ip", c.IP()),
		)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid signature",
		})
	}

	var req renewalRequest
	if err := json.Unmarshal(body, &req); err != nil || req.ContractID == "" {
		h.Logger.Error("Dropping renewal task with unusable payload",
			zap.String("task_name", c.Get(scheduler.TaskNameHeader)),
			zap.ByteString("payload", body),
		)
		return c.JSON(fiber.Map{"status": "rejected"})
	}

	result, err := h.Renewer.Renew(c.UserContext(), req.ContractID)
	if err != nil {
		if sideeffect.IsPermanent(err) {
			h.Logger.Error("Renewal failed permanently",
				zap.String("contract_id", req.ContractID),
				zap.Error(err),
			)
			return c.JSON(fiber.Map{"status": "failed", "contract_id": req.ContractID})
		}
		h.Logger.Error("Renewal failed, task will be retried",
			zap.String("contract_id", req.ContractID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "renewal failed",
		})
	}

	return c.JSON(fiber.Map{
		"status":       string(result.Action),
		"contract_id":  result.ContractID,
		"successor_id": result.SuccessorID,
	})
}
