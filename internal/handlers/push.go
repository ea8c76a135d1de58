package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/coreman27/infra/internal/envelope"
	"github.com/coreman27/infra/internal/ingest"
)

// EnvelopeProcessor is satisfied by ingest.Processor.
type EnvelopeProcessor interface {
	Process(ctx context.Context, raw []byte, decode ingest.DecodeFunc) ingest.Outcome
}

// PushHandler receives change notifications from the push transport
type PushHandler struct {
	Processor EnvelopeProcessor
}

func NewPushHandler(p EnvelopeProcessor) *PushHandler {
	return &PushHandler{Processor: p}
}

// Push handles POST /events/push. Any 2xx acknowledges the delivery; 500
// makes the transport redeliver it.
func (h *PushHandler) Push(c *fiber.Ctx) error {
	out := h.Processor.Process(c.UserContext(), c.Body(), envelope.DecodePush)

	status := fiber.StatusOK
	if !out.Ack {
		status = fiber.StatusInternalServerError
	}
	return c.Status(status).JSON(fiber.Map{
		"status":      out.Reason,
		"envelope_id": out.EnvelopeID,
	})
}
