package ports

import (
	"context"
	"fmt"

	"github.com/coreman27/infra/internal/config"
	"github.com/coreman27/infra/internal/sideeffect"
)

// TicketingClient opens support tickets.
type TicketingClient struct {
	client    *jsonClient
	requester string
}

func NewTicketingClient(cfg config.TicketingConfig) *TicketingClient {
	return &TicketingClient{
		client:    newJSONClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout),
		requester: cfg.Requester,
	}
}

func (t *TicketingClient) CreateTicket(ctx context.Context, ticket Ticket) error {
	if ticket.Subject == "" {
		return sideeffect.Permanent(fmt.Errorf("ticketing.create_ticket: subject is required"))
	}
	if ticket.Requester == "" {
		ticket.Requester = t.requester
	}
	if ticket.Priority == "" {
		ticket.Priority = PriorityNormal
	}
	return t.client.post(ctx, "ticketing.create_ticket", "/tickets", map[string]any{"ticket": ticket})
}

// TicketAlertSink turns operational alerts into high-priority tickets.
type TicketAlertSink struct {
	Tickets Ticketing
}

func (s TicketAlertSink) Raise(ctx context.Context, alert sideeffect.AlertSpec) error {
	description := alert.Detail
	if alert.Err != nil {
		description += "\n\nerror: " + alert.Err.Error()
	}
	return s.Tickets.CreateTicket(ctx, Ticket{
		Subject:     fmt.Sprintf("[contracts] %s for contract %s", alert.Kind, alert.ContractID),
		Description: description,
		Priority:    PriorityHigh,
		Tags:        []string{"contract-lifecycle", "metadata-drift"},
		CustomFields: map[string]string{
			"contract_id": alert.ContractID,
			"customer_id": alert.CustomerID,
			"alert_kind":  alert.Kind,
		},
	})
}
