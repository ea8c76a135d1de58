// Package ports declares the external collaborators the orchestrator drives.
// Every field the orchestrator may set on an external record is declared in
// a typed request struct.
package ports

import (
	"context"
	"time"

	"github.com/coreman27/infra/internal/models"
)

// ContractStore is the query/mutate port onto the external data layer.
type ContractStore interface {
	// GetContract returns store.ErrNotFound when the contract does not exist.
	GetContract(ctx context.Context, id string) (*models.Contract, error)
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	// CreateContract succeeds without change when the id already exists.
	CreateContract(ctx context.Context, c *models.Contract) error
	// UpdateStatus applies the change only when the current status is one of
	// from, and reports whether a row changed.
	UpdateStatus(ctx context.Context, id string, from []models.ContractStatus, to models.ContractStatus) (bool, error)
	UpdateFields(ctx context.Context, id string, update ContractFieldUpdate) error
	HasUpfrontOption(ctx context.Context, itemPriceID string) (bool, error)
}

// ContractFieldUpdate lists the contract columns the orchestrator may write.
// Nil fields are left untouched.
type ContractFieldUpdate struct {
	AutoRenew *bool
	EndDate   *time.Time
}

// SubscriptionMetadata is the contract reference kept on a billing
// subscription. Nil values clear the field.
type SubscriptionMetadata struct {
	ContractID     *string `json:"contract_id"`
	ContractLength *int    `json:"contract_length"`
}

// ContractMetadata builds metadata pointing at a contract.
func ContractMetadata(contractID string, lengthMonths int) SubscriptionMetadata {
	return SubscriptionMetadata{ContractID: &contractID, ContractLength: &lengthMonths}
}

type Billing interface {
	UpdateSubscriptionMetadata(ctx context.Context, subscriptionID string, meta SubscriptionMetadata) error
	ResetToBaselinePrice(ctx context.Context, subscriptionID string) error
}

type Notifier interface {
	TriggerWorkflow(ctx context.Context, workflowID, recipient string, data map[string]any) error
	TrackEvent(ctx context.Context, recipient, eventName string, data map[string]any) error
}

// TicketPriority values accepted by the ticketing port.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

type Ticket struct {
	Subject      string            `json:"subject"`
	Description  string            `json:"description"`
	Requester    string            `json:"requester"`
	Priority     string            `json:"priority"`
	Tags         []string          `json:"tags"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

type Ticketing interface {
	CreateTicket(ctx context.Context, t Ticket) error
}

// Task is a deferred callback request. Name is the deduplication key.
type Task struct {
	Name       string
	Purpose    string
	ContractID string
	TargetURL  string
	Payload    map[string]any
	FireAt     time.Time
}

type TaskScheduler interface {
	// Schedule succeeds without change when a task with the same name exists.
	Schedule(ctx context.Context, task Task) error
}

type EventBus interface {
	Publish(ctx context.Context, event models.DomainEvent) error
}
