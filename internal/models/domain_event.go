package models

import "time"

// Domain event types
const (
	EventContractActivated    = "contract.activated"
	EventContractCompleted    = "contract.completed"
	EventContractRenewed      = "contract.renewed"
	EventContractDiscontinued = "contract.discontinued"
	EventContractVoided       = "contract.voided"
)

// DomainEvent is an outward notification of a state change. Consumers dedupe on ID.
type DomainEvent struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload"`
	PublishedAt time.Time      `json:"published_at"`
}
