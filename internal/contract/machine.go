// Package contract drives the contract lifecycle: it reacts to observed row
// changes with the side effects each transition requires and runs the
// renewal decision when the renewal task fires.
package contract

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coreman27/infra/internal/config"
	"github.com/coreman27/infra/internal/models"
	"github.com/coreman27/infra/internal/ports"
	"github.com/coreman27/infra/internal/scheduler"
	"github.com/coreman27/infra/internal/sideeffect"
)

// CanTransition reports whether from -> to is a lifecycle transition the
// service acts on.
func CanTransition(from, to models.ContractStatus) bool {
	if from == to || !from.Valid() {
		return false
	}
	switch to {
	case models.ContractDiscontinued, models.ContractVoid:
		return true
	}
	switch from {
	case models.ContractFuture:
		return to == models.ContractActive || to == models.ContractCompleted
	case models.ContractActive:
		return to == models.ContractCompleted || to == models.ContractRenewed
	}
	return false
}

// renewalSources lists, per renewal outcome, the statuses the conditional
// status update may move a contract out of.
var renewalSources = map[models.ContractStatus][]models.ContractStatus{
	models.ContractCompleted: {models.ContractFuture, models.ContractActive},
	models.ContractRenewed:   {models.ContractActive},
}

func isRenewable(s models.ContractStatus) bool {
	return s == models.ContractFuture || s == models.ContractActive
}

// EventPublisher is satisfied by events.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload map[string]any) (models.DomainEvent, error)
}

// IDGenerator derives the id of the contract that succeeds predecessorID.
// It must be deterministic so a redelivered renewal finds the contract it
// already created.
type IDGenerator func(predecessorID string) string

// SuccessorID is the default IDGenerator.
func SuccessorID(predecessorID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("contract:"+predecessorID+":renewal")).String()
}

type Deps struct {
	Store        ports.ContractStore
	Billing      ports.Billing
	Notifier     ports.Notifier
	Scheduler    ports.TaskScheduler
	Events       EventPublisher
	Orchestrator *sideeffect.Orchestrator
	Workflows    config.WorkflowRoutes
	// RenewalURL is the callback target of renewal tasks.
	RenewalURL string
	NewID      IDGenerator
	Logger     *zap.Logger
}

type Machine struct {
	store      ports.ContractStore
	billing    ports.Billing
	notifier   ports.Notifier
	scheduler  ports.TaskScheduler
	events     EventPublisher
	orch       *sideeffect.Orchestrator
	workflows  config.WorkflowRoutes
	renewalURL string
	newID      IDGenerator
	logger     *zap.Logger
}

func NewMachine(d Deps) *Machine {
	if d.NewID == nil {
		d.NewID = SuccessorID
	}
	if d.Workflows == nil {
		d.Workflows = config.WorkflowRoutes{}
	}
	return &Machine{
		store:      d.Store,
		billing:    d.Billing,
		notifier:   d.Notifier,
		scheduler:  d.Scheduler,
		events:     d.Events,
		orch:       d.Orchestrator,
		workflows:  d.Workflows,
		renewalURL: d.RenewalURL,
		newID:      d.NewID,
		logger:     d.Logger,
	}
}

// Event payload sources. Renewal events come from the renewal task, change
// events from an observed row update.
const (
	SourceRenewal = "renewal"
	SourceChange  = "change"
)

// storeCall runs a data-layer step with the same timeout and retry as the
// other ports.
func (m *Machine) storeCall(ctx context.Context, op, contractID string, fn func(ctx context.Context) error) error {
	return m.orch.Call(ctx, sideeffect.CallSpec{
		Port:        "store",
		Operation:   op,
		Criticality: sideeffect.Required,
		ContractID:  contractID,
	}, fn)
}

func (m *Machine) getContract(ctx context.Context, id string) (*models.Contract, error) {
	var c *models.Contract
	err := m.storeCall(ctx, "get_contract", id, func(ctx context.Context) error {
		var err error
		c, err = m.store.GetContract(ctx, id)
		return err
	})
	return c, err
}

func (m *Machine) getSubscription(ctx context.Context, contractID, id string) (*models.Subscription, error) {
	var sub *models.Subscription
	err := m.storeCall(ctx, "get_subscription", contractID, func(ctx context.Context) error {
		var err error
		sub, err = m.store.GetSubscription(ctx, id)
		return err
	})
	return sub, err
}

func (m *Machine) hasUpfrontOption(ctx context.Context, contractID, itemPriceID string) (bool, error) {
	var upfront bool
	err := m.storeCall(ctx, "has_upfront_option", contractID, func(ctx context.Context) error {
		var err error
		upfront, err = m.store.HasUpfrontOption(ctx, itemPriceID)
		return err
	})
	return upfront, err
}

func (m *Machine) setMetadata(ctx context.Context, c models.Contract, meta ports.SubscriptionMetadata, crit sideeffect.Criticality) error {
	return m.orch.Call(ctx, sideeffect.CallSpec{
		Port:        "billing",
		Operation:   "update_subscription_metadata",
		Criticality: crit,
		ContractID:  c.ID,
	}, func(ctx context.Context) error {
		return m.billing.UpdateSubscriptionMetadata(ctx, c.SubscriptionID, meta)
	})
}

// scheduleRenewal schedules the renewal task one day before the contract
// ends. Contracts without auto-renew or an end date are skipped.
func (m *Machine) scheduleRenewal(ctx context.Context, c models.Contract, crit sideeffect.Criticality) error {
	if !c.AutoRenew || c.EndDate == nil {
		return nil
	}
	task := ports.Task{
		Name:       scheduler.TaskName(scheduler.PurposeRenewal, c.ID),
		Purpose:    scheduler.PurposeRenewal,
		ContractID: c.ID,
		TargetURL:  m.renewalURL,
		Payload:    map[string]any{"contractId": c.ID},
		FireAt:     c.EndDate.AddDate(0, 0, -1),
	}
	return m.orch.Call(ctx, sideeffect.CallSpec{
		Port:        "scheduler",
		Operation:   "schedule_renewal",
		Criticality: crit,
		ContractID:  c.ID,
	}, func(ctx context.Context) error {
		return m.scheduler.Schedule(ctx, task)
	})
}

// publish emits a domain event and then runs the customer notifications
// routed to its type.
func (m *Machine) publish(ctx context.Context, c models.Contract, eventType string, payload map[string]any) error {
	err := m.orch.Call(ctx, sideeffect.CallSpec{
		Port:        "events",
		Operation:   eventType,
		Criticality: sideeffect.Required,
		ContractID:  c.ID,
	}, func(ctx context.Context) error {
		_, err := m.events.Publish(ctx, eventType, payload)
		return err
	})
	if err != nil {
		return err
	}
	m.notify(ctx, c, eventType, payload)
	return nil
}

func (m *Machine) notify(ctx context.Context, c models.Contract, eventType string, payload map[string]any) {
	if m.notifier == nil || c.CustomerID == "" {
		return
	}
	if workflow, ok := m.workflows[eventType]; ok {
		_ = m.orch.Call(ctx, sideeffect.CallSpec{
			Port:        "notification",
			Operation:   "trigger_workflow",
			Criticality: sideeffect.BestEffort,
			ContractID:  c.ID,
		}, func(ctx context.Context) error {
			return m.notifier.TriggerWorkflow(ctx, workflow, c.CustomerID, payload)
		})
	}
	_ = m.orch.Call(ctx, sideeffect.CallSpec{
		Port:        "notification",
		Operation:   "track_event",
		Criticality: sideeffect.BestEffort,
		ContractID:  c.ID,
	}, func(ctx context.Context) error {
		return m.notifier.TrackEvent(ctx, c.CustomerID, eventType, payload)
	})
}

func dateOnly(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}
