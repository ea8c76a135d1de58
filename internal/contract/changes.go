package contract

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/coreman27/infra/internal/envelope"
	"github.com/coreman27/infra/internal/models"
	"github.com/coreman27/infra/internal/ports"
	"github.com/coreman27/infra/internal/sideeffect"
	"github.com/coreman27/infra/internal/store"
)

var statusEvents = map[models.ContractStatus]string{
	models.ContractActive:       models.EventContractActivated,
	models.ContractCompleted:    models.EventContractCompleted,
	models.ContractRenewed:      models.EventContractRenewed,
	models.ContractDiscontinued: models.EventContractDiscontinued,
	models.ContractVoid:         models.EventContractVoided,
}

// HandleContractChange applies the side effects of one observed contracts
// row change.
func (m *Machine) HandleContractChange(ctx context.Context, env *envelope.ChangeEnvelope) error {
	switch env.Operation {
	case envelope.OpInsert:
		c, err := envelope.ProjectContract(env.After)
		if err != nil {
			return sideeffect.Permanent(err)
		}
		return m.onCreated(ctx, c)
	case envelope.OpUpdate:
		before, err := envelope.ProjectContract(env.Before)
		if err != nil {
			return sideeffect.Permanent(err)
		}
		after, err := envelope.ProjectContract(env.After)
		if err != nil {
			return sideeffect.Permanent(err)
		}
		return m.onUpdated(ctx, before, after)
	default:
		m.logger.Info("Contract row deleted, nothing to do",
			zap.String("envelope_id", env.ID),
		)
		return nil
	}
}

func (m *Machine) onCreated(ctx context.Context, c models.Contract) error {
	if c.Status != models.ContractFuture {
		m.logger.Info("Contract created outside future status, ignoring",
			zap.String("contract_id", c.ID),
			zap.String("status", string(c.Status)),
		)
		return nil
	}
	if c.SubscriptionID == "" {
		return sideeffect.Permanent(fmt.Errorf("contract %s has no subscription", c.ID))
	}

	if err := m.setMetadata(ctx, c, ports.ContractMetadata(c.ID, c.LengthMonths), sideeffect.Required); err != nil {
		return err
	}
	// Scheduling failures must not undo the metadata step.
	_ = m.scheduleRenewal(ctx, c, sideeffect.BestEffort)
	return nil
}

func (m *Machine) onUpdated(ctx context.Context, before, after models.Contract) error {
	if before.Status != after.Status {
		if err := m.onTransition(ctx, before.Status, after); err != nil {
			return err
		}
	}

	switch {
	case !before.AutoRenew && after.AutoRenew:
		if !isRenewable(after.Status) {
			return nil
		}
		// A task that already exists is confirmed, not duplicated.
		return m.scheduleRenewal(ctx, after, sideeffect.Required)
	case before.AutoRenew && !after.AutoRenew:
		m.logger.Info("Auto-renew turned off; pending renewal task is kept and re-validated when it fires",
			zap.String("contract_id", after.ID),
		)
	}
	return nil
}

func (m *Machine) onTransition(ctx context.Context, from models.ContractStatus, c models.Contract) error {
	if !CanTransition(from, c.Status) {
		m.logger.Info("Contract status change does not match a lifecycle transition",
			zap.String("contract_id", c.ID),
			zap.String("from", string(from)),
			zap.String("to", string(c.Status)),
		)
		return nil
	}

	payload := map[string]any{
		"contractId":     c.ID,
		"customerId":     c.CustomerID,
		"subscriptionId": c.SubscriptionID,
		"from":           string(from),
		"to":             string(c.Status),
		"source":         SourceChange,
	}

	var clearErr error
	if c.Status == models.ContractCompleted && c.SubscriptionID != "" {
		clearErr = m.setMetadata(ctx, c, ports.SubscriptionMetadata{}, sideeffect.Alert)
		if clearErr != nil && !sideeffect.IsPermanent(clearErr) {
			return clearErr
		}
	}

	if err := m.publish(ctx, c, statusEvents[c.Status], payload); err != nil {
		return err
	}
	m.logger.Info("Contract transition handled",
		zap.String("contract_id", c.ID),
		zap.String("from", string(from)),
		zap.String("to", string(c.Status)),
	)
	return clearErr
}

// HandleInvoiceChange schedules the renewal task when an invoice bills past
// the owning contract's end date. It backs up a missed contract-change
// trigger.
func (m *Machine) HandleInvoiceChange(ctx context.Context, env *envelope.ChangeEnvelope) error {
	if env.Operation == envelope.OpDelete {
		return nil
	}
	inv, err := envelope.ProjectInvoice(env.After)
	if err != nil {
		return sideeffect.Permanent(err)
	}
	if inv.NextBillingAt == nil || inv.SubscriptionID == "" {
		m.logger.Debug("Invoice has no next billing date or subscription, skipping",
			zap.String("invoice_id", inv.ID),
		)
		return nil
	}

	sub, err := m.getSubscription(ctx, "", inv.SubscriptionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.logger.Info("Invoice subscription not found, skipping",
				zap.String("invoice_id", inv.ID),
				zap.String("subscription_id", inv.SubscriptionID),
			)
			return nil
		}
		return err
	}
	if sub.ContractID == nil || *sub.ContractID == "" {
		return nil
	}

	c, err := m.getContract(ctx, *sub.ContractID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.logger.Info("Invoice contract not found, skipping",
				zap.String("invoice_id", inv.ID),
				zap.String("contract_id", *sub.ContractID),
			)
			return nil
		}
		return err
	}
	if !c.AutoRenew || c.EndDate == nil || !isRenewable(c.Status) {
		return nil
	}
	if !dateOnly(*inv.NextBillingAt).After(dateOnly(*c.EndDate)) {
		return nil
	}

	m.logger.Info("Invoice bills past contract end, confirming renewal task",
		zap.String("invoice_id", inv.ID),
		zap.String("contract_id", c.ID),
	)
	return m.scheduleRenewal(ctx, *c, sideeffect.Required)
}
