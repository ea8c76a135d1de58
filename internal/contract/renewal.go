package contract

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/coreman27/infra/internal/models"
	"github.com/coreman27/infra/internal/ports"
	"github.com/coreman27/infra/internal/sideeffect"
)

// RenewalAction is what a renewal run did.
type RenewalAction string

const (
	RenewalSkipped   RenewalAction = "skipped"
	RenewalCompleted RenewalAction = "completed"
	RenewalRenewed   RenewalAction = "renewed"
)

type RenewalResult struct {
	Action      RenewalAction
	ContractID  string
	SuccessorID string
}

// Renew runs the renewal decision for a contract about to end. Current state
// is always re-read, so a stale or repeated task is harmless. Billing steps
// run before the conditional status update, which is the commit point.
func (m *Machine) Renew(ctx context.Context, contractID string) (RenewalResult, error) {
	result := RenewalResult{Action: RenewalSkipped, ContractID: contractID}

	c, err := m.getContract(ctx, contractID)
	if err != nil {
		return result, err
	}
	if !c.AutoRenew || !isRenewable(c.Status) {
		m.logger.Info("Renewal no longer applies, skipping",
			zap.String("contract_id", c.ID),
			zap.String("status", string(c.Status)),
			zap.Bool("auto_renew", c.AutoRenew),
		)
		return result, nil
	}
	if c.SubscriptionID == "" {
		return result, sideeffect.Permanent(fmt.Errorf("contract %s has no subscription", c.ID))
	}

	sub, err := m.getSubscription(ctx, c.ID, c.SubscriptionID)
	if err != nil {
		return result, err
	}
	upfront, err := m.hasUpfrontOption(ctx, c.ID, sub.ItemPriceID)
	if err != nil {
		return result, err
	}

	target := models.ContractRenewed
	if upfront {
		target = models.ContractCompleted
	}
	if !CanTransition(c.Status, target) {
		m.logger.Info("Contract cannot reach renewal outcome from its status, skipping",
			zap.String("contract_id", c.ID),
			zap.String("status", string(c.Status)),
			zap.String("to", string(target)),
		)
		return result, nil
	}

	if upfront {
		return m.complete(ctx, *c)
	}
	return m.renew(ctx, *c)
}

// complete ends a contract whose price plan has an upfront option instead of
// renewing it.
func (m *Machine) complete(ctx context.Context, c models.Contract) (RenewalResult, error) {
	result := RenewalResult{Action: RenewalSkipped, ContractID: c.ID}

	err := m.orch.Call(ctx, sideeffect.CallSpec{
		Port:        "billing",
		Operation:   "reset_to_baseline_price",
		Criticality: sideeffect.Required,
		ContractID:  c.ID,
	}, func(ctx context.Context) error {
		return m.billing.ResetToBaselinePrice(ctx, c.SubscriptionID)
	})
	if err != nil {
		return result, err
	}
	if err := m.setMetadata(ctx, c, ports.SubscriptionMetadata{}, sideeffect.Required); err != nil {
		return result, err
	}

	changed, err := m.commitStatus(ctx, c, models.ContractCompleted)
	if err != nil || !changed {
		return result, err
	}
	result.Action = RenewalCompleted

	c.Status = models.ContractCompleted
	if err := m.publish(ctx, c, models.EventContractCompleted, map[string]any{
		"contractId":     c.ID,
		"customerId":     c.CustomerID,
		"subscriptionId": c.SubscriptionID,
		"source":         SourceRenewal,
	}); err != nil {
		return result, err
	}
	m.logger.Info("Contract completed at term end",
		zap.String("contract_id", c.ID),
	)
	return result, nil
}

// renew creates the successor term and hands the subscription over to it.
func (m *Machine) renew(ctx context.Context, c models.Contract) (RenewalResult, error) {
	result := RenewalResult{Action: RenewalSkipped, ContractID: c.ID}
	if c.EndDate == nil {
		return result, sideeffect.Permanent(fmt.Errorf("contract %s has no end date", c.ID))
	}

	successor := Successor(c, m.newID(c.ID))
	result.SuccessorID = successor.ID
	err := m.storeCall(ctx, "create_contract", c.ID, func(ctx context.Context) error {
		return m.store.CreateContract(ctx, &successor)
	})
	if err != nil {
		return result, err
	}

	meta := ports.ContractMetadata(successor.ID, successor.LengthMonths)
	if err := m.setMetadata(ctx, c, meta, sideeffect.Required); err != nil {
		return result, err
	}

	changed, err := m.commitStatus(ctx, c, models.ContractRenewed)
	if err != nil || !changed {
		return result, err
	}
	result.Action = RenewalRenewed

	c.Status = models.ContractRenewed
	if err := m.publish(ctx, c, models.EventContractRenewed, map[string]any{
		"oldContractId":  c.ID,
		"newContractId":  successor.ID,
		"customerId":     c.CustomerID,
		"subscriptionId": c.SubscriptionID,
		"source":         SourceRenewal,
	}); err != nil {
		return result, err
	}
	m.logger.Info("Contract renewed",
		zap.String("contract_id", c.ID),
		zap.String("successor_id", successor.ID),
	)
	return result, nil
}

// commitStatus moves c to the renewal outcome. Billing has already been
// changed at this point, so a failed update is raised as an inconsistency
// and returned to get the task redelivered. An update that matches no row is
// an inconsistency too, unless another run already committed the same
// outcome.
func (m *Machine) commitStatus(ctx context.Context, c models.Contract, to models.ContractStatus) (bool, error) {
	var changed bool
	err := m.storeCall(ctx, "update_status", c.ID, func(ctx context.Context) error {
		var err error
		changed, err = m.store.UpdateStatus(ctx, c.ID, renewalSources[to], to)
		return err
	})
	if err != nil {
		m.partialRenewal(ctx, c, fmt.Sprintf("billing updated for %s but status change to %s failed", c.ID, to), err)
		if sideeffect.IsPermanent(err) {
			return false, err
		}
		return false, sideeffect.Transient(err)
	}
	if changed {
		return true, nil
	}

	current, err := m.getContract(ctx, c.ID)
	if err == nil && current.Status == to {
		m.logger.Info("Contract status already moved on, not publishing",
			zap.String("contract_id", c.ID),
			zap.String("to", string(to)),
		)
		return false, nil
	}
	status := "unknown"
	if err == nil {
		status = string(current.Status)
	}
	m.partialRenewal(ctx, c, fmt.Sprintf("billing updated for %s but contract is %s, not %s", c.ID, status, to), err)
	return false, nil
}

func (m *Machine) partialRenewal(ctx context.Context, c models.Contract, detail string, err error) {
	m.orch.Alert(ctx, sideeffect.AlertSpec{
		Kind:       "contract.partial_renewal",
		ContractID: c.ID,
		CustomerID: c.CustomerID,
		Detail:     detail,
		Err:        err,
	})
}

// Successor builds the next term of c: same length, starting the day after
// c ends and ending the day before the same calendar day length months later.
func Successor(c models.Contract, id string) models.Contract {
	start := dateOnly(c.EndDate.AddDate(0, 0, 1))
	end := start.AddDate(0, c.LengthMonths, -1)
	return models.Contract{
		ID:             id,
		CustomerID:     c.CustomerID,
		SubscriptionID: c.SubscriptionID,
		Status:         models.ContractFuture,
		StartDate:      &start,
		EndDate:        &end,
		LengthMonths:   c.LengthMonths,
		AutoRenew:      c.AutoRenew,
	}
}
