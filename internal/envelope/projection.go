package envelope

import (
	"fmt"

	"github.com/coreman27/infra/internal/models"
)

// ProjectContract reads a contracts row image.
func ProjectContract(s *Snapshot) (models.Contract, error) {
	var c models.Contract
	if s == nil {
		return c, fmt.Errorf("contract row is empty")
	}

	id, ok := s.String("id")
	if !ok || id == "" {
		return c, fmt.Errorf("contract row has no id")
	}
	c.ID = id
	c.CustomerID, _ = s.String("customer_id")
	c.SubscriptionID, _ = s.String("subscription_id")

	status, _ := s.String("status")
	c.Status = models.ContractStatus(status)
	if !c.Status.Valid() {
		return c, fmt.Errorf("contract %s has unknown status %q", id, status)
	}

	lengthKey := "length_months"
	if !s.Has(lengthKey) {
		lengthKey = "length"
	}
	if s.Has(lengthKey) {
		n, err := s.Int(lengthKey)
		if err != nil {
			return c, fmt.Errorf("contract %s: %w", id, err)
		}
		c.LengthMonths = n
	}
	c.AutoRenew, _ = s.Bool("auto_renew")

	var err error
	if c.StartDate, err = s.Time("start_date"); err != nil {
		return c, fmt.Errorf("contract %s: %w", id, err)
	}
	if c.EndDate, err = s.Time("end_date"); err != nil {
		return c, fmt.Errorf("contract %s: %w", id, err)
	}
	return c, nil
}

// ProjectInvoice reads an invoices row image.
func ProjectInvoice(s *Snapshot) (models.Invoice, error) {
	var inv models.Invoice
	if s == nil {
		return inv, fmt.Errorf("invoice row is empty")
	}
	id, ok := s.String("id")
	if !ok || id == "" {
		return inv, fmt.Errorf("invoice row has no id")
	}
	inv.ID = id
	inv.SubscriptionID, _ = s.String("subscription_id")
	inv.Status, _ = s.String("status")

	next, err := s.Time("next_billing_at")
	if err != nil {
		return inv, fmt.Errorf("invoice %s: %w", id, err)
	}
	inv.NextBillingAt = next
	return inv, nil
}
