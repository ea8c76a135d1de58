package models

import "time"

// ContractStatus is the lifecycle state of a billing contract.
type ContractStatus string

const (
	ContractFuture       ContractStatus = "future"
	ContractActive       ContractStatus = "active"
	ContractCompleted    ContractStatus = "completed"
	ContractRenewed      ContractStatus = "renewed"
	ContractDiscontinued ContractStatus = "discontinued"
	ContractVoid         ContractStatus = "void"
)

// Valid reports whether s is one of the known lifecycle states.
func (s ContractStatus) Valid() bool {
	switch s {
	case ContractFuture, ContractActive, ContractCompleted,
		ContractRenewed, ContractDiscontinued, ContractVoid:
		return true
	}
	return false
}

type Contract struct {
	ID             string         `gorm:"primaryKey" json:"id"`
	CustomerID     string         `gorm:"not null" json:"customer_id"`
	SubscriptionID string         `json:"subscription_id"`
	Status         ContractStatus `gorm:"not null" json:"status"`
	StartDate      *time.Time     `gorm:"type:date" json:"start_date"`
	EndDate        *time.Time     `gorm:"type:date" json:"end_date"`
	LengthMonths   int            `gorm:"not null" json:"length_months"`
	AutoRenew      bool           `gorm:"not null" json:"auto_renew"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (Contract) TableName() string {
	return "contracts"
}

// Subscription mirrors the billing system's subscription record.
type Subscription struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	ContractID  *string   `json:"contract_id"`
	ItemPriceID string    `gorm:"not null" json:"item_price_id"`
	CustomerID  string    `json:"customer_id"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// ItemPriceOption records pricing attributes per billing item price.
type ItemPriceOption struct {
	ItemPriceID    string `gorm:"primaryKey" json:"item_price_id"`
	UpfrontPayment bool   `gorm:"not null" json:"upfront_payment"`
}

func (ItemPriceOption) TableName() string {
	return "item_price_options"
}

// Invoice is the subset of a billing invoice the orchestrator reads.
// It is never persisted by this service.
type Invoice struct {
	ID             string
	SubscriptionID string
	Status         string
	NextBillingAt  *time.Time
}
