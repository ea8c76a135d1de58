// Package store implements the query/mutate port over PostgreSQL with GORM.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coreman27/infra/internal/models"
	"github.com/coreman27/infra/internal/ports"
	"github.com/coreman27/infra/internal/sideeffect"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

var _ ports.ContractStore = (*Store)(nil)

func (s *Store) GetContract(ctx context.Context, id string) (*models.Contract, error) {
	var c models.Contract
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if err != nil {
		return nil, classify("get contract "+id, err)
	}
	return &c, nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if err != nil {
		return nil, classify("get subscription "+id, err)
	}
	return &sub, nil
}

func (s *Store) CreateContract(ctx context.Context, c *models.Contract) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(c).Error
	if err != nil {
		return classify("create contract "+c.ID, err)
	}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, from []models.ContractStatus, to models.ContractStatus) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Contract{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, classify("update contract status "+id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) UpdateFields(ctx context.Context, id string, update ports.ContractFieldUpdate) error {
	updates := map[string]interface{}{}
	if update.AutoRenew != nil {
		updates["auto_renew"] = *update.AutoRenew
	}
	if update.EndDate != nil {
		updates["end_date"] = *update.EndDate
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().UTC()

	res := s.db.WithContext(ctx).Model(&models.Contract{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return classify("update contract fields "+id, res.Error)
	}
	if res.RowsAffected == 0 {
		return sideeffect.Permanent(fmt.Errorf("update contract fields %s: %w", id, ErrNotFound))
	}
	return nil
}

// HasUpfrontOption reports whether the item price offers an upfront payment
// option. Unknown item prices have none.
func (s *Store) HasUpfrontOption(ctx context.Context, itemPriceID string) (bool, error) {
	var opts []models.ItemPriceOption
	err := s.db.WithContext(ctx).
		Where("item_price_id = ?", itemPriceID).
		Limit(1).
		Find(&opts).Error
	if err != nil {
		return false, classify("lookup item price "+itemPriceID, err)
	}
	return len(opts) > 0 && opts[0].UpfrontPayment, nil
}

func classify(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sideeffect.Permanent(fmt.Errorf("%s: %w", op, ErrNotFound))
	}
	return sideeffect.Transient(fmt.Errorf("%s: %w", op, err))
}
