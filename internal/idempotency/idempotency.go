// Package idempotency records which change envelopes have been fully handled
// so redelivered notifications are acknowledged without re-running handlers.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coreman27/infra/internal/models"
)

// Record identifies a handled envelope.
type Record struct {
	ID        string
	Entity    string
	Operation string
}

type Store interface {
	Seen(ctx context.Context, id string) (bool, error)
	MarkProcessed(ctx context.Context, rec Record) error
}

// GormStore keeps the ledger in the processed_envelopes table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Seen(ctx context.Context, id string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.ProcessedEnvelope{}).
		Where("id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check processed envelope %s: %w", id, err)
	}
	return count > 0, nil
}

func (s *GormStore) MarkProcessed(ctx context.Context, rec Record) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&models.ProcessedEnvelope{
			ID:          rec.ID,
			Entity:      rec.Entity,
			Operation:   rec.Operation,
			ProcessedAt: time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("mark envelope %s processed: %w", rec.ID, err)
	}
	return nil
}

// RedisStore keeps the ledger as expiring keys.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisStore{client: client, prefix: "contracts:envelope:", ttl: ttl}
}

func (s *RedisStore) Seen(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("check processed envelope %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *RedisStore) MarkProcessed(ctx context.Context, rec Record) error {
	value := rec.Entity + ":" + rec.Operation
	if err := s.client.SetNX(ctx, s.prefix+rec.ID, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("mark envelope %s processed: %w", rec.ID, err)
	}
	return nil
}
