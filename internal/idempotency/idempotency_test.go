package idempotency

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMockGormStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return NewGormStore(db), mock
}

func TestGormStore_Seen(t *testing.T) {
	s, mock := newMockGormStore(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "processed_envelopes"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	seen, err := s.Seen(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "processed_envelopes"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	seen, err = s.Seen(context.Background(), "evt-2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestGormStore_MarkProcessed(t *testing.T) {
	s, mock := newMockGormStore(t)

	mock.ExpectExec(`INSERT INTO "processed_envelopes" .* ON CONFLICT \("id"\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.MarkProcessed(context.Background(), Record{ID: "evt-1", Entity: "contracts", Operation: "INSERT"}))

	mock.ExpectExec(`INSERT INTO "processed_envelopes"`).WillReturnError(errors.New("boom"))
	assert.Error(t, s.MarkProcessed(context.Background(), Record{ID: "evt-2"}))

	assert.NoError(t, mock.ExpectationsWereMet())
}
