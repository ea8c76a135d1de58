package idempotency

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis implements the two commands the ledger uses. Any other command
// panics on the nil embedded client.
type fakeRedis struct {
	redis.Cmdable
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	if _, ok := f.values[key]; ok {
		cmd.SetVal(false)
		return cmd
	}
	f.values[key] = fmt.Sprint(value)
	f.ttls[key] = expiration
	cmd.SetVal(true)
	return cmd
}

func TestRedisStore_SeenAfterMarkProcessed(t *testing.T) {
	client := newFakeRedis()
	s := NewRedisStore(client, time.Hour)
	ctx := context.Background()

	seen, err := s.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.MarkProcessed(ctx, Record{ID: "evt-1", Entity: "contracts", Operation: "INSERT"}))

	seen, err = s.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = s.Seen(ctx, "evt-2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisStore_KeyLayoutAndTTL(t *testing.T) {
	client := newFakeRedis()
	s := NewRedisStore(client, 2*time.Hour)

	require.NoError(t, s.MarkProcessed(context.Background(), Record{ID: "evt-1", Entity: "contracts", Operation: "UPDATE"}))

	assert.Equal(t, "contracts:UPDATE", client.values["contracts:envelope:evt-1"])
	assert.Equal(t, 2*time.Hour, client.ttls["contracts:envelope:evt-1"])
}

func TestRedisStore_FirstRecordWins(t *testing.T) {
	client := newFakeRedis()
	s := NewRedisStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.MarkProcessed(ctx, Record{ID: "evt-1", Entity: "contracts", Operation: "INSERT"}))
	require.NoError(t, s.MarkProcessed(ctx, Record{ID: "evt-1", Entity: "invoices", Operation: "UPDATE"}))

	assert.Equal(t, "contracts:INSERT", client.values["contracts:envelope:evt-1"])
}

func TestRedisStore_DefaultTTL(t *testing.T) {
	client := newFakeRedis()
	s := NewRedisStore(client, 0)

	require.NoError(t, s.MarkProcessed(context.Background(), Record{ID: "evt-1"}))
	assert.Equal(t, 7*24*time.Hour, client.ttls["contracts:envelope:evt-1"])
}

func TestRedisStore_ErrorsAreWrapped(t *testing.T) {
	boom := errors.New("connection refused")
	client := newFakeRedis()
	client.err = boom
	s := NewRedisStore(client, time.Hour)

	_, err := s.Seen(context.Background(), "evt-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "evt-1")

	err = s.MarkProcessed(context.Background(), Record{ID: "evt-2"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "evt-2")
}
