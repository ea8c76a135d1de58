package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/coreman27/infra/internal/envelope"
)

func TestParseEntity(t *testing.T) {
	assert.Equal(t, EntityContract, ParseEntity("contracts"))
	assert.Equal(t, EntityContract, ParseEntity("Contract"))
	assert.Equal(t, EntityInvoice, ParseEntity("invoices"))
	assert.Equal(t, EntityUnknown, ParseEntity("foo"))
	assert.Equal(t, "unknown", ParseEntity("").String())
}

func TestRouter_DispatchesByKind(t *testing.T) {
	r := New(zap.NewNop())
	var got []string
	r.Register(EntityContract, HandlerFunc(func(_ context.Context, env *envelope.ChangeEnvelope) error {
		got = append(got, "contract:"+env.ID)
		return nil
	}))
	r.Register(EntityInvoice, HandlerFunc(func(_ context.Context, env *envelope.ChangeEnvelope) error {
		got = append(got, "invoice:"+env.ID)
		return nil
	}))

	require.NoError(t, r.Dispatch(context.Background(), &envelope.ChangeEnvelope{ID: "1", Entity: "contracts"}))
	require.NoError(t, r.Dispatch(context.Background(), &envelope.ChangeEnvelope{ID: "2", Entity: "invoices"}))
	assert.Equal(t, []string{"contract:1", "invoice:2"}, got)
}

func TestRouter_UnknownEntityWarns(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := New(zap.New(core))
	called := false
	r.Register(EntityContract, HandlerFunc(func(context.Context, *envelope.ChangeEnvelope) error {
		called = true
		return nil
	}))

	err := r.Dispatch(context.Background(), &envelope.ChangeEnvelope{ID: "1", Entity: "foo"})
	assert.ErrorIs(t, err, ErrUnknownEntity)
	assert.False(t, called)
	assert.Equal(t, 1, logs.FilterMessage("No handler for entity, acknowledging").Len())
}

func TestRouter_HandlerErrorPropagates(t *testing.T) {
	r := New(zap.NewNop())
	boom := errors.New("boom")
	r.Register(EntityInvoice, HandlerFunc(func(context.Context, *envelope.ChangeEnvelope) error {
		return boom
	}))

	err := r.Dispatch(context.Background(), &envelope.ChangeEnvelope{ID: "1", Entity: "invoices"})
	assert.ErrorIs(t, err, boom)
}
