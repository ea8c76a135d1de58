// Package ingest turns one inbound delivery into an acknowledge-or-redeliver
// decision. Both the push endpoint and the AMQP consumer go through it.
package ingest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/coreman27/infra/internal/envelope"
	"github.com/coreman27/infra/internal/idempotency"
	"github.com/coreman27/infra/internal/metrics"
	"github.com/coreman27/infra/internal/router"
	"github.com/coreman27/infra/internal/sideeffect"
)

// Outcome reasons
const (
	ReasonProcessed        = "processed"
	ReasonDuplicate        = "duplicate"
	ReasonMalformed        = "malformed"
	ReasonUnknownEntity    = "unknown_entity"
	ReasonPermanentFailure = "permanent_failure"
	ReasonTransientFailure = "transient_failure"
)

// Outcome tells the transport whether to acknowledge the delivery. Ack false
// asks for redelivery.
type Outcome struct {
	Ack        bool
	Reason     string
	EnvelopeID string
}

// DecodeFunc turns a transport payload into an envelope.
type DecodeFunc func(raw []byte) (*envelope.ChangeEnvelope, error)

type Dispatcher interface {
	Dispatch(ctx context.Context, env *envelope.ChangeEnvelope) error
}

type Processor struct {
	dispatcher Dispatcher
	dedupe     idempotency.Store
	timeout    time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewProcessor builds a processor. dedupe may be nil, in which case every
// delivery is dispatched and handlers alone guarantee idempotency.
func NewProcessor(d Dispatcher, dedupe idempotency.Store, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Processor {
	return &Processor{
		dispatcher: d,
		dedupe:     dedupe,
		timeout:    timeout,
		logger:     logger,
		metrics:    m,
	}
}

func (p *Processor) Process(ctx context.Context, raw []byte, decode DecodeFunc) Outcome {
	env, err := decode(raw)
	if err != nil {
		p.logger.Warn("Dropping malformed change envelope",
			zap.Int("size", len(raw)),
			zap.Error(err),
		)
		p.metrics.Envelope("unknown", ReasonMalformed)
		return Outcome{Ack: true, Reason: ReasonMalformed}
	}

	out := p.process(ctx, env)
	out.EnvelopeID = env.ID
	p.metrics.Envelope(router.ParseEntity(env.Entity).String(), out.Reason)
	return out
}

func (p *Processor) process(ctx context.Context, env *envelope.ChangeEnvelope) Outcome {
	if p.seen(ctx, env.ID) {
		p.logger.Info("Change envelope already processed, acknowledging",
			zap.String("envelope_id", env.ID),
		)
		return Outcome{Ack: true, Reason: ReasonDuplicate}
	}

	hctx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	err := p.dispatcher.Dispatch(hctx, env)
	switch {
	case err == nil:
		p.markProcessed(ctx, env)
		return Outcome{Ack: true, Reason: ReasonProcessed}
	case errors.Is(err, router.ErrUnknownEntity):
		return Outcome{Ack: true, Reason: ReasonUnknownEntity}
	case sideeffect.IsPermanent(err):
		p.logger.Error("Change envelope failed permanently, acknowledging",
			zap.String("envelope_id", env.ID),
			zap.String("entity", env.Entity),
			zap.String("operation", string(env.Operation)),
			zap.Error(err),
		)
		p.markProcessed(ctx, env)
		return Outcome{Ack: true, Reason: ReasonPermanentFailure}
	default:
		p.logger.Error("Change envelope failed, requesting redelivery",
			zap.String("envelope_id", env.ID),
			zap.String("entity", env.Entity),
			zap.String("operation", string(env.Operation)),
			zap.Error(err),
		)
		return Outcome{Ack: false, Reason: ReasonTransientFailure}
	}
}

// seen treats ledger failures as not seen.
func (p *Processor) seen(ctx context.Context, id string) bool {
	if p.dedupe == nil || id == "" {
		return false
	}
	ok, err := p.dedupe.Seen(ctx, id)
	if err != nil {
		p.logger.Warn("Envelope ledger lookup failed, dispatching anyway",
			zap.String("envelope_id", id),
			zap.Error(err),
		)
		return false
	}
	return ok
}

func (p *Processor) markProcessed(ctx context.Context, env *envelope.ChangeEnvelope) {
	if p.dedupe == nil || env.ID == "" {
		return
	}
	err := p.dedupe.MarkProcessed(ctx, idempotency.Record{
		ID:        env.ID,
		Entity:    env.Entity,
		Operation: string(env.Operation),
	})
	if err != nil {
		p.logger.Warn("Failed to record processed envelope",
			zap.String("envelope_id", env.ID),
			zap.Error(err),
		)
	}
}
