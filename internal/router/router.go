// Package router maps change envelopes to the handler registered for their
// entity kind.
package router

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/coreman27/infra/internal/envelope"
)

// ErrUnknownEntity is returned for envelopes no handler is registered for.
// Callers acknowledge them.
var ErrUnknownEntity = errors.New("unknown entity")

// EntityKind is the closed set of entities the service reacts to.
type EntityKind int

const (
	EntityUnknown EntityKind = iota
	EntityContract
	EntityInvoice
)

func (k EntityKind) String() string {
	switch k {
	case EntityContract:
		return "contract"
	case EntityInvoice:
		return "invoice"
	}
	return "unknown"
}

// ParseEntity maps a source table name to its kind.
func ParseEntity(table string) EntityKind {
	switch strings.ToLower(strings.TrimSpace(table)) {
	case "contracts", "contract":
		return EntityContract
	case "invoices", "invoice":
		return EntityInvoice
	}
	return EntityUnknown
}

// Handler reacts to one change envelope.
type Handler interface {
	Handle(ctx context.Context, env *envelope.ChangeEnvelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env *envelope.ChangeEnvelope) error

func (f HandlerFunc) Handle(ctx context.Context, env *envelope.ChangeEnvelope) error {
	return f(ctx, env)
}

type Router struct {
	handlers map[EntityKind]Handler
	logger   *zap.Logger
}

func New(logger *zap.Logger) *Router {
	return &Router{handlers: map[EntityKind]Handler{}, logger: logger}
}

// Register binds h to kind, replacing any previous handler.
func (r *Router) Register(kind EntityKind, h Handler) {
	if kind == EntityUnknown {
		return
	}
	r.handlers[kind] = h
}

// Dispatch runs the handler for env's entity. Handler errors are returned
// unchanged.
func (r *Router) Dispatch(ctx context.Context, env *envelope.ChangeEnvelope) error {
	kind := ParseEntity(env.Entity)
	h, ok := r.handlers[kind]
	if !ok {
		r.logger.Warn("No handler for entity, acknowledging",
			zap.String("entity", env.Entity),
			zap.String("envelope_id", env.ID),
		)
		return ErrUnknownEntity
	}
	return h.Handle(ctx, env)
}
