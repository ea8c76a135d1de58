// Package sideeffect wraps every call to an external port with retry
// classification, bounded backoff and criticality handling.
package sideeffect

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/coreman27/infra/internal/config"
	"github.com/coreman27/infra/internal/logger"
	"github.com/coreman27/infra/internal/metrics"
)

// Criticality decides what happens when a call still fails after retries.
type Criticality int

const (
	// Required failures are returned to the caller.
	Required Criticality = iota
	// Alert failures are returned and raised as operational alerts.
	Alert
	// BestEffort failures are logged and swallowed.
	BestEffort
)

func (c Criticality) String() string {
	switch c {
	case Required:
		return "required"
	case Alert:
		return "alert"
	case BestEffort:
		return "best_effort"
	}
	return "unknown"
}

// CallSpec names a call for logs, metrics and rate limiting.
type CallSpec struct {
	Port        string
	Operation   string
	Criticality Criticality
	ContractID  string
}

// AlertSpec describes an inconsistency that needs operator attention.
type AlertSpec struct {
	Kind       string
	ContractID string
	CustomerID string
	Detail     string
	Err        error
}

// AlertSink receives operational alerts, e.g. by opening a support ticket.
type AlertSink interface {
	Raise(ctx context.Context, alert AlertSpec) error
}

type Orchestrator struct {
	cfg      config.SideEffectConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
	sink     AlertSink
	sleep    func(ctx context.Context, d time.Duration) error
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewOrchestrator(cfg config.SideEffectConfig, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		sleep:    sleepContext,
		limiters: map[string]*rate.Limiter{},
	}
}

// SetAlertSink installs the sink used for Alert-criticality failures.
func (o *Orchestrator) SetAlertSink(sink AlertSink) {
	o.sink = sink
}

// Call runs fn, retrying transient failures with exponential backoff.
func (o *Orchestrator) Call(ctx context.Context, spec CallSpec, fn func(ctx context.Context) error) error {
	err := o.attempt(ctx, spec, fn)
	if err == nil {
		return nil
	}

	fields := []zap.Field{
		zap.String("port", spec.Port),
		zap.String("operation", spec.Operation),
		zap.String("contract_id", spec.ContractID),
		zap.Bool("permanent", IsPermanent(err)),
		zap.Error(err),
	}

	switch spec.Criticality {
	case BestEffort:
		o.logger.Warn("Best-effort side effect failed", fields...)
		return nil
	case Alert:
		o.Alert(ctx, AlertSpec{
			Kind:       spec.Port + "." + spec.Operation,
			ContractID: spec.ContractID,
			Detail:     fmt.Sprintf("%s.%s failed after retries", spec.Port, spec.Operation),
			Err:        err,
		})
		return err
	default:
		o.logger.Error("Side effect failed", fields...)
		return err
	}
}

func (o *Orchestrator) attempt(ctx context.Context, spec CallSpec, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		if limitErr := o.limiter(spec.Port).Wait(ctx); limitErr != nil {
			return Transient(fmt.Errorf("rate limit wait for %s: %w", spec.Port, limitErr))
		}

		err = o.callOnce(ctx, fn)
		if err == nil {
			o.metrics.SideEffect(spec.Port, spec.Operation, "success")
			return nil
		}
		if !IsTransient(err) {
			o.metrics.SideEffect(spec.Port, spec.Operation, "permanent")
			return err
		}
		o.metrics.SideEffect(spec.Port, spec.Operation, "retryable")

		if attempt == o.cfg.MaxAttempts {
			break
		}
		delay := o.backoff(attempt)
		o.logger.Debug("Retrying side effect",
			zap.String("port", spec.Port),
			zap.String("operation", spec.Operation),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if sleepErr := o.sleep(ctx, delay); sleepErr != nil {
			return Transient(fmt.Errorf("%s.%s interrupted: %w", spec.Port, spec.Operation, err))
		}
	}
	return Transient(err)
}

func (o *Orchestrator) callOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	if o.cfg.CallTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

// backoff returns base * 2^(attempt-1) plus jitter, capped at MaxDelay.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	delay := o.cfg.BaseDelay << (attempt - 1)
	if o.cfg.MaxDelay > 0 && (delay > o.cfg.MaxDelay || delay <= 0) {
		delay = o.cfg.MaxDelay
	}
	if jitterMax := int64(delay / 4); jitterMax > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(jitterMax)); err == nil {
			delay += time.Duration(n.Int64())
		}
	}
	return delay
}

func (o *Orchestrator) limiter(port string) *rate.Limiter {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.limiters[port]
	if !ok {
		limit := rate.Inf
		if o.cfg.RatePerSec > 0 {
			limit = rate.Limit(o.cfg.RatePerSec)
		}
		burst := o.cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(limit, burst)
		o.limiters[port] = l
	}
	return l
}

// Alert logs and counts an operational alert and forwards it to the sink.
// Sink failures are logged only.
func (o *Orchestrator) Alert(ctx context.Context, alert AlertSpec) {
	o.metrics.Alert(alert.Kind)
	o.logger.Error("Operational alert",
		logger.Alert(),
		zap.String("kind", alert.Kind),
		zap.String("contract_id", alert.ContractID),
		zap.String("detail", alert.Detail),
		zap.Error(alert.Err),
	)
	if o.sink == nil {
		return
	}
	if err := o.sink.Raise(ctx, alert); err != nil {
		o.logger.Warn("Failed to raise alert with sink",
			zap.String("kind", alert.Kind),
			zap.Error(err),
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
