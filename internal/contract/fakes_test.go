package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coreman27/infra/internal/config"
	"github.com/coreman27/infra/internal/envelope"
	"github.com/coreman27/infra/internal/models"
	"github.com/coreman27/infra/internal/ports"
	"github.com/coreman27/infra/internal/sideeffect"
	"github.com/coreman27/infra/internal/store"
)

type memoryStore struct {
	mu            sync.Mutex
	contracts     map[string]models.Contract
	subscriptions map[string]models.Subscription
	upfront       map[string]bool
	created       []string
	statusErr     error
	// statusFailures makes that many UpdateStatus calls fail before
	// succeeding.
	statusFailures int
	// beforeUpfront runs at the start of HasUpfrontOption, between the
	// renewal read and its billing steps.
	beforeUpfront func()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		contracts:     map[string]models.Contract{},
		subscriptions: map[string]models.Subscription{},
		upfront:       map[string]bool{},
	}
}

func (s *memoryStore) GetContract(_ context.Context, id string) (*models.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return nil, sideeffect.Permanent(fmt.Errorf("contract %s: %w", id, store.ErrNotFound))
	}
	return &c, nil
}

func (s *memoryStore) GetSubscription(_ context.Context, id string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, sideeffect.Permanent(fmt.Errorf("subscription %s: %w", id, store.ErrNotFound))
	}
	return &sub, nil
}

func (s *memoryStore) CreateContract(_ context.Context, c *models.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contracts[c.ID]; ok {
		return nil
	}
	s.contracts[c.ID] = *c
	s.created = append(s.created, c.ID)
	return nil
}

func (s *memoryStore) UpdateStatus(_ context.Context, id string, from []models.ContractStatus, to models.ContractStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusErr != nil {
		return false, s.statusErr
	}
	if s.statusFailures > 0 {
		s.statusFailures--
		return false, errors.New("deadlock detected")
	}
	c, ok := s.contracts[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if c.Status == f {
			c.Status = to
			s.contracts[id] = c
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) UpdateFields(_ context.Context, id string, update ports.ContractFieldUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return sideeffect.Permanent(store.ErrNotFound)
	}
	if update.AutoRenew != nil {
		c.AutoRenew = *update.AutoRenew
	}
	if update.EndDate != nil {
		c.EndDate = update.EndDate
	}
	s.contracts[id] = c
	return nil
}

func (s *memoryStore) HasUpfrontOption(_ context.Context, itemPriceID string) (bool, error) {
	if s.beforeUpfront != nil {
		s.beforeUpfront()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upfront[itemPriceID], nil
}

func (s *memoryStore) setStatus(id string, status models.ContractStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.contracts[id]
	c.Status = status
	s.contracts[id] = c
}

type recordingSink struct {
	alerts []sideeffect.AlertSpec
}

func (r *recordingSink) Raise(_ context.Context, alert sideeffect.AlertSpec) error {
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *recordingSink) kinds() []string {
	out := make([]string, 0, len(r.alerts))
	for _, a := range r.alerts {
		out = append(out, a.Kind)
	}
	return out
}

type metadataCall struct {
	SubscriptionID string
	Meta           ports.SubscriptionMetadata
}

type fakeBilling struct {
	metadata []metadataCall
	resets   []string
	err      error
}

func (b *fakeBilling) UpdateSubscriptionMetadata(_ context.Context, subscriptionID string, meta ports.SubscriptionMetadata) error {
	if b.err != nil {
		return b.err
	}
	b.metadata = append(b.metadata, metadataCall{SubscriptionID: subscriptionID, Meta: meta})
	return nil
}

func (b *fakeBilling) ResetToBaselinePrice(_ context.Context, subscriptionID string) error {
	if b.err != nil {
		return b.err
	}
	b.resets = append(b.resets, subscriptionID)
	return nil
}

type fakeNotifier struct {
	workflows []string
	tracked   []string
}

func (n *fakeNotifier) TriggerWorkflow(_ context.Context, workflowID, _ string, _ map[string]any) error {
	n.workflows = append(n.workflows, workflowID)
	return nil
}

func (n *fakeNotifier) TrackEvent(_ context.Context, _, eventName string, _ map[string]any) error {
	n.tracked = append(n.tracked, eventName)
	return nil
}

// memoryScheduler keeps one task per name, like the real scheduler.
type memoryScheduler struct {
	tasks map[string]ports.Task
	calls int
	err   error
}

func (s *memoryScheduler) Schedule(_ context.Context, task ports.Task) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	if _, ok := s.tasks[task.Name]; !ok {
		s.tasks[task.Name] = task
	}
	return nil
}

type publishedEvent struct {
	Type    string
	Payload map[string]any
}

type fakeEvents struct {
	events []publishedEvent
}

func (e *fakeEvents) Publish(_ context.Context, eventType string, payload map[string]any) (models.DomainEvent, error) {
	e.events = append(e.events, publishedEvent{Type: eventType, Payload: payload})
	return models.DomainEvent{ID: fmt.Sprintf("evt_%d", len(e.events)), Type: eventType, Payload: payload}, nil
}

func (e *fakeEvents) types() []string {
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	machine   *Machine
	store     *memoryStore
	billing   *fakeBilling
	notifier  *fakeNotifier
	scheduler *memoryScheduler
	events    *fakeEvents
	alerts    *recordingSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithConfig(t, config.SideEffectConfig{MaxAttempts: 1})
}

func newHarnessWithConfig(t *testing.T, cfg config.SideEffectConfig) *harness {
	t.Helper()
	h := &harness{
		store:     newMemoryStore(),
		billing:   &fakeBilling{},
		notifier:  &fakeNotifier{},
		scheduler: &memoryScheduler{tasks: map[string]ports.Task{}},
		events:    &fakeEvents{},
		alerts:    &recordingSink{},
	}
	orch := sideeffect.NewOrchestrator(cfg, zap.NewNop(), nil)
	orch.SetAlertSink(h.alerts)
	h.machine = NewMachine(Deps{
		Store:        h.store,
		Billing:      h.billing,
		Notifier:     h.notifier,
		Scheduler:    h.scheduler,
		Events:       h.events,
		Orchestrator: orch,
		Workflows:    config.WorkflowRoutes{models.EventContractRenewed: "contract-renewed"},
		RenewalURL:   "https://contracts.example.com/tasks/renewal",
		NewID:        func(string) string { return "con_2" },
		Logger:       zap.NewNop(),
	})
	return h
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func row(t *testing.T, fields map[string]any) *envelope.Snapshot {
	t.Helper()
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	snap, err := envelope.NewSnapshot(raw)
	require.NoError(t, err)
	return snap
}

func contractRow(status models.ContractStatus, autoRenew bool) map[string]any {
	return map[string]any{
		"id":              "con_1",
		"customer_id":     "cus_1",
		"subscription_id": "sub_1",
		"status":          string(status),
		"length_months":   6,
		"auto_renew":      autoRenew,
		"start_date":      "2024-01-01",
		"end_date":        "2024-06-30",
	}
}

func with(fields map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	out[key] = value
	return out
}

func insertEnv(t *testing.T, after map[string]any) *envelope.ChangeEnvelope {
	return &envelope.ChangeEnvelope{ID: "env_ins", Entity: "contracts", Operation: envelope.OpInsert, After: row(t, after)}
}

func updateEnv(t *testing.T, before, after map[string]any) *envelope.ChangeEnvelope {
	return &envelope.ChangeEnvelope{
		ID:        "env_upd",
		Entity:    "contracts",
		Operation: envelope.OpUpdate,
		Before:    row(t, before),
		After:     row(t, after),
	}
}
