package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/coreman27/infra/internal/config"
	"github.com/coreman27/infra/internal/consumer"
	"github.com/coreman27/infra/internal/contract"
	"github.com/coreman27/infra/internal/database"
	"github.com/coreman27/infra/internal/events"
	"github.com/coreman27/infra/internal/handlers"
	"github.com/coreman27/infra/internal/idempotency"
	"github.com/coreman27/infra/internal/ingest"
	"github.com/coreman27/infra/internal/metrics"
	"github.com/coreman27/infra/internal/ports"
	"github.com/coreman27/infra/internal/rabbitmq"
	"github.com/coreman27/infra/internal/router"
	"github.com/coreman27/infra/internal/routes"
	"github.com/coreman27/infra/internal/scheduler"
	"github.com/coreman27/infra/internal/sideeffect"
	"github.com/coreman27/infra/internal/store"
)

// Service holds all application dependencies
// This eliminates global state and enables proper dependency injection
type Service struct {
	Config    *config.Config
	DB        *gorm.DB
	Logger    *zap.Logger
	RMQ       *rabbitmq.Connection
	Redis     *redis.Client
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Machine   *contract.Machine
	Processor *ingest.Processor
	Runner    *scheduler.Runner
	Consumer  *consumer.Consumer
	Handlers  routes.Handlers
}

// NewService connects to the database and broker and wires every component.
func NewService(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	s := &Service{Config: cfg, Logger: logger}

	workflows, err := config.LoadWorkflowRoutes(cfg.Notification.WorkflowsFile)
	if err != nil {
		return nil, err
	}

	s.DB, err = database.Connect(&cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	s.RMQ = rabbitmq.NewConnection(&cfg.RabbitMQ, logger)
	if err := s.RMQ.Connect(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.RMQ.DeclareExchange(cfg.Events.Exchange); err != nil {
		s.Close()
		return nil, err
	}

	s.Registry = prometheus.NewRegistry()
	s.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.Metrics = metrics.New(s.Registry)

	orch := sideeffect.NewOrchestrator(cfg.SideEffects, logger, s.Metrics)
	if cfg.SideEffects.AlertTickets {
		orch.SetAlertSink(ports.TicketAlertSink{Tickets: ports.NewTicketingClient(cfg.Ticketing)})
	}

	s.Machine = contract.NewMachine(contract.Deps{
		Store:        store.New(s.DB),
		Billing:      ports.NewBillingClient(cfg.Billing),
		Notifier:     ports.NewNotificationClient(cfg.Notification),
		Scheduler:    scheduler.New(s.DB, cfg.Scheduler.MaxAttempts, logger),
		Events:       events.NewPublisher(events.NewAMQPBus(s.RMQ, cfg.Events.Exchange), logger, s.Metrics),
		Orchestrator: orch,
		Workflows:    workflows,
		RenewalURL:   strings.TrimRight(cfg.Server.PublicURL, "/") + routes.RenewalPath,
		Logger:       logger,
	})

	r := router.New(logger)
	r.Register(router.EntityContract, router.HandlerFunc(s.Machine.HandleContractChange))
	r.Register(router.EntityInvoice, router.HandlerFunc(s.Machine.HandleInvoiceChange))

	s.Processor = ingest.NewProcessor(r, s.ledger(), cfg.Ingest.HandlerTimeout, logger, s.Metrics)
	s.Runner = scheduler.NewRunner(cfg.Scheduler, s.DB, logger, s.Metrics)
	if cfg.Consumer.Queue != "" {
		s.Consumer = consumer.New(cfg.Consumer, s.RMQ, s.Processor, logger)
	}

	s.Handlers = routes.Handlers{
		Health: handlers.NewHealthHandler(s.DB, s.RMQ),
		Push:   handlers.NewPushHandler(s.Processor),
		Tasks:  handlers.NewTasksHandler(s.Machine, cfg.Scheduler.SigningSecret, logger),
	}
	return s, nil
}

// ledger picks redis when configured and the database otherwise.
func (s *Service) ledger() idempotency.Store {
	if s.Config.Redis.Addr == "" {
		return idempotency.NewGormStore(s.DB)
	}
	s.Redis = redis.NewClient(&redis.Options{
		Addr:     s.Config.Redis.Addr,
		Password: s.Config.Redis.Password,
		DB:       s.Config.Redis.DB,
	})
	s.Logger.Info("Using redis envelope ledger", zap.String("addr", s.Config.Redis.Addr))
	return idempotency.NewRedisStore(s.Redis, s.Config.Redis.TTL)
}

// Start launches the background workers.
func (s *Service) Start(ctx context.Context) error {
	go s.Runner.Run(ctx)
	if s.Consumer != nil {
		if err := s.Consumer.Start(); err != nil {
			return fmt.Errorf("failed to start consumer: %w", err)
		}
	}
	return nil
}

// Close releases every connection. It is safe on a partially built Service.
func (s *Service) Close() {
	if s.Consumer != nil {
		_ = s.Consumer.Stop()
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.Logger.Error("Error closing redis", zap.Error(err))
		}
	}
	if s.RMQ != nil {
		s.RMQ.Close()
	}
	if err := database.Close(s.DB, s.Logger); err != nil {
		s.Logger.Error("Error closing database", zap.Error(err))
	}
}
