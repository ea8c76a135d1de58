package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	Server       ServerConfig
	Database     DatabaseConfig
	RabbitMQ     RabbitMQConfig
	Redis        RedisConfig
	Ingest       IngestConfig
	Scheduler    SchedulerConfig
	SideEffects  SideEffectConfig
	Billing      BillingConfig
	Notification NotificationConfig
	Ticketing    TicketingConfig
	Events       EventsConfig
	Consumer     ConsumerConfig
}

type ServerConfig struct {
	Port string `env:"SERVER_PORT" envDefault:"8080"`
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	// PublicURL is the externally reachable base URL used as the target of
	// scheduled task callbacks.
	PublicURL string `env:"SERVER_PUBLIC_URL,notEmpty"`
}

type DatabaseConfig struct {
	Host           string `env:"DB_HOST,notEmpty"`
	Port           string `env:"DB_PORT" envDefault:"5432"`
	User           string `env:"DB_USER,notEmpty"`
	Password       string `env:"DB_PASSWORD,notEmpty"`
	DBName         string `env:"DB_NAME,notEmpty"`
	SSLMode        string `env:"DB_SSLMODE" envDefault:"disable"`
	MigrationsPath string `env:"DB_MIGRATIONS_PATH" envDefault:"file://db/migrations"`
}

type RabbitMQConfig struct {
	URL      string `env:"RABBITMQ_URL"`
	Host     string `env:"RABBITMQ_HOST" envDefault:"localhost"`
	Port     string `env:"RABBITMQ_PORT" envDefault:"5672"`
	User     string `env:"RABBITMQ_USER" envDefault:"guest"`
	Password string `env:"RABBITMQ_PASSWORD" envDefault:"guest"`
	VHost    string `env:"RABBITMQ_VHOST" envDefault:"/"`
}

// RedisConfig enables the redis-backed envelope ledger when Addr is set.
type RedisConfig struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" envDefault:"0"`
	TTL      time.Duration `env:"REDIS_DEDUPE_TTL" envDefault:"168h"`
}

type IngestConfig struct {
	HandlerTimeout time.Duration `env:"INGEST_HANDLER_TIMEOUT" envDefault:"25s"`
}

type SchedulerConfig struct {
	SigningSecret       string        `env:"TASK_SIGNING_SECRET,notEmpty"`
	PollInterval        time.Duration `env:"TASK_POLL_INTERVAL" envDefault:"15s"`
	BatchSize           int           `env:"TASK_BATCH_SIZE" envDefault:"20"`
	MaxAttempts         int           `env:"TASK_MAX_ATTEMPTS" envDefault:"8"`
	HTTPTimeout         time.Duration `env:"TASK_HTTP_TIMEOUT" envDefault:"30s"`
	MaxResponseBodySize int           `env:"TASK_MAX_RESPONSE_BODY" envDefault:"4096"`
}

type SideEffectConfig struct {
	MaxAttempts  int           `env:"SIDE_EFFECT_MAX_ATTEMPTS" envDefault:"4"`
	BaseDelay    time.Duration `env:"SIDE_EFFECT_BASE_DELAY" envDefault:"200ms"`
	MaxDelay     time.Duration `env:"SIDE_EFFECT_MAX_DELAY" envDefault:"5s"`
	CallTimeout  time.Duration `env:"SIDE_EFFECT_CALL_TIMEOUT" envDefault:"8s"`
	RatePerSec   float64       `env:"SIDE_EFFECT_RATE_PER_SEC" envDefault:"10"`
	RateBurst    int           `env:"SIDE_EFFECT_RATE_BURST" envDefault:"5"`
	AlertTickets bool          `env:"SIDE_EFFECT_ALERT_TICKETS" envDefault:"true"`
}

type BillingConfig struct {
	BaseURL string        `env:"BILLING_BASE_URL,notEmpty"`
	APIKey  string        `env:"BILLING_API_KEY,notEmpty"`
	Timeout time.Duration `env:"BILLING_TIMEOUT" envDefault:"10s"`
}

type NotificationConfig struct {
	BaseURL       string        `env:"NOTIFICATION_BASE_URL,notEmpty"`
	APIKey        string        `env:"NOTIFICATION_API_KEY,notEmpty"`
	Timeout       time.Duration `env:"NOTIFICATION_TIMEOUT" envDefault:"10s"`
	WorkflowsFile string        `env:"NOTIFICATION_WORKFLOWS_FILE"`
}

type TicketingConfig struct {
	BaseURL   string        `env:"TICKETING_BASE_URL,notEmpty"`
	APIKey    string        `env:"TICKETING_API_KEY,notEmpty"`
	Requester string        `env:"TICKETING_REQUESTER" envDefault:"contracts-bot@coreman.io"`
	Timeout   time.Duration `env:"TICKETING_TIMEOUT" envDefault:"10s"`
}

type EventsConfig struct {
	Exchange string `env:"EVENTS_EXCHANGE" envDefault:"domain-events"`
}

// ConsumerConfig enables the AMQP change-event transport when Queue is set.
type ConsumerConfig struct {
	Queue         string `env:"CHANGE_EVENTS_QUEUE"`
	PrefetchCount int    `env:"CHANGE_EVENTS_PREFETCH" envDefault:"10"`
}

// Load parses the process environment into a Config.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// ConnectionString returns a DSN string for GORM
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}

// MigrationURL returns the postgres:// URL form used by golang-migrate.
func (c *DatabaseConfig) MigrationURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

func (c *RabbitMQConfig) ConnectionURL() string {
	if c.URL != "" {
		return c.URL
	}
	vhost := c.VHost
	if vhost == "/" {
		vhost = ""
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s/%s",
		c.User, c.Password, c.Host, c.Port, vhost)
}

// WorkflowRoutes maps a domain event type to the notification workflow that
// should run for the contract's customer.
type WorkflowRoutes map[string]string

type workflowFile struct {
	Workflows []struct {
		Event    string `yaml:"event"`
		Workflow string `yaml:"workflow"`
	} `yaml:"workflows"`
}

// LoadWorkflowRoutes reads the notification routing file. An empty path
// yields an empty route table.
func LoadWorkflowRoutes(path string) (WorkflowRoutes, error) {
	routes := WorkflowRoutes{}
	if path == "" {
		return routes, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflows file: %w", err)
	}
	return ParseWorkflowRoutes(data)
}

func ParseWorkflowRoutes(data []byte) (WorkflowRoutes, error) {
	var file workflowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse workflows file: %w", err)
	}
	routes := WorkflowRoutes{}
	for _, w := range file.Workflows {
		if w.Event == "" || w.Workflow == "" {
			return nil, fmt.Errorf("workflow entry requires event and workflow")
		}
		routes[w.Event] = w.Workflow
	}
	return routes, nil
}
