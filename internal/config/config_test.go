package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("SERVER_PUBLIC_URL", "https://contracts.example.com")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_USER", "svc")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "contracts")
	t.Setenv("TASK_SIGNING_SECRET", "s3cret")
	t.Setenv("BILLING_BASE_URL", "https://billing.example.com")
	t.Setenv("BILLING_API_KEY", "bk")
	t.Setenv("NOTIFICATION_BASE_URL", "https://notify.example.com")
	t.Setenv("NOTIFICATION_API_KEY", "nk")
	t.Setenv("TICKETING_BASE_URL", "https://tickets.example.com")
	t.Setenv("TICKETING_API_KEY", "tk")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 25*time.Second, cfg.Ingest.HandlerTimeout)
	assert.Equal(t, 4, cfg.SideEffects.MaxAttempts)
	assert.Equal(t, 8, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, "domain-events", cfg.Events.Exchange)
	assert.Empty(t, cfg.Consumer.Queue)
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("BILLING_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BILLING_API_KEY")
}

func TestRabbitMQConfig_ConnectionURL(t *testing.T) {
	c := RabbitMQConfig{Host: "mq", Port: "5672", User: "u", Password: "p", VHost: "/"}
	assert.Equal(t, "amqp://u:p@mq:5672/", c.ConnectionURL())

	c.URL = "amqp://override"
	assert.Equal(t, "amqp://override", c.ConnectionURL())
}

func TestParseWorkflowRoutes(t *testing.T) {
	routes, err := ParseWorkflowRoutes([]byte(`
workflows:
  - event: contract.renewed
    workflow: contract-renewed
  - event: contract.completed
    workflow: contract-ended
`))
	require.NoError(t, err)
	assert.Equal(t, "contract-renewed", routes["contract.renewed"])
	assert.Equal(t, "contract-ended", routes["contract.completed"])

	_, err = ParseWorkflowRoutes([]byte("workflows:\n  - event: contract.renewed\n"))
	assert.Error(t, err)
}

func TestLoadWorkflowRoutes_EmptyPath(t *testing.T) {
	routes, err := LoadWorkflowRoutes("")
	require.NoError(t, err)
	assert.Empty(t, routes)
}
