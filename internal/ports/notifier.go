package ports

import (
	"context"
	"net/url"

	"github.com/coreman27/infra/internal/config"
)

// NotificationClient triggers customer messaging workflows and tracks
// product events.
type NotificationClient struct {
	client *jsonClient
}

func NewNotificationClient(cfg config.NotificationConfig) *NotificationClient {
	return &NotificationClient{client: newJSONClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout)}
}

func (n *NotificationClient) TriggerWorkflow(ctx context.Context, workflowID, recipient string, data map[string]any) error {
	return n.client.post(ctx, "notification.trigger_workflow", "/workflows/"+url.PathEscape(workflowID)+"/trigger", map[string]any{
		"recipients": []string{recipient},
		"data":       data,
	})
}

func (n *NotificationClient) TrackEvent(ctx context.Context, recipient, eventName string, data map[string]any) error {
	return n.client.post(ctx, "notification.track_event", "/track", map[string]any{
		"userId":     recipient,
		"event":      eventName,
		"properties": data,
	})
}
