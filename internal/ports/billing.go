package ports

import (
	"context"
	"net/url"

	"github.com/coreman27/infra/internal/config"
)

// BillingClient talks to the billing vendor's subscription API.
type BillingClient struct {
	client *jsonClient
}

func NewBillingClient(cfg config.BillingConfig) *BillingClient {
	return &BillingClient{client: newJSONClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout)}
}

func (b *BillingClient) UpdateSubscriptionMetadata(ctx context.Context, subscriptionID string, meta SubscriptionMetadata) error {
	path := "/subscriptions/" + url.PathEscape(subscriptionID) + "/metadata"
	return b.client.post(ctx, "billing.update_subscription_metadata", path, meta)
}

func (b *BillingClient) ResetToBaselinePrice(ctx context.Context, subscriptionID string) error {
	path := "/subscriptions/" + url.PathEscape(subscriptionID) + "/reset_price"
	return b.client.post(ctx, "billing.reset_to_baseline_price", path, map[string]any{})
}
