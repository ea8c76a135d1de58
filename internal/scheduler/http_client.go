package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DeliveryResult represents the result of a task callback attempt
type DeliveryResult struct {
	HTTPStatus      *int
	LatencyMs       int
	ResponseSummary *string
	Error           error
	RetryAfter      string
}

// deliverTask POSTs the task payload to its target URL with a signature header.
func deliverTask(
	ctx context.Context,
	client *http.Client,
	taskName, url string,
	payload []byte,
	secret string,
	maxResponseBodySize int,
	logger *zap.Logger,
) *DeliveryResult {
	result := &DeliveryResult{}

	signature, err := GenerateHMACSignature(payload, secret)
	if err != nil {
		result.Error = fmt.Errorf("failed to generate HMAC signature: %w", err)
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		result.Error = fmt.Errorf("failed to create HTTP request: %w", err)
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)
	req.Header.Set(TaskNameHeader, taskName)

	startTime := time.Now()
	resp, err := client.Do(req)
	result.LatencyMs = int(time.Since(startTime).Milliseconds())
	if err != nil {
		// Network/timeout error
		result.Error = fmt.Errorf("HTTP request failed: %w", err)
		return result
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	result.HTTPStatus = &status

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, int64(maxResponseBodySize)+1))
	if readErr != nil {
		logger.Warn("Failed to read callback response body",
			zap.String("task_name", taskName),
			zap.Error(readErr),
		)
	}

	var summary string
	if len(body) > maxResponseBodySize {
		summary = fmt.Sprintf("Response body truncated (max %d bytes): %s", maxResponseBodySize, body[:maxResponseBodySize])
	} else if len(body) > 0 {
		summary = "Response body: " + string(body)
	}
	if len(summary) > 500 {
		summary = summary[:500] + "..."
	}
	if summary != "" {
		result.ResponseSummary = &summary
	}

	result.RetryAfter = resp.Header.Get("Retry-After")
	return result
}
