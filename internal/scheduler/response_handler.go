package scheduler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/coreman27/infra/internal/models"
)

// TaskOutcome is the task state after a callback attempt.
type TaskOutcome struct {
	Status        string
	NextAttemptAt time.Time
	LastError     *string
}

// ProcessDeliveryResult decides the next task state. 2xx completes the task,
// 429 honours Retry-After, anything else is retried on the backoff table
// until maxAttempts is reached.
func ProcessDeliveryResult(result *DeliveryResult, attemptCount, maxAttempts int, now time.Time) TaskOutcome {
	var reason string
	switch {
	case result.Error != nil:
		reason = fmt.Sprintf("Network error: %v", result.Error)
	case result.HTTPStatus == nil:
		reason = "No HTTP status code received"
	case *result.HTTPStatus >= 200 && *result.HTTPStatus < 300:
		return TaskOutcome{Status: models.TaskSucceeded}
	case *result.HTTPStatus == http.StatusTooManyRequests:
		reason = "Rate limited (429)"
		if retryAfter, ok := ParseRetryAfterHeader(result.RetryAfter, now); ok && retryAfter > 0 {
			msg := fmt.Sprintf("Rate limited (429), retry after %v", retryAfter)
			return TaskOutcome{Status: models.TaskPending, NextAttemptAt: now.Add(retryAfter), LastError: &msg}
		}
	default:
		reason = fmt.Sprintf("HTTP %d", *result.HTTPStatus)
	}

	if attemptCount >= maxAttempts {
		msg := "Max attempts reached: " + reason
		return TaskOutcome{Status: models.TaskFailed, NextAttemptAt: now, LastError: &msg}
	}
	return TaskOutcome{
		Status:        models.TaskPending,
		NextAttemptAt: now.Add(CalculateBackoffDelay(attemptCount + 1)),
		LastError:     &reason,
	}
}
