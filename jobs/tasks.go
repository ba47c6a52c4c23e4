package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/quotient-erp/quotient/internal/quotations"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskNotifyDispatch is the task type for fanning out domain event
	// notifications.
	TaskNotifyDispatch = "quotation:notify"
	// TaskQuotationExpire is the task type for the expiry sweep.
	TaskQuotationExpire = "quotation:expire"
)

// NotifyPayload carries one domain event through the queue.
type NotifyPayload struct {
	Event quotations.Event `json:"event"`
}

// NewNotifyTask constructs an Asynq task for one domain event.
func NewNotifyTask(event quotations.Event) (*asynq.Task, error) {
	data, err := json.Marshal(NotifyPayload{Event: event})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifyDispatch, data), nil
}

// NewExpireTask constructs the expiry sweep task. The payload is empty; the
// sweep scans for overdue quotations itself.
func NewExpireTask() *asynq.Task {
	return asynq.NewTask(TaskQuotationExpire, nil)
}

// NewNotifyHandler returns the handler for TaskNotifyDispatch tasks. The
// current delivery channel is the structured log; webhook and email fan-out
// hang off the same payload.
func NewNotifyHandler(logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload NotifyPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		logger.Info("notification dispatched",
			slog.String("type", string(payload.Event.Type)),
			slog.Int64("quotation_id", payload.Event.QuotationID),
			slog.Int("revision", payload.Event.RevisionVersion),
		)
		return nil
	}
}

// NewExpireHandler returns the handler for TaskQuotationExpire tasks. Each
// run sweeps overdue quotations and re-enqueues the resulting events as
// notifications.
func NewExpireHandler(svc *quotations.Service, client *Client, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		events, err := svc.EvaluateExpired(ctx)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		logger.Info("expiry sweep", slog.Int("expired", len(events)))
		if client == nil {
			return nil
		}
		return client.Dispatch(ctx, events)
	}
}
