package worker

import (
	"context"
	"strings"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/logger"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/provider"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/queue"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/service"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskPaymentWebhookReconcile, c.handlePaymentWebhookReconcile)
	mux.HandleFunc(queue.TaskPaymentPoll, c.handlePaymentPoll)
}

func (c *Consumer) handlePaymentWebhookReconcile(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_payment_webhook_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	payload, err := queue.ParsePaymentWebhookReconcilePayload(task)
	if err != nil {
		logger.Warnw("worker_payment_webhook_unmarshal_failed", "error", err)
		return err
	}
	if strings.TrimSpace(payload.ExternalID) == "" {
		logger.Debugw("worker_payment_webhook_skip_invalid_payload", "provider", payload.Provider, "event_id", payload.EventID)
		return nil
	}
	if c.PaymentService == nil {
		logger.Warnw("worker_payment_webhook_skip_service_nil", "external_id", payload.ExternalID)
		return nil
	}
	result := c.PaymentService.ApplyWebhookOutcome(ctx, service.WebhookOutcomeInput{
		Provider:   payload.Provider,
		EventID:    payload.EventID,
		EventType:  payload.EventType,
		ExternalID: payload.ExternalID,
	})
	if result.Retryable {
		logger.Warnw("worker_payment_webhook_retry",
			"provider", payload.Provider,
			"event_id", payload.EventID,
			"external_id", payload.ExternalID,
			"reason", result.Reason,
		)
		if result.Cause != nil {
			return result.Cause
		}
		return service.ErrGatewayUnavailable
	}
	logger.Debugw("worker_payment_webhook_done",
		"provider", payload.Provider,
		"external_id", payload.ExternalID,
		"status", result.Status,
		"payment_id", result.PaymentID,
	)
	return nil
}

func (c *Consumer) handlePaymentPoll(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_payment_poll_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	payload, err := queue.ParsePaymentPollPayload(task)
	if err != nil {
		logger.Warnw("worker_payment_poll_unmarshal_failed", "error", err)
		return err
	}
	if strings.TrimSpace(payload.PaymentID) == "" {
		logger.Debugw("worker_payment_poll_skip_invalid_payload", "school_id", payload.SchoolID)
		return nil
	}
	if c.PaymentService == nil {
		logger.Warnw("worker_payment_poll_skip_service_nil", "payment_id", payload.PaymentID)
		return nil
	}
	if err := c.PaymentService.ReconcilePayment(ctx, payload.PaymentID, payload.SchoolID, payload.TransactionID); err != nil {
		logger.Warnw("worker_payment_poll_failed", "payment_id", payload.PaymentID, "error", err)
		return err
	}
	return nil
}
