package queue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskPaymentWebhookReconcile 回调异步对账任务
	TaskPaymentWebhookReconcile = constants.TaskPaymentWebhookReconcile
	// TaskPaymentPoll 待支付单主动查询任务
	TaskPaymentPoll = constants.TaskPaymentPoll
)

// PaymentWebhookReconcilePayload 回调对账任务载荷
type PaymentWebhookReconcilePayload struct {
	Provider   string `json:"provider"`
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	ExternalID string `json:"external_id"`
}

// PaymentPollPayload 主动查询任务载荷
type PaymentPollPayload struct {
	PaymentID     string `json:"payment_id"`
	SchoolID      string `json:"school_id"`
	TransactionID string `json:"transaction_id"`
}

// NewPaymentWebhookReconcileTask 创建回调对账任务
func NewPaymentWebhookReconcileTask(payload PaymentWebhookReconcilePayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.ExternalID) == "" {
		return nil, fmt.Errorf("webhook reconcile task requires external_id")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentWebhookReconcile, body), nil
}

// NewPaymentPollTask 创建主动查询任务
func NewPaymentPollTask(payload PaymentPollPayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.PaymentID) == "" {
		return nil, fmt.Errorf("payment poll task requires payment_id")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentPoll, body), nil
}

// ParsePaymentWebhookReconcilePayload 解析回调对账任务
func ParsePaymentWebhookReconcilePayload(task *asynq.Task) (PaymentWebhookReconcilePayload, error) {
	var payload PaymentWebhookReconcilePayload
	if task == nil {
		return payload, fmt.Errorf("task is nil")
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, err
	}
	return payload, nil
}

// ParsePaymentPollPayload 解析主动查询任务
func ParsePaymentPollPayload(task *asynq.Task) (PaymentPollPayload, error) {
	var payload PaymentPollPayload
	if task == nil {
		return payload, fmt.Errorf("task is nil")
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, err
	}
	return payload, nil
}
