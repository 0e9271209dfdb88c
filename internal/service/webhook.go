package service

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/cache"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/gateway"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/models"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/queue"
)

// WebhookDelivery 网关回调原始报文
type WebhookDelivery struct {
	Provider string
	Headers  http.Header
	Query    url.Values
	Body     []byte
}

// WebhookOutcomeInput 已解析的回调事件
type WebhookOutcomeInput struct {
	Provider   string
	EventID    string
	EventType  string
	ExternalID string
	Payload    map[string]interface{}
}

// WebhookResult 回调处理结果，总是被确认
type WebhookResult struct {
	Accepted      bool   `json:"accepted"`
	Provider      string `json:"provider"`
	EventType     string `json:"event_type"`
	ExternalID    string `json:"external_id,omitempty"`
	Status        string `json:"status"`
	PaymentID     string `json:"payment_id,omitempty"`
	PaymentStatus string `json:"payment_status,omitempty"`
	GatewayStatus string `json:"gateway_status,omitempty"`
	Reason        string `json:"reason,omitempty"`
	// Retryable 网关或存储暂不可用，异步任务据此决定是否重试
	Retryable bool `json:"-"`
	// Cause 可重试失败的分类错误（ErrGatewayUnavailable / ErrPaymentStoreFailed）
	Cause error `json:"-"`
}

// HandleWebhook 解析、验签、去重后同步归并或投递异步任务
func (s *PaymentService) HandleWebhook(ctx context.Context, delivery WebhookDelivery) *WebhookResult {
	provider := strings.ToLower(strings.TrimSpace(delivery.Provider))
	result := &WebhookResult{Accepted: true, Provider: provider}
	log := paymentLogger("provider", provider, "body_size", len(delivery.Body))

	gw, ok := s.gateways.Get(provider)
	if !ok {
		log.Warnw("payment_webhook_provider_not_configured")
		result.Status = constants.GatewayEventResultIgnored
		result.Reason = "provider_not_configured"
		return result
	}
	parser, ok := gw.(gateway.WebhookParser)
	if !ok {
		result.Status = constants.GatewayEventResultIgnored
		result.Reason = "provider_has_no_webhook"
		return result
	}

	notification, err := parser.ParseWebhook(delivery.Headers, delivery.Query, delivery.Body)
	if err != nil {
		reason := "payload_invalid"
		if errors.Is(err, gateway.ErrSignatureInvalid) {
			reason = "signature_invalid"
		}
		log.Warnw("payment_webhook_rejected", "reason", reason, "error", err)
		result.Status = constants.GatewayEventResultRejected
		result.Reason = reason
		s.recordEvent(&models.GatewayEvent{
			Provider: provider,
			Source:   constants.GatewayEventSourceWebhook,
			Result:   constants.GatewayEventResultRejected,
			Error:    errorText(err),
		})
		return result
	}

	input := WebhookOutcomeInput{
		Provider:   provider,
		EventID:    notification.EventID,
		EventType:  notification.EventType,
		ExternalID: notification.ExternalID,
		Payload:    notification.Raw,
	}
	result.EventType = input.EventType
	result.ExternalID = input.ExternalID
	log = log.With("event_type", input.EventType, "event_id", input.EventID, "external_id", input.ExternalID)
	log.Infow("payment_webhook_received")

	if input.EventType != constants.GatewayEventTypePayment {
		result.Status = constants.GatewayEventResultIgnored
		return result
	}

	if s.options.WebhookDedupeTTL > 0 && input.EventID != "" {
		first, err := cache.MarkWebhookEvent(ctx, provider, input.EventID, s.options.WebhookDedupeTTL)
		if err != nil {
			log.Warnw("payment_webhook_dedupe_unavailable", "error", err)
		} else if !first {
			log.Infow("payment_webhook_duplicate")
			result.Status = constants.GatewayEventResultDuplicate
			return result
		}
	}

	if s.options.WebhookAsync && s.queueClient.Enabled() {
		err := s.queueClient.EnqueuePaymentWebhookReconcile(ctx, queue.PaymentWebhookReconcilePayload{
			Provider:   provider,
			EventID:    input.EventID,
			EventType:  input.EventType,
			ExternalID: input.ExternalID,
		})
		if err == nil {
			result.Status = constants.GatewayEventResultQueued
			return result
		}
		log.Warnw("payment_webhook_enqueue_failed_fallback_sync", "error", err)
	}

	applied := s.ApplyWebhookOutcome(ctx, input)
	if applied.Retryable && s.options.WebhookDedupeTTL > 0 {
		if err := cache.ReleaseWebhookEvent(ctx, provider, input.EventID); err != nil {
			log.Warnw("payment_webhook_dedupe_release_failed", "error", err)
		}
	}
	return applied
}

// ApplyWebhookOutcome 按回调事件回查网关并归并；从不向调用方返回错误
func (s *PaymentService) ApplyWebhookOutcome(ctx context.Context, input WebhookOutcomeInput) *WebhookResult {
	provider := strings.ToLower(strings.TrimSpace(input.Provider))
	externalID := strings.TrimSpace(input.ExternalID)
	result := &WebhookResult{
		Accepted:   true,
		Provider:   provider,
		EventType:  input.EventType,
		ExternalID: externalID,
	}
	if strings.TrimSpace(input.EventType) != constants.GatewayEventTypePayment {
		result.Status = constants.GatewayEventResultIgnored
		return result
	}
	log := paymentLogger(
		"provider", provider,
		"event_id", input.EventID,
		"external_id", externalID,
	)
	event := &models.GatewayEvent{
		Provider:   provider,
		Source:     constants.GatewayEventSourceWebhook,
		EventType:  input.EventType,
		ExternalID: externalID,
		Payload:    models.JSON(input.Payload),
	}
	finish := func(status, reason string, err error) *WebhookResult {
		result.Status = status
		result.Reason = reason
		event.Result = status
		event.Error = errorText(err)
		if event.Error == "" {
			event.Error = reason
		}
		s.recordEvent(event)
		return result
	}
	retry := func(reason string, cause, err error) *WebhookResult {
		result.Retryable = true
		result.Cause = cause
		return finish(constants.GatewayEventResultFailed, reason, err)
	}

	if externalID == "" {
		log.Warnw("payment_webhook_external_id_missing")
		return finish(constants.GatewayEventResultIgnored, "external_id_missing", nil)
	}
	gw, ok := s.gateways.Get(provider)
	if !ok {
		log.Warnw("payment_webhook_provider_not_configured")
		return finish(constants.GatewayEventResultIgnored, "provider_not_configured", nil)
	}

	outcome, err := gw.GetOutcome(ctx, externalID)
	if err != nil {
		if errors.Is(err, gateway.ErrReferenceNotFound) {
			log.Infow("payment_webhook_reference_not_found")
			return finish(constants.GatewayEventResultNotFound, "gateway_reference_not_found", err)
		}
		log.Warnw("payment_webhook_gateway_unavailable", "error", err)
		return retry("gateway_unavailable", ErrGatewayUnavailable, err)
	}
	result.GatewayStatus = outcome.GatewayStatus
	event.GatewayStatus = outcome.GatewayStatus
	if len(outcome.Raw) > 0 {
		event.Payload = models.JSON(outcome.Raw)
	}

	reference := strings.TrimSpace(outcome.ExternalReference)
	if reference == "" {
		reference = externalID
	}
	payment, err := s.paymentRepo.GetLatestByTransactionID(reference)
	if err != nil {
		log.Errorw("payment_webhook_payment_lookup_failed", "reference", reference, "error", err)
		return retry("payment_lookup_failed", ErrPaymentStoreFailed, err)
	}
	if payment == nil {
		// 未知流水号或已被重新发起的收银台覆盖
		log.Infow("payment_webhook_payment_not_found", "reference", reference)
		return finish(constants.GatewayEventResultNotFound, "payment_not_found", nil)
	}
	result.PaymentID = payment.ID
	event.PaymentID = payment.ID
	event.SchoolID = payment.SchoolID
	outcome.ExternalReference = reference

	updated, applied, err := s.applyOutcome(ctx, payment.ID, payment.SchoolID, gw.Name(), *outcome)
	if err != nil {
		log.Errorw("payment_webhook_apply_failed", "payment_id", payment.ID, "error", err)
		if errors.Is(err, ErrPaymentStoreFailed) {
			return retry("apply_failed", ErrPaymentStoreFailed, err)
		}
		return finish(constants.GatewayEventResultFailed, "apply_failed", err)
	}
	result.PaymentStatus = updated.Status
	if applied {
		return finish(constants.GatewayEventResultApplied, "", nil)
	}
	return finish(constants.GatewayEventResultUnchanged, "", nil)
}
