package public

import (
	"io"
	"strings"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/http/response"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/service"

	"github.com/gin-gonic/gin"
)

const callbackLogValueLimit = 4096

// 各网关回调中值得记录的签名头
var webhookLogHeaders = []string{
	"X-Signature",
	"X-Request-Id",
	"Stripe-Signature",
	"Paypal-Transmission-Id",
	"Paypal-Transmission-Time",
}

// PaymentWebhook 网关回调入口，始终以 HTTP 200 确认。
func (h *Handler) PaymentWebhook(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := requestLog(c)
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			log.Warnw("payment_webhook_body_read_failed", "provider", provider, "error", err)
			response.Success(c, &service.WebhookResult{
				Accepted: true,
				Provider: provider,
				Status:   constants.GatewayEventResultRejected,
				Reason:   "body_unreadable",
			})
			return
		}
		fields := []interface{}{
			"provider", provider,
			"client_ip", c.ClientIP(),
			"body_size", len(body),
			"raw_query", truncateCallbackLogValue(c.Request.URL.RawQuery),
			"raw_body", callbackRawBodyForLog(body),
		}
		for _, header := range webhookLogHeaders {
			if value := strings.TrimSpace(c.GetHeader(header)); value != "" {
				fields = append(fields, strings.ToLower(strings.ReplaceAll(header, "-", "_")), truncateCallbackLogValue(value))
			}
		}
		log.Infow("payment_webhook_received", fields...)

		result := h.PaymentService.HandleWebhook(c.Request.Context(), service.WebhookDelivery{
			Provider: provider,
			Headers:  c.Request.Header,
			Query:    c.Request.URL.Query(),
			Body:     body,
		})
		log.Infow("payment_webhook_processed",
			"provider", provider,
			"event_type", result.EventType,
			"external_id", result.ExternalID,
			"status", result.Status,
			"payment_id", result.PaymentID,
			"reason", result.Reason,
		)
		response.Success(c, result)
	}
}

func truncateCallbackLogValue(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if len(raw) <= callbackLogValueLimit {
		return raw
	}
	return raw[:callbackLogValueLimit] + "...(truncated)"
}

func callbackRawBodyForLog(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	return truncateCallbackLogValue(string(body))
}
