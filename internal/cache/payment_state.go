package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CheckoutSnapshot 沙箱收银台快照，仅用于排查
type CheckoutSnapshot struct {
	PaymentID          string `json:"payment_id"`
	SchoolID           string `json:"school_id"`
	Provider           string `json:"provider"`
	ExternalReference  string `json:"external_reference"`
	RedirectURL        string `json:"redirect_url"`
	SandboxRedirectURL string `json:"sandbox_redirect_url"`
	CreatedAt          int64  `json:"created_at"`
}

func webhookEventKey(provider, eventID string) string {
	return fmt.Sprintf("webhook:%s:%s", strings.ToLower(strings.TrimSpace(provider)), strings.TrimSpace(eventID))
}

func checkoutSnapshotKey(paymentID, reference string) string {
	return fmt.Sprintf("checkout:%s:%s", strings.TrimSpace(paymentID), strings.TrimSpace(reference))
}

// MarkWebhookEvent 标记回调事件已接收；返回 false 表示重复投递
// 未启用 Redis 或事件无 ID 时总是返回 true
func MarkWebhookEvent(ctx context.Context, provider, eventID string, ttl time.Duration) (bool, error) {
	if strings.TrimSpace(eventID) == "" || ttl <= 0 {
		return true, nil
	}
	return SetNX(ctx, webhookEventKey(provider, eventID), time.Now().Unix(), ttl)
}

// ReleaseWebhookEvent 处理失败时释放去重标记，允许网关重投
func ReleaseWebhookEvent(ctx context.Context, provider, eventID string) error {
	if strings.TrimSpace(eventID) == "" {
		return nil
	}
	return Del(ctx, webhookEventKey(provider, eventID))
}

// SetCheckoutSnapshot 写入收银台快照
func SetCheckoutSnapshot(ctx context.Context, snapshot *CheckoutSnapshot, ttl time.Duration) error {
	if snapshot == nil || ttl <= 0 {
		return nil
	}
	return SetJSON(ctx, checkoutSnapshotKey(snapshot.PaymentID, snapshot.ExternalReference), snapshot, ttl)
}

// GetCheckoutSnapshot 读取收银台快照
func GetCheckoutSnapshot(ctx context.Context, paymentID, reference string) (*CheckoutSnapshot, bool, error) {
	var snapshot CheckoutSnapshot
	hit, err := GetJSON(ctx, checkoutSnapshotKey(paymentID, reference), &snapshot)
	if err != nil || !hit {
		return nil, false, err
	}
	return &snapshot, true, nil
}
