package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable 网络、超时、鉴权或网关 5xx
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrReferenceNotFound 网关不认识该外部流水号
	ErrReferenceNotFound = errors.New("payment gateway reference not found")
	// ErrConfigInvalid 网关配置无效
	ErrConfigInvalid = errors.New("payment gateway config invalid")
	// ErrSignatureInvalid 回调验签失败
	ErrSignatureInvalid = errors.New("payment gateway signature invalid")
	// ErrPayloadInvalid 回调报文无法解析
	ErrPayloadInvalid = errors.New("payment gateway payload invalid")
)

// DefaultTimeout 单次网关调用超时
const DefaultTimeout = 5 * time.Second

// CheckoutRequest 创建收银台参数
type CheckoutRequest struct {
	PaymentID   string
	SchoolID    string
	Amount      decimal.Decimal
	Currency    string
	Description string
	PayerEmail  string
}

// CheckoutHandle 网关收银台句柄
type CheckoutHandle struct {
	ExternalReference  string
	RedirectURL        string
	SandboxRedirectURL string
}

// Outcome 网关侧的支付结果
type Outcome struct {
	ExternalReference string
	GatewayStatus     string
	SettledAt         *time.Time
	MethodLabel       string
	// GatewayPaymentID 网关内部支付单号（可能与 ExternalReference 不同）
	GatewayPaymentID string
	Raw              map[string]interface{}
}

// Notification 回调报文解析结果
type Notification struct {
	EventID    string
	EventType  string
	ExternalID string
	Raw        map[string]interface{}
}

// Gateway 支付网关客户端
type Gateway interface {
	Name() string
	PublishableKey() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutHandle, error)
	GetOutcome(ctx context.Context, externalReference string) (*Outcome, error)
}

// WebhookParser 可验签并解析回调的网关
type WebhookParser interface {
	ParseWebhook(headers http.Header, query url.Values, body []byte) (*Notification, error)
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// ValidateConfig 使用 struct tag 校验网关配置
func ValidateConfig(cfg interface{}) error {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrConfigInvalid)
	}
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			first := fieldErrs[0]
			return fmt.Errorf("%w: %s failed on %s", ErrConfigInvalid, strings.ToLower(first.Field()), first.Tag())
		}
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	return nil
}

// WithTimeout 为网关调用附加超时；已有更短 deadline 时保持不变
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// Unavailable 包装为 ErrUnavailable
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// NotFound 包装为 ErrReferenceNotFound
func NotFound(reference string) error {
	return fmt.Errorf("%w: %s", ErrReferenceNotFound, strings.TrimSpace(reference))
}

// NormalizeStatus 统一网关状态大小写与空白
func NormalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}
