package paypal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/gateway"

	paypalsdk "github.com/plutov/paypal/v4"
	"github.com/tidwall/gjson"
)

var ErrResponseInvalid = errors.New("paypal response invalid")

const (
	orderIntentCapture  = "CAPTURE"
	orderStatusApproved = "APPROVED"
	linkRelApprove      = "approve"
	linkRelPayerAction  = "payer-action"
	defaultMethodLabel  = "paypal"
	eventPrefixOrder    = "CHECKOUT.ORDER."
	eventPrefixCapture  = "PAYMENT.CAPTURE."
	defaultBrandName    = "Sistema Gestion Escolar"
	sandboxBaseURL      = paypalsdk.APIBaseSandBox
	liveBaseURL         = paypalsdk.APIBaseLive
	relatedOrderIDPath  = "resource.supplementary_data.related_ids.order_id"
	resourceIDPath      = "resource.id"
	eventTypePath       = "event_type"
	eventIDPath         = "id"
)

// Config PayPal 渠道配置。
type Config struct {
	ClientID  string        `mapstructure:"client_id" validate:"required"`
	Secret    string        `mapstructure:"secret" validate:"required"`
	Sandbox   bool          `mapstructure:"sandbox"`
	BaseURL   string        `mapstructure:"base_url" validate:"omitempty,url"`
	ReturnURL string        `mapstructure:"return_url" validate:"required,url"`
	CancelURL string        `mapstructure:"cancel_url" validate:"required,url"`
	BrandName string        `mapstructure:"brand_name"`
	Timeout   time.Duration `mapstructure:"-"`
}

// Client PayPal Orders v2 网关客户端，外部流水号为订单号。
type Client struct {
	cfg Config
	api *paypalsdk.Client
}

// New 创建客户端。
func New(cfg Config) (*Client, error) {
	cfg.normalize()
	if err := gateway.ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	api, err := paypalsdk.NewClient(cfg.ClientID, cfg.Secret, cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrConfigInvalid, err)
	}
	api.Client = &http.Client{Timeout: cfg.Timeout}
	return &Client{cfg: cfg, api: api}, nil
}

// Name 渠道名称。
func (c *Client) Name() string {
	return constants.PaymentChannelPaypal
}

// PublishableKey 前端 SDK 使用 client id。
func (c *Client) PublishableKey() string {
	return c.cfg.ClientID
}

// CreateCheckout 创建 CAPTURE 订单并返回买家确认链接。
func (c *Client) CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutHandle, error) {
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return nil, fmt.Errorf("%w: payment id is required", gateway.ErrConfigInvalid)
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = paymentID
	}
	units := []paypalsdk.PurchaseUnitRequest{{
		ReferenceID: paymentID,
		CustomID:    strings.TrimSpace(req.SchoolID),
		Amount: &paypalsdk.PurchaseUnitAmount{
			Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
			Value:    req.Amount.StringFixed(2),
		},
		Description: description,
	}}
	appCtx := &paypalsdk.ApplicationContext{
		BrandName: c.cfg.BrandName,
		ReturnURL: c.cfg.ReturnURL,
		CancelURL: c.cfg.CancelURL,
	}

	callCtx, cancel := gateway.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	order, err := c.api.CreateOrder(callCtx, orderIntentCapture, units, nil, appCtx)
	if err != nil {
		return nil, gateway.Unavailable(err)
	}
	if order == nil || strings.TrimSpace(order.ID) == "" {
		return nil, gateway.Unavailable(fmt.Errorf("%w: missing order id", ErrResponseInvalid))
	}
	approveURL := approvalURL(order)
	if approveURL == "" {
		return nil, gateway.Unavailable(fmt.Errorf("%w: missing approve link", ErrResponseInvalid))
	}
	handle := &gateway.CheckoutHandle{
		ExternalReference: order.ID,
		RedirectURL:       approveURL,
	}
	if c.cfg.Sandbox {
		handle.SandboxRedirectURL = approveURL
	}
	return handle, nil
}

// GetOutcome 查询订单；买家已确认（APPROVED）时执行扣款并返回扣款状态。
func (c *Client) GetOutcome(ctx context.Context, externalReference string) (*gateway.Outcome, error) {
	orderID := strings.TrimSpace(externalReference)
	if orderID == "" {
		return nil, gateway.NotFound(orderID)
	}
	callCtx, cancel := gateway.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	order, err := c.api.GetOrder(callCtx, orderID)
	if err != nil {
		return nil, mapAPIError(orderID, err)
	}
	status := strings.ToUpper(strings.TrimSpace(order.Status))
	if status == orderStatusApproved {
		captured, err := c.api.CaptureOrder(callCtx, orderID, paypalsdk.CaptureOrderRequest{})
		if err != nil {
			return nil, mapAPIError(orderID, err)
		}
		status = strings.ToUpper(strings.TrimSpace(captured.Status))
	}
	return &gateway.Outcome{
		ExternalReference: order.ID,
		GatewayStatus:     gateway.NormalizeStatus(status),
		MethodLabel:       defaultMethodLabel,
		GatewayPaymentID:  order.ID,
		Raw: map[string]interface{}{
			"id":     order.ID,
			"status": status,
		},
	}, nil
}

// ParseWebhook 解析 CHECKOUT.ORDER.* / PAYMENT.CAPTURE.* 事件。
// 报文本身不可信，结果总是通过 GetOutcome 回查。
func (c *Client) ParseWebhook(_ http.Header, _ url.Values, body []byte) (*gateway.Notification, error) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: body is not valid json", gateway.ErrPayloadInvalid)
	}
	parsed := gjson.ParseBytes(body)
	eventType := strings.TrimSpace(parsed.Get(eventTypePath).String())
	if eventType == "" {
		return nil, fmt.Errorf("%w: event_type is missing", gateway.ErrPayloadInvalid)
	}
	notification := &gateway.Notification{
		EventID:   strings.TrimSpace(parsed.Get(eventIDPath).String()),
		EventType: NormalizeEventType(eventType),
	}
	if raw, ok := parsed.Value().(map[string]interface{}); ok {
		notification.Raw = raw
	}
	upper := strings.ToUpper(eventType)
	switch {
	case strings.HasPrefix(upper, eventPrefixCapture):
		notification.ExternalID = strings.TrimSpace(parsed.Get(relatedOrderIDPath).String())
	case strings.HasPrefix(upper, eventPrefixOrder):
		notification.ExternalID = strings.TrimSpace(parsed.Get(resourceIDPath).String())
	}
	return notification, nil
}

// NormalizeEventType 订单与扣款事件统一映射为 payment。
func NormalizeEventType(eventType string) string {
	upper := strings.ToUpper(strings.TrimSpace(eventType))
	if strings.HasPrefix(upper, eventPrefixOrder) || strings.HasPrefix(upper, eventPrefixCapture) {
		return constants.GatewayEventTypePayment
	}
	return strings.TrimSpace(eventType)
}

func approvalURL(order *paypalsdk.Order) string {
	for _, rel := range []string{linkRelApprove, linkRelPayerAction} {
		for _, link := range order.Links {
			if link.Rel == rel && strings.TrimSpace(link.Href) != "" {
				return link.Href
			}
		}
	}
	return ""
}

func mapAPIError(orderID string, err error) error {
	var apiErr *paypalsdk.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil && apiErr.Response.StatusCode == http.StatusNotFound {
		return gateway.NotFound(orderID)
	}
	return gateway.Unavailable(err)
}

func (c *Config) normalize() {
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.Secret = strings.TrimSpace(c.Secret)
	c.ReturnURL = strings.TrimSpace(c.ReturnURL)
	c.CancelURL = strings.TrimSpace(c.CancelURL)
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = liveBaseURL
		if c.Sandbox {
			c.BaseURL = sandboxBaseURL
		}
	}
	if strings.TrimSpace(c.BrandName) == "" {
		c.BrandName = defaultBrandName
	}
	if c.Timeout <= 0 {
		c.Timeout = gateway.DefaultTimeout
	}
}
