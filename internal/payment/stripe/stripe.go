package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/gateway"

	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

var ErrResponseInvalid = errors.New("stripe response invalid")

const (
	signatureHeader            = "Stripe-Signature"
	defaultWebhookToleranceS   = 300
	eventCheckoutCompleted     = "checkout.session.completed"
	eventCheckoutAsyncSuccess  = "checkout.session.async_payment_succeeded"
	eventCheckoutAsyncFailed   = "checkout.session.async_payment_failed"
	eventCheckoutExpired       = "checkout.session.expired"
	defaultPaymentMethodLabel  = "card"
	checkoutSessionIDTemplate  = "{CHECKOUT_SESSION_ID}"
	checkoutSessionPlaceholder = "cs_test_placeholder"
)

var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {}, "MGA": {},
	"PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// Config Stripe 渠道配置。
type Config struct {
	SecretKey               string        `mapstructure:"secret_key" validate:"required"`
	PublishableKey          string        `mapstructure:"publishable_key"`
	WebhookSecret           string        `mapstructure:"webhook_secret"`
	SuccessURL              string        `mapstructure:"success_url" validate:"required"`
	CancelURL               string        `mapstructure:"cancel_url" validate:"required,url"`
	APIBaseURL              string        `mapstructure:"api_base_url" validate:"omitempty,url"`
	WebhookToleranceSeconds int           `mapstructure:"webhook_tolerance_seconds"`
	Timeout                 time.Duration `mapstructure:"-"`
}

// Client Stripe Checkout 网关客户端。
type Client struct {
	cfg Config
	sc  *stripeapi.Client
}

// New 创建客户端。
func New(cfg Config) (*Client, error) {
	cfg.normalize()
	if err := gateway.ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	if _, err := url.ParseRequestURI(strings.ReplaceAll(cfg.SuccessURL, checkoutSessionIDTemplate, checkoutSessionPlaceholder)); err != nil {
		return nil, fmt.Errorf("%w: success_url is invalid", gateway.ErrConfigInvalid)
	}
	backendConfig := &stripeapi.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripeapi.Int64(0),
	}
	if cfg.APIBaseURL != "" {
		backendConfig.URL = stripeapi.String(cfg.APIBaseURL)
	}
	sc := stripeapi.NewClient(cfg.SecretKey, stripeapi.WithBackends(stripeapi.NewBackendsWithConfig(backendConfig)))
	return &Client{cfg: cfg, sc: sc}, nil
}

// Name 渠道名称。
func (c *Client) Name() string {
	return constants.PaymentChannelStripe
}

// PublishableKey 前端使用的可公开密钥。
func (c *Client) PublishableKey() string {
	return c.cfg.PublishableKey
}

// CreateCheckout 创建 Checkout Session，外部流水号为 session id。
func (c *Client) CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutHandle, error) {
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return nil, fmt.Errorf("%w: payment id is required", gateway.ErrConfigInvalid)
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, fmt.Errorf("%w: currency is required", gateway.ErrConfigInvalid)
	}
	name := strings.TrimSpace(req.Description)
	if name == "" {
		name = paymentID
	}
	metadata := map[string]string{
		"payment_id": paymentID,
		"school_id":  strings.TrimSpace(req.SchoolID),
	}
	params := &stripeapi.CheckoutSessionCreateParams{
		Mode:              stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		SuccessURL:        stripeapi.String(c.cfg.SuccessURL),
		CancelURL:         stripeapi.String(c.cfg.CancelURL),
		ClientReferenceID: stripeapi.String(paymentID),
		LineItems: []*stripeapi.CheckoutSessionCreateLineItemParams{{
			Quantity: stripeapi.Int64(1),
			PriceData: &stripeapi.CheckoutSessionCreateLineItemPriceDataParams{
				Currency:   stripeapi.String(currency),
				UnitAmount: stripeapi.Int64(toMinorAmount(req, currency)),
				ProductData: &stripeapi.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripeapi.String(name),
				},
			},
		}},
		Metadata: metadata,
	}
	if email := strings.TrimSpace(req.PayerEmail); email != "" {
		params.CustomerEmail = stripeapi.String(email)
	}

	callCtx, cancel := gateway.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	session, err := c.sc.V1CheckoutSessions.Create(callCtx, params)
	if err != nil {
		return nil, gateway.Unavailable(err)
	}
	if session == nil || strings.TrimSpace(session.ID) == "" || strings.TrimSpace(session.URL) == "" {
		return nil, gateway.Unavailable(fmt.Errorf("%w: missing session id or url", ErrResponseInvalid))
	}
	return &gateway.CheckoutHandle{
		ExternalReference:  session.ID,
		RedirectURL:        session.URL,
		SandboxRedirectURL: session.URL,
	}, nil
}

// GetOutcome 查询 Checkout Session 状态。
func (c *Client) GetOutcome(ctx context.Context, externalReference string) (*gateway.Outcome, error) {
	sessionID := strings.TrimSpace(externalReference)
	if sessionID == "" {
		return nil, gateway.NotFound(sessionID)
	}
	callCtx, cancel := gateway.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	session, err := c.sc.V1CheckoutSessions.Retrieve(callCtx, sessionID, &stripeapi.CheckoutSessionRetrieveParams{})
	if err != nil {
		var stripeErr *stripeapi.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return nil, gateway.NotFound(sessionID)
		}
		return nil, gateway.Unavailable(err)
	}
	return outcomeFromSession(session), nil
}

// ParseWebhook 校验 Stripe-Signature 并解析 checkout.session 事件。
func (c *Client) ParseWebhook(headers http.Header, _ url.Values, body []byte) (*gateway.Notification, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: body is empty", gateway.ErrPayloadInvalid)
	}
	var event stripeapi.Event
	if c.cfg.WebhookSecret != "" {
		verified, err := webhook.ConstructEventWithOptions(body, headers.Get(signatureHeader), c.cfg.WebhookSecret, webhook.ConstructEventOptions{
			Tolerance:                time.Duration(c.cfg.WebhookToleranceSeconds) * time.Second,
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", gateway.ErrSignatureInvalid, err)
		}
		event = verified
	} else if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrPayloadInvalid, err)
	}

	notification := &gateway.Notification{
		EventID:   event.ID,
		EventType: NormalizeEventType(string(event.Type)),
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err == nil {
		notification.Raw = raw
	}
	if event.Data != nil && len(event.Data.Raw) > 0 {
		var session stripeapi.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err == nil {
			notification.ExternalID = strings.TrimSpace(session.ID)
		}
	}
	return notification, nil
}

// NormalizeEventType checkout.session 相关事件统一映射为 payment。
func NormalizeEventType(eventType string) string {
	switch strings.TrimSpace(eventType) {
	case eventCheckoutCompleted, eventCheckoutAsyncSuccess, eventCheckoutAsyncFailed, eventCheckoutExpired:
		return constants.GatewayEventTypePayment
	default:
		return strings.TrimSpace(eventType)
	}
}

func outcomeFromSession(session *stripeapi.CheckoutSession) *gateway.Outcome {
	outcome := &gateway.Outcome{
		ExternalReference: session.ID,
		GatewayStatus:     mapSessionStatus(string(session.Status), string(session.PaymentStatus)),
		MethodLabel:       defaultPaymentMethodLabel,
	}
	if len(session.PaymentMethodTypes) > 0 && strings.TrimSpace(session.PaymentMethodTypes[0]) != "" {
		outcome.MethodLabel = strings.TrimSpace(session.PaymentMethodTypes[0])
	}
	if session.PaymentIntent != nil {
		outcome.GatewayPaymentID = session.PaymentIntent.ID
	}
	outcome.Raw = map[string]interface{}{
		"id":             session.ID,
		"status":         string(session.Status),
		"payment_status": string(session.PaymentStatus),
	}
	return outcome
}

// mapSessionStatus 会话状态转为通用网关词汇：paid→settled，expired→expired，其余 pending/open。
func mapSessionStatus(sessionStatus, paymentStatus string) string {
	switch strings.ToLower(strings.TrimSpace(paymentStatus)) {
	case "paid", "no_payment_required":
		return "settled"
	}
	switch strings.ToLower(strings.TrimSpace(sessionStatus)) {
	case "expired":
		return "expired"
	case "complete":
		// 已完成但未到账（异步支付方式）
		return "processing"
	case "":
		return "pending"
	default:
		return strings.ToLower(strings.TrimSpace(sessionStatus))
	}
}

func toMinorAmount(req gateway.CheckoutRequest, currency string) int64 {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(currency)]; ok {
		return req.Amount.Round(0).IntPart()
	}
	return req.Amount.Round(2).Shift(2).IntPart()
}

func (c *Config) normalize() {
	c.SecretKey = strings.TrimSpace(c.SecretKey)
	c.PublishableKey = strings.TrimSpace(c.PublishableKey)
	c.WebhookSecret = strings.TrimSpace(c.WebhookSecret)
	c.SuccessURL = strings.TrimSpace(c.SuccessURL)
	c.CancelURL = strings.TrimSpace(c.CancelURL)
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	if c.WebhookToleranceSeconds <= 0 {
		c.WebhookToleranceSeconds = defaultWebhookToleranceS
	}
	if c.Timeout <= 0 {
		c.Timeout = gateway.DefaultTimeout
	}
}
