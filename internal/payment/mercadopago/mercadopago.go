package mercadopago

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/gateway"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

var (
	ErrRequestFailed   = errors.New("mercadopago request failed")
	ErrResponseInvalid = errors.New("mercadopago response invalid")
)

const (
	defaultAPIBaseURL           = "https://api.mercadopago.com"
	defaultSignatureToleranceS  = 600
	preferencePath              = "/checkout/preferences"
	paymentPath                 = "/v1/payments/"
	paymentSearchPath           = "/v1/payments/search"
	signatureHeader             = "X-Signature"
	requestIDHeader             = "X-Request-Id"
	externalReferenceSeparator  = "_"
	externalReferenceNonceChars = 12
)

// Config MercadoPago 渠道配置。
type Config struct {
	AccessToken               string        `mapstructure:"access_token" validate:"required"`
	PublicKey                 string        `mapstructure:"public_key"`
	WebhookSecret             string        `mapstructure:"webhook_secret"`
	BaseURL                   string        `mapstructure:"base_url" validate:"required,url"`
	SuccessURL                string        `mapstructure:"success_url" validate:"omitempty,url"`
	FailureURL                string        `mapstructure:"failure_url" validate:"omitempty,url"`
	PendingURL                string        `mapstructure:"pending_url" validate:"omitempty,url"`
	NotificationURL           string        `mapstructure:"notification_url" validate:"omitempty,url"`
	StatementDescriptor       string        `mapstructure:"statement_descriptor"`
	SignatureToleranceSeconds int           `mapstructure:"signature_tolerance_seconds"`
	Timeout                   time.Duration `mapstructure:"-"`
}

// Client MercadoPago 网关客户端。
type Client struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
}

type preferenceItem struct {
	ID         string  `json:"id,omitempty"`
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id,omitempty"`
}

type preferenceRequest struct {
	Items               []preferenceItem  `json:"items"`
	Payer               map[string]string `json:"payer,omitempty"`
	ExternalReference   string            `json:"external_reference"`
	BackURLs            map[string]string `json:"back_urls,omitempty"`
	AutoReturn          string            `json:"auto_return,omitempty"`
	NotificationURL     string            `json:"notification_url,omitempty"`
	StatementDescriptor string            `json:"statement_descriptor,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// New 创建客户端并校验配置。
func New(cfg Config) (*Client, error) {
	cfg.normalize()
	if err := gateway.ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}, nil
}

// Name 渠道名称。
func (c *Client) Name() string {
	return constants.PaymentChannelMercadoPago
}

// PublishableKey 前端使用的公钥。
func (c *Client) PublishableKey() string {
	return c.cfg.PublicKey
}

// CreateCheckout 创建 Checkout Pro 偏好（preference）。
func (c *Client) CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutHandle, error) {
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return nil, fmt.Errorf("%w: payment id is required", gateway.ErrConfigInvalid)
	}
	title := strings.TrimSpace(req.Description)
	if title == "" {
		title = paymentID
	}
	reference := buildExternalReference(paymentID)
	body := preferenceRequest{
		Items: []preferenceItem{{
			ID:         paymentID,
			Title:      title,
			Quantity:   1,
			UnitPrice:  req.Amount.Round(2).InexactFloat64(),
			CurrencyID: strings.ToUpper(strings.TrimSpace(req.Currency)),
		}},
		ExternalReference:   reference,
		NotificationURL:     c.cfg.NotificationURL,
		StatementDescriptor: c.cfg.StatementDescriptor,
		Metadata: map[string]string{
			"payment_id": paymentID,
			"school_id":  strings.TrimSpace(req.SchoolID),
		},
	}
	if email := strings.TrimSpace(req.PayerEmail); email != "" {
		body.Payer = map[string]string{"email": email}
	}
	backURLs := map[string]string{}
	if c.cfg.SuccessURL != "" {
		backURLs["success"] = c.cfg.SuccessURL
		body.AutoReturn = "approved"
	}
	if c.cfg.FailureURL != "" {
		backURLs["failure"] = c.cfg.FailureURL
	}
	if c.cfg.PendingURL != "" {
		backURLs["pending"] = c.cfg.PendingURL
	}
	if len(backURLs) > 0 {
		body.BackURLs = backURLs
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encode preference failed", ErrRequestFailed)
	}
	respBody, statusCode, err := c.doRequest(ctx, http.MethodPost, preferencePath, payload)
	if err != nil {
		return nil, gateway.Unavailable(err)
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, gateway.Unavailable(fmt.Errorf("%w: create preference status %d", ErrResponseInvalid, statusCode))
	}
	if !gjson.ValidBytes(respBody) {
		return nil, gateway.Unavailable(fmt.Errorf("%w: invalid preference json", ErrResponseInvalid))
	}
	parsed := gjson.ParseBytes(respBody)
	handle := &gateway.CheckoutHandle{
		ExternalReference:  strings.TrimSpace(parsed.Get("external_reference").String()),
		RedirectURL:        strings.TrimSpace(parsed.Get("init_point").String()),
		SandboxRedirectURL: strings.TrimSpace(parsed.Get("sandbox_init_point").String()),
	}
	if handle.ExternalReference == "" {
		handle.ExternalReference = reference
	}
	if handle.RedirectURL == "" && handle.SandboxRedirectURL == "" {
		return nil, gateway.Unavailable(fmt.Errorf("%w: missing init_point", ErrResponseInvalid))
	}
	return handle, nil
}

// GetOutcome 查询支付结果；数字参数按网关支付单号查询，否则按 external_reference 检索最新一笔。
func (c *Client) GetOutcome(ctx context.Context, externalReference string) (*gateway.Outcome, error) {
	reference := strings.TrimSpace(externalReference)
	if reference == "" {
		return nil, gateway.NotFound(reference)
	}
	if isNumeric(reference) {
		return c.getPayment(ctx, reference)
	}
	return c.searchByExternalReference(ctx, reference)
}

func (c *Client) getPayment(ctx context.Context, paymentID string) (*gateway.Outcome, error) {
	respBody, statusCode, err := c.doRequest(ctx, http.MethodGet, paymentPath+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, gateway.Unavailable(err)
	}
	if statusCode == http.StatusNotFound {
		return nil, gateway.NotFound(paymentID)
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, gateway.Unavailable(fmt.Errorf("%w: get payment status %d", ErrResponseInvalid, statusCode))
	}
	if !gjson.ValidBytes(respBody) {
		return nil, gateway.Unavailable(fmt.Errorf("%w: invalid payment json", ErrResponseInvalid))
	}
	return outcomeFromPayment(gjson.ParseBytes(respBody), paymentID), nil
}

func (c *Client) searchByExternalReference(ctx context.Context, reference string) (*gateway.Outcome, error) {
	query := url.Values{}
	query.Set("external_reference", reference)
	query.Set("sort", "date_created")
	query.Set("criteria", "desc")
	respBody, statusCode, err := c.doRequest(ctx, http.MethodGet, paymentSearchPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, gateway.Unavailable(err)
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, gateway.Unavailable(fmt.Errorf("%w: search payments status %d", ErrResponseInvalid, statusCode))
	}
	if !gjson.ValidBytes(respBody) {
		return nil, gateway.Unavailable(fmt.Errorf("%w: invalid search json", ErrResponseInvalid))
	}
	first := gjson.GetBytes(respBody, "results.0")
	if !first.Exists() {
		return nil, gateway.NotFound(reference)
	}
	return outcomeFromPayment(first, reference), nil
}

// ParseWebhook 校验 x-signature 并解析通知（兼容 webhook 与旧版 IPN 查询参数）。
func (c *Client) ParseWebhook(headers http.Header, query url.Values, body []byte) (*gateway.Notification, error) {
	var parsed gjson.Result
	if len(bytes.TrimSpace(body)) > 0 {
		if !gjson.ValidBytes(body) {
			return nil, fmt.Errorf("%w: body is not json", gateway.ErrPayloadInvalid)
		}
		parsed = gjson.ParseBytes(body)
	}

	eventType := firstNonEmpty(parsed.Get("type").String(), parsed.Get("topic").String(), query.Get("type"), query.Get("topic"))
	externalID := firstNonEmpty(parsed.Get("data.id").String(), query.Get("data.id"), query.Get("id"))
	notification := &gateway.Notification{
		EventID:    firstNonEmpty(parsed.Get("id").String(), headers.Get(requestIDHeader)),
		EventType:  strings.ToLower(strings.TrimSpace(eventType)),
		ExternalID: strings.TrimSpace(externalID),
	}
	if parsed.Exists() {
		if raw, ok := parsed.Value().(map[string]interface{}); ok {
			notification.Raw = raw
		}
	}
	if notification.EventType == "" {
		return nil, fmt.Errorf("%w: missing event type", gateway.ErrPayloadInvalid)
	}

	if c.cfg.WebhookSecret != "" {
		dataID := firstNonEmpty(query.Get("data.id"), notification.ExternalID)
		if err := c.verifySignature(headers, dataID); err != nil {
			return nil, err
		}
	}
	return notification, nil
}

func (c *Client) verifySignature(headers http.Header, dataID string) error {
	header := strings.TrimSpace(headers.Get(signatureHeader))
	if header == "" {
		return fmt.Errorf("%w: x-signature is required", gateway.ErrSignatureInvalid)
	}
	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.ToLower(strings.TrimSpace(value))
		}
	}
	if ts == "" || v1 == "" {
		return fmt.Errorf("%w: x-signature is malformed", gateway.ErrSignatureInvalid)
	}
	if c.cfg.SignatureToleranceSeconds > 0 {
		if err := checkTimestamp(ts, c.now(), c.cfg.SignatureToleranceSeconds); err != nil {
			return err
		}
	}
	expected := ComputeSignature(c.cfg.WebhookSecret, dataID, headers.Get(requestIDHeader), ts)
	if !hmac.Equal([]byte(expected), []byte(v1)) {
		return fmt.Errorf("%w: verify failed", gateway.ErrSignatureInvalid)
	}
	return nil
}

// ComputeSignature 计算通知签名：HMAC-SHA256("id:<data.id>;request-id:<x-request-id>;ts:<ts>;")。
func ComputeSignature(secret, dataID, requestID, ts string) string {
	var manifest strings.Builder
	if id := strings.TrimSpace(dataID); id != "" {
		manifest.WriteString("id:" + strings.ToLower(id) + ";")
	}
	if rid := strings.TrimSpace(requestID); rid != "" {
		manifest.WriteString("request-id:" + rid + ";")
	}
	manifest.WriteString("ts:" + strings.TrimSpace(ts) + ";")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

func checkTimestamp(ts string, now time.Time, toleranceSeconds int) error {
	var unix int64
	if _, err := fmt.Sscan(ts, &unix); err != nil {
		return fmt.Errorf("%w: ts is invalid", gateway.ErrSignatureInvalid)
	}
	// ts 可能是毫秒
	if unix > 1e12 {
		unix /= 1000
	}
	delta := now.Unix() - unix
	if delta < 0 {
		delta = -delta
	}
	if delta > int64(toleranceSeconds) {
		return fmt.Errorf("%w: timestamp outside tolerance", gateway.ErrSignatureInvalid)
	}
	return nil
}

func outcomeFromPayment(payment gjson.Result, fallbackRef string) *gateway.Outcome {
	outcome := &gateway.Outcome{
		ExternalReference: strings.TrimSpace(payment.Get("external_reference").String()),
		GatewayStatus:     gateway.NormalizeStatus(payment.Get("status").String()),
		MethodLabel:       firstNonEmpty(payment.Get("payment_method_id").String(), payment.Get("payment_type_id").String(), "unknown"),
		GatewayPaymentID:  strings.TrimSpace(payment.Get("id").String()),
	}
	if outcome.ExternalReference == "" {
		outcome.ExternalReference = fallbackRef
	}
	if approved := strings.TrimSpace(payment.Get("date_approved").String()); approved != "" {
		if settledAt, err := time.Parse(time.RFC3339Nano, approved); err == nil {
			outcome.SettledAt = &settledAt
		}
	}
	if raw, ok := payment.Value().(map[string]interface{}); ok {
		outcome.Raw = raw
	}
	return outcome
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	ctx, cancel := gateway.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request failed", ErrRequestFailed)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Idempotency-Key", uuid.NewString())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response failed", ErrRequestFailed)
	}
	return respBody, resp.StatusCode, nil
}

func (c *Config) normalize() {
	c.AccessToken = strings.TrimSpace(c.AccessToken)
	c.PublicKey = strings.TrimSpace(c.PublicKey)
	c.WebhookSecret = strings.TrimSpace(c.WebhookSecret)
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = defaultAPIBaseURL
	}
	c.SuccessURL = strings.TrimSpace(c.SuccessURL)
	c.FailureURL = strings.TrimSpace(c.FailureURL)
	c.PendingURL = strings.TrimSpace(c.PendingURL)
	c.NotificationURL = strings.TrimSpace(c.NotificationURL)
	c.StatementDescriptor = strings.TrimSpace(c.StatementDescriptor)
	if c.SignatureToleranceSeconds == 0 {
		c.SignatureToleranceSeconds = defaultSignatureToleranceS
	}
	if c.Timeout <= 0 {
		c.Timeout = gateway.DefaultTimeout
	}
}

func buildExternalReference(paymentID string) string {
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")
	return paymentID + externalReferenceSeparator + nonce[:externalReferenceNonceChars]
}

func isNumeric(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
