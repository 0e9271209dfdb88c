package public

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/gateway"
	handlershared "github.com/LDamian96/sistema-gestion-escolar-sub004/internal/http/handlers/shared"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/http/response"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/models"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/provider"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/repository"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type stubGateway struct {
	outcomes     map[string]*gateway.Outcome
	notification *gateway.Notification
	createErr    error
}

func (g *stubGateway) Name() string           { return constants.PaymentChannelMercadoPago }
func (g *stubGateway) PublishableKey() string { return "pk_stub" }

func (g *stubGateway) CreateCheckout(_ context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutHandle, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	ref := req.PaymentID + "_ref"
	return &gateway.CheckoutHandle{
		ExternalReference:  ref,
		RedirectURL:        "https://pay.example.com/" + ref,
		SandboxRedirectURL: "https://sandbox.pay.example.com/" + ref,
	}, nil
}

func (g *stubGateway) GetOutcome(_ context.Context, externalReference string) (*gateway.Outcome, error) {
	outcome, ok := g.outcomes[externalReference]
	if !ok {
		return nil, gateway.NotFound(externalReference)
	}
	return outcome, nil
}

func (g *stubGateway) ParseWebhook(_ http.Header, _ url.Values, _ []byte) (*gateway.Notification, error) {
	if g.notification == nil {
		return nil, gateway.ErrPayloadInvalid
	}
	return g.notification, nil
}

type publicFixture struct {
	engine   *gin.Engine
	payments *repository.MemoryPaymentRepository
	gateway  *stubGateway
}

func setupPublicPaymentTest(t *testing.T, capability *service.Capability) *publicFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	payments := repository.NewMemoryPaymentRepository()
	events := repository.NewMemoryGatewayEventRepository()
	stub := &stubGateway{outcomes: map[string]*gateway.Outcome{}}
	registry := gateway.NewRegistry()
	registry.Register(stub)
	paymentService := service.NewPaymentService(payments, events, registry, nil, service.PaymentOptions{
		Sandbox:       true,
		WalletEnabled: true,
	})

	h := New(&provider.Container{PaymentService: paymentService})
	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		if capability != nil {
			c.Set(handlershared.CapabilityContextKey, *capability)
		}
		c.Next()
	})
	engine.GET("/payments/:id", h.GetPayment)
	engine.POST("/payments/:id/checkout", h.CreateCheckout)
	engine.POST("/payments/:id/status", h.PollPaymentStatus)
	engine.POST("/payments/:id/wallet", h.SettleWallet)
	engine.POST("/payments/webhook/mercadopago", h.PaymentWebhook(constants.PaymentChannelMercadoPago))

	if err := payments.Create(&models.Payment{
		ID:        "p1",
		SchoolID:  "school-a",
		StudentID: "s1",
		Amount:    models.NewMoneyFromDecimal(decimal.RequireFromString("350.00")),
		Currency:  "PEN",
		DueDate:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Status:    constants.PaymentStatusPending,
	}); err != nil {
		t.Fatalf("seed payment failed: %v", err)
	}
	return &publicFixture{engine: engine, payments: payments, gateway: stub}
}

func guardianCapability() *service.Capability {
	return &service.Capability{
		SchoolID: "school-a",
		UserID:   "u1",
		Role:     constants.RoleGuardian,
		Actions: []string{
			constants.PaymentActionCheckout,
			constants.PaymentActionPoll,
			constants.PaymentActionWallet,
			constants.PaymentActionView,
		},
	}
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body interface{}) response.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body failed: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("%s %s want http 200 got %d", method, path, w.Code)
	}
	var resp response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response failed: %v body=%s", err, w.Body.String())
	}
	return resp
}

func TestCreateCheckoutHandler(t *testing.T) {
	fx := setupPublicPaymentTest(t, guardianCapability())

	resp := doJSON(t, fx.engine, http.MethodPost, "/payments/p1/checkout", nil)
	if resp.StatusCode != response.CodeOK {
		t.Fatalf("checkout failed: %+v", resp)
	}
	data := resp.Data.(map[string]interface{})
	if data["redirect_url"] != "https://pay.example.com/p1_ref" || data["publishable_key"] != "pk_stub" {
		t.Fatalf("unexpected checkout data %v", data)
	}
	stored, _ := fx.payments.GetByID("p1")
	if stored.TransactionRef() != "p1_ref" || stored.PaymentMethod != "mercadopago:pending" {
		t.Fatalf("checkout reference not stored: %+v", stored)
	}

	resp = doJSON(t, fx.engine, http.MethodPost, "/payments/p1/checkout", map[string]string{"provider": "bitcoin"})
	if resp.StatusCode != response.CodeBadRequest {
		t.Fatalf("unsupported provider want 400 got %d", resp.StatusCode)
	}
}

func TestCreateCheckoutHandlerGatewayDown(t *testing.T) {
	fx := setupPublicPaymentTest(t, guardianCapability())
	fx.gateway.createErr = gateway.Unavailable(context.DeadlineExceeded)

	resp := doJSON(t, fx.engine, http.MethodPost, "/payments/p1/checkout", nil)
	if resp.StatusCode != response.CodeBadGateway {
		t.Fatalf("gateway down want 502 got %d", resp.StatusCode)
	}
	stored, _ := fx.payments.GetByID("p1")
	if stored.TransactionRef() != "" || stored.PaymentMethod != "" {
		t.Fatalf("nothing should be written when gateway is down: %+v", stored)
	}
}

func TestPollPaymentStatusHandler(t *testing.T) {
	fx := setupPublicPaymentTest(t, guardianCapability())
	doJSON(t, fx.engine, http.MethodPost, "/payments/p1/checkout", nil)
	fx.gateway.outcomes["p1_ref"] = &gateway.Outcome{
		ExternalReference: "p1_ref",
		GatewayStatus:     "approved",
		MethodLabel:       "visa",
	}

	resp := doJSON(t, fx.engine, http.MethodPost, "/payments/p1/status", map[string]string{"external_id": "p1_ref"})
	if resp.StatusCode != response.CodeOK {
		t.Fatalf("poll failed: %+v", resp)
	}
	data := resp.Data.(map[string]interface{})
	if data["gateway_status"] != "approved" || data["payment_status"] != constants.PaymentStatusPaid {
		t.Fatalf("unexpected poll data %v", data)
	}
	stored, _ := fx.payments.GetByID("p1")
	if stored.Status != constants.PaymentStatusPaid || stored.PaymentMethod != "mercadopago:visa" {
		t.Fatalf("payment not settled: %+v", stored)
	}
}

func TestGetPaymentHandlerScopesSchool(t *testing.T) {
	capability := guardianCapability()
	capability.SchoolID = "school-b"
	fx := setupPublicPaymentTest(t, capability)

	resp := doJSON(t, fx.engine, http.MethodGet, "/payments/p1", nil)
	if resp.StatusCode != response.CodeNotFound {
		t.Fatalf("cross school read want 404 got %d", resp.StatusCode)
	}
}

func TestHandlersRequireCapability(t *testing.T) {
	fx := setupPublicPaymentTest(t, nil)
	resp := doJSON(t, fx.engine, http.MethodGet, "/payments/p1", nil)
	if resp.StatusCode != response.CodeUnauthorized {
		t.Fatalf("missing capability want 401 got %d", resp.StatusCode)
	}

	fx = setupPublicPaymentTest(t, &service.Capability{SchoolID: "school-a", Role: constants.RoleStudent, Actions: []string{constants.PaymentActionView}})
	resp = doJSON(t, fx.engine, http.MethodPost, "/payments/p1/checkout", nil)
	if resp.StatusCode != response.CodeForbidden {
		t.Fatalf("missing action want 403 got %d", resp.StatusCode)
	}
}

func TestSettleWalletHandler(t *testing.T) {
	fx := setupPublicPaymentTest(t, guardianCapability())

	resp := doJSON(t, fx.engine, http.MethodPost, "/payments/p1/wallet", map[string]string{})
	if resp.StatusCode != response.CodeBadRequest {
		t.Fatalf("missing payer token want 400 got %d", resp.StatusCode)
	}

	resp = doJSON(t, fx.engine, http.MethodPost, "/payments/p1/wallet", map[string]string{"payer_token": "987654321"})
	if resp.StatusCode != response.CodeOK {
		t.Fatalf("wallet settle failed: %+v", resp)
	}
	data := resp.Data.(map[string]interface{})
	if data["status"] != constants.PaymentStatusPaid {
		t.Fatalf("wallet settle should mark paid: %v", data)
	}
}

func TestPaymentWebhookAlwaysAcks(t *testing.T) {
	fx := setupPublicPaymentTest(t, nil)

	resp := doJSON(t, fx.engine, http.MethodPost, "/payments/webhook/mercadopago", map[string]string{"garbage": "x"})
	data := resp.Data.(map[string]interface{})
	if resp.StatusCode != response.CodeOK || data["accepted"] != true || data["status"] != constants.GatewayEventResultRejected {
		t.Fatalf("invalid webhook should be acked as rejected: %+v", resp)
	}

	fx.gateway.notification = &gateway.Notification{EventID: "e1", EventType: "merchant_order", ExternalID: "1"}
	resp = doJSON(t, fx.engine, http.MethodPost, "/payments/webhook/mercadopago", map[string]string{"type": "merchant_order"})
	data = resp.Data.(map[string]interface{})
	if data["status"] != constants.GatewayEventResultIgnored {
		t.Fatalf("non-payment event should be ignored: %v", data)
	}

	fx.gateway.notification = &gateway.Notification{EventID: "e2", EventType: "payment", ExternalID: "unknown"}
	resp = doJSON(t, fx.engine, http.MethodPost, "/payments/webhook/mercadopago", map[string]string{"type": "payment"})
	data = resp.Data.(map[string]interface{})
	if data["status"] != constants.GatewayEventResultNotFound {
		t.Fatalf("unknown reference should be not_found: %v", data)
	}
}
