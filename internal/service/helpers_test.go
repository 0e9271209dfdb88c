package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/gateway"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/models"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	testSchoolID   = "school-a"
	testGatewayKey = "pk_test_fake"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

// fakeGateway 记录调用次数的网关替身
type fakeGateway struct {
	mu           sync.Mutex
	name         string
	checkoutSeq  int
	createErr    error
	outcomeErr   error
	outcomes     map[string]*gateway.Outcome
	notification *gateway.Notification
	parseErr     error
	createCalls  int
	outcomeCalls int
}

func newFakeGateway(name string) *fakeGateway {
	return &fakeGateway{name: name, outcomes: make(map[string]*gateway.Outcome)}
}

func (f *fakeGateway) Name() string { return f.name }

func (f *fakeGateway) PublishableKey() string { return testGatewayKey }

func (f *fakeGateway) CreateCheckout(_ context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.checkoutSeq++
	ref := fmt.Sprintf("%s_ref%d", req.PaymentID, f.checkoutSeq)
	return &gateway.CheckoutHandle{
		ExternalReference:  ref,
		RedirectURL:        "https://pay.example.com/" + ref,
		SandboxRedirectURL: "https://sandbox.pay.example.com/" + ref,
	}, nil
}

func (f *fakeGateway) GetOutcome(_ context.Context, externalReference string) (*gateway.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomeCalls++
	if f.outcomeErr != nil {
		return nil, f.outcomeErr
	}
	outcome, ok := f.outcomes[externalReference]
	if !ok {
		return nil, gateway.NotFound(externalReference)
	}
	copied := *outcome
	return &copied, nil
}

func (f *fakeGateway) ParseWebhook(_ http.Header, _ url.Values, _ []byte) (*gateway.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	if f.notification == nil {
		return nil, fmt.Errorf("%w: no notification", gateway.ErrPayloadInvalid)
	}
	copied := *f.notification
	return &copied, nil
}

func (f *fakeGateway) setOutcome(lookupRef string, outcome gateway.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[lookupRef] = &outcome
}

func (f *fakeGateway) calls() (create, outcome int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.outcomeCalls
}

type serviceFixture struct {
	svc      *PaymentService
	payments *repository.MemoryPaymentRepository
	events   *repository.MemoryGatewayEventRepository
	gateway  *fakeGateway
}

func newServiceFixture(t *testing.T, mutate ...func(*PaymentOptions)) *serviceFixture {
	t.Helper()
	gw := newFakeGateway(constants.PaymentChannelMercadoPago)
	registry := gateway.NewRegistry()
	registry.Register(gw)

	options := PaymentOptions{
		Currency:          constants.CurrencyDefault,
		WalletEnabled:     true,
		WalletChannelName: "yape",
	}
	for _, fn := range mutate {
		fn(&options)
	}
	payments := repository.NewMemoryPaymentRepository()
	events := repository.NewMemoryGatewayEventRepository()
	svc := NewPaymentService(payments, events, registry, nil, options)
	svc.SetClock(func() time.Time { return testNow })
	return &serviceFixture{svc: svc, payments: payments, events: events, gateway: gw}
}

func (f *serviceFixture) seed(t *testing.T, id, amount string) *models.Payment {
	t.Helper()
	payment := &models.Payment{
		ID:          id,
		SchoolID:    testSchoolID,
		StudentID:   "student-" + id,
		Amount:      models.NewMoneyFromDecimal(decimal.RequireFromString(amount)),
		Currency:    constants.CurrencyDefault,
		Description: "Pension marzo",
		PayerEmail:  "tutor@example.com",
		DueDate:     time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Status:      constants.PaymentStatusPending,
	}
	require.NoError(t, f.payments.Create(payment))
	return payment
}

func (f *serviceFixture) reload(t *testing.T, id string) *models.Payment {
	t.Helper()
	payment, err := f.payments.GetByIDAndSchool(id, testSchoolID)
	require.NoError(t, err)
	return payment
}

func adminCapability() Capability {
	return SystemCapability(testSchoolID)
}

func roleCapability(actions ...string) Capability {
	return Capability{SchoolID: testSchoolID, UserID: "u1", Role: "guardian", Actions: actions}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
