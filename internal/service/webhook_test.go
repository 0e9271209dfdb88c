package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/gateway"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/models"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prepareCheckedOutPayment(t *testing.T, f *serviceFixture) string {
	t.Helper()
	f.seed(t, "p1", "350.00")
	_, err := f.svc.CreateCheckout(context.Background(), adminCapability(), "p1", "")
	require.NoError(t, err)
	return f.reload(t, "p1").TransactionRef()
}

func TestHandleWebhookAppliesOutcome(t *testing.T) {
	f := newServiceFixture(t)
	ref := prepareCheckedOutPayment(t, f)
	f.gateway.notification = &gateway.Notification{EventID: "55", EventType: "payment", ExternalID: "1319"}
	f.gateway.setOutcome("1319", gateway.Outcome{ExternalReference: ref, GatewayStatus: "approved", MethodLabel: "visa", GatewayPaymentID: "1319"})

	result := f.svc.HandleWebhook(context.Background(), WebhookDelivery{Provider: "MercadoPago", Body: []byte(`{}`)})
	assert.True(t, result.Accepted)
	assert.Equal(t, constants.GatewayEventResultApplied, result.Status)
	assert.Equal(t, "p1", result.PaymentID)
	assert.Equal(t, constants.PaymentStatusPaid, result.PaymentStatus)

	stored := f.reload(t, "p1")
	assert.Equal(t, "mercadopago:visa", stored.PaymentMethod)
	assert.Equal(t, ref, stored.TransactionRef())

	// 网关重投
	again := f.svc.HandleWebhook(context.Background(), WebhookDelivery{Provider: "mercadopago", Body: []byte(`{}`)})
	assert.Equal(t, constants.GatewayEventResultUnchanged, again.Status)

	events, _, err := f.events.List(repository.GatewayEventListFilter{PaymentID: "p1", Provider: "mercadopago"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, constants.GatewayEventResultUnchanged, events[0].Result)
	assert.Equal(t, constants.GatewayEventResultApplied, events[1].Result)
}

func TestHandleWebhookIgnoresNonPaymentEvents(t *testing.T) {
	f := newServiceFixture(t)
	prepareCheckedOutPayment(t, f)
	f.gateway.notification = &gateway.Notification{EventID: "9", EventType: "merchant_order", ExternalID: "4411"}

	result := f.svc.HandleWebhook(context.Background(), WebhookDelivery{Provider: "mercadopago"})
	assert.True(t, result.Accepted)
	assert.Equal(t, constants.GatewayEventResultIgnored, result.Status)

	_, outcomeCalls := f.gateway.calls()
	assert.Zero(t, outcomeCalls)
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	f := newServiceFixture(t)
	prepareCheckedOutPayment(t, f)
	f.gateway.parseErr = fmt.Errorf("%w: v1 mismatch", gateway.ErrSignatureInvalid)

	result := f.svc.HandleWebhook(context.Background(), WebhookDelivery{Provider: "mercadopago"})
	assert.True(t, result.Accepted)
	assert.Equal(t, constants.GatewayEventResultRejected, result.Status)
	assert.Equal(t, "signature_invalid", result.Reason)
	assert.Equal(t, constants.PaymentStatusPending, f.reload(t, "p1").Status)
}

func TestHandleWebhookUnknownProvider(t *testing.T) {
	f := newServiceFixture(t)
	result := f.svc.HandleWebhook(context.Background(), WebhookDelivery{Provider: "culqi"})
	assert.True(t, result.Accepted)
	assert.Equal(t, constants.GatewayEventResultIgnored, result.Status)
}

func TestApplyWebhookOutcomeSoftFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("gateway unavailable is acknowledged and retryable", func(t *testing.T) {
		f := newServiceFixture(t)
		prepareCheckedOutPayment(t, f)
		f.gateway.outcomeErr = gateway.Unavailable(errors.New("503"))

		result := f.svc.ApplyWebhookOutcome(ctx, WebhookOutcomeInput{Provider: "mercadopago", EventType: "payment", ExternalID: "1319"})
		assert.True(t, result.Accepted)
		assert.True(t, result.Retryable)
		assert.Equal(t, constants.GatewayEventResultFailed, result.Status)
		assert.Equal(t, constants.PaymentStatusPending, f.reload(t, "p1").Status)
	})

	t.Run("unknown gateway reference", func(t *testing.T) {
		f := newServiceFixture(t)
		prepareCheckedOutPayment(t, f)

		result := f.svc.ApplyWebhookOutcome(ctx, WebhookOutcomeInput{Provider: "mercadopago", EventType: "payment", ExternalID: "nope"})
		assert.Equal(t, constants.GatewayEventResultNotFound, result.Status)
		assert.False(t, result.Retryable)
	})

	t.Run("outcome for a reference no payment holds", func(t *testing.T) {
		f := newServiceFixture(t)
		prepareCheckedOutPayment(t, f)
		f.gateway.setOutcome("777", gateway.Outcome{ExternalReference: "someone_else", GatewayStatus: "approved"})

		result := f.svc.ApplyWebhookOutcome(ctx, WebhookOutcomeInput{Provider: "mercadopago", EventType: "payment", ExternalID: "777"})
		assert.Equal(t, constants.GatewayEventResultNotFound, result.Status)
		assert.Equal(t, constants.PaymentStatusPending, f.reload(t, "p1").Status)
	})

	t.Run("missing external id", func(t *testing.T) {
		f := newServiceFixture(t)
		result := f.svc.ApplyWebhookOutcome(ctx, WebhookOutcomeInput{Provider: "mercadopago", EventType: "payment"})
		assert.Equal(t, constants.GatewayEventResultIgnored, result.Status)
		assert.Equal(t, "external_id_missing", result.Reason)
	})

	t.Run("pending outcome keeps payment pending", func(t *testing.T) {
		f := newServiceFixture(t)
		ref := prepareCheckedOutPayment(t, f)
		f.gateway.setOutcome(ref, gateway.Outcome{ExternalReference: ref, GatewayStatus: "in_process"})

		result := f.svc.ApplyWebhookOutcome(ctx, WebhookOutcomeInput{Provider: "mercadopago", EventType: "payment", ExternalID: ref})
		assert.Equal(t, constants.GatewayEventResultUnchanged, result.Status)
		assert.Equal(t, "in_process", result.GatewayStatus)
		assert.Equal(t, constants.PaymentStatusPending, result.PaymentStatus)
	})
}

// flakyPaymentRepo 模拟存储层故障
type flakyPaymentRepo struct {
	*repository.MemoryPaymentRepository
	lookupErr error
	getErr    error
	casErr    error
}

func (r *flakyPaymentRepo) GetByIDAndSchool(id, schoolID string) (*models.Payment, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.MemoryPaymentRepository.GetByIDAndSchool(id, schoolID)
}

func (r *flakyPaymentRepo) GetLatestByTransactionID(transactionID string) (*models.Payment, error) {
	if r.lookupErr != nil {
		return nil, r.lookupErr
	}
	return r.MemoryPaymentRepository.GetLatestByTransactionID(transactionID)
}

func (r *flakyPaymentRepo) CompareAndSetStatus(id, schoolID, expected, next string, fields repository.PaymentTransitionFields) (*models.Payment, error) {
	if r.casErr != nil {
		return nil, r.casErr
	}
	return r.MemoryPaymentRepository.CompareAndSetStatus(id, schoolID, expected, next, fields)
}

func TestApplyWebhookOutcomeStoreFailuresAreRetryable(t *testing.T) {
	ctx := context.Background()
	dbDown := errors.New("database is locked")

	for _, tc := range []struct {
		name   string
		repo   func(*repository.MemoryPaymentRepository) *flakyPaymentRepo
		reason string
	}{
		{
			name: "lookup failure",
			repo: func(m *repository.MemoryPaymentRepository) *flakyPaymentRepo {
				return &flakyPaymentRepo{MemoryPaymentRepository: m, lookupErr: dbDown}
			},
			reason: "payment_lookup_failed",
		},
		{
			name: "apply failure",
			repo: func(m *repository.MemoryPaymentRepository) *flakyPaymentRepo {
				return &flakyPaymentRepo{MemoryPaymentRepository: m, casErr: dbDown}
			},
			reason: "apply_failed",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newServiceFixture(t)
			ref := prepareCheckedOutPayment(t, f)
			f.gateway.setOutcome(ref, gateway.Outcome{ExternalReference: ref, GatewayStatus: "approved"})
			f.svc.paymentRepo = tc.repo(f.payments)

			result := f.svc.ApplyWebhookOutcome(ctx, WebhookOutcomeInput{Provider: "mercadopago", EventType: "payment", ExternalID: ref})
			assert.True(t, result.Accepted)
			assert.True(t, result.Retryable)
			assert.ErrorIs(t, result.Cause, ErrPaymentStoreFailed)
			assert.Equal(t, tc.reason, result.Reason)
			assert.Equal(t, constants.GatewayEventResultFailed, result.Status)
			assert.Equal(t, constants.PaymentStatusPending, f.reload(t, "p1").Status)
		})
	}

	t.Run("vanished payment is not retried", func(t *testing.T) {
		f := newServiceFixture(t)
		ref := prepareCheckedOutPayment(t, f)
		f.gateway.setOutcome(ref, gateway.Outcome{ExternalReference: ref, GatewayStatus: "approved"})
		f.svc.paymentRepo = &flakyPaymentRepo{MemoryPaymentRepository: f.payments, getErr: repository.ErrNotFound}

		result := f.svc.ApplyWebhookOutcome(ctx, WebhookOutcomeInput{Provider: "mercadopago", EventType: "payment", ExternalID: ref})
		assert.False(t, result.Retryable)
		assert.Nil(t, result.Cause)
		assert.Equal(t, "apply_failed", result.Reason)
	})
}
