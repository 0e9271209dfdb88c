package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/config"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/gateway"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/models"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/provider"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/queue"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/repository"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/service"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
)

type stubGateway struct {
	mu       sync.Mutex
	outcomes map[string]gateway.Outcome
	err      error
}

func (g *stubGateway) Name() string           { return constants.PaymentChannelMercadoPago }
func (g *stubGateway) PublishableKey() string { return "" }

func (g *stubGateway) CreateCheckout(_ context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutHandle, error) {
	return &gateway.CheckoutHandle{ExternalReference: req.PaymentID + "_ref"}, nil
}

func (g *stubGateway) GetOutcome(_ context.Context, ref string) (*gateway.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	outcome, ok := g.outcomes[ref]
	if !ok {
		return nil, gateway.NotFound(ref)
	}
	return &outcome, nil
}

type workerFixture struct {
	consumer *Consumer
	payments *repository.MemoryPaymentRepository
	gateway  *stubGateway
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	payments := repository.NewMemoryPaymentRepository()
	events := repository.NewMemoryGatewayEventRepository()
	gw := &stubGateway{outcomes: map[string]gateway.Outcome{}}
	registry := gateway.NewRegistry()
	registry.Register(gw)

	ref := "p1_ref"
	if err := payments.Create(&models.Payment{
		ID:            "p1",
		SchoolID:      "school-a",
		Amount:        models.NewMoneyFromDecimal(decimal.NewFromInt(350)),
		Currency:      constants.CurrencyDefault,
		Status:        constants.PaymentStatusPending,
		PaymentMethod: "mercadopago:pending",
		TransactionID: &ref,
	}); err != nil {
		t.Fatalf("seed payment failed: %v", err)
	}

	container := &provider.Container{
		PaymentRepo:      payments,
		GatewayEventRepo: events,
		Gateways:         registry,
		PaymentService:   service.NewPaymentService(payments, events, registry, nil, service.PaymentOptions{}),
	}
	return &workerFixture{consumer: NewConsumer(container), payments: payments, gateway: gw}
}

func (f *workerFixture) status(t *testing.T) string {
	t.Helper()
	payment, err := f.payments.GetByID("p1")
	if err != nil || payment == nil {
		t.Fatalf("reload payment failed: %v", err)
	}
	return payment.Status
}

func webhookTask(t *testing.T, externalID string) *asynq.Task {
	t.Helper()
	task, err := queue.NewPaymentWebhookReconcileTask(queue.PaymentWebhookReconcilePayload{
		Provider:   constants.PaymentChannelMercadoPago,
		EventID:    "55",
		EventType:  constants.GatewayEventTypePayment,
		ExternalID: externalID,
	})
	if err != nil {
		t.Fatalf("build task failed: %v", err)
	}
	return task
}

func TestHandlePaymentWebhookReconcileApplies(t *testing.T) {
	f := newWorkerFixture(t)
	f.gateway.outcomes["1319"] = gateway.Outcome{ExternalReference: "p1_ref", GatewayStatus: "approved", MethodLabel: "visa"}

	if err := f.consumer.handlePaymentWebhookReconcile(context.Background(), webhookTask(t, "1319")); err != nil {
		t.Fatalf("handle webhook task failed: %v", err)
	}
	if got := f.status(t); got != constants.PaymentStatusPaid {
		t.Fatalf("payment should be paid, got %s", got)
	}
}

func TestHandlePaymentWebhookReconcileRetriesWhenGatewayDown(t *testing.T) {
	f := newWorkerFixture(t)
	f.gateway.err = gateway.Unavailable(errors.New("dial timeout"))

	err := f.consumer.handlePaymentWebhookReconcile(context.Background(), webhookTask(t, "1319"))
	if !errors.Is(err, service.ErrGatewayUnavailable) {
		t.Fatalf("gateway down should ask for retry, got %v", err)
	}
	if got := f.status(t); got != constants.PaymentStatusPending {
		t.Fatalf("payment should stay pending, got %s", got)
	}

	// 网关不认识的流水号不重试
	f.gateway.err = nil
	if err := f.consumer.handlePaymentWebhookReconcile(context.Background(), webhookTask(t, "unknown")); err != nil {
		t.Fatalf("unknown reference should not retry, got %v", err)
	}
}

// lockedPaymentRepo 写入阶段返回存储错误
type lockedPaymentRepo struct {
	*repository.MemoryPaymentRepository
	err error
}

func (r *lockedPaymentRepo) CompareAndSetStatus(id, schoolID, expected, next string, fields repository.PaymentTransitionFields) (*models.Payment, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.MemoryPaymentRepository.CompareAndSetStatus(id, schoolID, expected, next, fields)
}

func TestHandlePaymentWebhookReconcileRetriesWhenStoreFails(t *testing.T) {
	f := newWorkerFixture(t)
	f.gateway.outcomes["1319"] = gateway.Outcome{ExternalReference: "p1_ref", GatewayStatus: "approved", MethodLabel: "visa"}
	locked := &lockedPaymentRepo{MemoryPaymentRepository: f.payments, err: errors.New("database is locked")}
	f.consumer.PaymentService = service.NewPaymentService(locked, f.consumer.GatewayEventRepo, f.consumer.Gateways, nil, service.PaymentOptions{})

	err := f.consumer.handlePaymentWebhookReconcile(context.Background(), webhookTask(t, "1319"))
	if !errors.Is(err, service.ErrPaymentStoreFailed) {
		t.Fatalf("store failure should ask for retry, got %v", err)
	}
	if got := f.status(t); got != constants.PaymentStatusPending {
		t.Fatalf("payment should stay pending, got %s", got)
	}

	// 存储恢复后重投成功
	locked.err = nil
	if err := f.consumer.handlePaymentWebhookReconcile(context.Background(), webhookTask(t, "1319")); err != nil {
		t.Fatalf("redelivered task failed: %v", err)
	}
	if got := f.status(t); got != constants.PaymentStatusPaid {
		t.Fatalf("payment should be paid after retry, got %s", got)
	}
}

func TestHandlePaymentWebhookReconcileBadPayload(t *testing.T) {
	f := newWorkerFixture(t)
	if err := f.consumer.handlePaymentWebhookReconcile(context.Background(), asynq.NewTask(queue.TaskPaymentWebhookReconcile, []byte("{"))); err == nil {
		t.Fatalf("broken payload should fail")
	}
	if err := f.consumer.handlePaymentWebhookReconcile(context.Background(), asynq.NewTask(queue.TaskPaymentWebhookReconcile, []byte("{}"))); err != nil {
		t.Fatalf("empty external id should be skipped, got %v", err)
	}
}

func TestHandlePaymentPoll(t *testing.T) {
	f := newWorkerFixture(t)
	f.gateway.outcomes["p1_ref"] = gateway.Outcome{ExternalReference: "p1_ref", GatewayStatus: "rejected"}

	stale, err := queue.NewPaymentPollTask(queue.PaymentPollPayload{PaymentID: "p1", SchoolID: "school-a", TransactionID: "old_ref"})
	if err != nil {
		t.Fatalf("build task failed: %v", err)
	}
	if err := f.consumer.handlePaymentPoll(context.Background(), stale); err != nil {
		t.Fatalf("superseded poll should be skipped, got %v", err)
	}
	if got := f.status(t); got != constants.PaymentStatusPending {
		t.Fatalf("superseded poll must not change status, got %s", got)
	}

	task, err := queue.NewPaymentPollTask(queue.PaymentPollPayload{PaymentID: "p1", SchoolID: "school-a", TransactionID: "p1_ref"})
	if err != nil {
		t.Fatalf("build task failed: %v", err)
	}
	if err := f.consumer.handlePaymentPoll(context.Background(), task); err != nil {
		t.Fatalf("poll task failed: %v", err)
	}
	if got := f.status(t); got != constants.PaymentStatusCancelled {
		t.Fatalf("rejected outcome should cancel, got %s", got)
	}
}

func TestHandlePaymentPollGatewayDown(t *testing.T) {
	f := newWorkerFixture(t)
	f.gateway.err = gateway.Unavailable(errors.New("503"))
	task, _ := queue.NewPaymentPollTask(queue.PaymentPollPayload{PaymentID: "p1", SchoolID: "school-a"})
	if err := f.consumer.handlePaymentPoll(context.Background(), task); !errors.Is(err, service.ErrGatewayUnavailable) {
		t.Fatalf("gateway down should ask for retry, got %v", err)
	}
}

func TestNewServiceRequiresQueue(t *testing.T) {
	if _, err := NewService(&config.QueueConfig{Enabled: false}, &Consumer{}); err == nil {
		t.Fatalf("disabled queue should not build a worker service")
	}
}

type countingSweeper struct {
	runs atomic.Int32
}

func (s *countingSweeper) ReconcileStalePending(context.Context) (*service.SweepResult, error) {
	s.runs.Add(1)
	return &service.SweepResult{}, nil
}

func TestSweepSchedulerRunsOnStart(t *testing.T) {
	if _, err := NewSweepScheduler(&config.ReconcileConfig{SweepEnabled: false}, &countingSweeper{}); err == nil {
		t.Fatalf("disabled sweep should not build a scheduler")
	}

	sweeper := &countingSweeper{}
	scheduler, err := NewSweepScheduler(&config.ReconcileConfig{SweepEnabled: true, SweepIntervalSeconds: 3600}, sweeper)
	if err != nil {
		t.Fatalf("new scheduler failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scheduler.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for sweeper.runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("scheduler start returned error: %v", err)
	}
	if err := scheduler.Stop(context.Background()); err != nil {
		t.Fatalf("scheduler stop failed: %v", err)
	}
	if sweeper.runs.Load() == 0 {
		t.Fatalf("sweep should run immediately after start")
	}
}
