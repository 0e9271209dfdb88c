package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/gateway"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/logger"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/models"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/queue"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/repository"

	"go.uber.org/zap"
)

const (
	defaultSweepBatchSize = 50
	defaultStaleAfter     = 30 * time.Minute
	eventErrorMaxLength   = 500
)

// PaymentOptions 缴费服务运行参数
type PaymentOptions struct {
	Sandbox           bool
	Currency          string
	CheckoutCacheTTL  time.Duration
	WalletEnabled     bool
	WalletChannelName string
	WebhookAsync      bool
	WebhookDedupeTTL  time.Duration
	StaleAfter        time.Duration
	SweepBatchSize    int
	// SweepMaxAttempts 同一流水号巡检次数上限，0 表示不限
	SweepMaxAttempts int
}

// PaymentService 缴费生命周期与网关对账服务
type PaymentService struct {
	paymentRepo repository.PaymentRepository
	eventRepo   repository.GatewayEventRepository
	gateways    *gateway.Registry
	queueClient *queue.Client
	options     PaymentOptions
	now         func() time.Time
}

// NewPaymentService 创建缴费服务
func NewPaymentService(paymentRepo repository.PaymentRepository, eventRepo repository.GatewayEventRepository, gateways *gateway.Registry, queueClient *queue.Client, options PaymentOptions) *PaymentService {
	if gateways == nil {
		gateways = gateway.NewRegistry()
	}
	options.Currency = strings.ToUpper(strings.TrimSpace(options.Currency))
	if options.Currency == "" {
		options.Currency = constants.CurrencyDefault
	}
	options.WalletChannelName = strings.ToLower(strings.TrimSpace(options.WalletChannelName))
	if options.WalletChannelName == "" {
		options.WalletChannelName = constants.WalletChannelDefault
	}
	if options.StaleAfter <= 0 {
		options.StaleAfter = defaultStaleAfter
	}
	if options.SweepBatchSize <= 0 {
		options.SweepBatchSize = defaultSweepBatchSize
	}
	return &PaymentService{
		paymentRepo: paymentRepo,
		eventRepo:   eventRepo,
		gateways:    gateways,
		queueClient: queueClient,
		options:     options,
		now:         time.Now,
	}
}

// SetClock 替换时间源
func (s *PaymentService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func paymentLogger(kv ...interface{}) *zap.SugaredLogger {
	if len(kv) == 0 {
		return logger.S()
	}
	return logger.SW(kv...)
}

// GetPayment 查询单条缴费
func (s *PaymentService) GetPayment(capability Capability, paymentID string) (*models.Payment, error) {
	if err := capability.require(constants.PaymentActionView); err != nil {
		return nil, err
	}
	return s.loadPayment(paymentID, capability.SchoolID)
}

// ListPayments 学校维度分页查询缴费
func (s *PaymentService) ListPayments(capability Capability, filter repository.PaymentListFilter) ([]models.Payment, int64, error) {
	if err := capability.require(constants.PaymentActionList); err != nil {
		return nil, 0, err
	}
	filter.SchoolID = capability.SchoolID
	filter.Status = strings.ToUpper(strings.TrimSpace(filter.Status))
	if filter.Status != "" && !isKnownPaymentStatus(filter.Status) {
		return nil, 0, fmt.Errorf("%w: unknown status %s", ErrPaymentInvalid, filter.Status)
	}
	payments, total, err := s.paymentRepo.ListBySchool(filter)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrPaymentStoreFailed, err)
	}
	return payments, total, nil
}

// ListGatewayEvents 查询缴费的网关事件流水
func (s *PaymentService) ListGatewayEvents(capability Capability, paymentID string, page, pageSize int) ([]models.GatewayEvent, int64, error) {
	if err := capability.require(constants.PaymentActionViewEvents); err != nil {
		return nil, 0, err
	}
	payment, err := s.loadPayment(paymentID, capability.SchoolID)
	if err != nil {
		return nil, 0, err
	}
	if s.eventRepo == nil {
		return []models.GatewayEvent{}, 0, nil
	}
	events, total, err := s.eventRepo.List(repository.GatewayEventListFilter{
		Page:      page,
		PageSize:  pageSize,
		SchoolID:  payment.SchoolID,
		PaymentID: payment.ID,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrPaymentStoreFailed, err)
	}
	return events, total, nil
}

func (s *PaymentService) loadPayment(paymentID, schoolID string) (*models.Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, fmt.Errorf("%w: payment id is required", ErrPaymentInvalid)
	}
	payment, err := s.paymentRepo.GetByIDAndSchool(paymentID, strings.TrimSpace(schoolID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentStoreFailed, err)
	}
	return payment, nil
}

// resolveGateway 优先使用缴费记录的渠道，其次使用指定/主网关
func (s *PaymentService) resolveGateway(name string) (gateway.Gateway, error) {
	if strings.TrimSpace(name) != "" {
		if gw, ok := s.gateways.Get(name); ok {
			return gw, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrGatewayNotConfigured, name)
	}
	if gw, ok := s.gateways.Primary(); ok {
		return gw, nil
	}
	return nil, ErrGatewayNotConfigured
}

func (s *PaymentService) recordEvent(event *models.GatewayEvent) {
	if s.eventRepo == nil || event == nil {
		return
	}
	if len(event.Error) > eventErrorMaxLength {
		event.Error = event.Error[:eventErrorMaxLength]
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	if err := s.eventRepo.Create(event); err != nil {
		paymentLogger(
			"provider", event.Provider,
			"payment_id", event.PaymentID,
		).Warnw("payment_gateway_event_record_failed", "error", err)
	}
}

func isKnownPaymentStatus(status string) bool {
	switch status {
	case constants.PaymentStatusPending, constants.PaymentStatusPaid, constants.PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

func mapGatewayError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gateway.ErrReferenceNotFound):
		return &gatewayError{kind: ErrGatewayReferenceNotFound, cause: err, prefix: gateway.ErrReferenceNotFound}
	default:
		return &gatewayError{kind: ErrGatewayUnavailable, cause: err, prefix: gateway.ErrUnavailable}
	}
}

// gatewayError 服务层分类错误，同时保留网关原始错误链
type gatewayError struct {
	kind   error
	cause  error
	prefix error
}

func (e *gatewayError) Error() string {
	detail := strings.TrimSpace(e.cause.Error())
	if detail == e.prefix.Error() || detail == e.kind.Error() {
		return e.kind.Error()
	}
	detail = strings.TrimPrefix(detail, e.prefix.Error()+": ")
	return e.kind.Error() + ": " + detail
}

func (e *gatewayError) Unwrap() []error {
	return []error{e.kind, e.cause}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
