package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/cache"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/gateway"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/models"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/repository"
)

// CheckoutResult 收银台创建结果
type CheckoutResult struct {
	PaymentID          string `json:"payment_id"`
	Provider           string `json:"provider"`
	RedirectURL        string `json:"redirect_url"`
	SandboxRedirectURL string `json:"sandbox_redirect_url"`
	PublishableKey     string `json:"publishable_key"`
}

// CreateCheckout 为缴费发起网关收银台并保存外部流水号
// 允许重复发起，新的流水号覆盖旧值；provider 为空时使用主网关
func (s *PaymentService) CreateCheckout(ctx context.Context, capability Capability, paymentID, provider string) (*CheckoutResult, error) {
	if err := capability.require(constants.PaymentActionCheckout); err != nil {
		return nil, err
	}
	payment, err := s.loadPayment(paymentID, capability.SchoolID)
	if err != nil {
		return nil, err
	}
	gw, err := s.resolveGateway(provider)
	if err != nil {
		return nil, err
	}
	log := paymentLogger(
		"payment_id", payment.ID,
		"school_id", payment.SchoolID,
		"provider", gw.Name(),
		"user_id", capability.UserID,
	)
	if payment.IsTerminal() {
		log.Warnw("payment_checkout_on_terminal_payment", "status", payment.Status)
	}

	currency := strings.ToUpper(strings.TrimSpace(payment.Currency))
	if currency == "" {
		currency = s.options.Currency
	}
	handle, err := gw.CreateCheckout(ctx, gateway.CheckoutRequest{
		PaymentID:   payment.ID,
		SchoolID:    payment.SchoolID,
		Amount:      payment.Amount.Decimal,
		Currency:    currency,
		Description: payment.Description,
		PayerEmail:  payment.PayerEmail,
	})
	if err != nil {
		log.Warnw("payment_checkout_gateway_failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if handle == nil || strings.TrimSpace(handle.ExternalReference) == "" {
		log.Warnw("payment_checkout_handle_invalid")
		return nil, fmt.Errorf("%w: empty checkout reference", ErrGatewayUnavailable)
	}

	method := models.BuildPaymentMethod(gw.Name(), constants.PaymentMethodLabelPending)
	if err := s.paymentRepo.SetCheckoutReference(payment.ID, payment.SchoolID, handle.ExternalReference, method); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		log.Errorw("payment_checkout_reference_save_failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrPaymentStoreFailed, err)
	}
	log.Infow("payment_checkout_created",
		"external_reference", handle.ExternalReference,
		"previous_reference", payment.TransactionRef(),
	)

	if s.options.Sandbox && s.options.CheckoutCacheTTL > 0 {
		snapshot := &cache.CheckoutSnapshot{
			PaymentID:          payment.ID,
			SchoolID:           payment.SchoolID,
			Provider:           gw.Name(),
			ExternalReference:  handle.ExternalReference,
			RedirectURL:        handle.RedirectURL,
			SandboxRedirectURL: handle.SandboxRedirectURL,
			CreatedAt:          s.now().Unix(),
		}
		if err := cache.SetCheckoutSnapshot(ctx, snapshot, s.options.CheckoutCacheTTL); err != nil {
			log.Warnw("payment_checkout_cache_write_failed", "error", err)
		}
	}

	result := &CheckoutResult{
		PaymentID:          payment.ID,
		Provider:           gw.Name(),
		RedirectURL:        handle.RedirectURL,
		SandboxRedirectURL: handle.SandboxRedirectURL,
		PublishableKey:     gw.PublishableKey(),
	}
	if s.options.Sandbox && result.SandboxRedirectURL == "" {
		result.SandboxRedirectURL = result.RedirectURL
	}
	return result, nil
}
