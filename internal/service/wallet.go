package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/gateway"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/models"

	"github.com/google/uuid"
)

// SettleViaAlternateChannel 移动钱包同步结算：不调用网关，直接构造 approved 结果
func (s *PaymentService) SettleViaAlternateChannel(ctx context.Context, capability Capability, paymentID, payerToken string) (*models.Payment, error) {
	if err := capability.require(constants.PaymentActionWallet); err != nil {
		return nil, err
	}
	if !s.options.WalletEnabled {
		return nil, ErrWalletDisabled
	}
	payerToken = strings.TrimSpace(payerToken)
	if payerToken == "" {
		return nil, ErrPaymentInvalid
	}
	payment, err := s.loadPayment(paymentID, capability.SchoolID)
	if err != nil {
		return nil, err
	}
	if !payment.Amount.Positive() {
		return nil, ErrInvalidState
	}

	channelName := s.options.WalletChannelName
	settledAt := s.now()
	outcome := gateway.Outcome{
		ExternalReference: channelName + "-" + uuid.NewString(),
		GatewayStatus:     "approved",
		SettledAt:         &settledAt,
		MethodLabel:       channelName,
	}
	paymentLogger(
		"payment_id", payment.ID,
		"school_id", payment.SchoolID,
		"user_id", capability.UserID,
		"payer", maskPayerToken(payerToken),
	).Infow("payment_wallet_settlement_requested", "external_reference", outcome.ExternalReference)

	updated, applied, err := s.applyOutcome(ctx, payment.ID, payment.SchoolID, constants.PaymentChannelWallet, outcome)
	event := &models.GatewayEvent{
		Provider:      constants.PaymentChannelWallet,
		Source:        constants.GatewayEventSourceWallet,
		EventType:     constants.GatewayEventTypePayment,
		ExternalID:    outcome.ExternalReference,
		PaymentID:     payment.ID,
		SchoolID:      payment.SchoolID,
		GatewayStatus: outcome.GatewayStatus,
		Result:        resultFor(applied, err),
		Error:         errorText(err),
	}
	s.recordEvent(event)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// maskPayerToken 日志中只保留末四位
func maskPayerToken(token string) string {
	count := utf8.RuneCountInString(token)
	if count <= 4 {
		return strings.Repeat("*", count)
	}
	runes := []rune(token)
	return strings.Repeat("*", count-4) + string(runes[count-4:])
}

func resultFor(applied bool, err error) string {
	switch {
	case err != nil:
		return constants.GatewayEventResultFailed
	case applied:
		return constants.GatewayEventResultApplied
	default:
		return constants.GatewayEventResultUnchanged
	}
}
