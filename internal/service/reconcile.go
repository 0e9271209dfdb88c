package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/gateway"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/models"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/repository"
)

const unknownMethodLabel = "unknown"

// gatewayStatusTargets 网关状态 → 缴费状态；不在表中的状态保持 PENDING
var gatewayStatusTargets = map[string]string{
	"approved":  constants.PaymentStatusPaid,
	"settled":   constants.PaymentStatusPaid,
	"paid":      constants.PaymentStatusPaid,
	"completed": constants.PaymentStatusPaid,
	"succeeded": constants.PaymentStatusPaid,

	"rejected":  constants.PaymentStatusCancelled,
	"cancelled": constants.PaymentStatusCancelled,
	"canceled":  constants.PaymentStatusCancelled,
	"expired":   constants.PaymentStatusCancelled,
	"voided":    constants.PaymentStatusCancelled,
	"failed":    constants.PaymentStatusCancelled,
	"declined":  constants.PaymentStatusCancelled,

	"pending":               constants.PaymentStatusPending,
	"in_process":            constants.PaymentStatusPending,
	"in_mediation":          constants.PaymentStatusPending,
	"authorized":            constants.PaymentStatusPending,
	"open":                  constants.PaymentStatusPending,
	"unpaid":                constants.PaymentStatusPending,
	"created":               constants.PaymentStatusPending,
	"processing":            constants.PaymentStatusPending,
	"payer_action_required": constants.PaymentStatusPending,
}

// MapGatewayStatus 将网关状态映射为缴费状态，known=false 表示未识别（按 PENDING 处理）
func MapGatewayStatus(gatewayStatus string) (target string, known bool) {
	target, known = gatewayStatusTargets[gateway.NormalizeStatus(gatewayStatus)]
	if !known {
		return constants.PaymentStatusPending, false
	}
	return target, true
}

// ApplyOutcome 将网关结果归并到缴费记录
// 仅 PENDING 记录会迁移；终态记录、非终态结果原样返回；并发冲突读取最新记录后视为成功
func (s *PaymentService) ApplyOutcome(ctx context.Context, paymentID, schoolID, channel string, outcome gateway.Outcome) (*models.Payment, error) {
	payment, _, err := s.applyOutcome(ctx, paymentID, schoolID, channel, outcome)
	return payment, err
}

func (s *PaymentService) applyOutcome(_ context.Context, paymentID, schoolID, channel string, outcome gateway.Outcome) (*models.Payment, bool, error) {
	log := paymentLogger(
		"payment_id", paymentID,
		"school_id", schoolID,
		"channel", channel,
		"external_reference", outcome.ExternalReference,
		"gateway_status", outcome.GatewayStatus,
	)

	payment, err := s.loadPayment(paymentID, schoolID)
	if err != nil {
		return nil, false, err
	}
	if payment.Status != constants.PaymentStatusPending {
		log.Debugw("payment_outcome_skipped_terminal", "status", payment.Status)
		return payment, false, nil
	}

	target, known := MapGatewayStatus(outcome.GatewayStatus)
	if !known {
		log.Warnw("payment_outcome_status_unknown")
	}
	if target == constants.PaymentStatusPending {
		return payment, false, nil
	}

	fields := repository.PaymentTransitionFields{
		PaymentMethod: models.BuildPaymentMethod(channel, methodLabelOrDefault(outcome.MethodLabel)),
		TransactionID: strings.TrimSpace(outcome.ExternalReference),
	}
	if target == constants.PaymentStatusPaid {
		paidDate := s.now()
		if outcome.SettledAt != nil && !outcome.SettledAt.IsZero() {
			paidDate = *outcome.SettledAt
		}
		fields.PaidDate = &paidDate
	}

	updated, err := s.paymentRepo.CompareAndSetStatus(payment.ID, payment.SchoolID, constants.PaymentStatusPending, target, fields)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			log.Infow("payment_outcome_conflict_absorbed", "target_status", target)
			current, loadErr := s.loadPayment(payment.ID, payment.SchoolID)
			if loadErr != nil {
				return nil, false, loadErr
			}
			return current, false, nil
		}
		log.Errorw("payment_outcome_apply_failed", "target_status", target, "error", err)
		return nil, false, fmt.Errorf("%w: %v", ErrPaymentStoreFailed, err)
	}
	log.Infow("payment_outcome_applied",
		"target_status", target,
		"payment_method", fields.PaymentMethod,
	)
	return updated, true, nil
}

func methodLabelOrDefault(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return unknownMethodLabel
	}
	return label
}
