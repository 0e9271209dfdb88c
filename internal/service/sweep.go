package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/queue"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/repository"
)

// SweepResult 巡检结果
type SweepResult struct {
	Scanned  int
	Enqueued int
	Polled   int
	Failed   int
}

// ReconcileStalePending 巡检长时间未结算的待缴记录，逐条投递主动查询任务
// 队列未启用时直接同步查询
func (s *PaymentService) ReconcileStalePending(ctx context.Context) (*SweepResult, error) {
	cutoff := s.now().Add(-s.options.StaleAfter)
	payments, err := s.paymentRepo.ListStalePending(repository.StalePendingFilter{
		Before:      cutoff,
		MaxAttempts: s.options.SweepMaxAttempts,
		Limit:       s.options.SweepBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentStoreFailed, err)
	}
	result := &SweepResult{Scanned: len(payments)}
	log := paymentLogger("cutoff", cutoff, "scanned", len(payments))

	for i := range payments {
		payment := &payments[i]
		// 先记录巡检，查询结果为 pending/not_found 的记录让位给其它候选
		if err := s.paymentRepo.MarkPolled(payment.ID, payment.SchoolID, s.now()); err != nil {
			log.Warnw("payment_sweep_mark_polled_failed", "payment_id", payment.ID, "error", err)
		}
		if payment.Channel() == constants.PaymentChannelWallet {
			continue
		}
		if s.queueClient.Enabled() {
			err := s.queueClient.EnqueuePaymentPoll(ctx, queue.PaymentPollPayload{
				PaymentID:     payment.ID,
				SchoolID:      payment.SchoolID,
				TransactionID: payment.TransactionRef(),
			})
			if err == nil {
				result.Enqueued++
				continue
			}
			log.Warnw("payment_sweep_enqueue_failed", "payment_id", payment.ID, "error", err)
		}
		if _, err := s.pollPayment(ctx, payment, "", constants.GatewayEventSourceSweep); err != nil {
			result.Failed++
			log.Warnw("payment_sweep_poll_failed", "payment_id", payment.ID, "error", err)
			continue
		}
		result.Polled++
	}
	if result.Scanned > 0 {
		log.Infow("payment_sweep_finished",
			"enqueued", result.Enqueued,
			"polled", result.Polled,
			"failed", result.Failed,
		)
	}
	return result, nil
}

// ReconcilePayment 异步任务入口：按系统能力查询单条缴费
// 仅网关不可用时返回错误以便任务重试
func (s *PaymentService) ReconcilePayment(ctx context.Context, paymentID, schoolID, transactionID string) error {
	payment, err := s.loadPayment(paymentID, schoolID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil
		}
		return err
	}
	if payment.Status != constants.PaymentStatusPending {
		return nil
	}
	// 任务入队后收银台已被重新发起，旧流水号不再查询
	if ref := strings.TrimSpace(transactionID); ref != "" && ref != payment.TransactionRef() {
		paymentLogger("payment_id", payment.ID, "task_reference", ref).Infow("payment_poll_task_superseded")
		return nil
	}
	_, err = s.pollPayment(ctx, payment, "", constants.GatewayEventSourceSweep)
	if err != nil && errors.Is(err, ErrGatewayUnavailable) {
		return err
	}
	return nil
}
