package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/models"
)

// PollResult 主动查询结果；Payment 仅在发生状态迁移时返回
type PollResult struct {
	Payment       *models.Payment `json:"payment,omitempty"`
	PaymentStatus string          `json:"payment_status"`
	GatewayStatus string          `json:"gateway_status"`
	Applied       bool            `json:"applied"`
}

// PollAndApplyOutcome 客户端回跳后主动向网关查询结果并归并
// externalID 可为网关内部单号，但网关返回的外部流水号必须等于当前记录的流水号
func (s *PaymentService) PollAndApplyOutcome(ctx context.Context, capability Capability, paymentID, externalID string) (*PollResult, error) {
	if err := capability.require(constants.PaymentActionPoll); err != nil {
		return nil, err
	}
	payment, err := s.loadPayment(paymentID, capability.SchoolID)
	if err != nil {
		return nil, err
	}
	return s.pollPayment(ctx, payment, externalID, constants.GatewayEventSourcePoll)
}

func (s *PaymentService) pollPayment(ctx context.Context, payment *models.Payment, externalID, source string) (*PollResult, error) {
	storedRef := payment.TransactionRef()
	lookupRef := strings.TrimSpace(externalID)
	if lookupRef == "" {
		lookupRef = storedRef
	}
	if lookupRef == "" || storedRef == "" {
		return nil, fmt.Errorf("%w: payment has no checkout reference", ErrGatewayReferenceNotFound)
	}

	channel := payment.Channel()
	if channel == constants.PaymentChannelWallet {
		return &PollResult{PaymentStatus: payment.Status}, nil
	}
	gw, err := s.resolveGateway(channel)
	if err != nil {
		return nil, err
	}
	log := paymentLogger(
		"payment_id", payment.ID,
		"school_id", payment.SchoolID,
		"provider", gw.Name(),
		"source", source,
		"lookup_reference", lookupRef,
	)
	event := &models.GatewayEvent{
		Provider:   gw.Name(),
		Source:     source,
		EventType:  constants.GatewayEventTypePayment,
		ExternalID: lookupRef,
		PaymentID:  payment.ID,
		SchoolID:   payment.SchoolID,
	}

	outcome, err := gw.GetOutcome(ctx, lookupRef)
	if err != nil {
		mapped := mapGatewayError(err)
		event.Result = constants.GatewayEventResultFailed
		if errors.Is(mapped, ErrGatewayReferenceNotFound) {
			event.Result = constants.GatewayEventResultNotFound
		}
		event.Error = errorText(err)
		s.recordEvent(event)
		log.Warnw("payment_poll_gateway_failed", "error", err)
		return nil, mapped
	}
	event.GatewayStatus = outcome.GatewayStatus
	event.Payload = outcome.Raw

	// 重新发起收银台后旧流水号的结果不再归并
	if ref := strings.TrimSpace(outcome.ExternalReference); ref != "" && ref != storedRef {
		event.Result = constants.GatewayEventResultNotFound
		event.Error = "outcome reference does not match current checkout"
		s.recordEvent(event)
		log.Infow("payment_poll_reference_superseded", "outcome_reference", ref, "stored_reference", storedRef)
		return nil, fmt.Errorf("%w: %s superseded", ErrGatewayReferenceNotFound, ref)
	}
	if strings.TrimSpace(outcome.ExternalReference) == "" {
		outcome.ExternalReference = storedRef
	}

	updated, applied, err := s.applyOutcome(ctx, payment.ID, payment.SchoolID, gw.Name(), *outcome)
	event.Result = resultFor(applied, err)
	event.Error = errorText(err)
	s.recordEvent(event)
	if err != nil {
		return nil, err
	}
	result := &PollResult{
		PaymentStatus: updated.Status,
		GatewayStatus: outcome.GatewayStatus,
		Applied:       applied,
	}
	if applied {
		result.Payment = updated
	}
	return result, nil
}
