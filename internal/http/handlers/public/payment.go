package public

import (
	"errors"
	"io"
	"strings"

	handlershared "github.com/LDamian96/sistema-gestion-escolar-sub004/internal/http/handlers/shared"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/http/response"

	"github.com/gin-gonic/gin"
)

// CreateCheckoutRequest 发起收银台请求
type CreateCheckoutRequest struct {
	Provider string `json:"provider" binding:"omitempty,oneof=mercadopago stripe paypal"`
}

// PollPaymentStatusRequest 回跳后查询支付结果
type PollPaymentStatusRequest struct {
	ExternalID string `json:"external_id"`
}

// SettleWalletRequest 移动钱包结算请求
type SettleWalletRequest struct {
	PayerToken string `json:"payer_token" binding:"required,max=128"`
}

// GetPayment 查询缴费详情
func (h *Handler) GetPayment(c *gin.Context) {
	capability, ok := getCapability(c)
	if !ok {
		return
	}
	payment, err := h.PaymentService.GetPayment(capability, c.Param("id"))
	if err != nil {
		handlershared.RespondPaymentError(c, err)
		return
	}
	response.Success(c, payment)
}

// CreateCheckout 发起网关收银台
func (h *Handler) CreateCheckout(c *gin.Context) {
	capability, ok := getCapability(c)
	if !ok {
		return
	}
	var req CreateCheckoutRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}
	result, err := h.PaymentService.CreateCheckout(c.Request.Context(), capability, c.Param("id"), strings.TrimSpace(req.Provider))
	if err != nil {
		handlershared.RespondPaymentError(c, err)
		return
	}
	response.Success(c, result)
}

// PollPaymentStatus 主动向网关查询结果并归并
func (h *Handler) PollPaymentStatus(c *gin.Context) {
	capability, ok := getCapability(c)
	if !ok {
		return
	}
	var req PollPaymentStatusRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}
	result, err := h.PaymentService.PollAndApplyOutcome(c.Request.Context(), capability, c.Param("id"), strings.TrimSpace(req.ExternalID))
	if err != nil {
		handlershared.RespondPaymentError(c, err)
		return
	}
	response.Success(c, result)
}

// SettleWallet 通过移动钱包直接结算
func (h *Handler) SettleWallet(c *gin.Context) {
	capability, ok := getCapability(c)
	if !ok {
		return
	}
	var req SettleWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}
	payment, err := h.PaymentService.SettleViaAlternateChannel(c.Request.Context(), capability, c.Param("id"), req.PayerToken)
	if err != nil {
		handlershared.RespondPaymentError(c, err)
		return
	}
	response.Success(c, payment)
}

// bindOptionalJSON 空请求体视为零值
func bindOptionalJSON(c *gin.Context, target interface{}) error {
	if c.Request == nil || c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(target); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
