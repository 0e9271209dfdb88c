package shared

import (
	"errors"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/http/response"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/service"

	"github.com/gin-gonic/gin"
)

// MappedError 定义业务错误到接口错误响应的映射关系。
type MappedError struct {
	Target error
	Code   int
	Key    string
}

// PaymentErrorRules 缴费相关业务错误的通用映射
var PaymentErrorRules = []MappedError{
	{Target: service.ErrForbidden, Code: response.CodeForbidden, Key: "error.forbidden"},
	{Target: service.ErrPaymentNotFound, Code: response.CodeNotFound, Key: "error.payment_not_found"},
	{Target: service.ErrPaymentInvalid, Code: response.CodeBadRequest, Key: "error.payment_invalid"},
	{Target: service.ErrInvalidState, Code: response.CodeBadRequest, Key: "error.invalid_state"},
	{Target: service.ErrWalletDisabled, Code: response.CodeBadRequest, Key: "error.wallet_disabled"},
	{Target: service.ErrGatewayNotConfigured, Code: response.CodeBadRequest, Key: "error.gateway_not_configured"},
	{Target: service.ErrGatewayReferenceNotFound, Code: response.CodeNotFound, Key: "error.gateway_reference_not_found"},
	{Target: service.ErrGatewayUnavailable, Code: response.CodeBadGateway, Key: "error.gateway_unavailable"},
	{Target: service.ErrPaymentStoreFailed, Code: response.CodeInternal, Key: "error.payment_store_failed"},
}

// RespondWithMappedError 按规则表输出错误；未命中时使用兜底错误并记录原始错误
func RespondWithMappedError(c *gin.Context, err error, rules []MappedError, fallbackCode int, fallbackKey string) {
	for _, rule := range rules {
		if errors.Is(err, rule.Target) {
			if rule.Code >= response.CodeInternal {
				RespondError(c, rule.Code, rule.Key, err)
				return
			}
			RespondError(c, rule.Code, rule.Key, nil)
			return
		}
	}
	RespondError(c, fallbackCode, fallbackKey, err)
}

// RespondPaymentError 缴费接口的统一错误输出
func RespondPaymentError(c *gin.Context, err error) {
	RespondWithMappedError(c, err, PaymentErrorRules, response.CodeInternal, "error.internal")
}
