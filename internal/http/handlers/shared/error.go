package shared

import (
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/http/response"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/i18n"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLog 带 request_id 与 school_id 的日志实例
func RequestLog(c *gin.Context) *zap.SugaredLogger {
	if c == nil {
		return logger.S()
	}
	fields := make([]interface{}, 0, 4)
	if id := c.GetString("request_id"); id != "" {
		fields = append(fields, "request_id", id)
	}
	if capability, ok := GetCapabilityQuiet(c); ok {
		fields = append(fields, "school_id", capability.SchoolID)
	}
	if len(fields) == 0 {
		return logger.S()
	}
	return logger.SW(fields...)
}

// RespondError 本地化文案键后输出；带原始错误时按严重程度记录
func RespondError(c *gin.Context, code int, key string, err error) {
	locale := i18n.ResolveLocale(c)
	appErr := response.NewAppError(code, key, err).Localize(func(k string) string {
		return i18n.T(locale, k)
	})
	if err != nil {
		log := RequestLog(c)
		if appErr.ServerSide() {
			log.Errorw("handler_error", "code", appErr.Code, "key", appErr.Key, "error", err)
		} else {
			log.Warnw("handler_rejected", "code", appErr.Code, "key", appErr.Key, "error", err)
		}
	}
	response.Fail(c, appErr)
}
