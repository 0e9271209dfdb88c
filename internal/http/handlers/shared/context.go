package shared

import (
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/http/response"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/service"

	"github.com/gin-gonic/gin"
)

// CapabilityContextKey 鉴权中间件写入的调用方能力
const CapabilityContextKey = "capability"

// GetCapability 从上下文读取调用方能力并统一处理错误响应。
func GetCapability(c *gin.Context) (service.Capability, bool) {
	if _, exists := c.Get(CapabilityContextKey); !exists {
		RespondError(c, response.CodeUnauthorized, "error.unauthorized", nil)
		return service.Capability{}, false
	}
	capability, ok := GetCapabilityQuiet(c)
	if !ok {
		RespondError(c, response.CodeInternal, "error.internal", nil)
	}
	return capability, ok
}

// GetCapabilityQuiet 读取调用方能力，不写响应
func GetCapabilityQuiet(c *gin.Context) (service.Capability, bool) {
	value, exists := c.Get(CapabilityContextKey)
	if !exists {
		return service.Capability{}, false
	}
	switch v := value.(type) {
	case service.Capability:
		return v, true
	case *service.Capability:
		if v != nil {
			return *v, true
		}
	}
	return service.Capability{}, false
}
