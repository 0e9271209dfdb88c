package public

import (
	handlershared "github.com/LDamian96/sistema-gestion-escolar-sub004/internal/http/handlers/shared"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func requestLog(c *gin.Context) *zap.SugaredLogger {
	return handlershared.RequestLog(c)
}

func respondError(c *gin.Context, code int, key string, err error) {
	handlershared.RespondError(c, code, key, err)
}

func getCapability(c *gin.Context) (service.Capability, bool) {
	return handlershared.GetCapability(c)
}
