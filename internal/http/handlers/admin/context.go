package admin

import (
	handlershared "github.com/LDamian96/sistema-gestion-escolar-sub004/internal/http/handlers/shared"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/service"

	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, code int, key string, err error) {
	handlershared.RespondError(c, code, key, err)
}

func getCapability(c *gin.Context) (service.Capability, bool) {
	return handlershared.GetCapability(c)
}

func parsePagination(c *gin.Context) (int, int) {
	return handlershared.ParsePagination(c)
}
