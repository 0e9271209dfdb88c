package admin

import "github.com/LDamian96/sistema-gestion-escolar-sub004/internal/provider"

// Handler 学校财务后台接口：缴费查询、导出、手工对账与权限自查
type Handler struct {
	*provider.Container
}

// New 创建处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
