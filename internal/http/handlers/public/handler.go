package public

import "github.com/LDamian96/sistema-gestion-escolar-sub004/internal/provider"

// Handler 家长端缴费接口与网关回调
type Handler struct {
	*provider.Container
}

// New 创建处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
