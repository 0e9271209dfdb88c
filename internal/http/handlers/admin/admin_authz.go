package admin

import (
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/authz"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/http/response"

	"github.com/gin-gonic/gin"
)

// AuthzRoleItem 角色及其直接策略
type AuthzRoleItem struct {
	Role     string         `json:"role"`
	Policies []authz.Policy `json:"policies"`
}

// ListAuthzRoles 角色列表
func (h *Handler) ListAuthzRoles(c *gin.Context) {
	if h.AuthzService == nil {
		respondError(c, response.CodeInternal, "error.internal", nil)
		return
	}
	roles, err := h.AuthzService.ListRoles()
	if err != nil {
		respondError(c, response.CodeInternal, "error.internal", err)
		return
	}
	items := make([]AuthzRoleItem, 0, len(roles))
	for _, role := range roles {
		policies, err := h.AuthzService.GetRolePolicies(role)
		if err != nil {
			respondError(c, response.CodeInternal, "error.internal", err)
			return
		}
		items = append(items, AuthzRoleItem{Role: role, Policies: policies})
	}
	response.Success(c, items)
}

// GetAuthzMe 当前调用方的能力
func (h *Handler) GetAuthzMe(c *gin.Context) {
	capability, ok := getCapability(c)
	if !ok {
		return
	}
	response.Success(c, gin.H{
		"school_id": capability.SchoolID,
		"user_id":   capability.UserID,
		"role":      capability.Role,
		"actions":   capability.Actions,
	})
}

// GetAuthzCatalog 可授权操作目录
func (h *Handler) GetAuthzCatalog(c *gin.Context) {
	response.Success(c, authz.ActionCatalog())
}
