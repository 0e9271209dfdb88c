package service

import (
	"fmt"
	"strings"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
)

// SystemRole 回调、巡检等内部路径使用的角色
const SystemRole = "system"

// Capability 调用方已授权的能力：学校范围 + 允许的操作
// 由 HTTP 层根据令牌与权限策略构建后显式传入
type Capability struct {
	SchoolID string
	UserID   string
	Role     string
	Actions  []string
}

// SystemCapability 内部路径的全量能力，学校由缴费记录决定
func SystemCapability(schoolID string) Capability {
	return Capability{
		SchoolID: strings.TrimSpace(schoolID),
		Role:     SystemRole,
		Actions: []string{
			constants.PaymentActionCheckout,
			constants.PaymentActionPoll,
			constants.PaymentActionWallet,
			constants.PaymentActionView,
			constants.PaymentActionList,
			constants.PaymentActionViewEvents,
		},
	}
}

// Allows 是否具备指定操作
func (c Capability) Allows(action string) bool {
	action = strings.TrimSpace(action)
	for _, granted := range c.Actions {
		if granted == action {
			return true
		}
	}
	return false
}

func (c Capability) require(action string) error {
	if strings.TrimSpace(c.SchoolID) == "" {
		return fmt.Errorf("%w: school scope is missing", ErrForbidden)
	}
	if !c.Allows(action) {
		return fmt.Errorf("%w: %s", ErrForbidden, action)
	}
	return nil
}
