package authz

import (
	"fmt"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
)

// RoleSeed 预置角色定义
type RoleSeed struct {
	Role     string
	Inherits []string
	Actions  []string
}

// BuiltinRoleSeeds 学校内置角色矩阵
func BuiltinRoleSeeds() []RoleSeed {
	return []RoleSeed{
		{
			Role:    constants.RoleStudent,
			Actions: []string{constants.PaymentActionView},
		},
		{
			Role:     constants.RoleGuardian,
			Inherits: []string{constants.RoleStudent},
			Actions: []string{
				constants.PaymentActionCheckout,
				constants.PaymentActionPoll,
				constants.PaymentActionWallet,
			},
		},
		{
			Role:     constants.RoleFinance,
			Inherits: []string{constants.RoleStudent},
			Actions: []string{
				constants.PaymentActionPoll,
				constants.PaymentActionList,
				constants.PaymentActionViewEvents,
			},
		},
		{
			Role:     constants.RoleSchoolAdmin,
			Inherits: []string{constants.RoleGuardian, constants.RoleFinance},
			Actions:  []string{constants.AuthzActionView},
		},
	}
}

// BootstrapBuiltinRoles 初始化预置角色与默认策略，重复执行无副作用
func (s *Service) BootstrapBuiltinRoles() error {
	if s == nil || s.enforcer == nil {
		return fmt.Errorf("authz service unavailable")
	}

	for _, seed := range BuiltinRoleSeeds() {
		role, err := s.EnsureRole(seed.Role)
		if err != nil {
			return err
		}

		for _, parent := range seed.Inherits {
			parentRole, err := NormalizeRole(parent)
			if err != nil {
				return err
			}
			if _, err := s.enforcer.AddNamedGroupingPolicy("g", role, parentRole); err != nil {
				return fmt.Errorf("link role inheritance failed: %w", err)
			}
		}

		for _, action := range seed.Actions {
			object, act, err := SplitAction(action)
			if err != nil {
				return fmt.Errorf("builtin policy invalid: %w", err)
			}
			if _, err := s.enforcer.AddPolicy(role, object, act); err != nil {
				return fmt.Errorf("add builtin policy failed: %w", err)
			}
		}
	}
	return nil
}
