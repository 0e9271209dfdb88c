package repository

import "time"

// PaymentListFilter 查询缴费列表的过滤条件
type PaymentListFilter struct {
	Page      int
	PageSize  int
	SchoolID  string
	StudentID string
	Status    string
	Search    string
	DueFrom   *time.Time
	DueTo     *time.Time
}

// GatewayEventListFilter 查询网关事件列表的过滤条件
type GatewayEventListFilter struct {
	Page      int
	PageSize  int
	SchoolID  string
	PaymentID string
	Provider  string
	Result    string
}

// StalePendingFilter 巡检候选条件
type StalePendingFilter struct {
	// Before 最近更新与最近巡检都早于该时间
	Before time.Time
	// MaxAttempts 当前流水号巡检次数上限，0 表示不限
	MaxAttempts int
	Limit       int
}
