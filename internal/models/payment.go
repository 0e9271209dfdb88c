package models

import (
	"strings"
	"time"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"

	"gorm.io/gorm"
)

// Payment 学费缴费记录
type Payment struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`                     // 主键（uuid）
	SchoolID      string         `gorm:"size:64;index;not null" json:"school_id"`          // 学校（租户）ID
	StudentID     string         `gorm:"size:64;index;not null" json:"student_id"`         // 学生ID
	Amount        Money          `gorm:"type:decimal(20,2);not null" json:"amount"`        // 应缴金额
	Currency      string         `gorm:"size:8;not null" json:"currency"`                  // 币种
	Description   string         `gorm:"size:255" json:"description"`                      // 描述（网关收银台展示）
	PayerEmail    string         `gorm:"size:255" json:"payer_email"`                      // 付款人邮箱
	DueDate       time.Time      `gorm:"index" json:"due_date"`                            // 到期日
	PaidDate      *time.Time     `gorm:"index" json:"paid_date"`                           // 实际支付时间
	Status        string         `gorm:"size:16;index;not null" json:"status"`             // 状态 PENDING/PAID/CANCELLED
	PaymentMethod string         `gorm:"size:128" json:"payment_method"`                   // 渠道:方式
	TransactionID *string        `gorm:"size:128;index" json:"transaction_id"`             // 网关外部流水号
	LastPolledAt  *time.Time     `gorm:"index" json:"last_polled_at"`                      // 巡检最近一次查询时间
	PollAttempts  int            `gorm:"not null;default:0" json:"poll_attempts"`          // 当前流水号的巡检次数
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`                          // 创建时间
	UpdatedAt     time.Time      `gorm:"index" json:"updated_at"`                          // 更新时间
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`                                   // 软删除时间
}

// TableName 指定表名
func (Payment) TableName() string {
	return "payments"
}

// IsTerminal 是否已进入终态
func (p *Payment) IsTerminal() bool {
	if p == nil {
		return false
	}
	return p.Status == constants.PaymentStatusPaid || p.Status == constants.PaymentStatusCancelled
}

// TransactionRef 返回外部流水号（未设置时为空串）
func (p *Payment) TransactionRef() string {
	if p == nil || p.TransactionID == nil {
		return ""
	}
	return strings.TrimSpace(*p.TransactionID)
}

// Channel 返回 payment_method 中的渠道前缀
func (p *Payment) Channel() string {
	if p == nil {
		return ""
	}
	channel, _, _ := strings.Cut(p.PaymentMethod, constants.PaymentMethodSeparator)
	return strings.TrimSpace(channel)
}

// BuildPaymentMethod 组装 "<channel>:<label>"
func BuildPaymentMethod(channel, label string) string {
	return strings.TrimSpace(channel) + constants.PaymentMethodSeparator + strings.TrimSpace(label)
}
