package models

import "time"

// GatewayEvent 网关事件流水（回调/轮询/钱包结算）
type GatewayEvent struct {
	ID            uint      `gorm:"primarykey" json:"id"`
	Provider      string    `gorm:"size:32;index;not null" json:"provider"`     // 渠道（mercadopago/stripe/paypal/wallet）
	Source        string    `gorm:"size:16;index;not null" json:"source"`       // 来源（webhook/poll/wallet/sweep）
	EventType     string    `gorm:"size:64" json:"event_type"`                  // 网关事件类型
	ExternalID    string    `gorm:"size:128;index" json:"external_id"`          // 外部流水号
	PaymentID     string    `gorm:"size:36;index" json:"payment_id"`            // 关联缴费ID
	SchoolID      string    `gorm:"size:64;index" json:"school_id"`             // 学校ID
	GatewayStatus string    `gorm:"size:64" json:"gateway_status"`              // 网关原始状态
	Result        string    `gorm:"size:16;index;not null" json:"result"`       // 处理结果
	Error         string    `gorm:"type:text" json:"error,omitempty"`           // 错误描述
	Payload       JSON      `gorm:"type:json" json:"payload,omitempty"`         // 原始数据（截断）
	CreatedAt     time.Time `gorm:"index" json:"created_at"`                    // 创建时间
}

// TableName 指定表名
func (GatewayEvent) TableName() string {
	return "payment_gateway_events"
}
