package models

import (
	"database/sql/driver"
	"strings"

	"github.com/shopspring/decimal"
)

const moneyScale = 2

// Money 缴费金额，固定两位小数；币种由 Payment.Currency 决定
type Money struct {
	decimal.Decimal
}

// NewMoneyFromDecimal 按两位小数四舍五入
func NewMoneyFromDecimal(amount decimal.Decimal) Money {
	return Money{Decimal: amount.Round(moneyScale)}
}

// NewMoneyFromString 解析金额，接受逗号作为小数点（"350,50"）
func NewMoneyFromString(raw string) (Money, error) {
	raw = strings.TrimSpace(raw)
	if strings.Count(raw, ",") == 1 && !strings.Contains(raw, ".") {
		raw = strings.Replace(raw, ",", ".", 1)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return Money{}, err
	}
	return NewMoneyFromDecimal(d), nil
}

// Positive 金额是否大于零
func (m Money) Positive() bool {
	return m.Decimal.IsPositive()
}

// MarshalJSON 输出 "350.00" 形式的字符串，避免浮点误差
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON 接受字符串或数字
func (m *Money) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	m.Decimal = d.Round(moneyScale)
	return nil
}

func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

func (m *Money) Scan(value interface{}) error {
	if err := m.Decimal.Scan(value); err != nil {
		return err
	}
	m.Decimal = m.Decimal.Round(moneyScale)
	return nil
}

func (m Money) String() string {
	return m.Decimal.StringFixed(moneyScale)
}
