// Package money 提供金额计算工具
// 所有金额统一保留两位小数，采用四舍五入（远离零方向）
package money

import (
	"github.com/shopspring/decimal"
)

// Places 金额小数位数
const Places = 2

var hundred = decimal.NewFromInt(100)

// Round 保留两位小数，半数远离零方向进位
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Percent 计算 amount * rate / 100 并取整到分
func Percent(amount, rate decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(rate).Div(hundred))
}

// Clamp 将金额限制在 [min, max] 内，未设置的边界视为无限
func Clamp(d decimal.Decimal, min, max decimal.NullDecimal) decimal.Decimal {
	if min.Valid && d.LessThan(min.Decimal) {
		d = min.Decimal
	}
	if max.Valid && d.GreaterThan(max.Decimal) {
		d = max.Decimal
	}
	return d
}

// Bound 构造一个有效的边界值
func Bound(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// Unbounded 无边界
func Unbounded() decimal.NullDecimal {
	return decimal.NullDecimal{}
}

// MustParse 解析金额字符串，失败时 panic，仅用于常量和测试
func MustParse(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Parse 解析金额字符串
func Parse(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// FromFloat 由配置中的浮点数构造金额
func FromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// IsPositive 金额是否大于零
func IsPositive(d decimal.Decimal) bool {
	return d.GreaterThan(decimal.Zero)
}
