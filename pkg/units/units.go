// Package units 在以太/代币的小数表示与最小单位整数之间转换
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// EtherDecimals 以太精度
const EtherDecimals = 18

// ParseUnits 把小数字符串（如 "1.5"）转换为最小单位整数
// 小数位超过 decimals 或为负数时报错
func ParseUnits(s string, decimals int32) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, decimals)
	}
	return scaled.BigInt(), nil
}

// FormatUnits 把最小单位整数格式化为小数字符串（去掉多余的 0）
func FormatUnits(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}

// ParseEther "2" -> 2 * 10^18 wei
func ParseEther(s string) (*big.Int, error) {
	return ParseUnits(s, EtherDecimals)
}

// FormatEther wei -> 以太小数字符串
func FormatEther(wei *big.Int) string {
	return FormatUnits(wei, EtherDecimals)
}

// MustEther 测试与开发工具使用，解析失败直接 panic
func MustEther(s string) *big.Int {
	v, err := ParseEther(s)
	if err != nil {
		panic(err)
	}
	return v
}

// EtherFloat wei 换算为以太的浮点值，仅用于指标展示
func EtherFloat(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(wei, -EtherDecimals).Float64()
	return f
}
