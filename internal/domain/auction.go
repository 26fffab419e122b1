package domain

import (
	"fmt"
	"math/big"
	"strings"
)

// DepositCreditPolicy 赢家押金的处置方式（在拍卖创建时固定，属于拍卖的公开契约）
type DepositCreditPolicy string

const (
	// PolicyRefunded 赢家押金与其他竞拍人一样在结束后全额取回，买方支付完整中标价
	PolicyRefunded DepositCreditPolicy = "refunded"
	// PolicyCredited 赢家押金在结束时转入托管并抵扣中标价，买方只需补足差额
	PolicyCredited DepositCreditPolicy = "credited"
	// PolicyForfeited 赢家押金不退还，卖方在结束后可领取
	PolicyForfeited DepositCreditPolicy = "forfeited"
)

// ParseDepositCreditPolicy 解析配置中的押金策略，空字符串返回默认值 refunded
func ParseDepositCreditPolicy(s string) (DepositCreditPolicy, error) {
	switch p := DepositCreditPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyRefunded, nil
	case PolicyRefunded, PolicyCredited, PolicyForfeited:
		return p, nil
	default:
		return "", fmt.Errorf("unknown deposit credit policy: %q", s)
	}
}

// Phase 拍卖生命周期阶段，只前进不后退
type Phase string

const (
	PhaseCreated   Phase = "created"   // 已创建，尚未邀请竞拍人
	PhaseOpen      Phase = "open"      // 接受邀请与押金
	PhaseClosed    Phase = "closed"    // 窗口已结束，等待产生赢家
	PhaseSettling  Phase = "settling"  // 托管已创建，等待双方结算
	PhaseConcluded Phase = "concluded" // 托管双方均已完成
	PhaseCancelled Phase = "cancelled" // 结束前被取消，全部押金可取回
)

// CopyAmount 复制金额，nil 视为 0
func CopyAmount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// IsPositive 金额是否 > 0
func IsPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
