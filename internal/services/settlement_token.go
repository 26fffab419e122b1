package services

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/betbot/sealedsale/internal/chain"
	"github.com/betbot/sealedsale/internal/domain"
	"github.com/betbot/sealedsale/internal/events"
	"github.com/betbot/sealedsale/internal/token"
)

// TokenInfo 已部署代币信息
type TokenInfo struct {
	Address     common.Address `json:"address"`
	Symbol      string         `json:"symbol"`
	Decimals    uint8          `json:"decimals"`
	TotalSupply *big.Int       `json:"total_supply"`
}

// DeployToken 部署代币账本，初始供应全部归 deployer
func (s *SettlementService) DeployToken(ctx context.Context, deployer common.Address, symbol string, decimals uint8, supply *big.Int) (common.Address, *chain.Receipt, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return common.Address{}, nil, errors.Wrap(domain.ErrInvalidArgument, "token symbol is empty")
	}
	if supply == nil || supply.Sign() < 0 {
		return common.Address{}, nil, errors.Wrap(domain.ErrInvalidArgument, "token supply must not be negative")
	}

	addr := s.chain.Deploy(deployer)
	ledger := token.NewLedger(s.chain.Journal(), addr, symbol, decimals)
	rcpt, err := s.exec(ctx, "deploy_token", chain.Msg{From: deployer, To: addr}, func(tx *chain.Tx) error {
		ledger.Mint(deployer, supply)
		s.mu.Lock()
		s.ledgers[addr] = ledger
		s.mu.Unlock()
		s.tokens.Add(ledger)
		tx.OnRevert(func() {
			s.mu.Lock()
			delete(s.ledgers, addr)
			s.mu.Unlock()
			s.tokens.Remove(addr)
		})
		tx.Emit(&events.TokenTransferEvent{Token: addr, To: deployer, Amount: domain.CopyAmount(supply)})
		return nil
	})
	if err != nil {
		return common.Address{}, nil, err
	}

	log.Infof("代币已部署: symbol=%s address=%s decimals=%d", symbol, addr.Hex(), decimals)
	return addr, rcpt, nil
}

// TokenApprove owner 授权 spender 可转走的额度
func (s *SettlementService) TokenApprove(ctx context.Context, owner, tokenAddr, spender common.Address, amount *big.Int) (*chain.Receipt, error) {
	t, err := s.tokens.Resolve(tokenAddr)
	if err != nil {
		return nil, err
	}
	return s.exec(ctx, "token_approve", chain.Msg{From: owner, To: tokenAddr}, func(tx *chain.Tx) error {
		return t.Approve(tx, owner, spender, amount)
	})
}

// TokenTransfer sender 直接转账
func (s *SettlementService) TokenTransfer(ctx context.Context, sender, tokenAddr, to common.Address, amount *big.Int) (*chain.Receipt, error) {
	t, err := s.tokens.Resolve(tokenAddr)
	if err != nil {
		return nil, err
	}
	return s.exec(ctx, "token_transfer", chain.Msg{From: sender, To: tokenAddr}, func(tx *chain.Tx) error {
		return t.Transfer(tx, sender, to, amount)
	})
}

// TokenBalance 代币余额
func (s *SettlementService) TokenBalance(tokenAddr, holder common.Address) (*big.Int, error) {
	t, err := s.tokens.Resolve(tokenAddr)
	if err != nil {
		return nil, err
	}
	var bal *big.Int
	s.chain.View(func(_ time.Time) {
		bal = t.BalanceOf(holder)
	})
	return bal, nil
}

// TokenAllowance 授权额度
func (s *SettlementService) TokenAllowance(tokenAddr, owner, spender common.Address) (*big.Int, error) {
	t, err := s.tokens.Resolve(tokenAddr)
	if err != nil {
		return nil, err
	}
	var v *big.Int
	s.chain.View(func(_ time.Time) {
		v = t.Allowance(owner, spender)
	})
	return v, nil
}

// Tokens 按部署顺序列出代币
func (s *SettlementService) Tokens() []TokenInfo {
	s.mu.RLock()
	ledgers := make(map[common.Address]*token.Ledger, len(s.ledgers))
	for k, v := range s.ledgers {
		ledgers[k] = v
	}
	s.mu.RUnlock()

	list := s.tokens.List()
	out := make([]TokenInfo, 0, len(list))
	s.chain.View(func(_ time.Time) {
		for _, t := range list {
			info := TokenInfo{Address: t.Address(), Symbol: t.Symbol(), Decimals: t.Decimals()}
			if l, ok := ledgers[t.Address()]; ok {
				info.TotalSupply = l.TotalSupply()
			}
			out = append(out, info)
		}
	})
	return out
}

// OnchainTokenBalance 通过外部 RPC 节点读取真实链上的 ERC20 余额
func (s *SettlementService) OnchainTokenBalance(ctx context.Context, tokenAddr, holder common.Address) (*big.Int, error) {
	if s.opts.RPC == nil {
		return nil, ErrRPCDisabled
	}
	start := time.Now()
	bal, err := s.opts.RPC.BalanceOf(ctx, tokenAddr, holder)
	if s.opts.Metrics != nil {
		s.opts.Metrics.RPCCallLatency.WithLabelValues("balanceOf").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, errors.Wrapf(err, "onchain balanceOf token=%s holder=%s", tokenAddr.Hex(), holder.Hex())
	}
	return bal, nil
}
