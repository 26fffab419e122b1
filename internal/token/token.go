package token

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/betbot/sealedsale/internal/chain"
	"github.com/betbot/sealedsale/internal/domain"
)

// ERC20 同账本上的可替代代币合约（标准语义：失败显式报错，不做静默截断）
// sender/spender/owner 参数即该次调用的 msg.sender
type ERC20 interface {
	Address() common.Address
	Symbol() string
	Decimals() uint8
	BalanceOf(holder common.Address) *big.Int
	Allowance(owner, spender common.Address) *big.Int
	Transfer(tx *chain.Tx, sender, to common.Address, amount *big.Int) error
	TransferFrom(tx *chain.Tx, spender, from, to common.Address, amount *big.Int) error
	Approve(tx *chain.Tx, owner, spender common.Address, amount *big.Int) error
}

// Resolver 按地址查找代币合约
type Resolver interface {
	Resolve(addr common.Address) (ERC20, error)
}

// Registry 已部署代币目录
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]ERC20
	order  []common.Address
}

var _ Resolver = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{tokens: make(map[common.Address]ERC20)}
}

// Add 登记代币
func (r *Registry) Add(t ERC20) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[t.Address()]; ok {
		return
	}
	r.tokens[t.Address()] = t
	r.order = append(r.order, t.Address())
}

// Remove 撤销登记
func (r *Registry) Remove(addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[addr]; !ok {
		return
	}
	delete(r.tokens, addr)
	for i, a := range r.order {
		if a == addr {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Resolve 地址不是代币合约时返回 ErrUnknownToken（对非合约地址的调用显式失败）
func (r *Registry) Resolve(addr common.Address) (ERC20, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[addr]
	if !ok {
		return nil, errors.Wrapf(domain.ErrUnknownToken, "token %s", addr.Hex())
	}
	return t, nil
}

// List 按部署顺序返回全部代币
func (r *Registry) List() []ERC20 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ERC20, 0, len(r.order))
	for _, a := range r.order {
		out = append(out, r.tokens[a])
	}
	return out
}
