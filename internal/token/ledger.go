package token

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/betbot/sealedsale/internal/chain"
	"github.com/betbot/sealedsale/internal/domain"
	"github.com/betbot/sealedsale/internal/events"
)

// Ledger 与以太余额共用撤销日志的 ERC20 实现：代币写入随所在迁移一起提交或撤销
// 读写都发生在 Chain 持锁期间（迁移内或 Chain.View 内）
type Ledger struct {
	address  common.Address
	symbol   string
	decimals uint8
	journal  chain.Journal

	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	supply     *big.Int
}

var _ ERC20 = (*Ledger)(nil)

// NewLedger 创建代币账本
func NewLedger(journal chain.Journal, address common.Address, symbol string, decimals uint8) *Ledger {
	return &Ledger{
		address:    address,
		symbol:     symbol,
		decimals:   decimals,
		journal:    journal,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		supply:     new(big.Int),
	}
}

func (l *Ledger) Address() common.Address { return l.address }
func (l *Ledger) Symbol() string          { return l.symbol }
func (l *Ledger) Decimals() uint8         { return l.decimals }

// TotalSupply 总发行量
func (l *Ledger) TotalSupply() *big.Int { return domain.CopyAmount(l.supply) }

func (l *Ledger) BalanceOf(holder common.Address) *big.Int {
	return domain.CopyAmount(l.balances[holder])
}

func (l *Ledger) Allowance(owner, spender common.Address) *big.Int {
	return domain.CopyAmount(l.allowances[owner][spender])
}

// Mint 增发（部署时的初始供应）
func (l *Ledger) Mint(to common.Address, amount *big.Int) {
	l.setBalance(to, new(big.Int).Add(l.BalanceOf(to), domain.CopyAmount(amount)))
	prev := l.supply
	l.journal.Record(func() { l.supply = prev })
	l.supply = new(big.Int).Add(prev, domain.CopyAmount(amount))
}

func (l *Ledger) Transfer(tx *chain.Tx, sender, to common.Address, amount *big.Int) error {
	if err := l.move(sender, to, amount); err != nil {
		return err
	}
	tx.Emit(&events.TokenTransferEvent{Token: l.address, From: sender, To: to, Amount: domain.CopyAmount(amount)})
	return nil
}

func (l *Ledger) TransferFrom(tx *chain.Tx, spender, from, to common.Address, amount *big.Int) error {
	allowed := l.Allowance(from, spender)
	if allowed.Cmp(domain.CopyAmount(amount)) < 0 {
		return errors.Wrapf(domain.ErrInsufficientAllowance, "%s transferFrom %s: allowance %s < %s",
			l.symbol, from.Hex(), allowed, amount)
	}
	if err := l.move(from, to, amount); err != nil {
		return err
	}
	l.setAllowance(from, spender, new(big.Int).Sub(allowed, domain.CopyAmount(amount)))
	tx.Emit(&events.TokenTransferEvent{Token: l.address, From: from, To: to, Amount: domain.CopyAmount(amount)})
	return nil
}

func (l *Ledger) Approve(tx *chain.Tx, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.Wrap(domain.ErrInvalidArgument, "approve amount must be >= 0")
	}
	l.setAllowance(owner, spender, domain.CopyAmount(amount))
	tx.Emit(&events.TokenApprovalEvent{Token: l.address, Owner: owner, Spender: spender, Amount: domain.CopyAmount(amount)})
	return nil
}

func (l *Ledger) move(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.Wrap(domain.ErrInvalidArgument, "transfer amount must be >= 0")
	}
	bal := l.BalanceOf(from)
	if bal.Cmp(amount) < 0 {
		return errors.Wrapf(domain.ErrInsufficientBalance, "%s transfer %s -> %s: balance %s < %s",
			l.symbol, from.Hex(), to.Hex(), bal, amount)
	}
	l.setBalance(from, new(big.Int).Sub(bal, amount))
	l.setBalance(to, new(big.Int).Add(l.BalanceOf(to), amount))
	return nil
}

func (l *Ledger) setBalance(addr common.Address, v *big.Int) {
	prev, existed := l.balances[addr]
	l.journal.Record(func() {
		if existed {
			l.balances[addr] = prev
		} else {
			delete(l.balances, addr)
		}
	})
	l.balances[addr] = v
}

func (l *Ledger) setAllowance(owner, spender common.Address, v *big.Int) {
	m, ok := l.allowances[owner]
	if !ok {
		m = make(map[common.Address]*big.Int)
		l.allowances[owner] = m
	}
	prev, existed := m[spender]
	l.journal.Record(func() {
		if existed {
			m[spender] = prev
		} else {
			delete(m, spender)
		}
	})
	m[spender] = v
}
