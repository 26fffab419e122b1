package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/betbot/sealedsale/internal/domain"
)

// Journal 状态迁移期间的撤销日志
type Journal interface {
	// Record 登记一条撤销操作；迁移失败时按登记的逆序执行
	Record(undo func())
}

// State 以太余额、nonce 与撤销日志
// 只能在 Chain 持锁期间访问
type State struct {
	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64

	journal []func()
	active  bool
}

func newState() *State {
	return &State{
		balances: make(map[common.Address]*big.Int),
		nonces:   make(map[common.Address]uint64),
	}
}

// Record 仅在迁移进行中登记；创世分配等迁移外写入不可撤销
func (s *State) Record(undo func()) {
	if s.active {
		s.journal = append(s.journal, undo)
	}
}

func (s *State) begin() {
	s.active = true
	s.journal = s.journal[:0]
}

func (s *State) revert() {
	for i := len(s.journal) - 1; i >= 0; i-- {
		s.journal[i]()
	}
	s.journal = s.journal[:0]
	s.active = false
}

func (s *State) commit() {
	s.journal = s.journal[:0]
	s.active = false
}

// Balance 返回余额副本
func (s *State) Balance(addr common.Address) *big.Int {
	return domain.CopyAmount(s.balances[addr])
}

// Nonce 返回地址当前 nonce
func (s *State) Nonce(addr common.Address) uint64 {
	return s.nonces[addr]
}

// 余额值一经写入不再原地修改，撤销时直接换回旧指针
func (s *State) setBalance(addr common.Address, v *big.Int) {
	prev, existed := s.balances[addr]
	s.Record(func() {
		if existed {
			s.balances[addr] = prev
		} else {
			delete(s.balances, addr)
		}
	})
	s.balances[addr] = v
}

func (s *State) transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return errors.Wrapf(domain.ErrInvalidArgument, "negative transfer amount %s", amount)
	}
	bal := s.Balance(from)
	if bal.Cmp(amount) < 0 {
		return errors.Wrapf(domain.ErrInsufficientBalance, "ether transfer %s -> %s: balance %s < %s", from.Hex(), to.Hex(), bal, amount)
	}
	s.setBalance(from, new(big.Int).Sub(bal, amount))
	s.setBalance(to, new(big.Int).Add(s.Balance(to), amount))
	return nil
}

func (s *State) nextNonce(addr common.Address) uint64 {
	n := s.nonces[addr]
	s.Record(func() { s.nonces[addr] = n })
	s.nonces[addr] = n + 1
	return n
}
