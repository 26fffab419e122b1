package services

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/betbot/sealedsale/internal/auction"
)

// Addresses 按创建顺序返回全部拍卖地址
func (s *SettlementService) Addresses() []common.Address {
	var out []common.Address
	s.chain.View(func(_ time.Time) {
		out = s.registry.Addresses()
	})
	return out
}

// AuctionInvited addr 是否被任一拍卖邀请
func (s *SettlementService) AuctionInvited(addr common.Address) bool {
	var invited bool
	s.chain.View(func(_ time.Time) {
		invited = s.registry.AuctionInvited(addr)
	})
	return invited
}

// Auction 拍卖快照
func (s *SettlementService) Auction(auctionAddr common.Address) (auction.Snapshot, error) {
	a, err := s.lookupAuction(auctionAddr)
	if err != nil {
		return auction.Snapshot{}, err
	}
	var snap auction.Snapshot
	s.chain.View(func(now time.Time) {
		snap = a.Snapshot(now)
	})
	return snap, nil
}

// Withdrawable account 在该拍卖中当前可取回的金额
func (s *SettlementService) Withdrawable(auctionAddr, account common.Address) (*big.Int, error) {
	a, err := s.lookupAuction(auctionAddr)
	if err != nil {
		return nil, err
	}
	var v *big.Int
	s.chain.View(func(_ time.Time) {
		v = a.Withdrawable(account)
	})
	return v, nil
}

// EtherBalance 以太余额（wei）
func (s *SettlementService) EtherBalance(addr common.Address) *big.Int {
	return s.chain.Balance(addr)
}

// Fund 开发网络水龙头
func (s *SettlementService) Fund(addr common.Address, amount *big.Int) {
	s.chain.Fund(addr, amount)
	log.Infof("开发账户已注资: address=%s wei=%s", addr.Hex(), amount)
}

// Height 已提交区块高度
func (s *SettlementService) Height() uint64 { return s.chain.Height() }

// Now 当前区块时间
func (s *SettlementService) Now() time.Time { return s.chain.Now() }
