package services

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/betbot/sealedsale/internal/auction"
	"github.com/betbot/sealedsale/internal/chain"
	"github.com/betbot/sealedsale/internal/escrow"
	"github.com/betbot/sealedsale/internal/registry"
)

// CreateAuction 通过注册表创建拍卖，返回新拍卖地址
func (s *SettlementService) CreateAuction(ctx context.Context, caller common.Address, params registry.CreateParams) (common.Address, *chain.Receipt, error) {
	var created *auction.Auction
	rcpt, err := s.exec(ctx, "create_auction", chain.Msg{From: caller, To: s.registry.Address()}, func(tx *chain.Tx) error {
		h, err := s.registry.CreateAuction(tx, params)
		if err != nil {
			return err
		}
		a, ok := h.(*auction.Auction)
		if !ok {
			return errors.Errorf("unexpected auction handle %T", h)
		}
		created = a
		s.registerAuction(tx, a)
		return nil
	})
	if err != nil {
		return common.Address{}, nil, err
	}

	if s.opts.Metrics != nil {
		s.opts.Metrics.AuctionsCreated.Inc()
	}
	return created.Address(), rcpt, nil
}

// SetupBidders 卖方设置押金并邀请竞拍人
func (s *SettlementService) SetupBidders(ctx context.Context, caller, auctionAddr common.Address, requiredDeposit *big.Int, bidders []common.Address) (*chain.Receipt, error) {
	a, err := s.lookupAuction(auctionAddr)
	if err != nil {
		return nil, err
	}
	return s.exec(ctx, "setup_bidders", chain.Msg{From: caller, To: auctionAddr}, func(tx *chain.Tx) error {
		return a.SetupBidders(tx, requiredDeposit, bidders)
	})
}

// ReceiveSellerDeposit 卖方存入抵押金
func (s *SettlementService) ReceiveSellerDeposit(ctx context.Context, caller, auctionAddr common.Address, value *big.Int) (*chain.Receipt, error) {
	a, err := s.lookupAuction(auctionAddr)
	if err != nil {
		return nil, err
	}
	rcpt, err := s.exec(ctx, "seller_deposit", chain.Msg{From: caller, To: auctionAddr, Value: value}, a.ReceiveSellerDeposit)
	if err == nil {
		s.refreshValueLocked()
	}
	return rcpt, err
}

// BidderDeposit 受邀竞拍人存入押金
func (s *SettlementService) BidderDeposit(ctx context.Context, caller, auctionAddr common.Address, value *big.Int) (*chain.Receipt, error) {
	a, err := s.lookupAuction(auctionAddr)
	if err != nil {
		return nil, err
	}
	rcpt, err := s.exec(ctx, "bidder_deposit", chain.Msg{From: caller, To: auctionAddr, Value: value}, a.BidderDeposit)
	if err == nil {
		s.refreshValueLocked()
	}
	return rcpt, err
}

// ConcludeWithWinner 结束拍卖并部署托管合约，返回托管地址
func (s *SettlementService) ConcludeWithWinner(ctx context.Context, caller, auctionAddr, buyer common.Address, winningBid *big.Int) (common.Address, *chain.Receipt, error) {
	a, err := s.lookupAuction(auctionAddr)
	if err != nil {
		return common.Address{}, nil, err
	}
	var deployed *escrow.Escrow
	rcpt, err := s.exec(ctx, "conclude_with_winner", chain.Msg{From: caller, To: auctionAddr}, func(tx *chain.Tx) error {
		e, err := a.ConcludeWithWinner(tx, buyer, winningBid)
		if err != nil {
			return err
		}
		deployed = e
		s.registerEscrow(tx, e)
		return nil
	})
	if err != nil {
		return common.Address{}, nil, err
	}

	s.refreshValueLocked()
	return deployed.Address(), rcpt, nil
}

// CancelAuction 取消拍卖，所有押金转为可提取
func (s *SettlementService) CancelAuction(ctx context.Context, caller, auctionAddr common.Address) (*chain.Receipt, error) {
	a, err := s.lookupAuction(auctionAddr)
	if err != nil {
		return nil, err
	}
	return s.exec(ctx, "cancel_auction", chain.Msg{From: caller, To: auctionAddr}, a.Cancel)
}

// WithdrawDeposit 提取调用方可领取的押金或抵押金
func (s *SettlementService) WithdrawDeposit(ctx context.Context, caller, auctionAddr common.Address) (*big.Int, *chain.Receipt, error) {
	a, err := s.lookupAuction(auctionAddr)
	if err != nil {
		return nil, nil, err
	}
	var paid *big.Int
	rcpt, err := s.exec(ctx, "withdraw_deposit", chain.Msg{From: caller, To: auctionAddr}, func(tx *chain.Tx) error {
		amt, err := a.WithdrawDeposit(tx)
		paid = amt
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.refreshValueLocked()
	return paid, rcpt, nil
}
