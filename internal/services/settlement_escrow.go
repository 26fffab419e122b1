package services

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/betbot/sealedsale/internal/chain"
	"github.com/betbot/sealedsale/internal/escrow"
)

// BuyerPayment 买方向托管合约付款
func (s *SettlementService) BuyerPayment(ctx context.Context, caller, escrowAddr common.Address, value *big.Int) (*chain.Receipt, error) {
	e, err := s.lookupEscrow(escrowAddr)
	if err != nil {
		return nil, err
	}
	rcpt, err := s.exec(ctx, "buyer_payment", chain.Msg{From: caller, To: escrowAddr, Value: value}, e.BuyerPayment)
	if err == nil {
		s.observeSettled(e)
	}
	return rcpt, err
}

// SellerDelivery 卖方交付代币
func (s *SettlementService) SellerDelivery(ctx context.Context, caller, escrowAddr common.Address) (*chain.Receipt, error) {
	e, err := s.lookupEscrow(escrowAddr)
	if err != nil {
		return nil, err
	}
	rcpt, err := s.exec(ctx, "seller_delivery", chain.Msg{From: caller, To: escrowAddr}, e.SellerDelivery)
	if err == nil {
		s.observeSettled(e)
	}
	return rcpt, err
}

// ContractTokenBalance 托管合约当前持有的代币数量
func (s *SettlementService) ContractTokenBalance(escrowAddr common.Address) (*big.Int, error) {
	e, err := s.lookupEscrow(escrowAddr)
	if err != nil {
		return nil, err
	}
	var (
		bal     *big.Int
		viewErr error
	)
	s.chain.View(func(_ time.Time) {
		bal, viewErr = e.ContractTokenBalance()
	})
	return bal, viewErr
}

// Escrow 托管合约快照
func (s *SettlementService) Escrow(escrowAddr common.Address) (escrow.Snapshot, error) {
	e, err := s.lookupEscrow(escrowAddr)
	if err != nil {
		return escrow.Snapshot{}, err
	}
	var snap escrow.Snapshot
	s.chain.View(func(_ time.Time) {
		snap = e.Snapshot()
	})
	return snap, nil
}

func (s *SettlementService) observeSettled(e *escrow.Escrow) {
	var settled bool
	s.chain.View(func(_ time.Time) {
		settled = e.Settled()
	})
	if !settled {
		return
	}
	log.Infof("托管已完成结算: escrow=%s", e.Address().Hex())
	if s.opts.Metrics != nil {
		s.opts.Metrics.EscrowsSettled.Inc()
	}
	s.refreshValueLocked()
}
