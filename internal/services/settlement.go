package services

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/sealedsale/internal/auction"
	"github.com/betbot/sealedsale/internal/chain"
	"github.com/betbot/sealedsale/internal/domain"
	"github.com/betbot/sealedsale/internal/escrow"
	"github.com/betbot/sealedsale/internal/metrics"
	"github.com/betbot/sealedsale/internal/registry"
	"github.com/betbot/sealedsale/internal/token"
	"github.com/betbot/sealedsale/pkg/units"
)

var log = logrus.WithField("component", "settlement_service")

// ErrRPCDisabled 未配置外部 RPC 节点
var ErrRPCDisabled = errors.New("rpc reader is not configured")

// Options 结算服务配置
type Options struct {
	// Admin 注册表部署者
	Admin common.Address
	// Policy 新拍卖的赢家押金策略
	Policy domain.DepositCreditPolicy
	// MinSellerDeposit 卖方抵押金下限（nil 表示只要求 > 0）
	MinSellerDeposit *big.Int
	Metrics          *metrics.Metrics
	// RPC 外部链只读访问（可选）
	RPC *token.RPCReader
}

// SettlementService 结算门面：持有账本、代币、注册表以及拍卖/托管目录
//
// 所有状态迁移经由 Chain.Execute 串行执行；只读查询经由 Chain.View。
type SettlementService struct {
	chain    *chain.Chain
	tokens   *token.Registry
	registry *registry.Registry
	opts     Options

	mu       sync.RWMutex
	auctions map[common.Address]*auction.Auction
	escrows  map[common.Address]*escrow.Escrow
	ledgers  map[common.Address]*token.Ledger
}

// NewSettlementService 部署注册表并创建服务
func NewSettlementService(c *chain.Chain, opts Options) *SettlementService {
	if opts.Policy == "" {
		opts.Policy = domain.PolicyRefunded
	}
	s := &SettlementService{
		chain:    c,
		tokens:   token.NewRegistry(),
		opts:     opts,
		auctions: make(map[common.Address]*auction.Auction),
		escrows:  make(map[common.Address]*escrow.Escrow),
		ledgers:  make(map[common.Address]*token.Ledger),
	}
	s.registry = registry.New(opts.Admin, c.Deploy(opts.Admin), s.newAuction)
	log.Infof("注册表已部署: address=%s admin=%s policy=%s", s.registry.Address().Hex(), opts.Admin.Hex(), opts.Policy)
	return s
}

// newAuction 注册表的工厂
func (s *SettlementService) newAuction(address common.Address, p registry.CreateParams) (registry.AuctionHandle, error) {
	return auction.New(auction.Terms{
		Address:     address,
		Registry:    s.registry.Address(),
		Seller:      p.Seller,
		Token:       p.Token,
		TokenAmount: p.TokenAmount,
		StartTime:   p.StartTime,
		EndTime:     p.EndTime,
	}, auction.Options{
		Admin:            s.opts.Admin,
		Policy:           s.opts.Policy,
		MinSellerDeposit: s.opts.MinSellerDeposit,
	}, s.tokens)
}

// Chain 底层账本
func (s *SettlementService) Chain() *chain.Chain { return s.chain }

// RegistryAddress 注册表地址
func (s *SettlementService) RegistryAddress() common.Address { return s.registry.Address() }

// Admin 注册表管理员
func (s *SettlementService) Admin() common.Address { return s.registry.Admin() }

// Policy 新拍卖使用的押金策略
func (s *SettlementService) Policy() domain.DepositCreditPolicy { return s.opts.Policy }

// exec 执行一次迁移并记录日志与指标
func (s *SettlementService) exec(ctx context.Context, op string, msg chain.Msg, fn func(tx *chain.Tx) error) (*chain.Receipt, error) {
	start := time.Now()
	rcpt, err := s.chain.Execute(ctx, msg, fn)
	s.opts.Metrics.ObserveTransition(op, time.Since(start).Seconds(), err)

	entry := log.WithFields(logrus.Fields{"op": op, "from": msg.From.Hex(), "to": msg.To.Hex()})
	if msg.Value != nil && msg.Value.Sign() > 0 {
		entry = entry.WithField("value", units.FormatEther(msg.Value))
	}
	if err != nil {
		kind, code := domain.KindOf(err)
		entry.WithFields(logrus.Fields{"kind": kind, "code": code}).Warnf("迁移已撤销: %v", err)
		return nil, err
	}

	metrics.ChainHeight.Set(int64(rcpt.Block))
	if s.opts.Metrics != nil {
		for _, env := range rcpt.Events {
			s.opts.Metrics.EventsPublished.WithLabelValues(env.Name()).Inc()
		}
	}
	entry.Infof("迁移已提交: tx=%s block=%d events=%d", rcpt.TxHash.Hex(), rcpt.Block, len(rcpt.Events))
	return rcpt, nil
}

// registerAuction 在迁移内登记拍卖，事件发出时订阅者即可查到
func (s *SettlementService) registerAuction(tx *chain.Tx, a *auction.Auction) {
	addr := a.Address()
	s.mu.Lock()
	s.auctions[addr] = a
	s.mu.Unlock()
	tx.OnRevert(func() {
		s.mu.Lock()
		delete(s.auctions, addr)
		s.mu.Unlock()
	})
}

func (s *SettlementService) registerEscrow(tx *chain.Tx, e *escrow.Escrow) {
	addr := e.Address()
	s.mu.Lock()
	s.escrows[addr] = e
	s.mu.Unlock()
	tx.OnRevert(func() {
		s.mu.Lock()
		delete(s.escrows, addr)
		s.mu.Unlock()
	})
}

func (s *SettlementService) lookupAuction(addr common.Address) (*auction.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auctions[addr]
	if !ok {
		return nil, errors.Wrapf(domain.ErrUnknownAuction, "auction %s", addr.Hex())
	}
	return a, nil
}

func (s *SettlementService) lookupEscrow(addr common.Address) (*escrow.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.escrows[addr]
	if !ok {
		return nil, errors.Wrapf(domain.ErrUnknownEscrow, "escrow %s", addr.Hex())
	}
	return e, nil
}

// refreshValueLocked 更新拍卖与托管合约持有的以太总量
func (s *SettlementService) refreshValueLocked() {
	if s.opts.Metrics == nil {
		return
	}
	s.mu.RLock()
	addrs := make([]common.Address, 0, len(s.auctions)+len(s.escrows))
	for addr := range s.auctions {
		addrs = append(addrs, addr)
	}
	for addr := range s.escrows {
		addrs = append(addrs, addr)
	}
	s.mu.RUnlock()

	total := new(big.Int)
	for _, addr := range addrs {
		total.Add(total, s.chain.Balance(addr))
	}
	s.opts.Metrics.ValueLocked.Set(units.EtherFloat(total))
}
