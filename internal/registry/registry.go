package registry

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/betbot/sealedsale/internal/chain"
	"github.com/betbot/sealedsale/internal/domain"
	"github.com/betbot/sealedsale/internal/events"
)

// AuctionHandle 注册表只需要知道拍卖的这几个属性
type AuctionHandle interface {
	Address() common.Address
	Seller() common.Address
	Policy() domain.DepositCreditPolicy
	IsInvited(addr common.Address) bool
}

// Factory 在给定地址上构造拍卖（由上层注入，注册表不接触拍卖内部实现）
type Factory func(address common.Address, params CreateParams) (AuctionHandle, error)

// CreateParams 创建拍卖的参数
type CreateParams struct {
	TokenAmount *big.Int
	Token       common.Address
	StartTime   time.Time
	EndTime     time.Time
	Seller      common.Address
}

// Validate 校验创建参数
func (p CreateParams) Validate() error {
	if p.Seller == (common.Address{}) {
		return errors.Wrap(domain.ErrInvalidArgument, "seller is required")
	}
	if p.Token == (common.Address{}) {
		return errors.Wrap(domain.ErrInvalidArgument, "token is required")
	}
	if !domain.IsPositive(p.TokenAmount) {
		return errors.Wrap(domain.ErrInvalidArgument, "token amount must be positive")
	}
	if !p.EndTime.After(p.StartTime) {
		return errors.Wrapf(domain.ErrInvalidWindow, "end %s is not after start %s",
			p.EndTime.Format(time.RFC3339), p.StartTime.Format(time.RFC3339))
	}
	return nil
}

// Registry 拍卖工厂：记录所有创建过的拍卖（只追加，按创建顺序）
type Registry struct {
	admin   common.Address
	address common.Address
	factory Factory

	auctions []AuctionHandle
	byAddr   map[common.Address]AuctionHandle
}

// New 创建注册表，admin 为部署者且不可变
func New(admin, address common.Address, factory Factory) *Registry {
	return &Registry{
		admin:   admin,
		address: address,
		factory: factory,
		byAddr:  make(map[common.Address]AuctionHandle),
	}
}

func (r *Registry) Admin() common.Address   { return r.admin }
func (r *Registry) Address() common.Address { return r.address }

// CreateAuction 任何调用方都可以创建拍卖，卖方取参数中的地址
func (r *Registry) CreateAuction(tx *chain.Tx, params CreateParams) (AuctionHandle, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	addr := tx.CreateAddress()
	a, err := r.factory(addr, params)
	if err != nil {
		return nil, errors.Wrapf(err, "createAuction seller=%s", params.Seller.Hex())
	}

	n := len(r.auctions)
	r.auctions = append(r.auctions, a)
	r.byAddr[addr] = a
	tx.OnRevert(func() {
		r.auctions = r.auctions[:n]
		delete(r.byAddr, addr)
	})

	tx.Emit(&events.AuctionCreatedEvent{
		Registry:    r.address,
		Auction:     addr,
		Seller:      params.Seller,
		Token:       params.Token,
		TokenAmount: domain.CopyAmount(params.TokenAmount),
		StartTime:   params.StartTime,
		EndTime:     params.EndTime,
		Policy:      a.Policy(),
	})
	return a, nil
}

// Addresses 按创建顺序返回所有拍卖地址
func (r *Registry) Addresses() []common.Address {
	out := make([]common.Address, 0, len(r.auctions))
	for _, a := range r.auctions {
		out = append(out, a.Address())
	}
	return out
}

// Auction 按地址查询
func (r *Registry) Auction(addr common.Address) (AuctionHandle, error) {
	a, ok := r.byAddr[addr]
	if !ok {
		return nil, errors.Wrapf(domain.ErrUnknownAuction, "auction %s", addr.Hex())
	}
	return a, nil
}

// AuctionInvited addr 是否被任一拍卖邀请过
func (r *Registry) AuctionInvited(addr common.Address) bool {
	for _, a := range r.auctions {
		if a.IsInvited(addr) {
			return true
		}
	}
	return false
}

// Len 已创建的拍卖数
func (r *Registry) Len() int { return len(r.auctions) }
