package escrow

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/betbot/sealedsale/internal/chain"
	"github.com/betbot/sealedsale/internal/domain"
	"github.com/betbot/sealedsale/internal/events"
	"github.com/betbot/sealedsale/internal/token"
)

// Terms 托管成交条款，创建后不可变
type Terms struct {
	Address     common.Address
	Auction     common.Address
	Seller      common.Address
	Buyer       common.Address
	TokenAmount *big.Int
	Token       common.Address
	WinningBid  *big.Int
	// Credit 创建时已预存在托管中的赢家押金（credited 策略），付款时一并转给卖方
	Credit *big.Int
}

// Escrow 单次使用的两侧结算状态机
//
// 买方付款与卖方交付是两个互相独立、各自不可逆的单向迁移，没有先后要求。
// 托管不把两者绑定为一次原子交换：已付款而卖方不交付（或反之）的对手方风险由调用方承担，
// 卖方在拍卖中的抵押金只在交付完成后才可取回。
// 代币采用直接拉取模式：交付时从卖方直接划转给买方，托管本身不持有代币。
type Escrow struct {
	terms    Terms
	resolver token.Resolver

	buyerPaid       bool
	sellerDelivered bool
}

// New 创建托管（由拍卖在结束时调用）
func New(terms Terms, resolver token.Resolver) (*Escrow, error) {
	if terms.Seller == (common.Address{}) || terms.Buyer == (common.Address{}) {
		return nil, errors.Wrap(domain.ErrInvalidArgument, "escrow parties must be set")
	}
	if !domain.IsPositive(terms.TokenAmount) || !domain.IsPositive(terms.WinningBid) {
		return nil, errors.Wrap(domain.ErrInvalidArgument, "escrow amounts must be positive")
	}
	terms.TokenAmount = domain.CopyAmount(terms.TokenAmount)
	terms.WinningBid = domain.CopyAmount(terms.WinningBid)
	terms.Credit = domain.CopyAmount(terms.Credit)
	if terms.Credit.Cmp(terms.WinningBid) > 0 {
		return nil, errors.Wrap(domain.ErrInvalidArgument, "credit exceeds winning bid")
	}
	return &Escrow{terms: terms, resolver: resolver}, nil
}

// Address 托管地址
func (e *Escrow) Address() common.Address { return e.terms.Address }

// Terms 条款副本
func (e *Escrow) Terms() Terms {
	t := e.terms
	t.TokenAmount = domain.CopyAmount(t.TokenAmount)
	t.WinningBid = domain.CopyAmount(t.WinningBid)
	t.Credit = domain.CopyAmount(t.Credit)
	return t
}

// AmountDue 买方通过 BuyerPayment 需要附带的精确金额
func (e *Escrow) AmountDue() *big.Int {
	return new(big.Int).Sub(e.terms.WinningBid, e.terms.Credit)
}

func (e *Escrow) BuyerPaid() bool       { return e.buyerPaid }
func (e *Escrow) SellerDelivered() bool { return e.sellerDelivered }

// Settled 双方均已完成
func (e *Escrow) Settled() bool { return e.buyerPaid && e.sellerDelivered }

// BuyerPayment 买方付款：附带金额必须精确等于应付额，成功后连同预存押金转给卖方
func (e *Escrow) BuyerPayment(tx *chain.Tx) error {
	if tx.Caller() != e.terms.Buyer {
		return errors.Wrapf(domain.ErrSenderNotAuthorized, "buyerPayment escrow=%s caller=%s", e.terms.Address.Hex(), tx.Caller().Hex())
	}
	if e.buyerPaid {
		return errors.Wrapf(domain.ErrAlreadyPaid, "buyerPayment escrow=%s", e.terms.Address.Hex())
	}
	due := e.AmountDue()
	if tx.Value().Cmp(due) != 0 {
		return errors.Wrapf(domain.ErrAmountMismatch, "buyerPayment escrow=%s value=%s due=%s", e.terms.Address.Hex(), tx.Value(), due)
	}

	e.buyerPaid = true
	tx.OnRevert(func() { e.buyerPaid = false })
	tx.Emit(&events.BuyerPaidEvent{
		Escrow: e.terms.Address,
		Buyer:  e.terms.Buyer,
		Seller: e.terms.Seller,
		Amount: domain.CopyAmount(e.terms.WinningBid),
	})

	// 转发放在最后一步；失败则整个迁移撤销
	if err := tx.Transfer(e.terms.Seller, e.terms.WinningBid); err != nil {
		return errors.Wrapf(err, "buyerPayment forward to seller %s", e.terms.Seller.Hex())
	}
	return nil
}

// SellerDelivery 卖方交付：以托管为 spender，从卖方直接划转 TokenAmount 给买方
// 前置条件（外部）：卖方已对托管地址授权至少 TokenAmount
func (e *Escrow) SellerDelivery(tx *chain.Tx) error {
	if tx.Caller() != e.terms.Seller {
		return errors.Wrapf(domain.ErrSenderNotAuthorized, "sellerDelivery escrow=%s caller=%s", e.terms.Address.Hex(), tx.Caller().Hex())
	}
	if e.sellerDelivered {
		return errors.Wrapf(domain.ErrAlreadyDelivered, "sellerDelivery escrow=%s", e.terms.Address.Hex())
	}
	tok, err := e.resolver.Resolve(e.terms.Token)
	if err != nil {
		return errors.Wrapf(err, "sellerDelivery escrow=%s", e.terms.Address.Hex())
	}

	e.sellerDelivered = true
	tx.OnRevert(func() { e.sellerDelivered = false })
	tx.Emit(&events.SellerDeliveredEvent{
		Escrow: e.terms.Address,
		Seller: e.terms.Seller,
		Buyer:  e.terms.Buyer,
		Token:  e.terms.Token,
		Amount: domain.CopyAmount(e.terms.TokenAmount),
	})

	if err := tok.TransferFrom(tx, e.terms.Address, e.terms.Seller, e.terms.Buyer, e.terms.TokenAmount); err != nil {
		return errors.Wrapf(err, "sellerDelivery escrow=%s", e.terms.Address.Hex())
	}
	return nil
}

// ContractTokenBalance 托管地址持有的代币余额（直接拉取模式下通常为 0）
func (e *Escrow) ContractTokenBalance() (*big.Int, error) {
	tok, err := e.resolver.Resolve(e.terms.Token)
	if err != nil {
		return nil, err
	}
	return tok.BalanceOf(e.terms.Address), nil
}

// Snapshot 对外只读视图
type Snapshot struct {
	Address         common.Address `json:"address"`
	Auction         common.Address `json:"auction"`
	Seller          common.Address `json:"seller"`
	Buyer           common.Address `json:"buyer"`
	Token           common.Address `json:"token"`
	TokenAmount     *big.Int       `json:"token_amount"`
	WinningBid      *big.Int       `json:"winning_bid"`
	Credit          *big.Int       `json:"credit"`
	AmountDue       *big.Int       `json:"amount_due"`
	BuyerPaid       bool           `json:"buyer_paid"`
	SellerDelivered bool           `json:"seller_delivered"`
	Settled         bool           `json:"settled"`
}

func (e *Escrow) Snapshot() Snapshot {
	t := e.Terms()
	return Snapshot{
		Address:         t.Address,
		Auction:         t.Auction,
		Seller:          t.Seller,
		Buyer:           t.Buyer,
		Token:           t.Token,
		TokenAmount:     t.TokenAmount,
		WinningBid:      t.WinningBid,
		Credit:          t.Credit,
		AmountDue:       e.AmountDue(),
		BuyerPaid:       e.buyerPaid,
		SellerDelivered: e.sellerDelivered,
		Settled:         e.Settled(),
	}
}
