package events

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/betbot/sealedsale/internal/domain"
)

// Event 链上事件（只用于外部索引，核心内部不消费）
type Event interface {
	Name() string
}

const (
	NameAuctionCreated   = "AuctionCreated"
	NameBiddersInvited   = "BiddersInvited"
	NameSellerDeposited  = "SellerDeposited"
	NameBidderDeposited  = "BidderDeposited"
	NameAuctionConcluded = "AuctionConcluded"
	NameAuctionCancelled = "AuctionCancelled"
	NameDepositWithdrawn = "DepositWithdrawn"
	NameBuyerPaid        = "LogBuyerPaid"
	NameSellerDelivered  = "LogSellerDelivered"
	NameTokenTransfer    = "Transfer"
	NameTokenApproval    = "Approval"
)

// AuctionCreatedEvent 拍卖创建事件
type AuctionCreatedEvent struct {
	Registry    common.Address             `json:"registry"`
	Auction     common.Address             `json:"auction"`
	Seller      common.Address             `json:"seller"`
	Token       common.Address             `json:"token"`
	TokenAmount *big.Int                   `json:"token_amount"`
	StartTime   time.Time                  `json:"start_time"`
	EndTime     time.Time                  `json:"end_time"`
	Policy      domain.DepositCreditPolicy `json:"policy"`
}

func (AuctionCreatedEvent) Name() string { return NameAuctionCreated }

// BiddersInvitedEvent 卖方邀请竞拍人事件（Bidders 只包含本次新增的地址）
type BiddersInvitedEvent struct {
	Auction         common.Address   `json:"auction"`
	Bidders         []common.Address `json:"bidders"`
	RequiredDeposit *big.Int         `json:"required_deposit"`
}

func (BiddersInvitedEvent) Name() string { return NameBiddersInvited }

// SellerDepositedEvent 卖方抵押金到账事件
type SellerDepositedEvent struct {
	Auction common.Address `json:"auction"`
	Seller  common.Address `json:"seller"`
	Amount  *big.Int       `json:"amount"`
}

func (SellerDepositedEvent) Name() string { return NameSellerDeposited }

// BidderDepositedEvent 竞拍人押金到账事件
type BidderDepositedEvent struct {
	Auction common.Address `json:"auction"`
	Bidder  common.Address `json:"bidder"`
	Amount  *big.Int       `json:"amount"`
}

func (BidderDepositedEvent) Name() string { return NameBidderDeposited }

// AuctionConcludedEvent 拍卖产生赢家并创建托管
type AuctionConcludedEvent struct {
	Auction     common.Address             `json:"auction"`
	Escrow      common.Address             `json:"escrow"`
	Seller      common.Address             `json:"seller"`
	Buyer       common.Address             `json:"buyer"`
	Token       common.Address             `json:"token"`
	TokenAmount *big.Int                   `json:"token_amount"`
	WinningBid  *big.Int                   `json:"winning_bid"`
	Credit      *big.Int                   `json:"credit"`
	Policy      domain.DepositCreditPolicy `json:"policy"`
}

func (AuctionConcludedEvent) Name() string { return NameAuctionConcluded }

// AuctionCancelledEvent 拍卖取消
type AuctionCancelledEvent struct {
	Auction common.Address `json:"auction"`
	By      common.Address `json:"by"`
}

func (AuctionCancelledEvent) Name() string { return NameAuctionCancelled }

// DepositWithdrawnEvent 押金取回
type DepositWithdrawnEvent struct {
	Auction common.Address `json:"auction"`
	Account common.Address `json:"account"`
	Amount  *big.Int       `json:"amount"`
}

func (DepositWithdrawnEvent) Name() string { return NameDepositWithdrawn }

// BuyerPaidEvent 买方付款（Amount 为卖方实际收到的中标价）
type BuyerPaidEvent struct {
	Escrow common.Address `json:"escrow"`
	Buyer  common.Address `json:"buyer"`
	Seller common.Address `json:"seller"`
	Amount *big.Int       `json:"amount"`
}

func (BuyerPaidEvent) Name() string { return NameBuyerPaid }

// SellerDeliveredEvent 卖方交付代币
type SellerDeliveredEvent struct {
	Escrow common.Address `json:"escrow"`
	Seller common.Address `json:"seller"`
	Buyer  common.Address `json:"buyer"`
	Token  common.Address `json:"token"`
	Amount *big.Int       `json:"amount"`
}

func (SellerDeliveredEvent) Name() string { return NameSellerDelivered }

// TokenTransferEvent ERC20 Transfer
type TokenTransferEvent struct {
	Token  common.Address `json:"token"`
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
}

func (TokenTransferEvent) Name() string { return NameTokenTransfer }

// TokenApprovalEvent ERC20 Approval
type TokenApprovalEvent struct {
	Token   common.Address `json:"token"`
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  *big.Int       `json:"amount"`
}

func (TokenApprovalEvent) Name() string { return NameTokenApproval }

// newByName 反序列化时按名称构造事件
func newByName(name string) (Event, bool) {
	switch name {
	case NameAuctionCreated:
		return &AuctionCreatedEvent{}, true
	case NameBiddersInvited:
		return &BiddersInvitedEvent{}, true
	case NameSellerDeposited:
		return &SellerDepositedEvent{}, true
	case NameBidderDeposited:
		return &BidderDepositedEvent{}, true
	case NameAuctionConcluded:
		return &AuctionConcludedEvent{}, true
	case NameAuctionCancelled:
		return &AuctionCancelledEvent{}, true
	case NameDepositWithdrawn:
		return &DepositWithdrawnEvent{}, true
	case NameBuyerPaid:
		return &BuyerPaidEvent{}, true
	case NameSellerDelivered:
		return &SellerDeliveredEvent{}, true
	case NameTokenTransfer:
		return &TokenTransferEvent{}, true
	case NameTokenApproval:
		return &TokenApprovalEvent{}, true
	}
	return nil, false
}
