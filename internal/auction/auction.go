package auction

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/betbot/sealedsale/internal/chain"
	"github.com/betbot/sealedsale/internal/domain"
	"github.com/betbot/sealedsale/internal/escrow"
	"github.com/betbot/sealedsale/internal/events"
	"github.com/betbot/sealedsale/internal/token"
)

// Terms 挂牌条款，创建后不可变
type Terms struct {
	Address     common.Address
	Registry    common.Address
	Seller      common.Address
	Token       common.Address
	TokenAmount *big.Int
	StartTime   time.Time
	EndTime     time.Time
}

// Options 由注册表在创建时注入的规则
type Options struct {
	// Admin 注册表管理员，可代替卖方提交竞价阶段的结果；窗口结束后只有管理员可取消
	Admin common.Address
	// Policy 赢家押金处置方式
	Policy domain.DepositCreditPolicy
	// MinSellerDeposit 卖方抵押金下限（nil 表示只要求 > 0）
	MinSellerDeposit *big.Int
}

type claimKind int

const (
	claimBidderStake claimKind = iota
	claimSellerCollateral
	claimForfeitedStake
)

type claim struct {
	kind    claimKind
	account common.Address
}

// Auction 单个挂牌的生命周期：邀请、押金、结束并创建托管、押金取回
type Auction struct {
	terms    Terms
	opts     Options
	resolver token.Resolver

	requiredDeposit *big.Int
	invited         map[common.Address]bool
	invitedOrder    []common.Address
	deposits        map[common.Address]*big.Int
	depositOrder    []common.Address
	sellerDeposit   *big.Int

	escrow    *escrow.Escrow
	winner    common.Address
	cancelled bool
	claimed   map[claim]bool
}

// New 创建拍卖（只由注册表的工厂调用）
func New(terms Terms, opts Options, resolver token.Resolver) (*Auction, error) {
	if terms.Seller == (common.Address{}) {
		return nil, errors.Wrap(domain.ErrInvalidArgument, "seller is required")
	}
	if !domain.IsPositive(terms.TokenAmount) {
		return nil, errors.Wrap(domain.ErrInvalidArgument, "token amount must be positive")
	}
	if !terms.EndTime.After(terms.StartTime) {
		return nil, errors.Wrapf(domain.ErrInvalidWindow, "start=%s end=%s",
			terms.StartTime.Format(time.RFC3339), terms.EndTime.Format(time.RFC3339))
	}
	if opts.Policy == "" {
		opts.Policy = domain.PolicyRefunded
	}
	terms.TokenAmount = domain.CopyAmount(terms.TokenAmount)
	if opts.MinSellerDeposit != nil {
		opts.MinSellerDeposit = domain.CopyAmount(opts.MinSellerDeposit)
	}
	return &Auction{
		terms:    terms,
		opts:     opts,
		resolver: resolver,
		invited:  make(map[common.Address]bool),
		deposits: make(map[common.Address]*big.Int),
		claimed:  make(map[claim]bool),
	}, nil
}

func (a *Auction) Address() common.Address            { return a.terms.Address }
func (a *Auction) Seller() common.Address             { return a.terms.Seller }
func (a *Auction) Policy() domain.DepositCreditPolicy { return a.opts.Policy }

// IsInvited 是否在邀请名单中
func (a *Auction) IsInvited(addr common.Address) bool { return a.invited[addr] }

// Escrow 结束后创建的托管；结束前为 nil
func (a *Auction) Escrow() *escrow.Escrow { return a.escrow }

// Phase 按当前时间推导生命周期阶段
func (a *Auction) Phase(now time.Time) domain.Phase {
	switch {
	case a.cancelled:
		return domain.PhaseCancelled
	case a.escrow != nil && a.escrow.Settled():
		return domain.PhaseConcluded
	case a.escrow != nil:
		return domain.PhaseSettling
	case !now.Before(a.terms.EndTime):
		return domain.PhaseClosed
	case now.Before(a.terms.StartTime):
		return domain.PhaseCreated
	case len(a.invitedOrder) > 0:
		return domain.PhaseOpen
	default:
		return domain.PhaseCreated
	}
}

func (a *Auction) requireSeller(tx *chain.Tx, op string) error {
	if tx.Caller() != a.terms.Seller {
		return errors.Wrapf(domain.ErrSenderNotAuthorized, "%s auction=%s caller=%s", op, a.terms.Address.Hex(), tx.Caller().Hex())
	}
	return nil
}

func (a *Auction) requireActive(op string) error {
	if a.cancelled {
		return errors.Wrapf(domain.ErrAlreadyCancelled, "%s auction=%s", op, a.terms.Address.Hex())
	}
	if a.escrow != nil {
		return errors.Wrapf(domain.ErrAlreadyConcluded, "%s auction=%s", op, a.terms.Address.Hex())
	}
	return nil
}

func (a *Auction) requireWindowOpen(tx *chain.Tx, op string) error {
	if !tx.Now().Before(a.terms.EndTime) {
		return errors.Wrapf(domain.ErrWindowClosed, "%s auction=%s end=%s", op, a.terms.Address.Hex(), a.terms.EndTime.Format(time.RFC3339))
	}
	return nil
}

// requireWindowStarted 押金只在 [StartTime, EndTime) 内接受
func (a *Auction) requireWindowStarted(tx *chain.Tx, op string) error {
	if tx.Now().Before(a.terms.StartTime) {
		return errors.Wrapf(domain.ErrWindowNotStarted, "%s auction=%s start=%s", op, a.terms.Address.Hex(), a.terms.StartTime.Format(time.RFC3339))
	}
	return a.requireWindowOpen(tx, op)
}

// SetupBidders 卖方设置押金额并邀请竞拍人（并集，去重）
// 已有竞拍人缴纳押金后不允许修改押金额
func (a *Auction) SetupBidders(tx *chain.Tx, requiredDeposit *big.Int, bidders []common.Address) error {
	const op = "setupBidders"
	if err := a.requireSeller(tx, op); err != nil {
		return err
	}
	if err := a.requireActive(op); err != nil {
		return err
	}
	if err := a.requireWindowOpen(tx, op); err != nil {
		return err
	}
	if !domain.IsPositive(requiredDeposit) {
		return errors.Wrap(domain.ErrInvalidArgument, "required deposit must be positive")
	}
	if a.requiredDeposit != nil && a.requiredDeposit.Cmp(requiredDeposit) != 0 && len(a.depositOrder) > 0 {
		return errors.Wrapf(domain.ErrAlreadyDeposited, "%s: required deposit is fixed once bidders have deposited", op)
	}
	for _, b := range bidders {
		if b == (common.Address{}) {
			return errors.Wrap(domain.ErrInvalidArgument, "zero bidder address")
		}
		if b == a.terms.Seller {
			return errors.Wrap(domain.ErrInvalidArgument, "seller cannot bid on own auction")
		}
	}

	// 校验全部通过后才写入
	prevDeposit := a.requiredDeposit
	prevLen := len(a.invitedOrder)
	var added []common.Address
	for _, b := range bidders {
		if a.invited[b] {
			continue
		}
		a.invited[b] = true
		a.invitedOrder = append(a.invitedOrder, b)
		added = append(added, b)
	}
	a.requiredDeposit = domain.CopyAmount(requiredDeposit)
	tx.OnRevert(func() {
		for _, b := range added {
			delete(a.invited, b)
		}
		a.invitedOrder = a.invitedOrder[:prevLen]
		a.requiredDeposit = prevDeposit
	})

	tx.Emit(&events.BiddersInvitedEvent{
		Auction:         a.terms.Address,
		Bidders:         added,
		RequiredDeposit: domain.CopyAmount(requiredDeposit),
	})
	return nil
}

// ReceiveSellerDeposit 卖方缴纳抵押金（附带的以太即抵押金额）
func (a *Auction) ReceiveSellerDeposit(tx *chain.Tx) error {
	const op = "receiveSellerDeposit"
	if err := a.requireSeller(tx, op); err != nil {
		return err
	}
	if a.sellerDeposit != nil {
		return errors.Wrapf(domain.ErrAlreadyDeposited, "%s auction=%s", op, a.terms.Address.Hex())
	}
	if err := a.requireActive(op); err != nil {
		return err
	}
	if err := a.requireWindowStarted(tx, op); err != nil {
		return err
	}
	value := tx.Value()
	if value.Sign() == 0 || (a.opts.MinSellerDeposit != nil && value.Cmp(a.opts.MinSellerDeposit) < 0) {
		return errors.Wrapf(domain.ErrInsufficientValue, "%s value=%s min=%s", op, value, a.opts.MinSellerDeposit)
	}

	a.sellerDeposit = value
	tx.OnRevert(func() { a.sellerDeposit = nil })
	tx.Emit(&events.SellerDepositedEvent{Auction: a.terms.Address, Seller: a.terms.Seller, Amount: domain.CopyAmount(value)})
	return nil
}

// BidderDeposit 受邀竞拍人缴纳押金，金额必须精确等于 requiredDeposit
func (a *Auction) BidderDeposit(tx *chain.Tx) error {
	const op = "bidderDeposit"
	bidder := tx.Caller()
	if !a.invited[bidder] {
		return errors.Wrapf(domain.ErrNotInvited, "%s auction=%s caller=%s", op, a.terms.Address.Hex(), bidder.Hex())
	}
	if _, ok := a.deposits[bidder]; ok {
		return errors.Wrapf(domain.ErrAlreadyDeposited, "%s auction=%s bidder=%s", op, a.terms.Address.Hex(), bidder.Hex())
	}
	if err := a.requireActive(op); err != nil {
		return err
	}
	if err := a.requireWindowStarted(tx, op); err != nil {
		return err
	}
	if tx.Value().Cmp(a.requiredDeposit) != 0 {
		return errors.Wrapf(domain.ErrAmountMismatch, "%s value=%s required=%s", op, tx.Value(), a.requiredDeposit)
	}

	a.deposits[bidder] = tx.Value()
	a.depositOrder = append(a.depositOrder, bidder)
	n := len(a.depositOrder) - 1
	tx.OnRevert(func() {
		delete(a.deposits, bidder)
		a.depositOrder = a.depositOrder[:n]
	})
	tx.Emit(&events.BidderDepositedEvent{Auction: a.terms.Address, Bidder: bidder, Amount: tx.Value()})
	return nil
}

// ConcludeWithWinner 接收竞价阶段结果并创建托管
// 只能由卖方或注册表管理员调用，且只能在窗口结束后调用一次
func (a *Auction) ConcludeWithWinner(tx *chain.Tx, buyer common.Address, winningBid *big.Int) (*escrow.Escrow, error) {
	const op = "concludeWithWinner"
	caller := tx.Caller()
	if caller != a.terms.Seller && caller != a.opts.Admin {
		return nil, errors.Wrapf(domain.ErrSenderNotAuthorized, "%s auction=%s caller=%s", op, a.terms.Address.Hex(), caller.Hex())
	}
	if err := a.requireActive(op); err != nil {
		return nil, err
	}
	if tx.Now().Before(a.terms.EndTime) {
		return nil, errors.Wrapf(domain.ErrWindowOpen, "%s auction=%s end=%s", op, a.terms.Address.Hex(), a.terms.EndTime.Format(time.RFC3339))
	}
	stake, ok := a.deposits[buyer]
	if !ok {
		return nil, errors.Wrapf(domain.ErrUnknownBidder, "%s auction=%s buyer=%s", op, a.terms.Address.Hex(), buyer.Hex())
	}
	if a.sellerDeposit == nil {
		return nil, errors.Wrapf(domain.ErrSellerDepositMissing, "%s auction=%s", op, a.terms.Address.Hex())
	}
	if !domain.IsPositive(winningBid) {
		return nil, errors.Wrap(domain.ErrInvalidArgument, "winning bid must be positive")
	}
	credit := new(big.Int)
	if a.opts.Policy == domain.PolicyCredited {
		if winningBid.Cmp(stake) < 0 {
			return nil, errors.Wrapf(domain.ErrInvalidArgument, "winning bid %s below credited deposit %s", winningBid, stake)
		}
		credit.Set(stake)
	}

	e, err := escrow.New(escrow.Terms{
		Address:     tx.CreateAddress(),
		Auction:     a.terms.Address,
		Seller:      a.terms.Seller,
		Buyer:       buyer,
		TokenAmount: a.terms.TokenAmount,
		Token:       a.terms.Token,
		WinningBid:  winningBid,
		Credit:      credit,
	}, a.resolver)
	if err != nil {
		return nil, err
	}

	a.escrow = e
	a.winner = buyer
	tx.OnRevert(func() {
		a.escrow = nil
		a.winner = common.Address{}
	})
	tx.Emit(&events.AuctionConcludedEvent{
		Auction:     a.terms.Address,
		Escrow:      e.Address(),
		Seller:      a.terms.Seller,
		Buyer:       buyer,
		Token:       a.terms.Token,
		TokenAmount: domain.CopyAmount(a.terms.TokenAmount),
		WinningBid:  domain.CopyAmount(winningBid),
		Credit:      domain.CopyAmount(credit),
		Policy:      a.opts.Policy,
	})

	if credit.Sign() > 0 {
		if err := tx.Transfer(e.Address(), credit); err != nil {
			return nil, errors.Wrap(err, "move credited deposit into escrow")
		}
	}
	return e, nil
}

// Cancel 在产生赢家之前取消拍卖，所有押金（含卖方抵押金）均可取回
// 窗口结束后卖方不能再取消，只有管理员可以
func (a *Auction) Cancel(tx *chain.Tx) error {
	const op = "cancel"
	caller := tx.Caller()
	if caller != a.terms.Seller && caller != a.opts.Admin {
		return errors.Wrapf(domain.ErrSenderNotAuthorized, "%s auction=%s caller=%s", op, a.terms.Address.Hex(), caller.Hex())
	}
	if err := a.requireActive(op); err != nil {
		return err
	}
	if caller != a.opts.Admin {
		if err := a.requireWindowOpen(tx, op); err != nil {
			return err
		}
	}
	a.cancelled = true
	tx.OnRevert(func() { a.cancelled = false })
	tx.Emit(&events.AuctionCancelledEvent{Auction: a.terms.Address, By: caller})
	return nil
}

// Withdrawable 当前可取回金额（已领取的不计入）
func (a *Auction) Withdrawable(account common.Address) *big.Int {
	total := new(big.Int)
	for _, c := range a.availableClaims(account) {
		if !a.claimed[c] {
			total.Add(total, a.claimAmount(c))
		}
	}
	return total
}

func (a *Auction) availableClaims(account common.Address) []claim {
	var out []claim
	if a.cancelled {
		if _, ok := a.deposits[account]; ok {
			out = append(out, claim{claimBidderStake, account})
		}
		if account == a.terms.Seller && a.sellerDeposit != nil {
			out = append(out, claim{claimSellerCollateral, account})
		}
		return out
	}
	if a.escrow == nil {
		return nil
	}
	if _, ok := a.deposits[account]; ok {
		if account != a.winner || a.opts.Policy == domain.PolicyRefunded {
			out = append(out, claim{claimBidderStake, account})
		}
	}
	if account == a.terms.Seller {
		if a.sellerDeposit != nil && a.escrow.SellerDelivered() {
			out = append(out, claim{claimSellerCollateral, account})
		}
		if a.opts.Policy == domain.PolicyForfeited {
			out = append(out, claim{claimForfeitedStake, a.winner})
		}
	}
	return out
}

func (a *Auction) claimAmount(c claim) *big.Int {
	switch c.kind {
	case claimSellerCollateral:
		return domain.CopyAmount(a.sellerDeposit)
	default:
		return domain.CopyAmount(a.deposits[c.account])
	}
}

// WithdrawDeposit 取回调用方当前可取回的全部押金（拉取式支付，转账为最后一步）
func (a *Auction) WithdrawDeposit(tx *chain.Tx) (*big.Int, error) {
	const op = "withdrawDeposit"
	account := tx.Caller()
	if !a.cancelled && a.escrow == nil {
		return nil, errors.Wrapf(domain.ErrWindowOpen, "%s auction=%s: not concluded or cancelled", op, a.terms.Address.Hex())
	}
	claims := a.availableClaims(account)
	var pending []claim
	total := new(big.Int)
	for _, c := range claims {
		if a.claimed[c] {
			continue
		}
		pending = append(pending, c)
		total.Add(total, a.claimAmount(c))
	}
	if len(pending) == 0 {
		if len(claims) > 0 {
			return nil, errors.Wrapf(domain.ErrAlreadyWithdrawn, "%s auction=%s account=%s", op, a.terms.Address.Hex(), account.Hex())
		}
		return nil, errors.Wrapf(domain.ErrNothingToWithdraw, "%s auction=%s account=%s", op, a.terms.Address.Hex(), account.Hex())
	}

	for _, c := range pending {
		a.claimed[c] = true
	}
	tx.OnRevert(func() {
		for _, c := range pending {
			delete(a.claimed, c)
		}
	})
	tx.Emit(&events.DepositWithdrawnEvent{Auction: a.terms.Address, Account: account, Amount: domain.CopyAmount(total)})

	if err := tx.Transfer(account, total); err != nil {
		return nil, errors.Wrapf(err, "%s transfer to %s", op, account.Hex())
	}
	return total, nil
}

// Snapshot 对外只读视图
type Snapshot struct {
	Address          common.Address             `json:"address"`
	Registry         common.Address             `json:"registry"`
	Seller           common.Address             `json:"seller"`
	Token            common.Address             `json:"token"`
	TokenAmount      *big.Int                   `json:"token_amount"`
	StartTime        time.Time                  `json:"start_time"`
	EndTime          time.Time                  `json:"end_time"`
	Policy           domain.DepositCreditPolicy `json:"policy"`
	MinSellerDeposit *big.Int                   `json:"min_seller_deposit,omitempty"`
	RequiredDeposit  *big.Int                   `json:"required_deposit,omitempty"`
	InvitedBidders   []common.Address           `json:"invited_bidders"`
	Deposits         []Deposit                  `json:"deposits"`
	SellerDeposit    *big.Int                   `json:"seller_deposit,omitempty"`
	Escrow           *common.Address            `json:"escrow,omitempty"`
	Winner           *common.Address            `json:"winner,omitempty"`
	Phase            domain.Phase               `json:"phase"`
}

// Deposit 竞拍人押金记录
type Deposit struct {
	Bidder    common.Address `json:"bidder"`
	Amount    *big.Int       `json:"amount"`
	Withdrawn bool           `json:"withdrawn"`
}

func (a *Auction) Snapshot(now time.Time) Snapshot {
	s := Snapshot{
		Address:        a.terms.Address,
		Registry:       a.terms.Registry,
		Seller:         a.terms.Seller,
		Token:          a.terms.Token,
		TokenAmount:    domain.CopyAmount(a.terms.TokenAmount),
		StartTime:      a.terms.StartTime,
		EndTime:        a.terms.EndTime,
		Policy:         a.opts.Policy,
		InvitedBidders: append([]common.Address(nil), a.invitedOrder...),
		Deposits:       make([]Deposit, 0, len(a.depositOrder)),
		Phase:          a.Phase(now),
	}
	if a.opts.MinSellerDeposit != nil {
		s.MinSellerDeposit = domain.CopyAmount(a.opts.MinSellerDeposit)
	}
	if a.requiredDeposit != nil {
		s.RequiredDeposit = domain.CopyAmount(a.requiredDeposit)
	}
	if a.sellerDeposit != nil {
		s.SellerDeposit = domain.CopyAmount(a.sellerDeposit)
	}
	for _, b := range a.depositOrder {
		s.Deposits = append(s.Deposits, Deposit{
			Bidder:    b,
			Amount:    domain.CopyAmount(a.deposits[b]),
			Withdrawn: a.claimed[claim{claimBidderStake, b}] || a.claimed[claim{claimForfeitedStake, b}],
		})
	}
	if a.escrow != nil {
		addr := a.escrow.Address()
		winner := a.winner
		s.Escrow = &addr
		s.Winner = &winner
	}
	return s
}
