package escrow

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/sealedsale/internal/chain"
	"github.com/betbot/sealedsale/internal/domain"
	"github.com/betbot/sealedsale/internal/events"
	"github.com/betbot/sealedsale/internal/token"
)

var (
	seller   = common.HexToAddress("0x0000000000000000000000000000000000000051")
	buyer    = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	attacker = common.HexToAddress("0x0000000000000000000000000000000000000666")
	auction  = common.HexToAddress("0x00000000000000000000000000000000000000a8")
	escrowAt = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	tokenAt  = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// 100 * 10^18
func hundredTokens() *big.Int {
	return new(big.Int).Mul(big.NewInt(100), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type fixture struct {
	chain  *chain.Chain
	token  *token.Ledger
	escrow *Escrow
	events []events.Envelope
}

func newFixture(t *testing.T, credit *big.Int) *fixture {
	t.Helper()
	f := &fixture{}
	bus := events.NewBus()
	bus.Subscribe("rec", events.HandlerFunc(func(_ context.Context, env events.Envelope) error {
		f.events = append(f.events, env)
		return nil
	}))
	f.chain = chain.New(chain.NewManualClock(time.Unix(1612166400, 0)), bus)
	f.chain.Fund(buyer, ether(10))
	f.chain.Fund(attacker, ether(10))

	f.token = token.NewLedger(f.chain.Journal(), tokenAt, "MIKE", 18)
	f.token.Mint(seller, hundredTokens())
	tokens := token.NewRegistry()
	tokens.Add(f.token)

	if credit != nil {
		f.chain.Fund(escrowAt, credit)
	}
	e, err := New(Terms{
		Address:     escrowAt,
		Auction:     auction,
		Seller:      seller,
		Buyer:       buyer,
		TokenAmount: hundredTokens(),
		Token:       tokenAt,
		WinningBid:  ether(1),
		Credit:      credit,
	}, tokens)
	require.NoError(t, err)
	f.escrow = e
	return f
}

func (f *fixture) pay(from common.Address, value *big.Int) error {
	_, err := f.chain.Execute(context.Background(), chain.Msg{From: from, To: escrowAt, Value: value}, f.escrow.BuyerPayment)
	return err
}

func (f *fixture) deliver(from common.Address) error {
	_, err := f.chain.Execute(context.Background(), chain.Msg{From: from, To: escrowAt}, f.escrow.SellerDelivery)
	return err
}

func (f *fixture) approve(amount *big.Int) {
	_, _ = f.chain.Execute(context.Background(), chain.Msg{From: seller, To: tokenAt}, func(tx *chain.Tx) error {
		return f.token.Approve(tx, seller, escrowAt, amount)
	})
}

func TestBuyerPayment_AcceptsCorrectPayment(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.pay(buyer, ether(1)))
	assert.True(t, f.escrow.BuyerPaid())
	assert.Equal(t, 0, ether(1).Cmp(f.chain.Balance(seller)))
	assert.Equal(t, 0, ether(9).Cmp(f.chain.Balance(buyer)))

	require.Len(t, f.events, 1)
	paid, ok := f.events[0].Event.(*events.BuyerPaidEvent)
	require.True(t, ok)
	assert.Equal(t, buyer, paid.Buyer)
	assert.Equal(t, 0, ether(1).Cmp(paid.Amount))
}

func TestBuyerPayment_RejectsNonBuyer(t *testing.T) {
	f := newFixture(t, nil)
	err := f.pay(attacker, ether(1))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Contains(t, err.Error(), "sender not authorized")
	assert.Equal(t, 0, ether(10).Cmp(f.chain.Balance(attacker)))
}

func TestBuyerPayment_RejectsWrongAmount(t *testing.T) {
	f := newFixture(t, nil)
	half := new(big.Int).Div(ether(1), big.NewInt(2))

	assert.ErrorIs(t, f.pay(buyer, half), domain.ErrWrongAmount)
	assert.ErrorIs(t, f.pay(buyer, ether(2)), domain.ErrWrongAmount)
	assert.False(t, f.escrow.BuyerPaid())
	assert.Equal(t, 0, ether(10).Cmp(f.chain.Balance(buyer)))
}

func TestBuyerPayment_SecondCallFails(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.pay(buyer, ether(1)))

	err := f.pay(buyer, ether(1))
	assert.ErrorIs(t, err, domain.ErrAlreadyPaid)
	assert.ErrorIs(t, err, domain.ErrAlreadyDone)
	assert.Equal(t, 0, ether(1).Cmp(f.chain.Balance(seller)))
}

func TestBuyerPayment_WithCreditForwardsFullBid(t *testing.T) {
	credit := new(big.Int).Div(ether(1), big.NewInt(4))
	f := newFixture(t, credit)
	due := f.escrow.AmountDue()
	assert.Equal(t, 0, new(big.Int).Sub(ether(1), credit).Cmp(due))

	assert.ErrorIs(t, f.pay(buyer, ether(1)), domain.ErrWrongAmount)
	require.NoError(t, f.pay(buyer, due))
	assert.Equal(t, 0, ether(1).Cmp(f.chain.Balance(seller)))
	assert.Equal(t, 0, f.chain.Balance(escrowAt).Sign())
}

func TestSellerDelivery_TransfersTokens(t *testing.T) {
	f := newFixture(t, nil)
	f.approve(hundredTokens())

	require.NoError(t, f.deliver(seller))
	assert.True(t, f.escrow.SellerDelivered())
	assert.Equal(t, 0, hundredTokens().Cmp(f.token.BalanceOf(buyer)))
	assert.Equal(t, 0, f.token.BalanceOf(seller).Sign())

	var delivered *events.SellerDeliveredEvent
	for _, env := range f.events {
		if ev, ok := env.Event.(*events.SellerDeliveredEvent); ok {
			delivered = ev
		}
	}
	require.NotNil(t, delivered)
	assert.Equal(t, seller, delivered.Seller)
	assert.Equal(t, 0, hundredTokens().Cmp(delivered.Amount))

	bal, err := f.escrow.ContractTokenBalance()
	require.NoError(t, err)
	assert.Equal(t, 0, bal.Sign())
}

func TestSellerDelivery_WithoutApprovalRevertsFlag(t *testing.T) {
	f := newFixture(t, nil)

	err := f.deliver(seller)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.False(t, f.escrow.SellerDelivered())
	assert.Equal(t, 0, hundredTokens().Cmp(f.token.BalanceOf(seller)))

	// 授权之后可以重新交付
	f.approve(hundredTokens())
	require.NoError(t, f.deliver(seller))
}

func TestSellerDelivery_RejectsNonSellerAndRepeat(t *testing.T) {
	f := newFixture(t, nil)
	f.approve(new(big.Int).Mul(hundredTokens(), big.NewInt(2)))

	assert.ErrorIs(t, f.deliver(attacker), domain.ErrUnauthorized)
	require.NoError(t, f.deliver(seller))
	assert.ErrorIs(t, f.deliver(seller), domain.ErrAlreadyDelivered)
	assert.Equal(t, 0, hundredTokens().Cmp(f.token.BalanceOf(buyer)))
}

func TestSettlement_OrderIndependent(t *testing.T) {
	run := func(deliverFirst bool) *fixture {
		f := newFixture(t, nil)
		f.approve(hundredTokens())
		if deliverFirst {
			require.NoError(t, f.deliver(seller))
			require.NoError(t, f.pay(buyer, ether(1)))
		} else {
			require.NoError(t, f.pay(buyer, ether(1)))
			require.NoError(t, f.deliver(seller))
		}
		return f
	}
	a, b := run(true), run(false)
	for _, f := range []*fixture{a, b} {
		assert.True(t, f.escrow.Settled())
	}
	assert.Equal(t, a.escrow.Snapshot(), b.escrow.Snapshot())
	assert.Equal(t, 0, a.chain.Balance(seller).Cmp(b.chain.Balance(seller)))
	assert.Equal(t, 0, a.token.BalanceOf(buyer).Cmp(b.token.BalanceOf(buyer)))
}

func TestSellerDelivery_UnknownTokenFails(t *testing.T) {
	c := chain.New(chain.NewManualClock(time.Unix(0, 0)), nil)
	e, err := New(Terms{
		Address: escrowAt, Seller: seller, Buyer: buyer,
		TokenAmount: big.NewInt(1), Token: tokenAt, WinningBid: big.NewInt(1),
	}, token.NewRegistry())
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), chain.Msg{From: seller, To: escrowAt}, e.SellerDelivery)
	assert.ErrorIs(t, err, domain.ErrUnknownToken)
	kind, code := domain.KindOf(err)
	assert.Equal(t, domain.KindUnknownParty, kind)
	assert.Equal(t, "UnknownToken", code)
	assert.False(t, e.SellerDelivered())
}

func TestNew_ValidatesTerms(t *testing.T) {
	_, err := New(Terms{Seller: seller, Buyer: buyer, TokenAmount: big.NewInt(1), WinningBid: big.NewInt(0)}, token.NewRegistry())
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = New(Terms{Seller: seller, Buyer: buyer, TokenAmount: big.NewInt(1), WinningBid: big.NewInt(1), Credit: big.NewInt(2)}, token.NewRegistry())
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
