package registry

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/sealedsale/internal/auction"
	"github.com/betbot/sealedsale/internal/chain"
	"github.com/betbot/sealedsale/internal/domain"
	"github.com/betbot/sealedsale/internal/events"
	"github.com/betbot/sealedsale/internal/token"
)

var (
	deployer = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	seller   = common.HexToAddress("0x0000000000000000000000000000000000000051")
	bidder   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	tokenAt  = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

var genesis = time.Unix(1612166400, 0)

type fakeAuction struct {
	addr    common.Address
	seller  common.Address
	invited map[common.Address]bool
}

func (f *fakeAuction) Address() common.Address            { return f.addr }
func (f *fakeAuction) Seller() common.Address             { return f.seller }
func (f *fakeAuction) Policy() domain.DepositCreditPolicy { return domain.PolicyRefunded }
func (f *fakeAuction) IsInvited(addr common.Address) bool { return f.invited[addr] }

func fakeFactory(address common.Address, params CreateParams) (AuctionHandle, error) {
	return &fakeAuction{addr: address, seller: params.Seller, invited: map[common.Address]bool{}}, nil
}

type fixture struct {
	chain    *chain.Chain
	registry *Registry
	events   []events.Envelope
}

func newFixture(factory Factory) *fixture {
	f := &fixture{}
	bus := events.NewBus()
	bus.Subscribe("rec", events.HandlerFunc(func(_ context.Context, env events.Envelope) error {
		f.events = append(f.events, env)
		return nil
	}))
	f.chain = chain.New(chain.NewManualClock(genesis), bus)
	f.registry = New(deployer, f.chain.Deploy(deployer), factory)
	return f
}

func params() CreateParams {
	return CreateParams{
		TokenAmount: big.NewInt(100),
		Token:       tokenAt,
		StartTime:   genesis,
		EndTime:     genesis.Add(time.Hour),
		Seller:      seller,
	}
}

func (f *fixture) create(from common.Address, p CreateParams) (AuctionHandle, error) {
	var h AuctionHandle
	_, err := f.chain.Execute(context.Background(), chain.Msg{From: from, To: f.registry.Address()}, func(tx *chain.Tx) error {
		var err error
		h, err = f.registry.CreateAuction(tx, p)
		return err
	})
	return h, err
}

func TestCreateAuction_OrderedAndDistinct(t *testing.T) {
	f := newFixture(fakeFactory)
	assert.Empty(t, f.registry.Addresses())
	assert.Equal(t, deployer, f.registry.Admin())

	var created []common.Address
	for i := 0; i < 3; i++ {
		h, err := f.create(bidder, params())
		require.NoError(t, err)
		assert.Equal(t, seller, h.Seller())
		created = append(created, h.Address())
	}
	assert.Equal(t, created, f.registry.Addresses())
	assert.NotEqual(t, created[0], created[1])
	assert.NotEqual(t, created[1], created[2])

	require.Len(t, f.events, 3)
	for i, env := range f.events {
		ev, ok := env.Event.(*events.AuctionCreatedEvent)
		require.True(t, ok)
		assert.Equal(t, created[i], ev.Auction)
		assert.Equal(t, seller, ev.Seller)
		assert.Equal(t, f.registry.Address(), ev.Registry)
	}

	got, err := f.registry.Auction(created[1])
	require.NoError(t, err)
	assert.Equal(t, created[1], got.Address())
}

func TestCreateAuction_Validation(t *testing.T) {
	f := newFixture(fakeFactory)

	p := params()
	p.EndTime = p.StartTime
	_, err := f.create(seller, p)
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)

	p = params()
	p.TokenAmount = big.NewInt(0)
	_, err = f.create(seller, p)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	p = params()
	p.Seller = common.Address{}
	_, err = f.create(seller, p)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	assert.Empty(t, f.registry.Addresses())
	assert.Empty(t, f.events)
}

func TestCreateAuction_FactoryFailureLeavesNoTrace(t *testing.T) {
	f := newFixture(func(common.Address, CreateParams) (AuctionHandle, error) {
		return nil, errors.New("boom")
	})
	_, err := f.create(seller, params())
	require.Error(t, err)
	assert.Zero(t, f.registry.Len())

	_, err = f.registry.Auction(common.Address{})
	assert.ErrorIs(t, err, domain.ErrUnknownAuction)
}

func TestCreateAuction_RevertedTransitionReusesAddress(t *testing.T) {
	f := newFixture(fakeFactory)
	_, err := f.chain.Execute(context.Background(), chain.Msg{From: seller, To: f.registry.Address()}, func(tx *chain.Tx) error {
		if _, err := f.registry.CreateAuction(tx, params()); err != nil {
			return err
		}
		return domain.ErrTransferFailed
	})
	require.Error(t, err)
	assert.Empty(t, f.registry.Addresses())

	next := f.chain.NextAddress(f.registry.Address())
	h, err := f.create(seller, params())
	require.NoError(t, err)
	assert.Equal(t, next, h.Address())
}

func TestAuctionInvited_WithRealAuctions(t *testing.T) {
	tokens := token.NewRegistry()
	var f *fixture
	f = newFixture(func(address common.Address, p CreateParams) (AuctionHandle, error) {
		return auction.New(auction.Terms{
			Address:     address,
			Registry:    f.registry.Address(),
			Seller:      p.Seller,
			Token:       p.Token,
			TokenAmount: p.TokenAmount,
			StartTime:   p.StartTime,
			EndTime:     p.EndTime,
		}, auction.Options{Admin: deployer}, tokens)
	})

	h, err := f.create(seller, params())
	require.NoError(t, err)
	assert.False(t, f.registry.AuctionInvited(bidder))

	a := h.(*auction.Auction)
	_, err = f.chain.Execute(context.Background(), chain.Msg{From: seller, To: a.Address()}, func(tx *chain.Tx) error {
		return a.SetupBidders(tx, big.NewInt(1), []common.Address{bidder})
	})
	require.NoError(t, err)
	assert.True(t, f.registry.AuctionInvited(bidder))
	assert.False(t, f.registry.AuctionInvited(seller))
}
