package chain

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/sealedsale/internal/domain"
	"github.com/betbot/sealedsale/internal/events"
)

var (
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	contract = common.HexToAddress("0x00000000000000000000000000000000000000c0")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func TestExecute_AttachesValueAndCommits(t *testing.T) {
	c := New(NewManualClock(time.Unix(100, 0)), nil)
	c.Fund(alice, ether(5))

	r, err := c.Execute(context.Background(), Msg{From: alice, To: contract, Value: ether(2)}, func(tx *Tx) error {
		assert.Equal(t, alice, tx.Caller())
		assert.Equal(t, 0, ether(2).Cmp(tx.BalanceOf(contract)))
		return tx.Transfer(bob, ether(1))
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.Block)

	assert.Equal(t, 0, ether(3).Cmp(c.Balance(alice)))
	assert.Equal(t, 0, ether(1).Cmp(c.Balance(contract)))
	assert.Equal(t, 0, ether(1).Cmp(c.Balance(bob)))
}

func TestExecute_FailureRevertsEverything(t *testing.T) {
	bus := events.NewBus()
	var published int
	bus.Subscribe("count", events.HandlerFunc(func(context.Context, events.Envelope) error {
		published++
		return nil
	}))
	c := New(NewManualClock(time.Unix(100, 0)), bus)
	c.Fund(alice, ether(5))

	flag := false
	_, err := c.Execute(context.Background(), Msg{From: alice, To: contract, Value: ether(2)}, func(tx *Tx) error {
		flag = true
		tx.OnRevert(func() { flag = false })
		tx.Emit(&events.AuctionCancelledEvent{Auction: contract})
		// 转出超过余额：迁移整体失败
		return tx.Transfer(bob, ether(3))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)

	assert.False(t, flag)
	assert.Equal(t, 0, ether(5).Cmp(c.Balance(alice)))
	assert.Equal(t, 0, c.Balance(contract).Sign())
	assert.Equal(t, uint64(0), c.Height())
	assert.Equal(t, 0, published)
}

func TestExecute_InsufficientAttachedValue(t *testing.T) {
	c := New(NewManualClock(time.Unix(100, 0)), nil)
	called := false
	_, err := c.Execute(context.Background(), Msg{From: alice, To: contract, Value: ether(1)}, func(tx *Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.False(t, called)
}

func TestExecute_PanicIsReverted(t *testing.T) {
	c := New(NewManualClock(time.Unix(100, 0)), nil)
	c.Fund(alice, ether(1))
	_, err := c.Execute(context.Background(), Msg{From: alice, To: contract, Value: ether(1)}, func(tx *Tx) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 0, ether(1).Cmp(c.Balance(alice)))
}

func TestExecute_EventsGetSequencedEnvelopes(t *testing.T) {
	bus := events.NewBus()
	var got []events.Envelope
	bus.Subscribe("rec", events.HandlerFunc(func(_ context.Context, env events.Envelope) error {
		got = append(got, env)
		return nil
	}))
	c := New(NewManualClock(time.Unix(100, 0)), bus)

	for i := 0; i < 2; i++ {
		_, err := c.Execute(context.Background(), Msg{From: alice, To: contract}, func(tx *Tx) error {
			tx.Emit(&events.AuctionCancelledEvent{Auction: contract, By: alice})
			return nil
		})
		require.NoError(t, err)
	}
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, uint64(2), got[1].Seq)
	assert.Equal(t, uint64(2), got[1].Block)
	assert.NotEqual(t, got[0].TxHash, got[1].TxHash)
}

func TestCreateAddress_RevertedNonceIsReused(t *testing.T) {
	c := New(NewManualClock(time.Unix(100, 0)), nil)
	var first, second common.Address
	_, err := c.Execute(context.Background(), Msg{From: alice, To: contract}, func(tx *Tx) error {
		first = tx.CreateAddress()
		return errors.New("abort")
	})
	require.Error(t, err)
	_, err = c.Execute(context.Background(), Msg{From: alice, To: contract}, func(tx *Tx) error {
		second = tx.CreateAddress()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.NotEqual(t, second, c.NextAddress(contract))
}

func TestExecute_CanceledContext(t *testing.T) {
	c := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Execute(ctx, Msg{From: alice, To: contract}, func(tx *Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResume_ContinuesNumbering(t *testing.T) {
	c := New(NewManualClock(time.Unix(100, 0)), nil)
	c.Resume(41, 9)
	c.Resume(3, 1)

	r, err := c.Execute(context.Background(), Msg{From: alice, To: contract}, func(tx *Tx) error {
		tx.Emit(&events.AuctionCancelledEvent{Auction: contract})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(10), r.Block)
	require.Len(t, r.Events, 1)
	assert.Equal(t, uint64(42), r.Events[0].Seq)
}
