package token

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/sealedsale/internal/chain"
	"github.com/betbot/sealedsale/internal/domain"
)

var (
	owner   = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	holder  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	spender = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	tokAddr = common.HexToAddress("0x0bc529c00C6401aEF6D220BE8C6Ea1667F6Ad93e")
)

func newTestLedger(t *testing.T) (*chain.Chain, *Ledger) {
	t.Helper()
	c := chain.New(chain.NewManualClock(time.Unix(0, 0)), nil)
	l := NewLedger(c.Journal(), tokAddr, "MIKE", 18)
	l.Mint(owner, big.NewInt(1000))
	return c, l
}

func exec(t *testing.T, c *chain.Chain, from common.Address, fn func(tx *chain.Tx) error) error {
	t.Helper()
	_, err := c.Execute(context.Background(), chain.Msg{From: from, To: tokAddr}, fn)
	return err
}

func TestLedger_TransferFromConsumesAllowance(t *testing.T) {
	c, l := newTestLedger(t)

	require.NoError(t, exec(t, c, owner, func(tx *chain.Tx) error {
		return l.Approve(tx, owner, spender, big.NewInt(300))
	}))
	require.NoError(t, exec(t, c, spender, func(tx *chain.Tx) error {
		return l.TransferFrom(tx, spender, owner, holder, big.NewInt(200))
	}))

	assert.Equal(t, int64(800), l.BalanceOf(owner).Int64())
	assert.Equal(t, int64(200), l.BalanceOf(holder).Int64())
	assert.Equal(t, int64(100), l.Allowance(owner, spender).Int64())
}

func TestLedger_TransferFromWithoutAllowanceFailsLoudly(t *testing.T) {
	c, l := newTestLedger(t)
	err := exec(t, c, spender, func(tx *chain.Tx) error {
		return l.TransferFrom(tx, spender, owner, holder, big.NewInt(1))
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.Equal(t, int64(1000), l.BalanceOf(owner).Int64())
}

func TestLedger_RevertedTransitionRestoresBalances(t *testing.T) {
	c, l := newTestLedger(t)
	err := exec(t, c, owner, func(tx *chain.Tx) error {
		if err := l.Transfer(tx, owner, holder, big.NewInt(400)); err != nil {
			return err
		}
		return errors.New("later step failed")
	})
	require.Error(t, err)
	assert.Equal(t, int64(1000), l.BalanceOf(owner).Int64())
	assert.Equal(t, int64(0), l.BalanceOf(holder).Int64())
}

func TestLedger_TransferOverBalance(t *testing.T) {
	c, l := newTestLedger(t)
	err := exec(t, c, holder, func(tx *chain.Tx) error {
		return l.Transfer(tx, holder, owner, big.NewInt(1))
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve(tokAddr)
	assert.ErrorIs(t, err, domain.ErrUnknownToken)

	_, l := newTestLedger(t)
	r.Add(l)
	got, err := r.Resolve(tokAddr)
	require.NoError(t, err)
	assert.Equal(t, "MIKE", got.Symbol())
	assert.Len(t, r.List(), 1)
}

type fakeCaller struct {
	calls int
	out   []byte
}

func (f *fakeCaller) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	return f.out, nil
}

func TestRPCReader_BalanceOfUsesCache(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(ERC20ABI))
	require.NoError(t, err)
	out, err := parsed.Methods["balanceOf"].Outputs.Pack(big.NewInt(42))
	require.NoError(t, err)

	fc := &fakeCaller{out: out}
	r, err := NewRPCReader(fc, time.Minute)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		v, err := r.BalanceOf(context.Background(), tokAddr, holder)
		require.NoError(t, err)
		assert.Equal(t, int64(42), v.Int64())
	}
	assert.Equal(t, 1, fc.calls)
}
