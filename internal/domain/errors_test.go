package domain

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesKindAndCode(t *testing.T) {
	err := errors.Wrapf(ErrAlreadyPaid, "buyerPayment escrow=%s", "0xabc")

	assert.ErrorIs(t, err, ErrAlreadyPaid)
	assert.ErrorIs(t, err, ErrAlreadyDone)
	assert.NotErrorIs(t, err, ErrAlreadyDelivered)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestKindOf(t *testing.T) {
	kind, code := KindOf(errors.Wrap(ErrNotInvited, "bidderDeposit"))
	assert.Equal(t, KindUnauthorized, kind)
	assert.Equal(t, "NotInvited", code)

	kind, code = KindOf(errors.New("plain"))
	assert.Empty(t, kind)
	assert.Empty(t, code)
}

func TestParseDepositCreditPolicy(t *testing.T) {
	p, err := ParseDepositCreditPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyRefunded, p)

	p, err = ParseDepositCreditPolicy(" Credited ")
	require.NoError(t, err)
	assert.Equal(t, PolicyCredited, p)

	_, err = ParseDepositCreditPolicy("burned")
	assert.Error(t, err)
}
