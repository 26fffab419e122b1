package devaccounts

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 常见开发网络助记词，第 0 个账户地址固定
const testMnemonic = "test test test test test test test test test test test junk"

func TestDerive(t *testing.T) {
	accts, err := Derive(testMnemonic, 3)
	require.NoError(t, err)
	require.Len(t, accts, 3)

	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), accts[0].Address)
	assert.Equal(t, "m/44'/60'/0'/0/1", accts[1].Path)
	assert.NotEqual(t, accts[1].Address, accts[2].Address)
	assert.Len(t, accts[0].PrivateKeyHex, 64)
	assert.Len(t, Addresses(accts), 3)
}

func TestDerive_Errors(t *testing.T) {
	_, err := Derive("", 1)
	assert.Error(t, err)

	_, err = Derive("not a real mnemonic", 1)
	assert.Error(t, err)

	accts, err := Derive(testMnemonic, 0)
	require.NoError(t, err)
	assert.Empty(t, accts)
}
