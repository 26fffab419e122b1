// Package devaccounts 从助记词派生开发网络账户
package devaccounts

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
)

// DefaultPathTemplate BIP-44 以太坊路径，%d 为账户序号
const DefaultPathTemplate = "m/44'/60'/0'/0/%d"

// Account 派生出的账户
type Account struct {
	Index         int
	Path          string
	Address       common.Address
	PrivateKeyHex string
}

// Derive 按 DefaultPathTemplate 派生前 n 个账户
func Derive(mnemonic string, n int) ([]Account, error) {
	return DeriveWithTemplate(mnemonic, DefaultPathTemplate, n)
}

// DeriveWithTemplate 按给定路径模板派生前 n 个账户
func DeriveWithTemplate(mnemonic, template string, n int) ([]Account, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return nil, fmt.Errorf("mnemonic is required")
	}
	if n <= 0 {
		return nil, nil
	}

	w, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}

	out := make([]Account, 0, n)
	for i := 0; i < n; i++ {
		p := fmt.Sprintf(template, i)
		path, err := hdwallet.ParseDerivationPath(p)
		if err != nil {
			return nil, fmt.Errorf("invalid derivation path %s: %w", p, err)
		}
		acct, err := w.Derive(path, false)
		if err != nil {
			return nil, fmt.Errorf("derive %s failed: %w", p, err)
		}
		pk, err := w.PrivateKeyHex(acct)
		if err != nil {
			return nil, fmt.Errorf("private key %s failed: %w", p, err)
		}
		out = append(out, Account{Index: i, Path: p, Address: acct.Address, PrivateKeyHex: pk})
	}
	return out, nil
}

// Addresses 账户地址列表
func Addresses(accounts []Account) []common.Address {
	out := make([]common.Address, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Address)
	}
	return out
}
