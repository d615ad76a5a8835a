// Package accounts provides explicit account/credential fixtures.
//
// Components take an account set as a constructor argument instead of reading
// signers from shared ambient state; tests and the daemon build their own.
package accounts

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Account is a named long-term credential: a secp256k1 key and its address.
type Account struct {
	Name    string
	Key     *ecdsa.PrivateKey
	Address common.Address
}

// NewAccount generates a fresh keypair for name.
func NewAccount(name string) (*Account, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("key generation for %q failed: %w", name, err)
	}
	return &Account{
		Name:    name,
		Key:     key,
		Address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Set is a named collection of accounts.
type Set map[string]*Account

// NewSet generates one account per name.
func NewSet(names ...string) (Set, error) {
	set := make(Set, len(names))
	for _, name := range names {
		a, err := NewAccount(name)
		if err != nil {
			return nil, err
		}
		set[name] = a
	}
	return set, nil
}
