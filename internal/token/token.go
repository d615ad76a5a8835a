// Package token implements the confidential balance ledger.
//
// Balances and allowances are encrypted amounts; every movement is clamped
// homomorphically to what is actually available, so a shortfall saturates
// instead of reverting. Plaintext leaves the ledger only through the
// reencryption gateway, never through this package.
package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"lockup/internal/fhe"
)

// ErrInvalidProof wraps input-proof rejections surfaced by Approve.
var ErrInvalidProof = fhe.ErrInvalidProof

// ConfidentialToken is a per-account encrypted balance ledger with
// approve/transferFrom allowance semantics.
//
// All mutating operations are atomic and serialized: each takes the ledger
// lock for its full duration and either completes or leaves no effect.
type ConfidentialToken struct {
	mu          sync.Mutex
	engine      *fhe.Engine
	address     common.Address
	verifier    *fhe.InputVerifier
	balances    map[common.Address]fhe.Ciphertext
	allowances  map[common.Address]map[common.Address]fhe.Ciphertext
	totalSupply fhe.Ciphertext
}

// New creates an empty ledger. address is the ledger's own account identity;
// approve proofs must be bound to it. verifier must be an fhe.InputVerifier
// for the same address.
func New(engine *fhe.Engine, address common.Address, verifier *fhe.InputVerifier) *ConfidentialToken {
	return &ConfidentialToken{
		engine:      engine,
		address:     address,
		verifier:    verifier,
		balances:    make(map[common.Address]fhe.Ciphertext),
		allowances:  make(map[common.Address]map[common.Address]fhe.Ciphertext),
		totalSupply: engine.TrivialEncrypt(0),
	}
}

// Address returns the ledger's account identity.
func (t *ConfidentialToken) Address() common.Address { return t.address }

// balanceOrZero resolves an account's balance, lifting absent accounts to
// encrypted zero. Caller holds the lock.
func (t *ConfidentialToken) balanceOrZero(account common.Address) fhe.Ciphertext {
	if b, ok := t.balances[account]; ok {
		return b
	}
	return t.engine.TrivialEncrypt(0)
}

// setBalance stores a fresh balance handle and grants the holder disclosure
// rights on it. Caller holds the lock.
func (t *ConfidentialToken) setBalance(account common.Address, b fhe.Ciphertext) {
	t.balances[account] = b
	t.engine.Allow(b, account)
}

// Mint increases an account's encrypted balance by a public plaintext amount.
// Mint is the trusted administrative path; no input proof is required.
func (t *ConfidentialToken) Mint(to common.Address, amount uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	minted := t.engine.TrivialEncrypt(amount)
	t.setBalance(to, t.engine.Add(t.balanceOrZero(to), minted))
	t.totalSupply = t.engine.Add(t.totalSupply, minted)
}

// Approve verifies the proof-carrying input against (ledger, owner) and sets
// allowance[owner][spender] to the accepted amount. The allowance is
// overwritten, not accumulated.
func (t *ConfidentialToken) Approve(owner, spender common.Address, input *fhe.EncryptedInput) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	amount, err := t.verifier.Verify(input, owner)
	if err != nil {
		return fmt.Errorf("approve rejected: %w", err)
	}
	set, ok := t.allowances[owner]
	if !ok {
		set = make(map[common.Address]fhe.Ciphertext)
		t.allowances[owner] = set
	}
	set[spender] = amount
	t.engine.Allow(amount, owner)
	t.engine.Allow(amount, spender)
	return nil
}

// Allowance returns the encrypted allowance handle for (owner, spender).
func (t *ConfidentialToken) Allowance(owner, spender common.Address) fhe.Ciphertext {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.allowances[owner][spender]; ok {
		return a
	}
	return t.engine.TrivialEncrypt(0)
}

// BalanceOf returns the encrypted balance handle for account, never plaintext.
func (t *ConfidentialToken) BalanceOf(account common.Address) fhe.Ciphertext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balanceOrZero(account)
}

// TotalSupply returns the encrypted total supply handle.
func (t *ConfidentialToken) TotalSupply() fhe.Ciphertext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalSupply
}

// Transfer moves min(amount, balance[from]) from from to to and returns the
// amount actually moved. The clamp is homomorphic; a shortfall saturates.
// Authentication of from as the acting party is the caller's responsibility.
func (t *ConfidentialToken) Transfer(from, to common.Address, amount fhe.Ciphertext) fhe.Ciphertext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

// TransferFrom moves min(amount, allowance[owner][spender], balance[owner])
// from owner to to on spender's behalf, decrements the allowance by the moved
// amount, and returns the moved ciphertext.
func (t *ConfidentialToken) TransferFrom(spender, owner, to common.Address, amount fhe.Ciphertext) fhe.Ciphertext {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.allowances[owner]
	if !ok {
		set = make(map[common.Address]fhe.Ciphertext)
		t.allowances[owner] = set
	}
	allowance, ok := set[spender]
	if !ok {
		allowance = t.engine.TrivialEncrypt(0)
	}
	clamped := t.engine.Min(amount, allowance)
	moved := t.move(owner, to, clamped)
	remaining := t.engine.Sub(allowance, moved)
	set[spender] = remaining
	t.engine.Allow(remaining, owner)
	t.engine.Allow(remaining, spender)
	return moved
}

// move applies the balance-clamped transfer. Caller holds the lock.
func (t *ConfidentialToken) move(from, to common.Address, amount fhe.Ciphertext) fhe.Ciphertext {
	fromBal := t.balanceOrZero(from)
	applied := t.engine.Min(amount, fromBal)
	t.setBalance(from, t.engine.Sub(fromBal, applied))
	t.setBalance(to, t.engine.Add(t.balanceOrZero(to), applied))
	return applied
}
