// engine.go - Homomorphic engine over opaque ciphertext handles.
//
// The Engine plays the role of the confidential coprocessor: it keeps the
// plaintext behind every handle, performs arithmetic on behalf of contracts,
// and enforces the per-handle disclosure ACL. Callers only ever see handles;
// the decrypt path is reserved for the reencryption oracle.
//
// NOTE: handles are immutable. Every operation derives a fresh handle; a handle
// observed at time t refers to the same value forever, which is what lets a
// disclosure request reflect the state as of its submission.

package fhe

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrUnknownHandle is returned when a handle has no value in the engine.
	ErrUnknownHandle = errors.New("unknown ciphertext handle")
	// ErrHandleExists is returned when an input handle collides with a
	// previously registered one bound to a different value.
	ErrHandleExists = errors.New("ciphertext handle already registered")
)

// Handle names a ciphertext. It is the hex encoding of a MiMC field element
// and carries no information about the underlying value.
type Handle string

// Ciphertext is an opaque reference to an encrypted 64-bit amount. The zero
// value refers to an encrypted zero.
type Ciphertext struct {
	handle Handle
}

// Handle returns the opaque handle naming this ciphertext.
func (c Ciphertext) Handle() Handle { return c.handle }

// Engine holds ciphertext state and performs all homomorphic operations.
// It is safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	values  map[Handle]uint64
	acl     map[Handle]map[common.Address]bool
	dh      *DHKeyPair
	counter uint64
}

// NewEngine creates an engine with a fresh BLS12-377 keypair. Inputs sealed to
// the engine's public key can only be opened by this instance.
func NewEngine() (*Engine, error) {
	dh, err := GenerateDHKeyPair()
	if err != nil {
		return nil, fmt.Errorf("engine keypair generation failed: %w", err)
	}
	return &Engine{
		values: make(map[Handle]uint64),
		acl:    make(map[Handle]map[common.Address]bool),
		dh:     dh,
	}, nil
}

// PublicKey returns the engine's DH public key, used by clients to seal inputs.
func (e *Engine) PublicKey() *bls12377.G1Affine { return e.dh.Pk }

// valueOf resolves a ciphertext under the engine lock. The zero Ciphertext is
// an encrypted zero; any other unknown handle is a programming error.
func (e *Engine) valueOf(c Ciphertext) uint64 {
	if c.handle == "" {
		return 0
	}
	v, ok := e.values[c.handle]
	if !ok {
		panic("fhe: unknown ciphertext handle " + string(c.handle))
	}
	return v
}

// freshHandle derives a new handle for an operation result. The derivation
// hashes the operation tag and a counter, never the value, so handles do not
// leak their plaintext through determinism.
func (e *Engine) freshHandle(tag string) Handle {
	e.counter++
	sum := mimcSum(new(big.Int).SetBytes([]byte(tag)), new(big.Int).SetUint64(e.counter))
	return Handle(hex.EncodeToString(sum))
}

// store records a value under a fresh handle and returns its ciphertext.
func (e *Engine) store(tag string, v uint64) Ciphertext {
	h := e.freshHandle(tag)
	e.values[h] = v
	return Ciphertext{handle: h}
}

// register binds a caller-constructed handle (from a verified input) to its
// value. Registering the same handle with the same value is idempotent.
func (e *Engine) register(h Handle, v uint64) (Ciphertext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.values[h]; ok {
		if prev != v {
			return Ciphertext{}, ErrHandleExists
		}
		return Ciphertext{handle: h}, nil
	}
	e.values[h] = v
	return Ciphertext{handle: h}, nil
}

// TrivialEncrypt lifts a public plaintext into the encrypted domain.
func (e *Engine) TrivialEncrypt(v uint64) Ciphertext {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store("trivial", v)
}

// Add returns a ciphertext of a + b (mod 2^64).
func (e *Engine) Add(a, b Ciphertext) Ciphertext {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store("add", e.valueOf(a)+e.valueOf(b))
}

// Sub returns a ciphertext of a - b (mod 2^64). Callers clamp with Min/Select
// first; the engine does not guard against underflow.
func (e *Engine) Sub(a, b Ciphertext) Ciphertext {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store("sub", e.valueOf(a)-e.valueOf(b))
}

// Min returns a ciphertext of min(a, b).
func (e *Engine) Min(a, b Ciphertext) Ciphertext {
	e.mu.Lock()
	defer e.mu.Unlock()
	av, bv := e.valueOf(a), e.valueOf(b)
	if bv < av {
		av = bv
	}
	return e.store("min", av)
}

// Le returns an encrypted boolean (0 or 1) of a <= b.
func (e *Engine) Le(a, b Ciphertext) Ciphertext {
	e.mu.Lock()
	defer e.mu.Unlock()
	var r uint64
	if e.valueOf(a) <= e.valueOf(b) {
		r = 1
	}
	return e.store("le", r)
}

// Eq returns an encrypted boolean (0 or 1) of a == b.
func (e *Engine) Eq(a, b Ciphertext) Ciphertext {
	e.mu.Lock()
	defer e.mu.Unlock()
	var r uint64
	if e.valueOf(a) == e.valueOf(b) {
		r = 1
	}
	return e.store("eq", r)
}

// Select returns a ciphertext of (cond != 0 ? a : b). This is the encrypted
// conditional that replaces plaintext branching on encrypted comparisons.
func (e *Engine) Select(cond, a, b Ciphertext) Ciphertext {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := e.valueOf(b)
	if e.valueOf(cond) != 0 {
		v = e.valueOf(a)
	}
	return e.store("select", v)
}

// MulDiv returns a ciphertext of floor(a * num / den), computed with a wide
// intermediate so the scalar product cannot overflow. This is the
// scalar-by-ciphertext primitive the vesting schedule relies on.
func (e *Engine) MulDiv(a Ciphertext, num, den uint64) Ciphertext {
	if den == 0 {
		panic("fhe: MulDiv by zero denominator")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	wide := new(big.Int).SetUint64(e.valueOf(a))
	wide.Mul(wide, new(big.Int).SetUint64(num))
	wide.Div(wide, new(big.Int).SetUint64(den))
	wide.And(wide, new(big.Int).SetUint64(^uint64(0)))
	return e.store("muldiv", wide.Uint64())
}

// Allow grants addr the right to request disclosure of the ciphertext.
func (e *Engine) Allow(c Ciphertext, addr common.Address) {
	if c.handle == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.acl[c.handle]
	if !ok {
		set = make(map[common.Address]bool)
		e.acl[c.handle] = set
	}
	set[addr] = true
}

// IsAllowed reports whether addr may request disclosure of the handle.
func (e *Engine) IsAllowed(h Handle, addr common.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acl[h][addr]
}

// Decrypt resolves a handle to its plaintext. This is the oracle path; ledger
// and lockup code never call it.
func (e *Engine) Decrypt(h Handle) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h == "" {
		return 0, nil
	}
	v, ok := e.values[h]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return v, nil
}
