// crypto.go - Cryptographic primitives and utilities for the encrypted-value layer.
//
// Implements MiMC-based handle derivation, random number generation, BLS12-377 DH
// key exchange, and MiMC-keystream masking used to seal values to a key holder.
// All cryptographic operations use secure randomness.

package fhe

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	bls12377_fr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	bw6761_fr "github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
)

// frBytes encodes a non-negative integer as a canonical BW6-761 scalar-field
// element, one full MiMC block. Keeping every native MiMC input a single block
// makes the native hash line up with the in-circuit hash, where each Write is
// exactly one field element.
func frBytes(x *big.Int) []byte {
	var e bw6761_fr.Element
	e.SetBigInt(x)
	b := e.Bytes()
	return b[:]
}

// mimcSum hashes a sequence of field-encoded integers with MiMC.
func mimcSum(inputs ...*big.Int) []byte {
	h := mimcNative.NewMiMC()
	for _, in := range inputs {
		h.Write(frBytes(in))
	}
	return h.Sum(nil)
}

// randomFieldElement generates a uniformly random BW6-761 scalar.
func randomFieldElement() *big.Int {
	var e bw6761_fr.Element
	e.SetRandom()
	return e.BigInt(new(big.Int))
}

// randomBytes generates random bytes of specified length using crypto/rand.
func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

// DHKeyPair represents a BLS12-377 keypair for Diffie-Hellman key exchange.
// sk: scalar (private), pk: G1Affine (public)
type DHKeyPair struct {
	Sk *bls12377_fr.Element // Private scalar
	Pk *bls12377.G1Affine   // Public key (G1 point)
}

// GenerateDHKeyPair generates a random BLS12-377 keypair for DH.
func GenerateDHKeyPair() (*DHKeyPair, error) {
	var sk bls12377_fr.Element
	sk.SetRandom()
	var g1Jac, _, _, _ = bls12377.Generators()
	var pk bls12377.G1Affine
	pk.FromJacobian(&g1Jac)
	pk.ScalarMultiplication(&pk, sk.BigInt(new(big.Int)))
	return &DHKeyPair{Sk: &sk, Pk: &pk}, nil
}

// ComputeDHShared computes the shared secret (G^ab) given our sk and their pk.
func ComputeDHShared(sk *bls12377_fr.Element, pk *bls12377.G1Affine) *bls12377.G1Affine {
	var shared bls12377.G1Affine
	shared.ScalarMultiplication(pk, sk.BigInt(new(big.Int)))
	return &shared
}

// maskChain derives n masks from a shared DH point using a MiMC hash chain.
func maskChain(shared *bls12377.G1Affine, n int) [][]byte {
	h := mimcNative.NewMiMC()
	x := shared.X.Bytes()
	y := shared.Y.Bytes()
	h.Write(x[:])
	h.Write(y[:])
	masks := make([][]byte, n)
	prev := h.Sum(nil)
	masks[0] = prev
	for i := 1; i < n; i++ {
		h.Write(prev)
		prev = h.Sum(nil)
		masks[i] = prev
	}
	return masks
}

// EncryptUint64WithSharedKey masks a 64-bit value with the first mask of the
// shared-key MiMC chain. The result is only openable by the other key holder.
func EncryptUint64WithSharedKey(v uint64, shared *bls12377.G1Affine) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return xorPad(buf, maskChain(shared, 1)[0][:8])
}

// DecryptUint64WithSharedKey reverses EncryptUint64WithSharedKey.
func DecryptUint64WithSharedKey(c []byte, shared *bls12377.G1Affine) uint64 {
	buf := xorPad(c, maskChain(shared, 1)[0][:8])
	return binary.BigEndian.Uint64(buf[:8])
}

// xorPad xors two byte slices, padding the shorter one with zeros.
func xorPad(a, b []byte) []byte {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	out := make([]byte, maxLen)
	for i := 0; i < maxLen; i++ {
		var ab, bb byte
		if i < len(a) {
			ab = a[i]
		}
		if i < len(b) {
			bb = b[i]
		}
		out[i] = ab ^ bb
	}
	return out
}
