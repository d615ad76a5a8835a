// input.go - Proof-carrying encrypted inputs.
//
// Clients build inputs with an Encryptor: the value is committed to a handle,
// proven well-formed for the (contract, account) context with Groth16, and
// sealed to the engine with BLS12-377 DH so only the engine learns it.
// Contracts accept inputs through an InputVerifier bound to their own address.

package fhe

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidProof is returned when an input proof fails verification or its
// context binding does not match the accepting contract and account.
var ErrInvalidProof = errors.New("invalid input proof")

// SealedInput carries (value, salt) masked to the engine's public key.
type SealedInput struct {
	Epk   bls12377.G1Affine // submitter's ephemeral DH public key
	Value []byte            // masked 64-bit value
	Salt  []byte            // masked salt field element
}

// EncryptedInput is a caller-submitted encrypted amount: the handle, the
// Groth16 proof of well-formedness, and the payload sealed to the engine.
type EncryptedInput struct {
	Handle Handle
	Proof  []byte
	Sealed SealedInput
}

// Encryptor builds encrypted inputs for one (contract, account) context.
type Encryptor struct {
	enginePk *bls12377.G1Affine
	contract common.Address
	account  common.Address
	ccs      constraint.ConstraintSystem
	pk       groth16.ProvingKey
}

// NewEncryptor creates an encryptor bound to the target contract and the
// submitting account. enginePk is the engine's DH public key.
func NewEncryptor(enginePk *bls12377.G1Affine, contract, account common.Address, ccs constraint.ConstraintSystem, pk groth16.ProvingKey) *Encryptor {
	return &Encryptor{
		enginePk: enginePk,
		contract: contract,
		account:  account,
		ccs:      ccs,
		pk:       pk,
	}
}

// Encrypt commits value to a fresh handle, proves the binding for this
// encryptor's context, and seals the plaintext to the engine.
func (e *Encryptor) Encrypt(value uint64) (*EncryptedInput, error) {
	salt := randomFieldElement()
	valueInt := new(big.Int).SetUint64(value)
	handleBytes := mimcSum(valueInt, salt, addressInt(e.contract), addressInt(e.account))
	handleInt := new(big.Int).SetBytes(handleBytes)

	// Build witness and prove
	witness := &CircuitInput{
		Handle:   handleInt.String(),
		Contract: addressInt(e.contract).String(),
		Account:  addressInt(e.account).String(),
		Value:    valueInt.String(),
		Salt:     salt.String(),
	}
	w, err := frontend.NewWitness(witness, ecc.BW6_761.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness creation failed: %w", err)
	}
	proof, err := groth16.Prove(e.ccs, e.pk, w)
	if err != nil {
		return nil, fmt.Errorf("proof generation failed: %w", err)
	}
	var proofBuf bytes.Buffer
	if _, err := proof.WriteTo(&proofBuf); err != nil {
		return nil, fmt.Errorf("proof marshaling failed: %w", err)
	}

	// Seal (value, salt) to the engine under an ephemeral DH key
	eph, err := GenerateDHKeyPair()
	if err != nil {
		return nil, fmt.Errorf("ephemeral keypair generation failed: %w", err)
	}
	shared := ComputeDHShared(eph.Sk, e.enginePk)
	masks := maskChain(shared, 2)
	valueBuf := make([]byte, 8)
	new(big.Int).SetUint64(value).FillBytes(valueBuf)

	return &EncryptedInput{
		Handle: Handle(hex.EncodeToString(handleBytes)),
		Proof:  proofBuf.Bytes(),
		Sealed: SealedInput{
			Epk:   *eph.Pk,
			Value: xorPad(valueBuf, masks[0][:8]),
			Salt:  xorPad(frBytes(salt), masks[1]),
		},
	}, nil
}

// InputVerifier accepts encrypted inputs on behalf of one contract.
type InputVerifier struct {
	engine   *Engine
	contract common.Address
	vk       groth16.VerifyingKey
}

// NewInputVerifier creates a verifier for inputs addressed to contract.
func NewInputVerifier(engine *Engine, contract common.Address, vk groth16.VerifyingKey) *InputVerifier {
	return &InputVerifier{engine: engine, contract: contract, vk: vk}
}

// Verify checks the proof against this contract and the submitting account,
// opens the sealed payload, recomputes the handle binding, and registers the
// value with the engine. Any failure is ErrInvalidProof with no state change.
func (v *InputVerifier) Verify(input *EncryptedInput, account common.Address) (Ciphertext, error) {
	handleBytes, err := hex.DecodeString(string(input.Handle))
	if err != nil {
		return Ciphertext{}, fmt.Errorf("%w: malformed handle", ErrInvalidProof)
	}
	handleInt := new(big.Int).SetBytes(handleBytes)

	// Step 1: Rebuild the public witness for this (contract, account) context
	witness := &CircuitInput{
		Handle:   handleInt.String(),
		Contract: addressInt(v.contract).String(),
		Account:  addressInt(account).String(),
	}
	w, err := frontend.NewWitness(witness, ecc.BW6_761.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return Ciphertext{}, fmt.Errorf("public witness creation failed: %w", err)
	}

	// Step 2: Unmarshal and verify the proof
	proof := groth16.NewProof(ecc.BW6_761)
	if _, err := proof.ReadFrom(bytes.NewReader(input.Proof)); err != nil {
		return Ciphertext{}, fmt.Errorf("%w: cannot unmarshal", ErrInvalidProof)
	}
	if err := groth16.Verify(proof, v.vk, w); err != nil {
		return Ciphertext{}, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	// Step 3: Open the sealed payload and recheck the handle binding
	shared := ComputeDHShared(v.engine.dh.Sk, &input.Sealed.Epk)
	masks := maskChain(shared, 2)
	valueBuf := xorPad(input.Sealed.Value, masks[0][:8])
	value := new(big.Int).SetBytes(valueBuf)
	salt := new(big.Int).SetBytes(xorPad(input.Sealed.Salt, masks[1]))
	if !bytes.Equal(mimcSum(value, salt, addressInt(v.contract), addressInt(account)), handleBytes) {
		return Ciphertext{}, fmt.Errorf("%w: handle binding mismatch", ErrInvalidProof)
	}
	if !value.IsUint64() {
		return Ciphertext{}, fmt.Errorf("%w: value out of range", ErrInvalidProof)
	}

	ct, err := v.engine.register(input.Handle, value.Uint64())
	if err != nil {
		return Ciphertext{}, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return ct, nil
}

// addressInt maps a 20-byte account address into the scalar field.
func addressInt(a common.Address) *big.Int {
	return new(big.Int).SetBytes(a.Bytes())
}
