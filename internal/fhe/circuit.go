package fhe

import (
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/hash/mimc"
)

// CircuitInput proves that an encrypted input was honestly constructed for a
// specific (contract, account) context:
//
//	Handle = MiMC(Value, Salt, Contract, Account) and Value fits in 64 bits.
//
// Contract and Account are public inputs, so a proof generated for one context
// fails verification against any other.
type CircuitInput struct {
	// Public inputs
	Handle   frontend.Variable `gnark:",public"`
	Contract frontend.Variable `gnark:",public"`
	Account  frontend.Variable `gnark:",public"`

	// Private inputs
	Value frontend.Variable
	Salt  frontend.Variable
}

func (c *CircuitInput) Define(api frontend.API) error {
	// Range check: the submitted amount must be a 64-bit value.
	api.ToBinary(c.Value, 64)

	// Handle binding (handle = H(value, salt, contract, account))
	hasher, _ := mimc.NewMiMC(api)
	hasher.Write(c.Value)
	hasher.Write(c.Salt)
	hasher.Write(c.Contract)
	hasher.Write(c.Account)
	api.AssertIsEqual(c.Handle, hasher.Sum())

	return nil
}

// CompileInputCircuit compiles the input circuit on BW6-761, the curve whose
// scalar field matches the native MiMC used for handle derivation.
func CompileInputCircuit() (constraint.ConstraintSystem, error) {
	var circuit CircuitInput
	return frontend.Compile(ecc.BW6_761.ScalarField(), r1cs.NewBuilder, &circuit)
}
