// Package fhe implements the encrypted-value layer of the confidential lockup
// protocol.
//
// Overview:
//   - Amounts are 64-bit values stored behind opaque ciphertext handles; all
//     arithmetic (add, sub, min, select, comparisons, scalar mul/div) is
//     performed by the Engine without revealing plaintext to callers
//   - Caller-submitted values enter the system as encrypted inputs: a handle
//     plus a Groth16 zero-knowledge proof binding the value to the submitting
//     account and the target contract
//   - Disclosure of a handle's plaintext is access controlled per handle and
//     only available through the decryption oracle path
//
// Security Model:
//   - Handles are derived with MiMC; they commit to the value without exposing it
//   - Input proofs use gnark (Groth16, BW6-761) with MiMC inside the circuit;
//     the (contract, account) context is part of the public witness, so a proof
//     cannot be replayed for a different contract or submitter
//   - Input payloads are sealed to the Engine with BLS12-377 Diffie-Hellman and
//     a MiMC keystream; all randomness comes from crypto/rand
//
// Usage:
//   - Create an Engine, compile the input circuit with CompileInputCircuit,
//     and generate or load Groth16 keys with SetupOrLoadKeys
//   - Clients build inputs with an Encryptor; contracts accept them through an
//     InputVerifier bound to their own address
package fhe
