// main.go - End-to-end confidential lockup walkthrough.
//
// This demonstrates the complete lifecycle of a confidential vesting stream:
//   - Alice mints and approves confidential funds on the token ledger
//   - Alice opens a 1000-unit stream to Bob (100s cliff, 1000s total)
//   - Time is advanced through a manual clock to show the vesting curve
//   - Bob withdraws partially, then drains the stream after the end time
//   - Balances are disclosed through the reencryption gateway, never by
//     reading the ledger directly
//
// Usage:
//   go run main.go
//
// Architecture:
//   - All amounts live behind ciphertext handles in the homomorphic engine
//   - Every caller-supplied amount arrives as a proof-carrying encrypted input
//   - The gateway is the only path from a handle to a plaintext

package main

import (
	"context"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lockup/internal/accounts"
	"lockup/internal/fhe"
	"lockup/internal/gateway"
	"lockup/internal/lockup"
	"lockup/internal/token"
)

var (
	tokenAddress  = common.HexToAddress("0x000000000000000000000000000000000070ce17")
	lockupAddress = common.HexToAddress("0x00000000000000000000000000000000006c0c55")
)

func main() {
	log.Println("=== Setup Phase ===")

	engine, err := fhe.NewEngine()
	if err != nil {
		log.Fatalf("engine setup failed: %v", err)
	}

	log.Println("Compiling input circuit and generating Groth16 keys...")
	ccs, err := fhe.CompileInputCircuit()
	if err != nil {
		log.Fatalf("circuit compilation failed: %v", err)
	}
	pk, vk, err := fhe.SetupOrLoadKeys(ccs, "input_proving.key", "input_verifying.key")
	if err != nil {
		log.Fatalf("Groth16 key setup failed: %v", err)
	}

	set, err := accounts.NewSet("alice", "bob")
	if err != nil {
		log.Fatalf("account setup failed: %v", err)
	}
	alice, bob := set["alice"], set["bob"]

	tok := token.New(engine, tokenAddress, fhe.NewInputVerifier(engine, tokenAddress, vk))
	registry := lockup.NewRegistry(engine, tok, fhe.NewInputVerifier(engine, lockupAddress, vk), lockupAddress)

	// Manual clock so the walkthrough controls vesting time explicitly
	clock := uint64(1_000_000)
	registry.SetClock(func() uint64 { return clock })

	gw, err := gateway.New(engine)
	if err != nil {
		log.Fatalf("gateway setup failed: %v", err)
	}
	defer gw.Close()

	log.Println("=== Funding Phase ===")
	tok.Mint(alice.Address, 100000)
	log.Printf("Minted 100000 confidential units to alice (%s)", alice.Address.Hex())

	approval, err := fhe.NewEncryptor(engine.PublicKey(), tokenAddress, alice.Address, ccs, pk).Encrypt(100000)
	if err != nil {
		log.Fatalf("approval input failed: %v", err)
	}
	if err := tok.Approve(alice.Address, lockupAddress, approval); err != nil {
		log.Fatalf("approve failed: %v", err)
	}
	log.Println("Alice approved the lockup engine for 100000")

	log.Println("=== Stream Creation Phase ===")
	createEnc := fhe.NewEncryptor(engine.PublicKey(), lockupAddress, alice.Address, ccs, pk)
	deposit, err := createEnc.Encrypt(1000)
	if err != nil {
		log.Fatalf("deposit input failed: %v", err)
	}
	id, err := registry.CreateWithDurations(alice.Address, bob.Address, 100, 1000, deposit)
	if err != nil {
		log.Fatalf("create failed: %v", err)
	}
	log.Printf("Stream %d created: alice -> bob, deposit 1000, cliff 100s, total 1000s", id)
	log.Printf("Alice's balance now: %d", disclose(gw, alice, tok.BalanceOf(alice.Address).Handle()))

	log.Println("=== Vesting Phase ===")
	withdrawEnc := fhe.NewEncryptor(engine.PublicKey(), lockupAddress, bob.Address, ccs, pk)
	withdraw := func(amount uint64) {
		input, err := withdrawEnc.Encrypt(amount)
		if err != nil {
			log.Fatalf("withdraw input failed: %v", err)
		}
		if err := registry.Withdraw(bob.Address, id, bob.Address, input); err != nil {
			log.Fatalf("withdraw failed: %v", err)
		}
	}

	clock += 50 // before the cliff
	withdraw(100)
	log.Printf("t+50s (pre-cliff): bob withdrew, balance unchanged: %d", disclose(gw, bob, tok.BalanceOf(bob.Address).Handle()))

	clock += 400 // 350s past the cliff: 1000*350/900 vested
	withdraw(200)
	log.Printf("t+450s: bob withdrew 200 of the vested portion, balance: %d", disclose(gw, bob, tok.BalanceOf(bob.Address).Handle()))

	clock += 1000 // past the end time: everything vested
	withdraw(1000)
	log.Printf("t+1450s (past end): stream drained, bob's balance: %d", disclose(gw, bob, tok.BalanceOf(bob.Address).Handle()))

	stream, err := registry.Stream(id)
	if err != nil {
		log.Fatalf("stream lookup failed: %v", err)
	}
	log.Printf("Stream %d status=%s, depleted flag: %d", id, stream.Status, disclose(gw, bob, stream.Depleted().Handle()))

	log.Println("=== Done ===")
}

// disclose runs the asynchronous reencryption protocol for one handle and
// returns the revealed value.
func disclose(gw *gateway.Gateway, viewer *accounts.Account, handle fhe.Handle) uint64 {
	eph, err := fhe.GenerateDHKeyPair()
	if err != nil {
		log.Fatalf("ephemeral keypair failed: %v", err)
	}
	sig, err := gateway.SignAuthorization(viewer.Key, eph.Pk, handle, tokenAddress)
	if err != nil {
		log.Fatalf("authorization signing failed: %v", err)
	}
	pending := gw.Request(gateway.Request{
		Handle:    handle,
		PublicKey: eph.Pk,
		Signature: sig,
		Ledger:    tokenAddress,
		Viewer:    viewer.Address,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := pending.Await(ctx)
	if err != nil {
		log.Fatalf("disclosure failed: %v", err)
	}
	return result.Open(eph.Sk, gw.PublicKey())
}
