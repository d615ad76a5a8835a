package main

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lockup/internal/accounts"
	"lockup/internal/fhe"
	"lockup/internal/gateway"
	"lockup/internal/lockup"
	"lockup/internal/token"
)

// =============================================================================
// FULL PROTOCOL INTEGRATION TEST
// =============================================================================
//
// Exercises the complete confidential lockup protocol through its public
// surface only: proof-carrying inputs for every caller-supplied amount, the
// saturating ledger, the vesting state machine, and disclosure through the
// asynchronous reencryption gateway. The only plaintext reads happen via the
// gateway with signed authorizations.

func TestConfidentialLockupProtocol(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Groth16 setup in short mode")
	}

	// --- Infrastructure ---
	engine, err := fhe.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	ccs, err := fhe.CompileInputCircuit()
	if err != nil {
		t.Fatalf("circuit compilation failed: %v", err)
	}
	pkPath := "test_proving.key"
	vkPath := "test_verifying.key"
	pk, vk, err := fhe.SetupOrLoadKeys(ccs, pkPath, vkPath)
	if err != nil {
		t.Fatalf("SetupOrLoadKeys failed: %v", err)
	}
	defer os.Remove(pkPath)
	defer os.Remove(vkPath)

	set, err := accounts.NewSet("alice", "bob", "eve")
	if err != nil {
		t.Fatalf("NewSet failed: %v", err)
	}
	alice, bob, eve := set["alice"], set["bob"], set["eve"]

	tok := token.New(engine, tokenAddress, fhe.NewInputVerifier(engine, tokenAddress, vk))
	registry := lockup.NewRegistry(engine, tok, fhe.NewInputVerifier(engine, lockupAddress, vk), lockupAddress)
	clock := uint64(1_700_000_000)
	registry.SetClock(func() uint64 { return clock })

	gw, err := gateway.New(engine)
	if err != nil {
		t.Fatalf("gateway.New failed: %v", err)
	}
	defer gw.Close()

	// disclose reveals a handle through the gateway on behalf of viewer.
	disclose := func(viewer *accounts.Account, handle fhe.Handle) uint64 {
		t.Helper()
		eph, err := fhe.GenerateDHKeyPair()
		if err != nil {
			t.Fatalf("GenerateDHKeyPair failed: %v", err)
		}
		sig, err := gateway.SignAuthorization(viewer.Key, eph.Pk, handle, tokenAddress)
		if err != nil {
			t.Fatalf("SignAuthorization failed: %v", err)
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
			t.Fatalf("disclosure failed: %v", err)
		}
		return result.Open(eph.Sk, gw.PublicKey())
	}

	input := func(contract common.Address, account *accounts.Account, amount uint64) *fhe.EncryptedInput {
		t.Helper()
		in, err := fhe.NewEncryptor(engine.PublicKey(), contract, account.Address, ccs, pk).Encrypt(amount)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		return in
	}

	// --- Funding ---
	tok.Mint(alice.Address, 100000)
	if err := tok.Approve(alice.Address, lockupAddress, input(tokenAddress, alice, 100000)); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	// --- Stream creation debits escrow atomically ---
	id, err := registry.CreateWithDurations(alice.Address, bob.Address, 100, 1000, input(lockupAddress, alice, 1000))
	if err != nil {
		t.Fatalf("CreateWithDurations failed: %v", err)
	}
	if id != 1 {
		t.Errorf("first stream id: got %d, want 1", id)
	}
	if got := disclose(alice, tok.BalanceOf(alice.Address).Handle()); got != 99000 {
		t.Errorf("alice balance after create: got %d, want 99000", got)
	}

	// --- Before the cliff nothing vests ---
	clock += 50
	if err := registry.Withdraw(bob.Address, id, bob.Address, input(lockupAddress, bob, 100)); err != nil {
		t.Fatalf("pre-cliff withdraw errored: %v", err)
	}
	if got := disclose(bob, tok.BalanceOf(bob.Address).Handle()); got != 0 {
		t.Errorf("bob balance before cliff: got %d, want 0", got)
	}

	// --- Partial withdrawal of the vested portion ---
	clock += 400 // 350s past the cliff: vested = 1000*350/900 = 388
	if err := registry.Withdraw(bob.Address, id, bob.Address, input(lockupAddress, bob, 200)); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if got := disclose(bob, tok.BalanceOf(bob.Address).Handle()); got != 200 {
		t.Errorf("bob balance mid-stream: got %d, want 200", got)
	}

	// --- Strangers cannot move or see anything ---
	if err := registry.Withdraw(eve.Address, id, eve.Address, input(lockupAddress, eve, 1)); !errors.Is(err, lockup.ErrNotAuthorized) {
		t.Errorf("eve withdraw: expected ErrNotAuthorized, got %v", err)
	}
	{
		eph, _ := fhe.GenerateDHKeyPair()
		handle := tok.BalanceOf(alice.Address).Handle()
		sig, err := gateway.SignAuthorization(eve.Key, eph.Pk, handle, tokenAddress)
		if err != nil {
			t.Fatalf("SignAuthorization failed: %v", err)
		}
		pending := gw.Request(gateway.Request{
			Handle:    handle,
			PublicKey: eph.Pk,
			Signature: sig,
			Ledger:    tokenAddress,
			Viewer:    eve.Address,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := pending.Await(ctx); !errors.Is(err, gateway.ErrNotAllowed) {
			t.Errorf("eve disclosure: expected ErrNotAllowed, got %v", err)
		}
	}

	// --- Drain after the end time; extra withdrawal is a silent no-op ---
	clock += 1000
	if err := registry.Withdraw(bob.Address, id, bob.Address, input(lockupAddress, bob, 800)); err != nil {
		t.Fatalf("drain withdraw failed: %v", err)
	}
	if err := registry.Withdraw(bob.Address, id, bob.Address, input(lockupAddress, bob, 500)); err != nil {
		t.Fatalf("no-op withdraw errored: %v", err)
	}
	if got := disclose(bob, tok.BalanceOf(bob.Address).Handle()); got != 1000 {
		t.Errorf("bob final balance: got %d, want 1000", got)
	}

	stream, err := registry.Stream(id)
	if err != nil {
		t.Fatalf("Stream lookup failed: %v", err)
	}
	if got := disclose(bob, stream.Depleted().Handle()); got != 1 {
		t.Errorf("depleted flag: got %d, want 1", got)
	}

	// --- A second stream is canceled before vesting; full refund ---
	id2, err := registry.CreateWithDurations(alice.Address, bob.Address, 50, 500, input(lockupAddress, alice, 2000))
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	if id2 != 2 {
		t.Errorf("second stream id: got %d, want 2", id2)
	}
	if err := registry.Cancel(alice.Address, id2); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if got := disclose(alice, tok.BalanceOf(alice.Address).Handle()); got != 99000 {
		t.Errorf("alice balance after refund: got %d, want 99000", got)
	}
	if err := registry.Cancel(alice.Address, id2); !errors.Is(err, lockup.ErrNotCancelable) {
		t.Errorf("double cancel: expected ErrNotCancelable, got %v", err)
	}

	// --- Conservation across the whole run ---
	// minted = alice + bob + escrow
	aliceBal := disclose(alice, tok.BalanceOf(alice.Address).Handle())
	bobBal := disclose(bob, tok.BalanceOf(bob.Address).Handle())
	if aliceBal+bobBal != 100000 {
		t.Errorf("conservation violated: alice %d + bob %d != 100000", aliceBal, bobBal)
	}
}
