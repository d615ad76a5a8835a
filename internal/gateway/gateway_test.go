package gateway

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lockup/internal/accounts"
	"lockup/internal/fhe"
	"lockup/internal/token"

	"github.com/ethereum/go-ethereum/common"
)

var ledgerAddr = common.HexToAddress("0x000000000000000000000000000000000070ce17")

type fixture struct {
	engine  *fhe.Engine
	token   *token.ConfidentialToken
	gateway *Gateway
	alice   *accounts.Account
	bob     *accounts.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	engine, err := fhe.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	set, err := accounts.NewSet("alice", "bob")
	if err != nil {
		t.Fatalf("NewSet failed: %v", err)
	}
	g, err := New(engine)
	if err != nil {
		t.Fatalf("gateway.New failed: %v", err)
	}
	t.Cleanup(g.Close)
	return &fixture{
		engine:  engine,
		token:   token.New(engine, ledgerAddr, nil),
		gateway: g,
		alice:   set["alice"],
		bob:     set["bob"],
	}
}

func (f *fixture) request(t *testing.T, viewer *accounts.Account, handle fhe.Handle) (*Pending, *fhe.DHKeyPair) {
	t.Helper()
	eph, err := fhe.GenerateDHKeyPair()
	if err != nil {
		t.Fatalf("GenerateDHKeyPair failed: %v", err)
	}
	sig, err := SignAuthorization(viewer.Key, eph.Pk, handle, ledgerAddr)
	if err != nil {
		t.Fatalf("SignAuthorization failed: %v", err)
	}
	return f.gateway.Request(Request{
		Handle:    handle,
		PublicKey: eph.Pk,
		Signature: sig,
		Ledger:    ledgerAddr,
		Viewer:    viewer.Address,
	}), eph
}

func TestDisclosureRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.token.Mint(f.alice.Address, 99000)
	handle := f.token.BalanceOf(f.alice.Address).Handle()

	pending, eph := f.request(t, f.alice, handle)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := pending.Await(ctx)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if got := result.Open(eph.Sk, f.gateway.PublicKey()); got != 99000 {
		t.Errorf("disclosed balance: got %d, want 99000", got)
	}
}

func TestDisclosureReflectsSubmissionTime(t *testing.T) {
	f := newFixture(t)
	f.token.Mint(f.alice.Address, 500)
	handle := f.token.BalanceOf(f.alice.Address).Handle()

	pending, eph := f.request(t, f.alice, handle)
	// A later state change must not affect what the request reveals:
	// handles are immutable, the new balance lives under a new handle.
	f.token.Mint(f.alice.Address, 500)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := pending.Await(ctx)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if got := result.Open(eph.Sk, f.gateway.PublicKey()); got != 500 {
		t.Errorf("disclosed balance: got %d, want 500 (as of submission)", got)
	}
}

func TestDisclosureRejectsUnauthorizedViewer(t *testing.T) {
	f := newFixture(t)
	f.token.Mint(f.alice.Address, 123)
	handle := f.token.BalanceOf(f.alice.Address).Handle()

	// bob signs honestly but holds no rights on alice's balance handle
	pending, _ := f.request(t, f.bob, handle)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := pending.Await(ctx); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("expected ErrNotAllowed, got %v", err)
	}
}

func TestDisclosureRejectsForgedSignature(t *testing.T) {
	f := newFixture(t)
	f.token.Mint(f.alice.Address, 123)
	handle := f.token.BalanceOf(f.alice.Address).Handle()

	eph, err := fhe.GenerateDHKeyPair()
	if err != nil {
		t.Fatalf("GenerateDHKeyPair failed: %v", err)
	}
	// bob signs, but the request claims to come from alice
	sig, err := SignAuthorization(f.bob.Key, eph.Pk, handle, ledgerAddr)
	if err != nil {
		t.Fatalf("SignAuthorization failed: %v", err)
	}
	pending := f.gateway.Request(Request{
		Handle:    handle,
		PublicKey: eph.Pk,
		Signature: sig,
		Ledger:    ledgerAddr,
		Viewer:    f.alice.Address,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := pending.Await(ctx); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
}

func TestSignatureBindsHandleAndLedger(t *testing.T) {
	f := newFixture(t)
	f.token.Mint(f.alice.Address, 1)
	f.token.Mint(f.bob.Address, 2)
	aliceHandle := f.token.BalanceOf(f.alice.Address).Handle()
	bobHandle := f.token.BalanceOf(f.bob.Address).Handle()

	eph, err := fhe.GenerateDHKeyPair()
	if err != nil {
		t.Fatalf("GenerateDHKeyPair failed: %v", err)
	}
	// alice's signature over her own handle, replayed for bob's handle
	sig, err := SignAuthorization(f.alice.Key, eph.Pk, aliceHandle, ledgerAddr)
	if err != nil {
		t.Fatalf("SignAuthorization failed: %v", err)
	}
	pending := f.gateway.Request(Request{
		Handle:    bobHandle,
		PublicKey: eph.Pk,
		Signature: sig,
		Ledger:    ledgerAddr,
		Viewer:    f.alice.Address,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := pending.Await(ctx); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature on handle replay, got %v", err)
	}
}

func TestServerRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.token.Mint(f.alice.Address, 4242)
	handle := f.token.BalanceOf(f.alice.Address).Handle()

	srv := httptest.NewServer(NewServer(f.gateway).Handler())
	defer srv.Close()

	eph, err := fhe.GenerateDHKeyPair()
	if err != nil {
		t.Fatalf("GenerateDHKeyPair failed: %v", err)
	}
	sig, err := SignAuthorization(f.alice.Key, eph.Pk, handle, ledgerAddr)
	if err != nil {
		t.Fatalf("SignAuthorization failed: %v", err)
	}
	ephPk := eph.Pk.Bytes()
	body, _ := json.Marshal(ReencryptRequest{
		Handle:    string(handle),
		PublicKey: hex.EncodeToString(ephPk[:]),
		Signature: hex.EncodeToString(sig),
		Ledger:    ledgerAddr.Hex(),
		Viewer:    f.alice.Address.Hex(),
	})
	resp, err := http.Post(srv.URL+"/reencrypt", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /reencrypt failed: %v", err)
	}
	defer resp.Body.Close()
	var ack ReencryptResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("decoding ack failed: %v", err)
	}

	// Poll until the oracle has served the request
	var result ResultResponse
	deadline := time.Now().Add(5 * time.Second)
	for {
		r, err := http.Get(srv.URL + "/result?id=" + ack.ID)
		if err != nil {
			t.Fatalf("GET /result failed: %v", err)
		}
		err = json.NewDecoder(r.Body).Decode(&result)
		r.Body.Close()
		if err != nil {
			t.Fatalf("decoding result failed: %v", err)
		}
		if result.Status != "pending" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("request still pending after deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if result.Status != "done" {
		t.Fatalf("result status: got %q (%s), want done", result.Status, result.Error)
	}
	ciphertext, err := hex.DecodeString(result.Ciphertext)
	if err != nil {
		t.Fatalf("decoding ciphertext failed: %v", err)
	}
	got := Reencrypted{Ciphertext: ciphertext}.Open(eph.Sk, f.gateway.PublicKey())
	if got != 4242 {
		t.Errorf("disclosed balance over HTTP: got %d, want 4242", got)
	}
}
