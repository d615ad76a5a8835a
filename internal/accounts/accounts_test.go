package accounts

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestNewSet(t *testing.T) {
	set, err := NewSet("alice", "bob")
	if err != nil {
		t.Fatalf("NewSet failed: %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("set size: got %d, want 2", len(set))
	}
	for _, name := range []string{"alice", "bob"} {
		a := set[name]
		if a == nil {
			t.Fatalf("missing account %q", name)
		}
		if a.Name != name {
			t.Errorf("account name: got %q, want %q", a.Name, name)
		}
		if got := crypto.PubkeyToAddress(a.Key.PublicKey); got != a.Address {
			t.Errorf("address of %q does not match its key", name)
		}
	}
	if set["alice"].Address == set["bob"].Address {
		t.Error("accounts share an address")
	}
}
