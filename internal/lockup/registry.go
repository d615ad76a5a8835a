// registry.go - Stream registry and lockup state machine.
//
// The registry owns all streams and orchestrates create/withdraw/cancel by
// combining the vesting calculator with the confidential token ledger. Every
// mutating operation holds the registry lock for its full duration: atomic,
// serialized, all-or-nothing.

package lockup

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lockup/internal/fhe"
	"lockup/internal/token"
)

var (
	// ErrInvalidDuration is returned when total = 0 or cliff > total.
	ErrInvalidDuration = errors.New("invalid stream duration")
	// ErrZeroRecipient is returned when a stream targets the zero account.
	ErrZeroRecipient = errors.New("stream recipient is the zero account")
	// ErrNotAuthorized is returned when the caller is not the stream party
	// entitled to the operation.
	ErrNotAuthorized = errors.New("caller not authorized for stream")
	// ErrNotCancelable is returned when canceling a non-active stream.
	ErrNotCancelable = errors.New("stream is not cancelable")
	// ErrUnknownStream is returned for ids that were never assigned.
	ErrUnknownStream = errors.New("unknown stream id")
)

// Registry is the confidential lockup engine. It holds escrowed deposits in
// its own ledger account and tracks every stream ever created.
type Registry struct {
	mu       sync.Mutex
	engine   *fhe.Engine
	token    *token.ConfidentialToken
	verifier *fhe.InputVerifier
	address  common.Address
	streams  map[uint64]*Stream
	nextID   uint64
	now      func() uint64
}

// NewRegistry creates a registry holding escrow at address on the given
// ledger. verifier must be an fhe.InputVerifier bound to the same address.
// The clock defaults to wall time; tests inject their own with SetClock.
func NewRegistry(engine *fhe.Engine, tok *token.ConfidentialToken, verifier *fhe.InputVerifier, address common.Address) *Registry {
	return &Registry{
		engine:   engine,
		token:    tok,
		verifier: verifier,
		address:  address,
		streams:  make(map[uint64]*Stream),
		nextID:   1,
		now:      func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetClock replaces the registry's time source. Configuration is explicit
// here; nothing reads ambient shared state.
func (r *Registry) SetClock(now func() uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Address returns the registry's escrow account identity.
func (r *Registry) Address() common.Address { return r.address }

// Count returns the number of streams ever created.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// Stream returns a snapshot of the stream with the given id.
func (r *Registry) Stream(id uint64) (Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[id]
	if !ok {
		return Stream{}, fmt.Errorf("%w: %d", ErrUnknownStream, id)
	}
	return *s, nil
}

// CreateWithDurations verifies the encrypted deposit for (registry, sender),
// escrows it from the sender's ledger balance, and creates an active stream
// starting now. The recorded deposit is the amount actually escrowed; if the
// sender's balance or allowance fell short, the clamped transfer result is
// what the stream will ever vest.
func (r *Registry) CreateWithDurations(sender, recipient common.Address, cliff, total uint64, input *fhe.EncryptedInput) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if total == 0 || cliff > total {
		return 0, fmt.Errorf("%w: cliff=%d total=%d", ErrInvalidDuration, cliff, total)
	}
	if recipient == (common.Address{}) {
		return 0, ErrZeroRecipient
	}

	requested, err := r.verifier.Verify(input, sender)
	if err != nil {
		return 0, err
	}
	escrowed := r.token.TransferFrom(r.address, sender, r.address, requested)

	id := r.nextID
	r.nextID++
	zero := r.engine.TrivialEncrypt(0)
	s := &Stream{
		ID:              id,
		Sender:          sender,
		Recipient:       recipient,
		Token:           r.token.Address(),
		DepositAmount:   escrowed,
		WithdrawnAmount: zero,
		StartTime:       r.now(),
		CliffDuration:   cliff,
		TotalDuration:   total,
		Status:          StatusActive,
		depleted:        r.engine.Eq(zero, escrowed),
	}
	r.allowParties(s, s.DepositAmount, s.WithdrawnAmount, s.depleted)
	r.streams[id] = s
	return id, nil
}

// Withdraw moves min(requested, vested - withdrawn) from escrow to the
// recipient. Only the recipient may withdraw, and only to themselves.
// Withdrawing when nothing is available moves nothing and is not an error.
func (r *Registry) Withdraw(caller common.Address, id uint64, to common.Address, input *fhe.EncryptedInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownStream, id)
	}
	if caller != s.Recipient || to != s.Recipient {
		return fmt.Errorf("%w: withdraw is recipient-only", ErrNotAuthorized)
	}

	requested, err := r.verifier.Verify(input, caller)
	if err != nil {
		return err
	}

	ceiling := r.vestingCeiling(s)
	withdrawable := r.engine.Sub(ceiling, s.WithdrawnAmount)
	applied := r.engine.Min(requested, withdrawable)

	r.token.Transfer(r.address, to, applied)
	s.WithdrawnAmount = r.engine.Add(s.WithdrawnAmount, applied)
	s.depleted = r.engine.Eq(s.WithdrawnAmount, s.DepositAmount)
	r.allowParties(s, s.WithdrawnAmount, s.depleted)
	return nil
}

// Cancel refunds the unvested remainder to the sender and freezes vesting at
// the cancellation instant. The vested-but-unwithdrawn portion stays
// claimable by the recipient through Withdraw. Only the sender may cancel,
// and only once.
func (r *Registry) Cancel(caller common.Address, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownStream, id)
	}
	if caller != s.Sender {
		return fmt.Errorf("%w: cancel is sender-only", ErrNotAuthorized)
	}
	if s.Status != StatusActive {
		return fmt.Errorf("%w: status %s", ErrNotCancelable, s.Status)
	}

	now := r.now()
	vested := VestedAmount(r.engine, s.DepositAmount, s.StartTime, s.CliffDuration, s.TotalDuration, now)
	refund := r.engine.Sub(s.DepositAmount, vested)
	r.token.Transfer(r.address, s.Sender, refund)

	s.Status = StatusCanceled
	s.canceledTime = now
	s.vestedAtCancel = vested
	r.allowParties(s, vested, refund)
	return nil
}

// vestingCeiling is the amount vesting has released so far: frozen at the
// cancel instant for canceled streams, live otherwise. Caller holds the lock.
func (r *Registry) vestingCeiling(s *Stream) fhe.Ciphertext {
	if s.Status == StatusCanceled {
		return s.vestedAtCancel
	}
	return VestedAmount(r.engine, s.DepositAmount, s.StartTime, s.CliffDuration, s.TotalDuration, r.now())
}

// allowParties grants both stream parties disclosure rights on the handles.
func (r *Registry) allowParties(s *Stream, cts ...fhe.Ciphertext) {
	for _, ct := range cts {
		r.engine.Allow(ct, s.Sender)
		r.engine.Allow(ct, s.Recipient)
	}
}
