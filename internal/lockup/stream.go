package lockup

import (
	"github.com/ethereum/go-ethereum/common"

	"lockup/internal/fhe"
)

// Status is the plaintext lifecycle state of a stream. Depletion is
// deliberately not represented here; it is an encrypted flag (see Stream).
type Status uint8

const (
	StatusActive Status = iota + 1
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Stream is a single sender-to-recipient vesting schedule instance. Streams
// are identified by a monotonically assigned id (first stream = 1, never
// reused) and are never deleted; canceled and depleted streams remain
// queryable.
type Stream struct {
	ID        uint64
	Sender    common.Address
	Recipient common.Address
	Token     common.Address

	// DepositAmount is fixed at creation and records the amount actually
	// escrowed. WithdrawnAmount starts at encrypted zero and only grows.
	DepositAmount   fhe.Ciphertext
	WithdrawnAmount fhe.Ciphertext

	StartTime     uint64
	CliffDuration uint64
	TotalDuration uint64

	Status Status

	// canceledTime pins the vesting ceiling of a canceled stream;
	// vestedAtCancel is that ceiling, claimable by the recipient.
	canceledTime   uint64
	vestedAtCancel fhe.Ciphertext

	// depleted is the encrypted predicate withdrawn == deposit.
	depleted fhe.Ciphertext
}

// CliffTime is the instant before which nothing is redeemable.
func (s *Stream) CliffTime() uint64 { return s.StartTime + s.CliffDuration }

// EndTime is the instant at which the full deposit has vested.
func (s *Stream) EndTime() uint64 { return s.StartTime + s.TotalDuration }

// Depleted returns the encrypted withdrawn-equals-deposit flag. Its plaintext
// is only observable through the reencryption gateway.
func (s *Stream) Depleted() fhe.Ciphertext { return s.depleted }

// CanceledTime returns the cancellation instant, zero for active streams.
func (s *Stream) CanceledTime() uint64 { return s.canceledTime }
