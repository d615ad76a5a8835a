package lockup

import "lockup/internal/fhe"

// VestedAmount maps elapsed public time to the encrypted vested portion of a
// deposit. Time is never secret, so the schedule branches on plaintext
// timestamps; the deposit stays encrypted throughout and is only touched by
// the engine's scalar multiply-divide.
//
// Semantics: zero before the cliff, the full deposit at or after the end
// instant, and floor(deposit * elapsed-past-cliff / vesting-window) in
// between. The result is monotonically non-decreasing in now and reaches
// exactly the deposit at the end instant.
func VestedAmount(e *fhe.Engine, deposit fhe.Ciphertext, start, cliff, total, now uint64) fhe.Ciphertext {
	if now < start+cliff {
		return e.TrivialEncrypt(0)
	}
	if now >= start+total {
		return deposit
	}
	// Here cliff < total, otherwise one of the branches above fired.
	return e.MulDiv(deposit, now-start-cliff, total-cliff)
}
