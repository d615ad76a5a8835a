// Package lockup implements the confidential linear-vesting stream registry.
//
// A stream escrows an encrypted deposit from a sender to a recipient and
// releases it linearly between a cliff and an end time. Withdrawals and
// cancellations move encrypted sub-amounts through the confidential token
// ledger; no plaintext amount ever appears in the registry.
//
// Depletion (withdrawn == deposit) is an encrypted predicate. The plaintext
// Status only distinguishes Active from Canceled; each stream carries an
// encrypted depleted flag that is refreshed on every withdrawal and can be
// materialized through the reencryption gateway. Because all movements
// saturate, a depleted stream's further withdrawals are natural no-ops.
package lockup
