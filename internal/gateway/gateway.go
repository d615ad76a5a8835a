// Package gateway implements the asynchronous reencryption oracle.
//
// Disclosure is decoupled from stream and ledger state: a viewer submits a
// handle, an ephemeral public key and a signed authorization; the oracle
// validates the signature and the handle ACL, decrypts, and returns the value
// masked under the viewer's ephemeral key. Requests are fire-and-forget with
// eventual delivery; there is no cancellation of an in-flight decryption.
package gateway

import (
	"context"
	"errors"
	"fmt"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	bls12377_fr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/ethereum/go-ethereum/common"

	"lockup/internal/fhe"
)

var (
	// ErrBadSignature is returned when the authorization signature does not
	// recover to the requesting viewer.
	ErrBadSignature = errors.New("authorization signature does not match viewer")
	// ErrNotAllowed is returned when the viewer has no disclosure rights on
	// the requested handle.
	ErrNotAllowed = errors.New("viewer not allowed for handle")
	// ErrClosed is returned for requests submitted after Close.
	ErrClosed = errors.New("gateway closed")
)

// Request is a disclosure request for one ciphertext handle.
type Request struct {
	Handle    fhe.Handle
	PublicKey *bls12377.G1Affine // viewer's ephemeral DH public key
	Signature []byte             // over AuthorizationDigest(PublicKey, Handle, Ledger)
	Ledger    common.Address
	Viewer    common.Address
}

// Reencrypted is the oracle's answer: the plaintext masked under the shared
// key between the gateway and the viewer's ephemeral keypair.
type Reencrypted struct {
	Ciphertext []byte
}

// Open unmasks the value with the viewer's ephemeral secret and the gateway's
// public key.
func (r Reencrypted) Open(sk *bls12377_fr.Element, gatewayPk *bls12377.G1Affine) uint64 {
	shared := fhe.ComputeDHShared(sk, gatewayPk)
	return fhe.DecryptUint64WithSharedKey(r.Ciphertext, shared)
}

type outcome struct {
	result Reencrypted
	err    error
}

// Pending is the future-like handle for an in-flight disclosure request.
type Pending struct {
	ch chan outcome
}

// Await blocks until the oracle responds or ctx expires. Abandoning the wait
// does not cancel the request; the oracle has no cancellation primitive.
func (p *Pending) Await(ctx context.Context) (Reencrypted, error) {
	select {
	case out := <-p.ch:
		return out.result, out.err
	case <-ctx.Done():
		return Reencrypted{}, ctx.Err()
	}
}

type job struct {
	req     Request
	pending *Pending
}

// Gateway is the off-path decryption oracle. It never mutates ledger or
// stream state; rejected requests surface only through the returned future.
type Gateway struct {
	engine *fhe.Engine
	keys   *fhe.DHKeyPair
	queue  chan job
	done   chan struct{}
}

// New creates a gateway over the engine and starts its worker.
func New(engine *fhe.Engine) (*Gateway, error) {
	keys, err := fhe.GenerateDHKeyPair()
	if err != nil {
		return nil, fmt.Errorf("gateway keypair generation failed: %w", err)
	}
	g := &Gateway{
		engine: engine,
		keys:   keys,
		queue:  make(chan job, 64),
		done:   make(chan struct{}),
	}
	go g.run()
	return g, nil
}

// PublicKey returns the gateway's DH public key; viewers need it to open
// reencrypted results.
func (g *Gateway) PublicKey() *bls12377.G1Affine { return g.keys.Pk }

// Request submits a disclosure request and returns its future. Handles are
// immutable, so the revealed value reflects the state bound to the handle at
// submission time no matter when the response arrives.
func (g *Gateway) Request(req Request) *Pending {
	p := &Pending{ch: make(chan outcome, 1)}
	select {
	case g.queue <- job{req: req, pending: p}:
	case <-g.done:
		p.ch <- outcome{err: ErrClosed}
	}
	return p
}

// Close stops the worker. In-flight requests complete; later requests fail
// with ErrClosed.
func (g *Gateway) Close() {
	close(g.done)
}

func (g *Gateway) run() {
	for {
		select {
		case j := <-g.queue:
			j.pending.ch <- g.process(j.req)
		case <-g.done:
			// Fail whatever is still queued; nothing will process it.
			for {
				select {
				case j := <-g.queue:
					j.pending.ch <- outcome{err: ErrClosed}
				default:
					return
				}
			}
		}
	}
}

// process performs validation, decryption and reencryption for one request.
func (g *Gateway) process(req Request) outcome {
	if req.PublicKey == nil {
		return outcome{err: ErrBadSignature}
	}
	digest := AuthorizationDigest(req.PublicKey, req.Handle, req.Ledger)
	signer, err := recoverSigner(digest, req.Signature)
	if err != nil || signer != req.Viewer {
		return outcome{err: ErrBadSignature}
	}
	if !g.engine.IsAllowed(req.Handle, req.Viewer) {
		return outcome{err: fmt.Errorf("%w: %s", ErrNotAllowed, req.Handle)}
	}
	value, err := g.engine.Decrypt(req.Handle)
	if err != nil {
		return outcome{err: err}
	}
	shared := fhe.ComputeDHShared(g.keys.Sk, req.PublicKey)
	return outcome{result: Reencrypted{Ciphertext: fhe.EncryptUint64WithSharedKey(value, shared)}}
}
