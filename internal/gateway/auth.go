// auth.go - Typed, domain-separated disclosure authorizations.
//
// A viewer authorizes disclosure of one specific handle to one specific
// ephemeral public key by signing a structured digest with their long-term
// credential. The digest binds (publicKey, handle, ledger), so a signature
// cannot be replayed for another handle or another ledger.

package gateway

import (
	"crypto/ecdsa"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"lockup/internal/fhe"
)

// reencryptTypeHash domain-separates disclosure signatures from any other
// message the same credential might sign.
var reencryptTypeHash = crypto.Keccak256([]byte("Reencrypt(bytes publicKey,bytes32 handle,address ledger)"))

// AuthorizationDigest computes the signing digest for a disclosure request.
func AuthorizationDigest(publicKey *bls12377.G1Affine, handle fhe.Handle, ledger common.Address) []byte {
	pk := publicKey.Bytes()
	return crypto.Keccak256(reencryptTypeHash, pk[:], []byte(handle), ledger.Bytes())
}

// SignAuthorization signs the disclosure digest with the viewer's long-term
// key. The returned signature is in the 65-byte [R || S || V] format.
func SignAuthorization(key *ecdsa.PrivateKey, publicKey *bls12377.G1Affine, handle fhe.Handle, ledger common.Address) ([]byte, error) {
	return crypto.Sign(AuthorizationDigest(publicKey, handle, ledger), key)
}

// recoverSigner recovers the account that signed the disclosure digest.
func recoverSigner(digest, sig []byte) (common.Address, error) {
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
