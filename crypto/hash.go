// Package crypto holds the ledger's signing and hashing primitives.
// Principals, validators and block proposers are all ed25519 public keys
// in lowercase hex.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash is the ledger digest: tx ids, block hashes and the tx, receipt and
// state roots are all Hash outputs, so replicas compare them as strings.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
