package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrBadSignature means a signature does not verify under the claimed key.
var ErrBadSignature = errors.New("bad signature")

// Sign signs msg (a tx or block hash) and returns the signature as hex.
func Sign(priv PrivateKey, msg []byte) string {
	return hex.EncodeToString(ed25519.Sign(ed25519.PrivateKey(priv), msg))
}

// Verify checks sigHex over msg. Malformed hex, a wrong length and a
// mismatch are all ErrBadSignature.
func Verify(pub PublicKey, msg []byte, sigHex string) error {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(sig) != ed25519.SignatureSize || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: want %d-byte signature", ErrBadSignature, ed25519.SignatureSize)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		return ErrBadSignature
	}
	return nil
}
