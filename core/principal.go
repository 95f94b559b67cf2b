package core

import "github.com/tolelom/tolmart/crypto"

// ValidatePrincipal checks that p is a canonical (lowercase) hex ed25519
// public key. field names the offending argument in the error.
func ValidatePrincipal(field, p string) error {
	pub, err := crypto.PubKeyFromHex(p)
	if err != nil {
		return Errorf(ErrInvalidParameters, "%s: %v", field, err)
	}
	if pub.Hex() != p {
		return Errorf(ErrInvalidParameters, "%s: principal must be lowercase hex", field)
	}
	return nil
}
