// Package wallet signs marketplace transactions and stores the validator
// signing key.
package wallet

import (
	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/crypto"
)

// Wallet holds a key pair and provides transaction-building helpers.
// It tracks the next nonce locally; call SetNonce to resync with the chain.
type Wallet struct {
	priv    crypto.PrivateKey
	pub     crypto.PublicKey
	chainID string
	nonce   uint64
}

// New creates a Wallet for chainID from an existing private key.
func New(chainID string, priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public(), chainID: chainID}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate(chainID string) (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(chainID, priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key (the principal).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Nonce is the nonce the next transaction will use.
func (w *Wallet) Nonce() uint64 { return w.nonce }

// Rewind gives back the last nonce. Failed transactions leave the account
// nonce untouched, so the next transaction must reuse it.
func (w *Wallet) Rewind() {
	if w.nonce > 0 {
		w.nonce--
	}
}

// SetNonce overrides the local nonce counter.
func (w *Wallet) SetNonce(n uint64) { w.nonce = n }

// NewTx creates a signed zero-fee transaction at the next nonce and
// advances the counter.
func (w *Wallet) NewTx(typ core.TxType, payload any) (*core.Transaction, error) {
	return w.NewTxWithFee(typ, 0, payload)
}

// NewTxWithFee is NewTx with an explicit fee.
func (w *Wallet) NewTxWithFee(typ core.TxType, fee uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(w.chainID, typ, w.pub.Hex(), w.nonce, fee, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	w.nonce++
	return tx, nil
}

// Transfer creates a signed transfer transaction.
func (w *Wallet) Transfer(to string, amount uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxTransfer, core.TransferPayload{To: to, Amount: amount})
}

// CreateListing creates a signed create_listing transaction.
func (w *Wallet) CreateListing(p core.CreateListingPayload) (*core.Transaction, error) {
	return w.NewTx(core.TxCreateListing, p)
}

// BuyListing creates a signed direct-purchase transaction.
func (w *Wallet) BuyListing(id uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxBuyListing, core.ListingPayload{ListingID: id})
}

// BuyListingEscrow creates a signed escrowed-purchase transaction.
func (w *Wallet) BuyListingEscrow(id uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxBuyListingEscrow, core.ListingPayload{ListingID: id})
}
