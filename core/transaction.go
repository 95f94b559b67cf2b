package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/tolmart/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer           TxType = "transfer"
	TxRegisterCollection TxType = "register_collection"
	TxMintNFT            TxType = "mint_nft"
	TxTransferNFT        TxType = "transfer_nft"

	TxCreateListing    TxType = "create_listing"
	TxBuyListing       TxType = "buy_listing"
	TxBuyListingEscrow TxType = "buy_listing_escrow"
	TxAttestDelivery   TxType = "attest_delivery"
	TxConfirmReceipt   TxType = "confirm_receipt"
	TxRejectDelivery   TxType = "reject_delivery"
	TxReleaseEscrow    TxType = "release_escrow"
	TxCreateBundle     TxType = "create_bundle"
	TxBuyBundle        TxType = "buy_bundle"
	TxCreatePack       TxType = "create_curated_pack"
	TxBuyPack          TxType = "buy_curated_pack"
	TxToggleWishlist   TxType = "toggle_wishlist"

	TxCreateAuction TxType = "create_auction"
	TxPlaceBid      TxType = "place_bid"
	TxEndAuction    TxType = "end_auction"

	TxCreateDispute  TxType = "create_dispute"
	TxStakeDispute   TxType = "stake_on_dispute"
	TxVoteDispute    TxType = "vote_on_dispute"
	TxResolveDispute TxType = "resolve_dispute"

	TxPause           TxType = "pause"
	TxUnpause         TxType = "unpause"
	TxAddAdmin        TxType = "add_admin"
	TxRemoveAdmin     TxType = "remove_admin"
	TxSetFee          TxType = "set_marketplace_fee"
	TxSetFeeRecipient TxType = "set_fee_recipient"
)

// Transaction is the atomic unit of work on the ledger.
// From holds the sender's full hex-encoded ed25519 public key (64 chars).
// Signature covers all fields except ID and Signature.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"` // hex-encoded ed25519 public key
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	body := signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
// The timestamp only feeds the transaction hash; no ledger state depends on it.
func NewTransaction(chainID string, typ TxType, from string, nonce, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload transfers native tokens.
type TransferPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// RegisterCollectionPayload defines a new NFT collection owned by the sender.
type RegisterCollectionPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MintNFTPayload mints a token into a collection the sender created.
type MintNFTPayload struct {
	Contract   string         `json:"contract"`
	TokenID    uint64         `json:"token_id"`
	Owner      string         `json:"owner"` // recipient pubkey hex; empty → sender
	Properties map[string]any `json:"properties,omitempty"`
}

// TransferNFTPayload moves an unlocked NFT to a new owner.
type TransferNFTPayload struct {
	NFT NFTRef `json:"nft"`
	To  string `json:"to"`
}

// CreateListingPayload lists an item, optionally backed by an NFT.
type CreateListingPayload struct {
	Price            uint64  `json:"price"`
	RoyaltyBips      uint16  `json:"royalty_bips"`
	RoyaltyRecipient string  `json:"royalty_recipient"`
	NFT              *NFTRef `json:"nft,omitempty"`
	LicenseTerms     string  `json:"license_terms,omitempty"`
}

// ListingPayload addresses a listing (buy_listing, buy_listing_escrow, toggle_wishlist).
type ListingPayload struct {
	ListingID uint64 `json:"listing_id"`
}

// EscrowPayload addresses an escrow (confirm_receipt, release_escrow).
type EscrowPayload struct {
	EscrowID uint64 `json:"escrow_id"`
}

// AttestDeliveryPayload records the seller's delivery proof.
type AttestDeliveryPayload struct {
	EscrowID     uint64 `json:"escrow_id"`
	DeliveryHash string `json:"delivery_hash"` // 32-byte hex
}

// EscrowReasonPayload carries a free-text reason (reject_delivery, create_dispute).
type EscrowReasonPayload struct {
	EscrowID uint64 `json:"escrow_id"`
	Reason   string `json:"reason"`
}

// CreateBundlePayload groups listings under a per-item discount.
type CreateBundlePayload struct {
	ListingIDs   []uint64 `json:"listing_ids"`
	DiscountBips uint16   `json:"discount_bips"`
}

// BundlePayload addresses a bundle.
type BundlePayload struct {
	BundleID uint64 `json:"bundle_id"`
}

// CreatePackPayload groups listings under a flat curator price.
type CreatePackPayload struct {
	ListingIDs []uint64 `json:"listing_ids"`
	Price      uint64   `json:"price"`
}

// PackPayload addresses a curated pack.
type PackPayload struct {
	PackID uint64 `json:"pack_id"`
}

// CreateAuctionPayload opens an English auction over an owned NFT.
type CreateAuctionPayload struct {
	NFT            NFTRef `json:"nft"`
	StartPrice     uint64 `json:"start_price"`
	ReservePrice   uint64 `json:"reserve_price"`
	DurationBlocks uint64 `json:"duration_blocks"`
}

// PlaceBidPayload bids on an open auction.
type PlaceBidPayload struct {
	AuctionID uint64 `json:"auction_id"`
	Amount    uint64 `json:"amount"`
}

// EndAuctionPayload settles an auction after its end block.
type EndAuctionPayload struct {
	AuctionID uint64 `json:"auction_id"`
	NFT       NFTRef `json:"nft"`
}

// StakePayload stakes on one side of a dispute.
type StakePayload struct {
	DisputeID uint64 `json:"dispute_id"`
	Amount    uint64 `json:"amount"`
	Side      Side   `json:"side"`
}

// VotePayload casts or overwrites a staker's vote.
type VotePayload struct {
	DisputeID uint64 `json:"dispute_id"`
	Side      Side   `json:"side"`
}

// DisputePayload addresses a dispute.
type DisputePayload struct {
	DisputeID uint64 `json:"dispute_id"`
}

// PrincipalPayload names a principal (add_admin, remove_admin, set_fee_recipient).
type PrincipalPayload struct {
	Principal string `json:"principal"`
}

// SetFeePayload sets the marketplace fee.
type SetFeePayload struct {
	FeeBips uint16 `json:"fee_bips"`
}
