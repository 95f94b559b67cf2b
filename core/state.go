package core

import "fmt"

// CustodyAddress is the ledger-held account that holds escrowed funds,
// standing bids, dispute stakes and auctioned NFTs. It is not a valid
// ed25519 public key, so no transaction can ever be signed by it.
const CustodyAddress = "ledger:custody"

// BipsDenominator is 100% expressed in basis points.
const BipsDenominator = 10_000

// Account holds a participant's token balance and replay-protection nonce.
// Address is the hex-encoded ed25519 public key.
type Account struct {
	Address string `json:"address"` // pubkey hex
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// NFTRef points at a token inside an NFT collection contract.
type NFTRef struct {
	Contract string `json:"contract"`
	TokenID  uint64 `json:"token_id"`
}

// Key is the store key of the referenced NFT.
func (r NFTRef) Key() string {
	return fmt.Sprintf("%s:%d", r.Contract, r.TokenID)
}

// Collection is an NFT contract. Only its creator may mint into it.
type Collection struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Creator string `json:"creator"` // pubkey hex of registrant
}

// NFT is a single non-fungible token. LockedBy is non-empty while the token
// backs a listing or sits in auction custody.
type NFT struct {
	Contract   string         `json:"contract"`
	TokenID    uint64         `json:"token_id"`
	Owner      string         `json:"owner"`
	Properties map[string]any `json:"properties,omitempty"`
	LockedBy   string         `json:"locked_by,omitempty"`
	MintedAt   uint64         `json:"minted_at_block"`
}

// Ref returns the NFT's reference.
func (n *NFT) Ref() NFTRef { return NFTRef{Contract: n.Contract, TokenID: n.TokenID} }

// Listing is a fixed-price sale offer.
type Listing struct {
	ID               uint64  `json:"id"`
	Seller           string  `json:"seller"`
	Price            uint64  `json:"price"`
	RoyaltyBips      uint16  `json:"royalty_bips"`
	RoyaltyRecipient string  `json:"royalty_recipient"`
	NFT              *NFTRef `json:"nft,omitempty"`
	LicenseTerms     string  `json:"license_terms,omitempty"`
	CreatedAtBlock   uint64  `json:"created_at_block"`
}

// EscrowState is a node of the escrow state machine.
type EscrowState string

const (
	EscrowPending   EscrowState = "pending"
	EscrowDelivered EscrowState = "delivered"
	EscrowDisputed  EscrowState = "disputed"
	EscrowReleased  EscrowState = "released"
	EscrowRefunded  EscrowState = "refunded"
)

// Terminal reports whether no further transition is possible.
func (s EscrowState) Terminal() bool {
	return s == EscrowReleased || s == EscrowRefunded
}

// Escrow holds a buyer's locked funds for one listing. It copies the sale
// terms it needs so that it never depends on the listing still existing.
type Escrow struct {
	ListingID        uint64      `json:"listing_id"`
	Buyer            string      `json:"buyer"`
	Seller           string      `json:"seller"`
	Amount           uint64      `json:"amount"`
	RoyaltyBips      uint16      `json:"royalty_bips"`
	RoyaltyRecipient string      `json:"royalty_recipient"`
	NFT              *NFTRef     `json:"nft,omitempty"`
	BundleID         uint64      `json:"bundle_id,omitempty"`
	State            EscrowState `json:"state"`
	CreatedAtBlock   uint64      `json:"created_at_block"`
	TimeoutBlock     uint64      `json:"timeout_block"`
	DeliveryHash     string      `json:"delivery_hash,omitempty"`
	DisputeID        uint64      `json:"dispute_id,omitempty"`
}

// Bundle is a discounted group of listings bought together.
type Bundle struct {
	ID             uint64   `json:"id"`
	ListingIDs     []uint64 `json:"listing_ids"`
	DiscountBips   uint16   `json:"discount_bips"`
	Creator        string   `json:"creator"`
	CreatedAtBlock uint64   `json:"created_at_block"`
}

// CuratedPack is a flat-price list of listings whose proceeds go to the curator.
type CuratedPack struct {
	ID             uint64   `json:"id"`
	ListingIDs     []uint64 `json:"listing_ids"`
	Price          uint64   `json:"price"`
	Curator        string   `json:"curator"`
	CreatedAtBlock uint64   `json:"created_at_block"`
}

// Auction is an English auction over a single NFT held in custody.
type Auction struct {
	ID            uint64 `json:"id"`
	NFT           NFTRef `json:"nft"`
	Seller        string `json:"seller"`
	StartPrice    uint64 `json:"start_price"`
	ReservePrice  uint64 `json:"reserve_price"`
	EndBlock      uint64 `json:"end_block"`
	HighestBidder string `json:"highest_bidder,omitempty"`
	HighestBid    uint64 `json:"highest_bid"`
	Ended         bool   `json:"ended"`
}

// Side is a party of an escrow dispute.
type Side string

const (
	SideBuyer  Side = "buyer"
	SideSeller Side = "seller"
)

// Valid reports whether s names a party.
func (s Side) Valid() bool { return s == SideBuyer || s == SideSeller }

// Dispute is an arbitration case over a single escrow.
type Dispute struct {
	ID               uint64   `json:"id"`
	EscrowID         uint64   `json:"escrow_id"`
	Creator          string   `json:"creator"`
	Reason           string   `json:"reason"`
	BuyerStakeTotal  uint64   `json:"buyer_stake_total"`
	SellerStakeTotal uint64   `json:"seller_stake_total"`
	Stakers          []string `json:"stakers"` // first-stake order
	Resolved         bool     `json:"resolved"`
	Outcome          Side     `json:"outcome,omitempty"`
	CreatedAtBlock   uint64   `json:"created_at_block"`
	ResolvedAtBlock  uint64   `json:"resolved_at_block,omitempty"`
}

// Stake is one principal's economic commitment to a dispute.
type Stake struct {
	DisputeID uint64 `json:"dispute_id"`
	Staker    string `json:"staker"`
	Amount    uint64 `json:"amount"`
	Side      Side   `json:"side"`
	Vote      Side   `json:"vote,omitempty"`
}

// Role distinguishes the buyer and seller reputation counters.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Reputation counters only ever grow.
type Reputation struct {
	Principal     string `json:"principal"`
	Role          Role   `json:"role"`
	SuccessfulTxs uint64 `json:"successful_txs"`
	TotalVolume   uint64 `json:"total_volume"`
}

// AdminState is the administrative surface of the ledger.
type AdminState struct {
	Admins       []string `json:"admins"`
	Paused       bool     `json:"paused"`
	FeeBips      uint16   `json:"fee_bips"`
	FeeRecipient string   `json:"fee_recipient"`
}

// IsAdmin reports whether addr is an administrator.
func (a *AdminState) IsAdmin(addr string) bool {
	for _, x := range a.Admins {
		if x == addr {
			return true
		}
	}
	return false
}

// Params are the consensus-critical ledger constants, fixed at genesis.
type Params struct {
	EscrowTimeoutBlocks uint64 `json:"escrow_timeout_blocks"`
	ResolutionThreshold uint64 `json:"resolution_threshold"`
	MinStake            uint64 `json:"min_stake"`
	TieBreak            Side   `json:"tie_break"`
	MaxBundleSize       int    `json:"max_bundle_size"`
	MaxPackSize         int    `json:"max_pack_size"`
	MaxDiscountBips     uint16 `json:"max_discount_bips"`
	MaxRoyaltyBips      uint16 `json:"max_royalty_bips"`
	MaxWishlist         int    `json:"max_wishlist"`
}

// DefaultParams mirrors the reference deployment.
func DefaultParams() *Params {
	return &Params{
		EscrowTimeoutBlocks: 144,
		ResolutionThreshold: 5_000_000,
		MinStake:            1_000,
		TieBreak:            SideBuyer,
		MaxBundleSize:       10,
		MaxPackSize:         20,
		MaxDiscountBips:     5_000,
		MaxRoyaltyBips:      1_000,
		MaxWishlist:         100,
	}
}

// PriceEntry is one point of a listing's price history.
type PriceEntry struct {
	Price uint64 `json:"price"`
	Block uint64 `json:"block"`
	Event string `json:"event"` // "listed" | "sold"
}

// HistoryEntry is one settlement in a principal's transaction history.
type HistoryEntry struct {
	Index        uint64 `json:"index"`
	Kind         string `json:"kind"`
	RefID        uint64 `json:"ref_id"`
	Role         Role   `json:"role"`
	Counterparty string `json:"counterparty"`
	Amount       uint64 `json:"amount"`
	Block        uint64 `json:"block"`
}

// Record kinds with their own monotonic id counter.
const (
	KindListing = "listing"
	KindBundle  = "bundle"
	KindPack    = "pack"
	KindAuction = "auction"
	KindDispute = "dispute"
)

// State is the full ledger state interface. Implementations must be
// snapshot-able so the executor can roll back failed transactions.
type State interface {
	// Accounts
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// NFTs
	GetCollection(id string) (*Collection, error)
	SetCollection(c *Collection) error
	GetNFT(ref NFTRef) (*NFT, error)
	SetNFT(n *NFT) error

	// Marketplace records
	NextID(kind string) (uint64, error)
	GetListing(id uint64) (*Listing, error)
	SetListing(l *Listing) error
	DeleteListing(id uint64) error
	ListingIDs(afterID uint64, limit int) ([]uint64, error)
	GetEscrow(id uint64) (*Escrow, error)
	SetEscrow(e *Escrow) error
	GetBundle(id uint64) (*Bundle, error)
	SetBundle(b *Bundle) error
	GetPack(id uint64) (*CuratedPack, error)
	SetPack(p *CuratedPack) error
	GetAuction(id uint64) (*Auction, error)
	SetAuction(a *Auction) error
	GetDispute(id uint64) (*Dispute, error)
	SetDispute(d *Dispute) error
	GetStake(disputeID uint64, staker string) (*Stake, error)
	SetStake(s *Stake) error

	// Reputation, history and wishlist
	GetReputation(principal string, role Role) (*Reputation, error)
	SetReputation(r *Reputation) error
	GetPriceHistory(listingID uint64) ([]PriceEntry, error)
	SetPriceHistory(listingID uint64, entries []PriceEntry) error
	AppendHistory(principal string, e *HistoryEntry) error
	GetHistory(principal string, index uint64) (*HistoryEntry, error)
	HistoryCount(principal string) (uint64, error)
	GetWishlist(principal string) ([]uint64, error)
	SetWishlist(principal string, ids []uint64) error

	// Administration
	GetAdmin() (*AdminState, error)
	SetAdmin(a *AdminState) error
	GetParams() (*Params, error)
	SetParams(p *Params) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// DiscardSnapshot forgets snapshot id and every later one, keeping writes.
	DiscardSnapshot(id int)
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the block header.
	Commit() error
	// Discard drops every uncommitted write.
	Discard()
}
