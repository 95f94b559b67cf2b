package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/internal/logging"
	"github.com/tolelom/tolmart/journal"
)

//go:generate mockgen -destination=mocks/mocks.go -package=mocks github.com/tolelom/tolmart/rpc Chain,TxPool,EventLog

// Ledger gives read access to committed state.
type Ledger interface {
	View(fn func(st core.State) error) error
}

// Chain is the block log as seen by RPC clients.
type Chain interface {
	Height() int64
	Tip() *core.Block
	GetBlock(hash string) (*core.Block, error)
	GetBlockByHeight(height int64) (*core.Block, error)
}

// TxPool accepts signed transactions for the next block.
type TxPool interface {
	Add(tx *core.Transaction) error
	Size() int
}

// EventLog is the journal of committed events and receipts.
type EventLog interface {
	Events(afterSeq uint64, limit int) ([]journal.Entry, error)
	Receipt(txID string) (*core.Receipt, error)
}

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	ledger  Ledger
	chain   Chain
	pool    TxPool
	log     EventLog
	chainID string // expected chain_id; used to reject cross-chain replay transactions
	logger  *slog.Logger
}

// NewHandler creates an RPC Handler.
func NewHandler(ledger Ledger, chain Chain, pool TxPool, log EventLog, chainID string, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, chain: chain, pool: pool, log: log, chainID: chainID, logger: logger}
}

type method func(h *Handler, params json.RawMessage) (any, error)

var methods = map[string]method{
	"getListing":            (*Handler).getListing,
	"getActiveListings":     (*Handler).getActiveListings,
	"getEscrowStatus":       (*Handler).getEscrowStatus,
	"getBundle":             (*Handler).getBundle,
	"getPack":               (*Handler).getPack,
	"getAuction":            (*Handler).getAuction,
	"getDispute":            (*Handler).getDispute,
	"getDisputeStakes":      (*Handler).getDisputeStakes,
	"getStake":              (*Handler).getStake,
	"getSellerReputation":   (*Handler).getSellerReputation,
	"getBuyerReputation":    (*Handler).getBuyerReputation,
	"getWishlist":           (*Handler).getWishlist,
	"getPriceHistory":       (*Handler).getPriceHistory,
	"getTransactionHistory": (*Handler).getTransactionHistory,
	"getTransactionCount":   (*Handler).getTransactionCount,
	"getMarketplaceFee":     (*Handler).getMarketplaceFee,
	"isPaused":              (*Handler).isPaused,
	"getAdmins":             (*Handler).getAdmins,
	"getBalance":            (*Handler).getBalance,
	"getNFT":                (*Handler).getNFT,
	"getBlockHeight":        (*Handler).getBlockHeight,
	"getBlock":              (*Handler).getBlock,
	"getReceipt":            (*Handler).getReceipt,
	"getEvents":             (*Handler).getEvents,
	"getMempoolSize":        (*Handler).getMempoolSize,
	"sendTx":                (*Handler).sendTx,
}

// IsWrite reports whether the method mutates node state and therefore
// requires authorization.
func IsWrite(name string) bool { return name == "sendTx" }

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(ctx context.Context, req Request) Response {
	m, ok := methods[req.Method]
	if !ok {
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
	result, err := m(h, req.Params)
	if err != nil {
		logging.L(ctx, h.logger).Debug("rpc call failed", "method", req.Method, "code", core.CodeOf(err), "err", err)
		return ledgerResponse(req.ID, err)
	}
	return okResponse(req.ID, result)
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return core.Errorf(core.ErrInvalidParameters, "params are required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return core.Errorf(core.ErrInvalidParameters, "params: %v", err)
	}
	return nil
}

type idParams struct {
	ID uint64 `json:"id"`
}

type principalParams struct {
	Principal string `json:"principal"`
}

func (p principalParams) validate() error {
	if p.Principal == "" {
		return core.Errorf(core.ErrInvalidParameters, "principal is required")
	}
	return nil
}

type pageParams struct {
	After uint64 `json:"after"`
	Limit int    `json:"limit"`
}

func (p pageParams) limit() int {
	switch {
	case p.Limit <= 0:
		return defaultPageSize
	case p.Limit > maxPageSize:
		return maxPageSize
	}
	return p.Limit
}

// byID decodes an {"id": n} request and reads one record under the ledger
// view.
func byID[T any](h *Handler, raw json.RawMessage, get func(st core.State, id uint64) (T, error)) (any, error) {
	var p idParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	var out T
	err := h.ledger.View(func(st core.State) error {
		var err error
		out, err = get(st, p.ID)
		return err
	})
	return out, err
}

// ---- marketplace records ----

func (h *Handler) getListing(raw json.RawMessage) (any, error) {
	return byID(h, raw, core.State.GetListing)
}

// ActiveListings is one page of getActiveListings. Next is the cursor for
// the following page, zero when exhausted.
type ActiveListings struct {
	Listings []*core.Listing `json:"listings"`
	Next     uint64          `json:"next"`
}

func (h *Handler) getActiveListings(raw json.RawMessage) (any, error) {
	var p pageParams
	if len(raw) > 0 {
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
	}
	limit := p.limit()
	page := ActiveListings{Listings: []*core.Listing{}}
	err := h.ledger.View(func(st core.State) error {
		ids, err := st.ListingIDs(p.After, limit)
		if err != nil {
			return err
		}
		for _, id := range ids {
			l, err := st.GetListing(id)
			if err != nil {
				return err
			}
			page.Listings = append(page.Listings, l)
		}
		if len(ids) == limit {
			page.Next = ids[len(ids)-1]
		}
		return nil
	})
	return page, err
}

func (h *Handler) getEscrowStatus(raw json.RawMessage) (any, error) {
	return byID(h, raw, core.State.GetEscrow)
}

func (h *Handler) getBundle(raw json.RawMessage) (any, error) {
	return byID(h, raw, core.State.GetBundle)
}

func (h *Handler) getPack(raw json.RawMessage) (any, error) {
	return byID(h, raw, core.State.GetPack)
}

func (h *Handler) getAuction(raw json.RawMessage) (any, error) {
	return byID(h, raw, core.State.GetAuction)
}

func (h *Handler) getDispute(raw json.RawMessage) (any, error) {
	return byID(h, raw, core.State.GetDispute)
}

func (h *Handler) getDisputeStakes(raw json.RawMessage) (any, error) {
	return byID(h, raw, func(st core.State, id uint64) ([]*core.Stake, error) {
		d, err := st.GetDispute(id)
		if err != nil {
			return nil, err
		}
		stakes := make([]*core.Stake, 0, len(d.Stakers))
		for _, who := range d.Stakers {
			s, err := st.GetStake(id, who)
			if err != nil {
				return nil, err
			}
			stakes = append(stakes, s)
		}
		return stakes, nil
	})
}

func (h *Handler) getStake(raw json.RawMessage) (any, error) {
	var p struct {
		DisputeID uint64 `json:"dispute_id"`
		Staker    string `json:"staker"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	var s *core.Stake
	err := h.ledger.View(func(st core.State) error {
		var err error
		s, err = st.GetStake(p.DisputeID, p.Staker)
		return err
	})
	return s, err
}

// ---- reputation, history and wishlist ----

func (h *Handler) reputation(raw json.RawMessage, role core.Role) (any, error) {
	var p principalParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	var r *core.Reputation
	err := h.ledger.View(func(st core.State) error {
		var err error
		r, err = st.GetReputation(p.Principal, role)
		return err
	})
	return r, err
}

func (h *Handler) getSellerReputation(raw json.RawMessage) (any, error) {
	return h.reputation(raw, core.RoleSeller)
}

func (h *Handler) getBuyerReputation(raw json.RawMessage) (any, error) {
	return h.reputation(raw, core.RoleBuyer)
}

func (h *Handler) getWishlist(raw json.RawMessage) (any, error) {
	var p principalParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	ids := []uint64{}
	err := h.ledger.View(func(st core.State) error {
		got, err := st.GetWishlist(p.Principal)
		ids = append(ids, got...)
		return err
	})
	return ids, err
}

func (h *Handler) getPriceHistory(raw json.RawMessage) (any, error) {
	var p struct {
		ListingID uint64 `json:"listing_id"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	var entries []core.PriceEntry
	err := h.ledger.View(func(st core.State) error {
		var err error
		entries, err = st.GetPriceHistory(p.ListingID)
		return err
	})
	if err != nil {
		return nil, err
	}
	// every listing records a "listed" entry, so none means it never existed
	if len(entries) == 0 {
		return nil, core.Errorf(core.ErrNotFound, "no price history for listing %d", p.ListingID)
	}
	return entries, nil
}

// History is one page of a principal's settlement history.
type History struct {
	Total   uint64               `json:"total"`
	Entries []*core.HistoryEntry `json:"entries"`
}

func (h *Handler) getTransactionHistory(raw json.RawMessage) (any, error) {
	var p struct {
		principalParams
		Offset uint64 `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	limit := pageParams{Limit: p.Limit}.limit()
	out := History{Entries: []*core.HistoryEntry{}}
	err := h.ledger.View(func(st core.State) error {
		n, err := st.HistoryCount(p.Principal)
		if err != nil {
			return err
		}
		out.Total = n
		for i := p.Offset; i < n && len(out.Entries) < limit; i++ {
			e, err := st.GetHistory(p.Principal, i)
			if err != nil {
				return err
			}
			out.Entries = append(out.Entries, e)
		}
		return nil
	})
	return out, err
}

func (h *Handler) getTransactionCount(raw json.RawMessage) (any, error) {
	var p principalParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	var n uint64
	err := h.ledger.View(func(st core.State) error {
		var err error
		n, err = st.HistoryCount(p.Principal)
		return err
	})
	return n, err
}

// ---- administration ----

func (h *Handler) admin() (*core.AdminState, error) {
	var a *core.AdminState
	err := h.ledger.View(func(st core.State) error {
		var err error
		a, err = st.GetAdmin()
		return err
	})
	return a, err
}

func (h *Handler) getMarketplaceFee(json.RawMessage) (any, error) {
	a, err := h.admin()
	if err != nil {
		return nil, err
	}
	return map[string]any{"fee_bips": a.FeeBips, "fee_recipient": a.FeeRecipient}, nil
}

func (h *Handler) isPaused(json.RawMessage) (any, error) {
	a, err := h.admin()
	if err != nil {
		return nil, err
	}
	return a.Paused, nil
}

func (h *Handler) getAdmins(json.RawMessage) (any, error) {
	a, err := h.admin()
	if err != nil {
		return nil, err
	}
	return append([]string{}, a.Admins...), nil
}

// ---- accounts and NFTs ----

func (h *Handler) getBalance(raw json.RawMessage) (any, error) {
	var p struct {
		Address string `json:"address"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Address == "" {
		return nil, core.Errorf(core.ErrInvalidParameters, "address is required")
	}
	var acc *core.Account
	err := h.ledger.View(func(st core.State) error {
		var err error
		acc, err = st.GetAccount(p.Address)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"address": p.Address, "balance": acc.Balance, "nonce": acc.Nonce}, nil
}

func (h *Handler) getNFT(raw json.RawMessage) (any, error) {
	var ref core.NFTRef
	if err := decodeParams(raw, &ref); err != nil {
		return nil, err
	}
	var n *core.NFT
	err := h.ledger.View(func(st core.State) error {
		var err error
		n, err = st.GetNFT(ref)
		return err
	})
	return n, err
}

// ---- chain ----

func (h *Handler) getBlockHeight(json.RawMessage) (any, error) {
	return h.chain.Height(), nil
}

func (h *Handler) getBlock(raw json.RawMessage) (any, error) {
	var p struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if len(raw) > 0 {
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
	}

	var block *core.Block
	var err error
	switch {
	case p.Hash != "":
		block, err = h.chain.GetBlock(p.Hash)
	case p.Height != nil:
		block, err = h.chain.GetBlockByHeight(*p.Height)
	default:
		block = h.chain.Tip()
	}
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, core.Errorf(core.ErrNotFound, "no block found")
	}
	return block, nil
}

func (h *Handler) getReceipt(raw json.RawMessage) (any, error) {
	var p struct {
		TxID string `json:"tx_id"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.TxID == "" {
		return nil, core.Errorf(core.ErrInvalidParameters, "tx_id is required")
	}
	return h.log.Receipt(p.TxID)
}

// EventPage is one page of getEvents.
type EventPage struct {
	Events []journal.Entry `json:"events"`
	Next   uint64          `json:"next"`
}

func (h *Handler) getEvents(raw json.RawMessage) (any, error) {
	var p pageParams
	if len(raw) > 0 {
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
	}
	entries, err := h.log.Events(p.After, p.limit())
	if err != nil {
		return nil, err
	}
	page := EventPage{Events: []journal.Entry{}, Next: p.After}
	page.Events = append(page.Events, entries...)
	if n := len(entries); n > 0 {
		page.Next = entries[n-1].Seq
	}
	return page, nil
}

func (h *Handler) getMempoolSize(json.RawMessage) (any, error) {
	return h.pool.Size(), nil
}

func (h *Handler) sendTx(raw json.RawMessage) (any, error) {
	var tx core.Transaction
	if err := decodeParams(raw, &tx); err != nil {
		return nil, err
	}
	if tx.ChainID != h.chainID {
		return nil, core.Errorf(core.ErrInvalidParameters, "chain ID mismatch: got %q want %q", tx.ChainID, h.chainID)
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.pool.Add(&tx); err != nil {
		return nil, core.Errorf(core.ErrInvalidParameters, "%v", err)
	}
	return map[string]string{"tx_id": tx.ID}, nil
}
