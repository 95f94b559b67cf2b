package events

import (
	"log/slog"
	"sync"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit  EventType = "block_commit"
	EventBlockDiscard EventType = "block_discard" // executed block rolled back; its events never happened
	EventTxExecuted   EventType = "tx_executed"
	EventTxFailed     EventType = "tx_failed"

	EventTokenTransfer  EventType = "token_transfer"
	EventCollectionReg  EventType = "collection_registered"
	EventNFTMinted      EventType = "nft_minted"
	EventNFTTransfer    EventType = "nft_transfer"
	EventListingCreated EventType = "listing_created"
	EventListingSold    EventType = "listing_sold"
	EventEscrowCreated  EventType = "escrow_created"
	EventEscrowAttested EventType = "escrow_delivery_attested"
	EventEscrowReleased EventType = "escrow_released"
	EventEscrowRefunded EventType = "escrow_refunded"
	EventBundleCreated  EventType = "bundle_created"
	EventBundleChild    EventType = "bundle_child_escrowed"
	EventPackCreated    EventType = "pack_created"
	EventPackSold       EventType = "pack_sold"
	EventWishlist       EventType = "wishlist_toggled"
	EventAuctionCreated EventType = "auction_created"
	EventBidPlaced      EventType = "bid_placed"
	EventAuctionEnded   EventType = "auction_ended"
	EventDisputeOpened  EventType = "dispute_opened"
	EventDisputeStaked  EventType = "dispute_staked"
	EventDisputeVoted   EventType = "dispute_voted"
	EventDisputeSettled EventType = "dispute_resolved"
	EventPaused         EventType = "paused"
	EventUnpaused       EventType = "unpaused"
	EventAdminAdded     EventType = "admin_added"
	EventAdminRemoved   EventType = "admin_removed"
	EventFeeSet         EventType = "marketplace_fee_set"
	EventFeeRecipient   EventType = "fee_recipient_set"
)

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
	logger   *slog.Logger
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{handlers: make(map[EventType][]Handler), logger: logger}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// SubscribeAll registers h for every event type.
func (e *Emitter) SubscribeAll(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously, typed
// subscribers first. A panicking handler is logged and skipped.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.handlers[ev.Type])+len(e.all))
	handlers = append(handlers, e.handlers[ev.Type]...)
	handlers = append(handlers, e.all...)
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("event handler panicked", "type", ev.Type, "panic", r)
				}
			}()
			h(ev)
		}()
	}
}
