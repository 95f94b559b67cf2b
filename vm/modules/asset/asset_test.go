package asset_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/events"
	"github.com/tolelom/tolmart/internal/testutil"
	"github.com/tolelom/tolmart/vm/modules/market"

	_ "github.com/tolelom/tolmart/vm/modules"
)

func TestCollectionsAndMinting(t *testing.T) {
	creator, other := testutil.NewWallet(t), testutil.NewWallet(t)
	l := testutil.NewLedger(t, testutil.Genesis(map[string]uint64{creator.PubKey(): 1_000, other.PubKey(): 1_000}))

	r := l.Submit(creator, core.TxRegisterCollection, core.RegisterCollectionPayload{ID: "a:b"})
	assert.Equal(t, core.CodeInvalidParameters, r.Code)
	l.MustSubmit(creator, core.TxRegisterCollection, core.RegisterCollectionPayload{ID: "art", Name: "Art"})
	r = l.Submit(other, core.TxRegisterCollection, core.RegisterCollectionPayload{ID: "art"})
	assert.Equal(t, core.CodeInvalidParameters, r.Code, "already registered")

	r = l.Submit(other, core.TxMintNFT, core.MintNFTPayload{Contract: "art", TokenID: 1})
	assert.Equal(t, core.CodeWrongParty, r.Code)
	r = l.Submit(creator, core.TxMintNFT, core.MintNFTPayload{Contract: "nope", TokenID: 1})
	assert.Equal(t, core.CodeNotFound, r.Code)

	l.MustSubmit(creator, core.TxMintNFT, core.MintNFTPayload{Contract: "art", TokenID: 1, Owner: other.PubKey()})
	nft, err := l.State.GetNFT(core.NFTRef{Contract: "art", TokenID: 1})
	require.NoError(t, err)
	assert.Equal(t, other.PubKey(), nft.Owner)
	assert.Equal(t, uint64(l.Height()), nft.MintedAt)

	r = l.Submit(creator, core.TxMintNFT, core.MintNFTPayload{Contract: "art", TokenID: 1})
	assert.Equal(t, core.CodeInvalidParameters, r.Code, "token ids are unique per collection")
	assert.Len(t, l.EventsOf(events.EventNFTMinted), 1)
}

func TestTransferNFT(t *testing.T) {
	owner, to := testutil.NewWallet(t), testutil.NewWallet(t)
	l := testutil.NewLedger(t, testutil.Genesis(map[string]uint64{owner.PubKey(): 1_000, to.PubKey(): 1_000}))
	ref := core.NFTRef{Contract: "art", TokenID: 7}
	l.MustSubmit(owner, core.TxRegisterCollection, core.RegisterCollectionPayload{ID: "art"})
	l.MustSubmit(owner, core.TxMintNFT, core.MintNFTPayload{Contract: "art", TokenID: 7})

	r := l.Submit(to, core.TxTransferNFT, core.TransferNFTPayload{NFT: ref, To: to.PubKey()})
	assert.Equal(t, core.CodeWrongParty, r.Code)
	r = l.Submit(owner, core.TxTransferNFT, core.TransferNFTPayload{NFT: ref, To: "not-a-key"})
	assert.Equal(t, core.CodeInvalidParameters, r.Code)

	l.MustSubmit(owner, core.TxCreateListing, core.CreateListingPayload{Price: 100, RoyaltyRecipient: owner.PubKey(), NFT: &ref})
	nft, err := l.State.GetNFT(ref)
	require.NoError(t, err)
	assert.Equal(t, market.ListingLock(1), nft.LockedBy)
	r = l.Submit(owner, core.TxTransferNFT, core.TransferNFTPayload{NFT: ref, To: to.PubKey()})
	assert.Equal(t, core.CodeInvalidParameters, r.Code, "listed tokens are locked")

	l.MustSubmit(to, core.TxBuyListing, core.ListingPayload{ListingID: 1})
	nft, err = l.State.GetNFT(ref)
	require.NoError(t, err)
	assert.Equal(t, to.PubKey(), nft.Owner)
	assert.Empty(t, nft.LockedBy)

	l.MustSubmit(to, core.TxTransferNFT, core.TransferNFTPayload{NFT: ref, To: owner.PubKey()})
	nft, err = l.State.GetNFT(ref)
	require.NoError(t, err)
	assert.Equal(t, owner.PubKey(), nft.Owner)
	assert.Len(t, l.EventsOf(events.EventNFTTransfer), 1)
}
