package consensus_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolmart/config"
	"github.com/tolelom/tolmart/consensus"
	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/crypto"
	"github.com/tolelom/tolmart/events"
	"github.com/tolelom/tolmart/internal/logging"
	"github.com/tolelom/tolmart/internal/testutil"
	"github.com/tolelom/tolmart/journal"
	"github.com/tolelom/tolmart/storage"
	"github.com/tolelom/tolmart/vm"
	"github.com/tolelom/tolmart/wallet"

	_ "github.com/tolelom/tolmart/vm/modules"
)

type node struct {
	cfg     *config.Config
	bc      *core.Blockchain
	state   *storage.StateDB
	pool    *core.Mempool
	exec    *vm.Executor
	emitter *events.Emitter
	poa     *consensus.PoA
	commits int
}

func newNode(t *testing.T, cfg *config.Config, priv crypto.PrivateKey) *node {
	t.Helper()
	n := &node{
		cfg:     cfg,
		bc:      core.NewBlockchain(testutil.NewBlockStore()),
		state:   testutil.NewStateDB(),
		pool:    core.NewMempool(cfg.Genesis.ChainID),
		emitter: events.NewEmitter(logging.Discard()),
	}
	n.emitter.Subscribe(events.EventBlockCommit, func(events.Event) { n.commits++ })
	genesis, err := config.CreateGenesisBlock(cfg, n.state, priv)
	require.NoError(t, err)
	require.NoError(t, n.bc.AddBlock(genesis))
	n.pool.TrackIncluded(n.bc)
	n.exec = vm.NewExecutor(n.state, n.emitter, logging.Discard())
	n.poa = consensus.New(cfg, n.bc, n.state, n.pool, n.exec, n.emitter, priv, logging.Discard())
	return n
}

type network struct {
	validator crypto.PrivateKey
	cfg       *config.Config
	users     []*wallet.Wallet
}

func newNetwork(t *testing.T, users int) *network {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	cfg := config.DefaultConfig()
	cfg.Validators = []string{pub.Hex()}
	cfg.Genesis.ChainID = testutil.ChainID
	cfg.Genesis.Admins = []string{pub.Hex()}

	net := &network{validator: priv, cfg: cfg}
	for i := 0; i < users; i++ {
		w := testutil.NewWallet(t)
		cfg.Genesis.Alloc[w.PubKey()] = 50_000
		net.users = append(net.users, w)
	}
	return net
}

func (n *node) submit(t *testing.T, txs ...*core.Transaction) {
	t.Helper()
	for _, tx := range txs {
		require.NoError(t, n.pool.Add(tx))
	}
}

func TestProduceAndApplyBlocks(t *testing.T) {
	net := newNetwork(t, 3)
	leader := newNode(t, net.cfg, net.validator)
	follower := newNode(t, net.cfg, net.validator)
	seller, buyer := net.users[0], net.users[1]

	assert.True(t, leader.poa.IsProposer())
	assert.Equal(t, leader.state.ComputeRoot(), follower.state.ComputeRoot(), "same genesis, same root")

	create, err := seller.CreateListing(core.CreateListingPayload{Price: 1_000, RoyaltyRecipient: net.users[2].PubKey()})
	require.NoError(t, err)
	buy, err := buyer.BuyListingEscrow(1)
	require.NoError(t, err)
	bad, err := buyer.BuyListing(77)
	require.NoError(t, err)
	leader.submit(t, create, buy, bad)

	b1, err := leader.poa.ProduceBlock()
	require.NoError(t, err)
	assert.Equal(t, int64(1), b1.Header.Height)
	require.Len(t, b1.Receipts, 3)
	assert.True(t, b1.Receipts[0].OK())
	assert.True(t, b1.Receipts[1].OK())
	assert.Equal(t, core.CodeNotFound, b1.Receipts[2].Code)
	assert.Zero(t, leader.pool.Size())
	assert.Equal(t, 1, leader.commits)

	buyer.Rewind()
	confirm, err := buyer.NewTx(core.TxConfirmReceipt, core.EscrowPayload{EscrowID: 1})
	require.NoError(t, err)
	leader.submit(t, confirm)
	b2, err := leader.poa.ProduceBlock()
	require.NoError(t, err)
	assert.Equal(t, b1.Hash, b2.Header.PrevHash)

	for _, b := range []*core.Block{b1, b2} {
		require.NoError(t, follower.poa.ApplyBlock(b))
	}
	assert.Equal(t, int64(2), follower.bc.Height())
	assert.Equal(t, b2.Header.StateRoot, follower.state.ComputeRoot())

	err = follower.poa.View(func(st core.State) error {
		e, err := st.GetEscrow(1)
		if err != nil {
			return err
		}
		assert.Equal(t, core.EscrowReleased, e.State)
		return nil
	})
	require.NoError(t, err)
}

func TestApplyBlockRejectsBadBlocks(t *testing.T) {
	net := newNetwork(t, 2)
	leader := newNode(t, net.cfg, net.validator)
	follower := newNode(t, net.cfg, net.validator)
	root := follower.state.ComputeRoot()

	tx, err := net.users[0].Transfer(net.users[1].PubKey(), 10)
	require.NoError(t, err)
	leader.submit(t, tx)
	block, err := leader.poa.ProduceBlock()
	require.NoError(t, err)

	t.Run("forged state root", func(t *testing.T) {
		forged := *block
		forged.Header.StateRoot = root
		forged.Sign(net.validator)
		assert.ErrorContains(t, follower.poa.ApplyBlock(&forged), "state root mismatch")
		assert.Equal(t, root, follower.state.ComputeRoot(), "the failed block leaves no writes")
	})

	t.Run("forged receipt root", func(t *testing.T) {
		forged := *block
		forged.Header.ReceiptRoot = core.ComputeReceiptRoot(nil)
		forged.Sign(net.validator)
		assert.ErrorContains(t, follower.poa.ApplyBlock(&forged), "receipt root mismatch")
	})

	t.Run("foreign signer", func(t *testing.T) {
		other, _, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		forged := *block
		forged.Sign(other)
		assert.Error(t, follower.poa.ApplyBlock(&forged))
	})

	t.Run("edited header", func(t *testing.T) {
		forged := *block
		forged.Header.Timestamp++
		assert.ErrorContains(t, follower.poa.ApplyBlock(&forged), "hash")
	})

	require.NoError(t, follower.poa.ApplyBlock(block))
	assert.ErrorContains(t, follower.poa.ApplyBlock(block), "prev_hash")
}

func TestRejectedBlockLeavesNoJournalEntries(t *testing.T) {
	net := newNetwork(t, 2)
	leader := newNode(t, net.cfg, net.validator)
	follower := newNode(t, net.cfg, net.validator)
	jrnl, err := journal.New(testutil.NewMemDB(), follower.emitter, logging.Discard())
	require.NoError(t, err)

	tx, err := net.users[0].Transfer(net.users[1].PubKey(), 10)
	require.NoError(t, err)
	leader.submit(t, tx)
	block, err := leader.poa.ProduceBlock()
	require.NoError(t, err)

	forged := *block
	forged.Header.StateRoot = follower.state.ComputeRoot()
	forged.Sign(net.validator)
	require.Error(t, follower.poa.ApplyBlock(&forged))
	require.NoError(t, follower.poa.ApplyBlock(block))

	entries, err := jrnl.Events(0, 100)
	require.NoError(t, err)
	count := map[events.EventType]int{}
	for _, e := range entries {
		count[e.Type]++
	}
	assert.Equal(t, 1, count[events.EventTokenTransfer])
	assert.Equal(t, 1, count[events.EventTxExecuted])
	assert.Equal(t, 1, count[events.EventBlockCommit])
	assert.Zero(t, count[events.EventBlockDiscard])
}

func TestFailedTxCannotRunTwice(t *testing.T) {
	net := newNetwork(t, 2)
	leader := newNode(t, net.cfg, net.validator)
	follower := newNode(t, net.cfg, net.validator)
	buyer := net.users[0]

	bad, err := buyer.BuyListing(9)
	require.NoError(t, err)
	leader.submit(t, bad)
	b1, err := leader.poa.ProduceBlock()
	require.NoError(t, err)
	require.Equal(t, core.CodeNotFound, b1.Receipts[0].Code)
	require.NoError(t, follower.poa.ApplyBlock(b1))

	// the nonce was not consumed, so the signed tx would still execute
	assert.ErrorIs(t, leader.pool.Add(bad), core.ErrTxIncluded)
	assert.ErrorIs(t, follower.pool.Add(bad), core.ErrTxIncluded)

	again := core.NewBlock(net.cfg.Genesis.ChainID, 2, b1.Hash, net.validator.Public().Hex(), []*core.Transaction{bad})
	again.Sign(net.validator)
	root := follower.state.ComputeRoot()
	assert.ErrorIs(t, follower.poa.ApplyBlock(again), core.ErrTxIncluded)
	assert.Equal(t, root, follower.state.ComputeRoot())

	buyer.Rewind()
	retry, err := buyer.BuyListing(9)
	require.NoError(t, err)
	require.NotEqual(t, bad.ID, retry.ID)
	leader.submit(t, retry)
	b2, err := leader.poa.ProduceBlock()
	require.NoError(t, err)
	assert.Len(t, b2.Transactions, 1)
}

func TestProduceBlockRequiresProposer(t *testing.T) {
	net := newNetwork(t, 1)
	other, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	outsider := newNode(t, net.cfg, other)
	assert.False(t, outsider.poa.IsProposer())
	_, err = outsider.poa.ProduceBlock()
	assert.Error(t, err)
}

// randomTx draws a marketplace action for w. Many of them fail, which is
// part of what the replay has to reproduce.
func randomTx(t *testing.T, rng *rand.Rand, w *wallet.Wallet, users []*wallet.Wallet, listings uint64) *core.Transaction {
	t.Helper()
	id := uint64(rng.Int63n(int64(listings)+2) + 1)
	peer := users[rng.Intn(len(users))]
	var (
		typ     core.TxType
		payload any
	)
	switch rng.Intn(8) {
	case 0:
		typ, payload = core.TxTransfer, core.TransferPayload{To: peer.PubKey(), Amount: uint64(rng.Intn(500) + 1)}
	case 1, 2:
		typ, payload = core.TxCreateListing, core.CreateListingPayload{
			Price:            uint64(rng.Intn(5_000) + 1),
			RoyaltyBips:      uint16(rng.Intn(1_001)),
			RoyaltyRecipient: peer.PubKey(),
		}
	case 3:
		typ, payload = core.TxBuyListing, core.ListingPayload{ListingID: id}
	case 4:
		typ, payload = core.TxBuyListingEscrow, core.ListingPayload{ListingID: id}
	case 5:
		typ, payload = core.TxConfirmReceipt, core.EscrowPayload{EscrowID: id}
	case 6:
		typ, payload = core.TxToggleWishlist, core.ListingPayload{ListingID: id}
	default:
		typ, payload = core.TxCreateBundle, core.CreateBundlePayload{ListingIDs: []uint64{id, id + 1}, DiscountBips: uint16(rng.Intn(5_001))}
	}
	tx, err := w.NewTx(typ, payload)
	require.NoError(t, err)
	return tx
}

func TestReplayReproducesState(t *testing.T) {
	for _, seed := range []int64{1, 7, 42} {
		t.Run(fmt.Sprint(seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			net := newNetwork(t, 6)
			leader := newNode(t, net.cfg, net.validator)

			var listings uint64
			for round := 0; round < 20; round++ {
				senders := rng.Perm(len(net.users))[:rng.Intn(len(net.users))+1]
				var txs []*core.Transaction
				for _, i := range senders {
					txs = append(txs, randomTx(t, rng, net.users[i], net.users, listings))
				}
				leader.submit(t, txs...)
				block, err := leader.poa.ProduceBlock()
				require.NoError(t, err)
				for i, r := range block.Receipts {
					w := net.users[senders[i]]
					if !r.OK() {
						w.Rewind()
					} else if block.Transactions[i].Type == core.TxCreateListing {
						listings++
					}
				}
			}

			replica := testutil.NewStateDB()
			require.NoError(t, config.ApplyGenesis(&net.cfg.Genesis, replica))
			require.NoError(t, replica.Commit())
			exec := vm.NewExecutor(replica, nil, logging.Discard())
			root, err := consensus.Replay(leader.bc, replica, exec, logging.Discard())
			require.NoError(t, err)
			assert.Equal(t, leader.bc.Tip().Header.StateRoot, root)
			assert.Equal(t, leader.state.ComputeRoot(), root)
		})
	}
}

func TestReplayDetectsDivergence(t *testing.T) {
	net := newNetwork(t, 2)
	leader := newNode(t, net.cfg, net.validator)
	tx, err := net.users[0].Transfer(net.users[1].PubKey(), 10)
	require.NoError(t, err)
	leader.submit(t, tx)
	_, err = leader.poa.ProduceBlock()
	require.NoError(t, err)

	// a replica with a different allocation cannot reach the same root
	replica := testutil.NewStateDB()
	g := net.cfg.Genesis
	g.Alloc = map[string]uint64{net.users[0].PubKey(): 40}
	require.NoError(t, config.ApplyGenesis(&g, replica))
	require.NoError(t, replica.Commit())
	_, err = consensus.Replay(leader.bc, replica, vm.NewExecutor(replica, nil, logging.Discard()), logging.Discard())
	assert.ErrorContains(t, err, "block 1")
}
