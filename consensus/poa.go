// Package consensus implements Proof-of-Authority block production.
// Validators propose blocks in round-robin order. Each block is signed by
// the proposer; other nodes verify the signature, re-execute the block and
// compare the receipt and state roots before accepting it.
package consensus

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tolelom/tolmart/config"
	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/crypto"
	"github.com/tolelom/tolmart/events"
	"github.com/tolelom/tolmart/internal/metrics"
	"github.com/tolelom/tolmart/vm"
)

// PoA is the Proof-of-Authority consensus engine. It is the single writer
// of the ledger state; readers go through View.
type PoA struct {
	mu      sync.RWMutex
	cfg     *config.Config
	bc      *core.Blockchain
	state   core.State
	mempool *core.Mempool
	exec    *vm.Executor
	emitter *events.Emitter
	privKey crypto.PrivateKey
	pubKey  crypto.PublicKey
	logger  *slog.Logger
}

// New creates a PoA engine for the local validator identified by privKey.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
	logger *slog.Logger,
) *PoA {
	return &PoA{
		cfg:     cfg,
		bc:      bc,
		state:   state,
		mempool: mempool,
		exec:    exec,
		emitter: emitter,
		privKey: privKey,
		pubKey:  privKey.Public(),
		logger:  logger,
	}
}

func (p *PoA) proposerAt(height int64) (string, error) {
	if len(p.cfg.Validators) == 0 {
		return "", errors.New("no validators configured")
	}
	return p.cfg.Validators[int(height)%len(p.cfg.Validators)], nil
}

// IsProposer reports whether this node should propose the next block.
func (p *PoA) IsProposer() bool {
	expected, err := p.proposerAt(p.bc.Height() + 1)
	return err == nil && expected == p.pubKey.Hex()
}

func (p *PoA) next() (int64, string) {
	tip := p.bc.Tip()
	if tip == nil {
		return 1, config.GenesisHash
	}
	return tip.Header.Height + 1, tip.Hash
}

// ProduceBlock builds, executes, signs and commits the next block. Failed
// transactions are kept in the block with their receipts.
func (p *PoA) ProduceBlock() (*core.Block, error) {
	if !p.IsProposer() {
		return nil, errors.New("not the proposer for this round")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	limit := p.cfg.MaxBlockTxs
	if limit <= 0 {
		limit = 500
	}
	txs, err := p.fresh(p.mempool.Pending(limit))
	if err != nil {
		return nil, err
	}
	height, prevHash := p.next()
	block := core.NewBlock(p.cfg.Genesis.ChainID, height, prevHash, p.pubKey.Hex(), txs)

	receipts, err := p.exec.ExecuteBlock(block)
	if err != nil {
		p.discard(height)
		return nil, fmt.Errorf("execute block: %w", err)
	}
	block.Receipts = receipts
	block.Header.ReceiptRoot = core.ComputeReceiptRoot(receipts)
	// Compute root from the write buffer BEFORE flushing so that if AddBlock
	// fails the state has not yet been persisted.
	block.Header.StateRoot = p.state.ComputeRoot()
	block.Sign(p.privKey)

	if err := p.commit(block); err != nil {
		return nil, err
	}

	txIDs := make([]string, len(txs))
	for i, tx := range txs {
		txIDs[i] = tx.ID
	}
	p.mempool.Remove(txIDs)
	metrics.MempoolSize.Set(float64(p.mempool.Size()))
	return block, nil
}

// ApplyBlock validates and re-executes a block proposed elsewhere, then
// commits it if the receipt and state roots match.
func (p *PoA) ApplyBlock(block *core.Block) error {
	if err := p.ValidateBlock(block); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	receipts, err := p.exec.ExecuteBlock(block)
	if err != nil {
		p.discard(block.Header.Height)
		return fmt.Errorf("execute block: %w", err)
	}
	if got := core.ComputeReceiptRoot(receipts); got != block.Header.ReceiptRoot {
		p.discard(block.Header.Height)
		return fmt.Errorf("receipt root mismatch at %d: got %s want %s", block.Header.Height, got, block.Header.ReceiptRoot)
	}
	if got := p.state.ComputeRoot(); got != block.Header.StateRoot {
		p.discard(block.Header.Height)
		return fmt.Errorf("state root mismatch at %d: got %s want %s", block.Header.Height, got, block.Header.StateRoot)
	}
	block.Receipts = receipts
	if err := p.commit(block); err != nil {
		return err
	}
	ids := make([]string, len(block.Transactions))
	for i, tx := range block.Transactions {
		ids[i] = tx.ID
	}
	p.mempool.Remove(ids)
	return nil
}

// fresh filters out pooled transactions that a committed block already
// carries and drops them from the pool.
func (p *PoA) fresh(txs []*core.Transaction) ([]*core.Transaction, error) {
	out := txs[:0:0]
	var stale []string
	for _, tx := range txs {
		on, err := p.bc.HasTx(tx.ID)
		if err != nil {
			return nil, fmt.Errorf("tx index: %w", err)
		}
		if on {
			stale = append(stale, tx.ID)
			continue
		}
		out = append(out, tx)
	}
	if len(stale) > 0 {
		p.mempool.Remove(stale)
	}
	return out, nil
}

func (p *PoA) commit(block *core.Block) error {
	if err := p.bc.AddBlock(block); err != nil {
		p.discard(block.Header.Height)
		return fmt.Errorf("add block: %w", err)
	}
	// Flush state only after the block is safely stored.
	if err := p.state.Commit(); err != nil {
		return fmt.Errorf("block %d stored but state commit failed: %w", block.Header.Height, err)
	}
	metrics.BlocksTotal.Inc()
	metrics.ChainHeight.Set(float64(block.Header.Height))

	// Emit after Sign() so block.Hash is set correctly.
	p.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: block.Header.Height,
		Data: map[string]any{
			"hash":       block.Hash,
			"txs":        len(block.Transactions),
			"state_root": block.Header.StateRoot,
			"receipts":   block.Receipts,
		},
	})
	p.logger.Info("block committed", "height", block.Header.Height, "hash", block.Hash, "txs", len(block.Transactions))
	return nil
}

// discard drops the uncommitted writes of the block at height and tells
// subscribers to forget the events it published.
func (p *PoA) discard(height int64) {
	p.state.Discard()
	p.emitter.Emit(events.Event{Type: events.EventBlockDiscard, BlockHeight: height})
}

// ValidateBlock checks the proposer, signature, chain id, tx root and
// linkage of block against the local tip. A transaction already carried by
// a committed block, failed or not, never runs again.
func (p *PoA) ValidateBlock(block *core.Block) error {
	expected, err := p.proposerAt(block.Header.Height)
	if err != nil {
		return err
	}
	if block.Header.Proposer != expected {
		return fmt.Errorf("wrong proposer: got %s want %s", block.Header.Proposer, expected)
	}
	if block.Header.ChainID != p.cfg.Genesis.ChainID {
		return fmt.Errorf("chain id %q does not match %q", block.Header.ChainID, p.cfg.Genesis.ChainID)
	}

	pub, err := crypto.PubKeyFromHex(block.Header.Proposer)
	if err != nil {
		return fmt.Errorf("invalid proposer pubkey: %w", err)
	}
	if block.Hash != block.ComputeHash() {
		return errors.New("block hash does not match header")
	}
	if err := block.Verify(pub); err != nil {
		return fmt.Errorf("block signature invalid: %w", err)
	}
	if got := core.ComputeTxRoot(block.Transactions); got != block.Header.TxRoot {
		return fmt.Errorf("tx root mismatch: got %s want %s", got, block.Header.TxRoot)
	}

	tip := p.bc.Tip()
	if tip == nil {
		if !config.IsGenesisHash(block.Header.PrevHash) {
			return errors.New("first block must reference genesis prev-hash")
		}
	} else {
		if block.Header.PrevHash != tip.Hash {
			return fmt.Errorf("prev_hash mismatch: got %s want %s", block.Header.PrevHash, tip.Hash)
		}
		if block.Header.Height != tip.Header.Height+1 {
			return fmt.Errorf("height mismatch: got %d want %d", block.Header.Height, tip.Header.Height+1)
		}
	}

	seen := make(map[string]bool, len(block.Transactions))
	for _, tx := range block.Transactions {
		if seen[tx.ID] {
			return fmt.Errorf("%w: %s twice in block %d", core.ErrTxIncluded, tx.ID, block.Header.Height)
		}
		seen[tx.ID] = true
		on, err := p.bc.HasTx(tx.ID)
		if err != nil {
			return fmt.Errorf("tx index: %w", err)
		}
		if on {
			return fmt.Errorf("%w: %s", core.ErrTxIncluded, tx.ID)
		}
	}
	return nil
}

// View runs fn against the committed ledger state. fn must not write.
func (p *PoA) View(fn func(st core.State) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return fn(p.state)
}

// Run starts the block-production loop with the given interval. It blocks
// until done is closed. Empty rounds are skipped.
func (p *PoA) Run(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			metrics.MempoolSize.Set(float64(p.mempool.Size()))
			if !p.IsProposer() || p.mempool.Size() == 0 {
				continue
			}
			if _, err := p.ProduceBlock(); err != nil {
				p.logger.Error("produce block", "err", err)
			}
		}
	}
}
