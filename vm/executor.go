package vm

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/events"
	"github.com/tolelom/tolmart/internal/metrics"
)

// Context is passed to every Handler and provides access to the chain state,
// the current block and the triggering transaction. Events raised through
// Emit are buffered and only published if the transaction succeeds.
type Context struct {
	State core.State
	Block *core.Block
	Tx    *core.Transaction

	events []events.Event
}

// Height is the block height the transaction executes at.
func (c *Context) Height() uint64 {
	if c.Block == nil || c.Block.Header.Height < 0 {
		return 0
	}
	return uint64(c.Block.Header.Height)
}

// Sender is the transaction's signer.
func (c *Context) Sender() string { return c.Tx.From }

// Emit buffers an event for publication after the transaction commits.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	var height int64
	if c.Block != nil {
		height = c.Block.Header.Height
	}
	c.events = append(c.events, events.Event{
		Type:        typ,
		TxID:        c.Tx.ID,
		BlockHeight: height,
		Data:        data,
	})
}

// Events returns the events buffered so far.
func (c *Context) Events() []events.Event { return c.events }

// Executor applies transactions to the state using the global Handler registry.
type Executor struct {
	state   core.State
	emitter *events.Emitter
	logger  *slog.Logger
}

// NewExecutor creates an Executor with the given state and event emitter.
// emitter may be nil.
func NewExecutor(state core.State, emitter *events.Emitter, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{state: state, emitter: emitter, logger: logger}
}

// ExecuteBlock applies all transactions in block sequentially and returns
// one receipt per transaction. A failing transaction is reverted and
// recorded in its receipt; only a storage fault aborts the block.
// EventBlockCommit is emitted by the caller (consensus) after signing so
// the event carries the correct block hash.
func (e *Executor) ExecuteBlock(block *core.Block) ([]*core.Receipt, error) {
	receipts := make([]*core.Receipt, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		r, err := e.ExecuteTx(block, tx)
		if err != nil {
			return nil, fmt.Errorf("tx %s: %w", tx.ID, err)
		}
		receipts = append(receipts, r)
	}
	return receipts, nil
}

// ExecuteTx verifies and executes a single transaction with snapshot/rollback.
// Ledger failures are reported through the receipt; the returned error is
// reserved for faults that leave the state unusable.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) (*core.Receipt, error) {
	start := time.Now()
	receipt := &core.Receipt{
		TxID:        tx.ID,
		Type:        tx.Type,
		From:        tx.From,
		BlockHeight: block.Header.Height,
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	ctx := &Context{State: e.state, Block: block, Tx: tx}
	if err := e.applyTx(ctx); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return nil, fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", err, revertErr)
		}
		receipt.Code = core.CodeOf(err)
		receipt.Error = err.Error()
		e.logger.Debug("tx failed", "tx", tx.ID, "type", tx.Type, "code", receipt.Code, "err", err)
		e.publish(events.Event{
			Type:        events.EventTxFailed,
			TxID:        tx.ID,
			BlockHeight: block.Header.Height,
			Data:        map[string]any{"type": string(tx.Type), "from": tx.From, "code": uint32(receipt.Code), "error": receipt.Error},
		})
		e.observe(tx.Type, receipt.Code, start)
		return receipt, nil
	}
	e.state.DiscardSnapshot(snapID)

	for _, ev := range ctx.events {
		e.publish(ev)
	}
	e.publish(events.Event{
		Type:        events.EventTxExecuted,
		TxID:        tx.ID,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"type": string(tx.Type), "from": tx.From},
	})
	e.observe(tx.Type, core.CodeOK, start)
	return receipt, nil
}

// applyTx checks the envelope, deducts the fee, increments the nonce, then
// dispatches to the handler. Everything it writes is reverted on failure.
func (e *Executor) applyTx(ctx *Context) error {
	tx := ctx.Tx
	if tx.ChainID != ctx.Block.Header.ChainID {
		return core.Errorf(core.ErrInvalidParameters, "chain id %q does not match %q", tx.ChainID, ctx.Block.Header.ChainID)
	}
	if err := tx.Verify(); err != nil {
		return core.Errorf(core.ErrNotAuthorized, "signature: %v", err)
	}

	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return core.Errorf(core.ErrInvalidParameters, "invalid nonce: expected %d got %d", acc.Nonce, tx.Nonce)
	}
	if acc.Balance < tx.Fee {
		return core.Errorf(core.ErrTransferFailed, "insufficient balance for fee: have %d need %d", acc.Balance, tx.Fee)
	}
	if acc.Nonce == math.MaxUint64 {
		return core.Errorf(core.ErrOverflow, "nonce overflow for account %s", tx.From)
	}
	acc.Balance -= tx.Fee
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return err
	}
	return globalRegistry.Execute(tx.Type, ctx, tx.Payload)
}

func (e *Executor) publish(ev events.Event) {
	metrics.EventsTotal.WithLabelValues(string(ev.Type)).Inc()
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

func (e *Executor) observe(typ core.TxType, code core.Code, start time.Time) {
	metrics.TxTotal.WithLabelValues(string(typ), strconv.FormatUint(uint64(code), 10)).Inc()
	metrics.TxDuration.WithLabelValues(string(typ)).Observe(time.Since(start).Seconds())
}
