package consensus

import (
	"fmt"
	"log/slog"

	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/vm"
)

const replayBatch = 256

// Replay re-executes every block after genesis from src against state,
// which must already hold the genesis allocation. Each block's receipt and
// state roots are checked; the first divergence is an error. It returns the
// final state root.
func Replay(src *core.Blockchain, state core.State, exec *vm.Executor, logger *slog.Logger) (string, error) {
	root := state.ComputeRoot()
	for from := int64(1); from <= src.Height(); from += replayBatch {
		blocks, err := src.Blocks(from, replayBatch)
		if err != nil {
			return "", err
		}
		for _, b := range blocks {
			receipts, err := exec.ExecuteBlock(b)
			if err != nil {
				state.Discard()
				return "", fmt.Errorf("block %d: %w", b.Header.Height, err)
			}
			if got := core.ComputeReceiptRoot(receipts); got != b.Header.ReceiptRoot {
				state.Discard()
				return "", fmt.Errorf("block %d: receipt root %s, header says %s", b.Header.Height, got, b.Header.ReceiptRoot)
			}
			root = state.ComputeRoot()
			if root != b.Header.StateRoot {
				state.Discard()
				return "", fmt.Errorf("block %d: state root %s, header says %s", b.Header.Height, root, b.Header.StateRoot)
			}
			if err := state.Commit(); err != nil {
				return "", err
			}
			logger.Debug("replayed block", "height", b.Header.Height, "root", root)
		}
	}
	return root, nil
}
