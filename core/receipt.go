package core

// Receipt records the outcome of one transaction in a block. Failed
// transactions leave no state behind; their receipt is the only trace.
type Receipt struct {
	TxID        string `json:"tx_id"`
	Type        TxType `json:"type"`
	From        string `json:"from"`
	BlockHeight int64  `json:"block_height"`
	Code        Code   `json:"code"`
	Error       string `json:"error,omitempty"`
}

// OK reports whether the transaction was applied.
func (r *Receipt) OK() bool { return r.Code == CodeOK }
