package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tolelom/tolmart/crypto"
)

// BlockHeader contains the block metadata that is hashed and signed.
type BlockHeader struct {
	ChainID     string `json:"chain_id"`
	Height      int64  `json:"height"`
	PrevHash    string `json:"prev_hash"`
	StateRoot   string `json:"state_root"`   // hash of state after executing this block
	TxRoot      string `json:"tx_root"`      // hash of all transaction IDs
	ReceiptRoot string `json:"receipt_root"` // hash of per-tx outcome codes
	Timestamp   int64  `json:"timestamp"`
	Proposer    string `json:"proposer"` // proposer's pubkey hex
}

// Block is an ordered batch of transactions with a signed header. Failed
// transactions stay in the block; their receipts record the error code.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	Receipts     []*Receipt     `json:"receipts"`
	Hash         string         `json:"hash"`
	Signature    string         `json:"signature"`
}

// ComputeHash returns the SHA-256 hash of the serialised header.
func (b *Block) ComputeHash() string {
	data, err := json.Marshal(b.Header)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign sets Hash and signs the block with the proposer's private key.
func (b *Block) Sign(priv crypto.PrivateKey) {
	b.Hash = b.ComputeHash()
	b.Signature = crypto.Sign(priv, []byte(b.Hash))
}

// Verify checks the block signature against the given public key.
func (b *Block) Verify(pub crypto.PublicKey) error {
	return crypto.Verify(pub, []byte(b.Hash), b.Signature)
}

// ComputeTxRoot builds a deterministic root hash from all transaction IDs.
func ComputeTxRoot(txs []*Transaction) string {
	if len(txs) == 0 {
		return crypto.Hash([]byte("empty"))
	}
	var ids []byte
	for _, tx := range txs {
		ids = append(ids, []byte(tx.ID)...)
	}
	return crypto.Hash(ids)
}

// ComputeReceiptRoot hashes "txid:code" for every receipt in block order.
func ComputeReceiptRoot(receipts []*Receipt) string {
	if len(receipts) == 0 {
		return crypto.Hash([]byte("empty"))
	}
	var buf []byte
	for _, r := range receipts {
		buf = append(buf, fmt.Sprintf("%s:%d;", r.TxID, r.Code)...)
	}
	return crypto.Hash(buf)
}

// NewBlock creates an unsigned block with the given parameters.
func NewBlock(chainID string, height int64, prevHash, proposer string, txs []*Transaction) *Block {
	return &Block{
		Header: BlockHeader{
			ChainID:   chainID,
			Height:    height,
			PrevHash:  prevHash,
			TxRoot:    ComputeTxRoot(txs),
			Timestamp: time.Now().UnixNano(),
			Proposer:  proposer,
		},
		Transactions: txs,
	}
}
