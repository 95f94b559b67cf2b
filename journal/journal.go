// Package journal persists every ledger event and transaction receipt so
// external indexers can page through them without replaying the chain.
// Journal keys live outside the state prefixes and never affect the state
// root.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/events"
	"github.com/tolelom/tolmart/storage"
)

const (
	prefixEvent   = "jrnl:evt:"
	prefixReceipt = "jrnl:rcpt:"
	keyEventSeq   = "jrnl:seq"
)

// Entry is a journaled event with its global sequence number.
type Entry struct {
	Seq uint64 `json:"seq"`
	events.Event
}

// Journal buffers events per block and writes them, with the block's
// receipts, in a single batch when the block commits. A discarded block
// drops its buffer.
type Journal struct {
	mu      sync.Mutex
	db      storage.DB
	pending []events.Event
	seq     uint64
	logger  *slog.Logger
}

// New creates a Journal backed by db and subscribes it to emitter.
func New(db storage.DB, emitter *events.Emitter, logger *slog.Logger) (*Journal, error) {
	j := &Journal{db: db, logger: logger}
	data, err := db.Get([]byte(keyEventSeq))
	switch {
	case errors.Is(err, core.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		if j.seq, err = strconv.ParseUint(string(data), 10, 64); err != nil {
			return nil, fmt.Errorf("journal seq: %w", err)
		}
	}
	emitter.SubscribeAll(j.onEvent)
	return j, nil
}

func eventKey(seq uint64) []byte { return []byte(fmt.Sprintf("%s%020d", prefixEvent, seq)) }

func (j *Journal) onEvent(ev events.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch ev.Type {
	case events.EventBlockDiscard:
		if len(j.pending) > 0 {
			j.logger.Debug("journal dropped discarded block", "height", ev.BlockHeight, "events", len(j.pending))
		}
		j.pending = nil
	case events.EventBlockCommit:
		if err := j.flush(ev); err != nil {
			j.logger.Error("journal flush failed", "height", ev.BlockHeight, "err", err)
		}
	default:
		j.pending = append(j.pending, ev)
	}
}

// flush writes pending events plus the commit event and its receipts.
func (j *Journal) flush(commit events.Event) error {
	batch := j.db.NewBatch()
	seq := j.seq
	for _, ev := range append(j.pending, commit) {
		seq++
		data, err := json.Marshal(Entry{Seq: seq, Event: ev})
		if err != nil {
			return err
		}
		batch.Set(eventKey(seq), data)
	}
	if receipts, ok := commit.Data["receipts"].([]*core.Receipt); ok {
		for _, r := range receipts {
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			batch.Set([]byte(prefixReceipt+r.TxID), data)
		}
	}
	batch.Set([]byte(keyEventSeq), []byte(strconv.FormatUint(seq, 10)))
	if err := batch.Write(); err != nil {
		return err
	}
	j.seq = seq
	j.pending = nil
	return nil
}

// Events returns up to limit journaled events with sequence > afterSeq.
func (j *Journal) Events(afterSeq uint64, limit int) ([]Entry, error) {
	j.mu.Lock()
	last := j.seq
	j.mu.Unlock()

	var out []Entry
	for seq := afterSeq + 1; seq <= last && len(out) < limit; seq++ {
		data, err := j.db.Get(eventKey(seq))
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", seq, err)
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Receipt returns the receipt of a committed transaction.
func (j *Journal) Receipt(txID string) (*core.Receipt, error) {
	data, err := j.db.Get([]byte(prefixReceipt + txID))
	if err != nil {
		return nil, err
	}
	var r core.Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// LastSeq is the sequence number of the newest journaled event.
func (j *Journal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}
