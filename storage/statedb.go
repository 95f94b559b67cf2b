package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it. All state prefixes must be declared via
// this function.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated automatically by registerPrefix() below.
// ComputeRoot() iterates these prefixes to build the full world-state view.
var statePrefixes []string

var (
	prefixAccount    = registerPrefix("acct:")
	prefixCollection = registerPrefix("coll:")
	prefixNFT        = registerPrefix("nft:")
	prefixSeq        = registerPrefix("seq:")
	prefixListing    = registerPrefix("list:")
	prefixEscrow     = registerPrefix("escrow:")
	prefixBundle     = registerPrefix("bundle:")
	prefixPack       = registerPrefix("pack:")
	prefixAuction    = registerPrefix("auction:")
	prefixDispute    = registerPrefix("dispute:")
	prefixStake      = registerPrefix("stake:")
	prefixRep        = registerPrefix("rep:")
	prefixPrice      = registerPrefix("price:")
	prefixHistory    = registerPrefix("hist:")
	prefixHistCount  = registerPrefix("histn:")
	prefixWishlist   = registerPrefix("wish:")
	prefixMeta       = registerPrefix("meta:")
)

var (
	keyAdmin  = prefixMeta + "admin"
	keyParams = prefixMeta + "params"
)

// idKey zero-pads numeric ids so that lexical key order equals numeric order.
func idKey(prefix string, id uint64) string {
	return fmt.Sprintf("%s%020d", prefix, id)
}

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) del(key string) {
	delete(s.dirty, key)
	s.deleted[key] = true
}

func (s *StateDB) getJSON(key string, v any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *StateDB) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.set(key, data)
	return nil
}

// keys returns every live key under prefix, merging the DB with the write
// buffer, in ascending order.
func (s *StateDB) keys(prefix string) ([]string, error) {
	seen := make(map[string]struct{})
	it := s.db.NewIterator([]byte(prefix))
	for it.Next() {
		seen[string(it.Key())] = struct{}{}
	}
	it.Release()
	if err := it.Error(); err != nil {
		return nil, err
	}
	for k := range s.dirty {
		if strings.HasPrefix(k, prefix) {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		if !s.deleted[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ---- Account ----

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	var acc core.Account
	err := s.getJSON(prefixAccount+address, &acc)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil // zero-value account
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.setJSON(prefixAccount+acc.Address, acc)
}

// ---- NFT ----

func (s *StateDB) GetCollection(id string) (*core.Collection, error) {
	var c core.Collection
	if err := s.getJSON(prefixCollection+id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *StateDB) SetCollection(c *core.Collection) error {
	return s.setJSON(prefixCollection+c.ID, c)
}

func (s *StateDB) GetNFT(ref core.NFTRef) (*core.NFT, error) {
	var n core.NFT
	if err := s.getJSON(prefixNFT+ref.Key(), &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *StateDB) SetNFT(n *core.NFT) error {
	return s.setJSON(prefixNFT+n.Ref().Key(), n)
}

// ---- Id counters ----

// NextID returns the next id for kind, starting at 1.
func (s *StateDB) NextID(kind string) (uint64, error) {
	key := prefixSeq + kind
	var cur uint64
	data, err := s.get(key)
	switch {
	case errors.Is(err, core.ErrNotFound):
	case err != nil:
		return 0, err
	default:
		cur, err = strconv.ParseUint(string(data), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("decode %s: %w", key, err)
		}
	}
	cur++
	s.set(key, []byte(strconv.FormatUint(cur, 10)))
	return cur, nil
}

// ---- Listing ----

func (s *StateDB) GetListing(id uint64) (*core.Listing, error) {
	var l core.Listing
	if err := s.getJSON(idKey(prefixListing, id), &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *StateDB) SetListing(l *core.Listing) error {
	return s.setJSON(idKey(prefixListing, l.ID), l)
}

func (s *StateDB) DeleteListing(id uint64) error {
	s.del(idKey(prefixListing, id))
	return nil
}

// ListingIDs returns up to limit live listing ids greater than afterID, in
// ascending order.
func (s *StateDB) ListingIDs(afterID uint64, limit int) ([]uint64, error) {
	keys, err := s.keys(prefixListing)
	if err != nil {
		return nil, err
	}
	var out []uint64
	for _, k := range keys {
		id, err := strconv.ParseUint(strings.TrimPrefix(k, prefixListing), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode listing key %q: %w", k, err)
		}
		if id <= afterID {
			continue
		}
		out = append(out, id)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ---- Escrow / Bundle / Pack / Auction ----

func (s *StateDB) GetEscrow(id uint64) (*core.Escrow, error) {
	var e core.Escrow
	if err := s.getJSON(idKey(prefixEscrow, id), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *StateDB) SetEscrow(e *core.Escrow) error {
	return s.setJSON(idKey(prefixEscrow, e.ListingID), e)
}

func (s *StateDB) GetBundle(id uint64) (*core.Bundle, error) {
	var b core.Bundle
	if err := s.getJSON(idKey(prefixBundle, id), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *StateDB) SetBundle(b *core.Bundle) error {
	return s.setJSON(idKey(prefixBundle, b.ID), b)
}

func (s *StateDB) GetPack(id uint64) (*core.CuratedPack, error) {
	var p core.CuratedPack
	if err := s.getJSON(idKey(prefixPack, id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *StateDB) SetPack(p *core.CuratedPack) error {
	return s.setJSON(idKey(prefixPack, p.ID), p)
}

func (s *StateDB) GetAuction(id uint64) (*core.Auction, error) {
	var a core.Auction
	if err := s.getJSON(idKey(prefixAuction, id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *StateDB) SetAuction(a *core.Auction) error {
	return s.setJSON(idKey(prefixAuction, a.ID), a)
}

// ---- Dispute ----

func (s *StateDB) GetDispute(id uint64) (*core.Dispute, error) {
	var d core.Dispute
	if err := s.getJSON(idKey(prefixDispute, id), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *StateDB) SetDispute(d *core.Dispute) error {
	return s.setJSON(idKey(prefixDispute, d.ID), d)
}

func stakeKey(disputeID uint64, staker string) string {
	return idKey(prefixStake, disputeID) + ":" + staker
}

func (s *StateDB) GetStake(disputeID uint64, staker string) (*core.Stake, error) {
	var st core.Stake
	if err := s.getJSON(stakeKey(disputeID, staker), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *StateDB) SetStake(st *core.Stake) error {
	return s.setJSON(stakeKey(st.DisputeID, st.Staker), st)
}

// ---- Reputation / history / wishlist ----

func (s *StateDB) GetReputation(principal string, role core.Role) (*core.Reputation, error) {
	var r core.Reputation
	err := s.getJSON(prefixRep+string(role)+":"+principal, &r)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Reputation{Principal: principal, Role: role}, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *StateDB) SetReputation(r *core.Reputation) error {
	return s.setJSON(prefixRep+string(r.Role)+":"+r.Principal, r)
}

func (s *StateDB) GetPriceHistory(listingID uint64) ([]core.PriceEntry, error) {
	var entries []core.PriceEntry
	err := s.getJSON(idKey(prefixPrice, listingID), &entries)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	return entries, err
}

func (s *StateDB) SetPriceHistory(listingID uint64, entries []core.PriceEntry) error {
	return s.setJSON(idKey(prefixPrice, listingID), entries)
}

func (s *StateDB) HistoryCount(principal string) (uint64, error) {
	data, err := s.get(prefixHistCount + principal)
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(data), 10, 64)
}

// AppendHistory assigns e the next dense index for principal and stores it.
func (s *StateDB) AppendHistory(principal string, e *core.HistoryEntry) error {
	n, err := s.HistoryCount(principal)
	if err != nil {
		return err
	}
	e.Index = n
	if err := s.setJSON(idKey(prefixHistory+principal+":", n), e); err != nil {
		return err
	}
	s.set(prefixHistCount+principal, []byte(strconv.FormatUint(n+1, 10)))
	return nil
}

func (s *StateDB) GetHistory(principal string, index uint64) (*core.HistoryEntry, error) {
	var e core.HistoryEntry
	if err := s.getJSON(idKey(prefixHistory+principal+":", index), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *StateDB) GetWishlist(principal string) ([]uint64, error) {
	var ids []uint64
	err := s.getJSON(prefixWishlist+principal, &ids)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	return ids, err
}

func (s *StateDB) SetWishlist(principal string, ids []uint64) error {
	if len(ids) == 0 {
		s.del(prefixWishlist + principal)
		return nil
	}
	return s.setJSON(prefixWishlist+principal, ids)
}

// ---- Administration ----

func (s *StateDB) GetAdmin() (*core.AdminState, error) {
	var a core.AdminState
	err := s.getJSON(keyAdmin, &a)
	if errors.Is(err, core.ErrNotFound) {
		return &core.AdminState{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *StateDB) SetAdmin(a *core.AdminState) error {
	return s.setJSON(keyAdmin, a)
}

func (s *StateDB) GetParams() (*core.Params, error) {
	var p core.Params
	err := s.getJSON(keyParams, &p)
	if errors.Is(err, core.ErrNotFound) {
		return core.DefaultParams(), nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *StateDB) SetParams(p *core.Params) error {
	return s.setJSON(keyParams, p)
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		snap.dirty[k] = v
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot
// and discards it together with every later snapshot. Buffered values are
// never mutated in place, so sharing the byte slices is safe.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]
	s.dirty = make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		s.dirty[k] = v
	}
	s.deleted = make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		s.deleted[k] = v
	}
	s.snapshots = s.snapshots[:id]
	return nil
}

// DiscardSnapshot drops snapshot id and every later one, keeping the buffer.
func (s *StateDB) DiscardSnapshot(id int) {
	if id >= 0 && id < len(s.snapshots) {
		s.snapshots = s.snapshots[:id]
	}
}

// ComputeRoot returns the deterministic hash of the complete world state.
// It merges all persisted state entries with the current write buffer,
// then hashes the sorted key-value pairs using length-prefix encoding.
func (s *StateDB) ComputeRoot() string {
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[string(it.Key())] = v
		}
		it.Release()
	}
	for k, v := range s.dirty {
		merged[k] = v
	}
	for k := range s.deleted {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(k)))
		buf.Write(lenBuf[:])
		buf.WriteString(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// batch and then clears it.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}

// Discard drops every uncommitted write.
func (s *StateDB) Discard() {
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
}
