package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/artgrid/artgrid/core"
	"github.com/artgrid/artgrid/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it. All prefix constants must be declared
// via this function.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated by registerPrefix() below. ComputeRoot()
// iterates these prefixes to build the full state view.
var statePrefixes []string

var (
	prefixMeta      = registerPrefix("meta")
	prefixAccount   = registerPrefix("acct:")
	prefixCanvas    = registerPrefix("canv:")
	prefixGrid      = registerPrefix("grid:")
	prefixBid       = registerPrefix("bid:")
	prefixSellOffer = registerPrefix("sell:")
	prefixBuyOffer  = registerPrefix("buy:")
	prefixPool      = registerPrefix("pool:")
)

func canvasKey(prefix string, id uint64) string {
	return fmt.Sprintf("%s%d", prefix, id)
}

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with an in-memory write
// buffer, snapshot/rollback, and deterministic state-root computation.
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

func (s *StateDB) getJSON(key string, out any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *StateDB) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.set(key, data)
	return nil
}

// ---- Meta ----

func (s *StateDB) Meta() (*core.Meta, error) {
	var m core.Meta
	err := s.getJSON(prefixMeta, &m)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Meta{}, nil // fresh engine
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *StateDB) SetMeta(m *core.Meta) error {
	return s.setJSON(prefixMeta, m)
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

// ForEachAccount merges persisted accounts with the write buffer so the
// visit reflects uncommitted changes too.
func (s *StateDB) ForEachAccount(fn func(*core.Account) error) error {
	merged := s.collectPrefix(prefixAccount)
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var acc core.Account
		if err := json.Unmarshal(merged[k], &acc); err != nil {
			return fmt.Errorf("corrupt account %q: %w", k, err)
		}
		if err := fn(&acc); err != nil {
			return err
		}
	}
	return nil
}

// ---- Canvas ----

func (s *StateDB) GetCanvas(id uint64) (*core.Canvas, error) {
	var c core.Canvas
	if err := s.getJSON(canvasKey(prefixCanvas, id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *StateDB) SetCanvas(c *core.Canvas) error {
	return s.setJSON(canvasKey(prefixCanvas, c.ID), c)
}

func (s *StateDB) GetGrid(id uint64) (*core.PixelGrid, error) {
	var g core.PixelGrid
	if err := s.getJSON(canvasKey(prefixGrid, id), &g); err != nil {
		return nil, err
	}
	if g.Counts == nil {
		g.Counts = make(map[string]uint32)
	}
	return &g, nil
}

func (s *StateDB) SetGrid(g *core.PixelGrid) error {
	return s.setJSON(canvasKey(prefixGrid, g.CanvasID), g)
}

// ---- Bid ----

func (s *StateDB) GetBid(id uint64) (*core.Bid, error) {
	var b core.Bid
	if err := s.getJSON(canvasKey(prefixBid, id), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *StateDB) SetBid(b *core.Bid) error {
	return s.setJSON(canvasKey(prefixBid, b.CanvasID), b)
}

// ---- Offers ----

func (s *StateDB) GetSellOffer(id uint64) (*core.SellOffer, error) {
	var o core.SellOffer
	if err := s.getJSON(canvasKey(prefixSellOffer, id), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *StateDB) SetSellOffer(o *core.SellOffer) error {
	return s.setJSON(canvasKey(prefixSellOffer, o.CanvasID), o)
}

func (s *StateDB) DeleteSellOffer(id uint64) error {
	s.del(canvasKey(prefixSellOffer, id))
	return nil
}

func (s *StateDB) GetBuyOffer(id uint64) (*core.BuyOffer, error) {
	var o core.BuyOffer
	if err := s.getJSON(canvasKey(prefixBuyOffer, id), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *StateDB) SetBuyOffer(o *core.BuyOffer) error {
	return s.setJSON(canvasKey(prefixBuyOffer, o.CanvasID), o)
}

func (s *StateDB) DeleteBuyOffer(id uint64) error {
	s.del(canvasKey(prefixBuyOffer, id))
	return nil
}

// ---- Pool ----

func (s *StateDB) GetPool(id uint64) (*core.Pool, error) {
	var p core.Pool
	if err := s.getJSON(canvasKey(prefixPool, id), &p); err != nil {
		return nil, err
	}
	if p.RewardWithdrawn == nil {
		p.RewardWithdrawn = make(map[string]uint64)
	}
	return &p, nil
}

func (s *StateDB) SetPool(p *core.Pool) error {
	return s.setJSON(canvasKey(prefixPool, p.CanvasID), p)
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved
// snapshot. The snapshot maps are deep-copied so that subsequent writes
// cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// collectPrefix merges persisted entries under prefix with the current
// write buffer, excluding deletions.
func (s *StateDB) collectPrefix(prefix string) map[string][]byte {
	merged := make(map[string][]byte)
	it := s.db.NewIterator([]byte(prefix))
	for it.Next() {
		k := string(it.Key())
		v := make([]byte, len(it.Value()))
		copy(v, it.Value())
		merged[k] = v
	}
	it.Release()
	for k, v := range s.dirty {
		if strings.HasPrefix(k, prefix) {
			merged[k] = v
		}
	}
	for k := range s.deleted {
		if strings.HasPrefix(k, prefix) {
			delete(merged, k)
		}
	}
	return merged
}

// ComputeRoot returns the deterministic hash of the complete state:
// persisted entries under every registered prefix merged with the write
// buffer, sorted, length-prefix encoded, and hashed. It does not flush
// or modify state.
func (s *StateDB) ComputeRoot() string {
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		for k, v := range s.collectPrefix(prefix) {
			merged[k] = v
		}
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
		kb := []byte(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kb)))
		buf.Write(lenBuf[:])
		buf.Write(kb)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// Batch and then clears it, dropping all snapshots.
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
