// Package testutil provides in-memory implementations of storage
// interfaces for use in tests across the module. Never import this in
// production code.
package testutil

import (
	"fmt"
	"strings"
	"sync"

	"github.com/artgrid/artgrid/core"
	"github.com/artgrid/artgrid/storage"
)

// MemDB is a thread-safe in-memory storage.DB for tests.
type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemDB creates an empty MemDB.
func NewMemDB() *MemDB {
	return &MemDB{data: make(map[string][]byte)}
}

func (m *MemDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, core.ErrNotFound
	}
	return v, nil
}

func (m *MemDB) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = value
	return nil
}

func (m *MemDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemDB) NewIterator(prefix []byte) storage.Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := string(prefix)
	var pairs []kv
	for k, v := range m.data {
		if strings.HasPrefix(k, p) {
			cp := make([]byte, len(v))
			copy(cp, v)
			pairs = append(pairs, kv{k: []byte(k), v: cp})
		}
	}
	return &memIter{pairs: pairs, idx: -1}
}

func (m *MemDB) NewBatch() storage.Batch {
	return &memBatch{db: m}
}

func (m *MemDB) Close() error { return nil }

// memBatch is an in-memory atomic write buffer for MemDB.
type memBatch struct {
	db  *MemDB
	ops []memBatchOp
}

type memBatchOp struct {
	key   string
	value []byte // nil means delete
}

func (b *memBatch) Set(key, value []byte) {
	cp := make([]byte, len(value))
	copy(cp, value)
	b.ops = append(b.ops, memBatchOp{string(key), cp})
}

func (b *memBatch) Delete(key []byte) {
	b.ops = append(b.ops, memBatchOp{string(key), nil})
}

func (b *memBatch) Reset() { b.ops = nil }

func (b *memBatch) Write() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, op := range b.ops {
		if op.value == nil {
			delete(b.db.data, op.key)
		} else {
			b.db.data[op.key] = op.value
		}
	}
	return nil
}

type kv struct{ k, v []byte }

type memIter struct {
	pairs []kv
	idx   int
}

func (it *memIter) Next() bool    { it.idx++; return it.idx < len(it.pairs) }
func (it *memIter) Key() []byte   { return it.pairs[it.idx].k }
func (it *memIter) Value() []byte { return it.pairs[it.idx].v }
func (it *memIter) Release()      {}
func (it *memIter) Error() error  { return nil }

// MemJournal is an in-memory core.Journal for tests.
type MemJournal struct {
	mu      sync.Mutex
	entries []*core.JournalEntry
}

// NewMemJournal creates an empty MemJournal.
func NewMemJournal() *MemJournal {
	return &MemJournal{}
}

func (j *MemJournal) Append(entry *core.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if entry.Seq != uint64(len(j.entries))+1 {
		return fmt.Errorf("journal seq %d does not follow tip %d", entry.Seq, len(j.entries))
	}
	j.entries = append(j.entries, entry)
	return nil
}

func (j *MemJournal) Get(seq uint64) (*core.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if seq == 0 || seq > uint64(len(j.entries)) {
		return nil, core.ErrNotFound
	}
	return j.entries[seq-1], nil
}

func (j *MemJournal) Seq() (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return uint64(len(j.entries)), nil
}

// NewStateDB returns a storage.StateDB backed by a fresh MemDB.
func NewStateDB() *storage.StateDB {
	return storage.NewStateDB(NewMemDB())
}

// PayoutRecorder captures payouts for assertions.
type PayoutRecorder struct {
	mu      sync.Mutex
	Payouts []RecordedPayout
}

// RecordedPayout is one captured transfer.
type RecordedPayout struct {
	Address string
	Amount  uint64
}

func (r *PayoutRecorder) Pay(address string, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Payouts = append(r.Payouts, RecordedPayout{Address: address, Amount: amount})
	return nil
}
