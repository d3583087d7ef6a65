package storage

import (
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/artgrid/artgrid/core"
)

// LevelDB implements DB using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens (or creates) a LevelDB database at path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %q: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	val, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, core.ErrNotFound
	}
	return val, err
}

func (l *LevelDB) Set(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDB) NewIterator(prefix []byte) Iterator {
	return l.db.NewIterator(util.BytesPrefix(prefix), nil)
}

func (l *LevelDB) NewBatch() Batch {
	return &levelBatch{db: l.db, b: new(leveldb.Batch)}
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

type levelBatch struct {
	db *leveldb.DB
	b  *leveldb.Batch
}

func (b *levelBatch) Set(key, value []byte) { b.b.Put(key, value) }
func (b *levelBatch) Delete(key []byte)     { b.b.Delete(key) }
func (b *levelBatch) Reset()                { b.b.Reset() }
func (b *levelBatch) Write() error          { return b.db.Write(b.b, nil) }

// ---- Journal implementation ----

// LevelJournal implements core.Journal on top of LevelDB. Entries are
// keyed by zero-padded sequence so prefix iteration walks them in order.
type LevelJournal struct {
	db *LevelDB
}

// NewLevelJournal wraps a LevelDB instance as an operation journal.
func NewLevelJournal(db *LevelDB) *LevelJournal {
	return &LevelJournal{db: db}
}

func journalKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("journal:%020d", seq))
}

func (j *LevelJournal) Append(entry *core.JournalEntry) error {
	tip, err := j.Seq()
	if err != nil {
		return err
	}
	if entry.Seq != tip+1 {
		return fmt.Errorf("journal seq %d does not follow tip %d", entry.Seq, tip)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	// Entry and tip pointer move together.
	batch := j.db.NewBatch()
	batch.Set(journalKey(entry.Seq), data)
	batch.Set([]byte("journal:tip"), []byte(fmt.Sprintf("%d", entry.Seq)))
	return batch.Write()
}

func (j *LevelJournal) Get(seq uint64) (*core.JournalEntry, error) {
	data, err := j.db.Get(journalKey(seq))
	if err != nil {
		return nil, err
	}
	var e core.JournalEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (j *LevelJournal) Seq() (uint64, error) {
	val, err := j.db.Get([]byte("journal:tip"))
	if err == core.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var seq uint64
	if _, err := fmt.Sscanf(string(val), "%d", &seq); err != nil {
		return 0, fmt.Errorf("corrupt journal tip %q: %w", val, err)
	}
	return seq, nil
}
