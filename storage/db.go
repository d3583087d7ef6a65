package storage

// DB is the generic key-value store interface backing both the
// authoritative state and the operation journal.
type DB interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	NewIterator(prefix []byte) Iterator
	NewBatch() Batch
	Close() error
}

// Iterator walks key-value pairs matching a prefix.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

// Batch buffers writes and deletes for a single atomic flush.
type Batch interface {
	Set(key, value []byte)
	Delete(key []byte)
	Reset()
	Write() error
}
