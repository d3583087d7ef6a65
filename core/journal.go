package core

// JournalEntry records one applied operation together with the clock
// value the engine observed for it, so a replay reproduces the exact
// same state (auction deadlines included).
type JournalEntry struct {
	Seq uint64     `json:"seq"` // 1-based, dense
	Now int64      `json:"now"` // unix seconds observed by the engine
	Op  *Operation `json:"op"`
}

// Journal is the persistent, append-only operation log. Implementations
// live in the storage package; an in-memory one backs the tests.
type Journal interface {
	// Append persists entry; it must reject any seq that does not
	// directly follow the current tip.
	Append(entry *JournalEntry) error
	Get(seq uint64) (*JournalEntry, error)
	// Seq returns the tip sequence, 0 for an empty journal.
	Seq() (uint64, error)
}
