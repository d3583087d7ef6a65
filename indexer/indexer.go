// Package indexer maintains a sqlite read model of the canvas state so
// list-style queries never touch the authoritative store. It is a cache:
// losing it is harmless, Rebuild regenerates it from state.
package indexer

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/artgrid/artgrid/core"
	"github.com/artgrid/artgrid/events"
)

// SQLiteIndex mirrors canvas metadata and the event history into sqlite.
type SQLiteIndex struct {
	db *sql.DB
}

// Open opens (or creates) the index database at path.
func Open(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty index db path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteIndex{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-style write pattern; NORMAL durability is
	// fine for a rebuildable secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS canvases (
			id INTEGER PRIMARY KEY,
			state INTEGER NOT NULL DEFAULT 0,
			owner TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			painted INTEGER NOT NULL DEFAULT 0,
			bidding_finish INTEGER NOT NULL DEFAULT 0,
			last_bidder TEXT NOT NULL DEFAULT '',
			last_bid INTEGER NOT NULL DEFAULT 0,
			has_sell_offer INTEGER NOT NULL DEFAULT 0,
			sell_min_price INTEGER NOT NULL DEFAULT 0,
			sell_only_to TEXT NOT NULL DEFAULT '',
			buy_buyer TEXT NOT NULL DEFAULT '',
			buy_amount INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_canvases_owner ON canvases(owner);`,
		`CREATE INDEX IF NOT EXISTS idx_canvases_state ON canvases(state);`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY,
			type TEXT NOT NULL,
			op_id TEXT NOT NULL,
			data TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteIndex) Close() error { return s.db.Close() }

// Attach subscribes the index to em so every committed event updates it.
func (s *SQLiteIndex) Attach(em *events.Emitter) {
	em.SubscribeAll(func(ev events.Event) {
		if err := s.Apply(ev); err != nil {
			// The engine state is authoritative; an index write error
			// degrades queries but must not block operations.
			log.Printf("[indexer] apply %s seq %d: %v", ev.Type, ev.Seq, err)
		}
	})
}

// Apply folds one committed event into the read model. Idempotent, so a
// crash-recovery replay that re-emits events is harmless.
func (s *SQLiteIndex) Apply(ev events.Event) error {
	raw, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO events (seq, type, op_id, data) VALUES (?, ?, ?, ?)`,
		ev.Seq, string(ev.Type), ev.OpID, string(raw),
	); err != nil {
		return err
	}

	id := asUint(ev.Data["canvas_id"])
	switch ev.Type {
	case events.EventCanvasCreated:
		_, err = s.db.Exec(`INSERT OR REPLACE INTO canvases (id) VALUES (?)`, id)
	case events.EventPixelsPainted:
		_, err = s.db.Exec(`UPDATE canvases SET painted = ? WHERE id = ?`, asUint(ev.Data["painted"]), id)
	case events.EventBiddingStarted:
		_, err = s.db.Exec(`UPDATE canvases SET state = ? WHERE id = ?`, core.StateBidding, id)
	case events.EventBidPlaced:
		// The leading bidder counts as the canvas' owner already while
		// the auction is open: an outbid drops the previous bidder's
		// balance and a settlement later leaves the winner unchanged.
		_, err = s.db.Exec(
			`UPDATE canvases SET last_bidder = ?, last_bid = ?, bidding_finish = ?, owner = ? WHERE id = ?`,
			ev.Data["bidder"], asUint(ev.Data["amount"]), asInt(ev.Data["finish"]), ev.Data["bidder"], id,
		)
	case events.EventAuctionSettled:
		_, err = s.db.Exec(
			`UPDATE canvases SET state = ?, owner = ? WHERE id = ?`,
			core.StateOwned, ev.Data["owner"], id,
		)
	case events.EventCanvasNamed:
		_, err = s.db.Exec(`UPDATE canvases SET name = ? WHERE id = ?`, ev.Data["name"], id)
	case events.EventSellOfferSet:
		_, err = s.db.Exec(
			`UPDATE canvases SET has_sell_offer = 1, sell_min_price = ?, sell_only_to = ? WHERE id = ?`,
			asUint(ev.Data["min_price"]), ev.Data["only_to"], id,
		)
	case events.EventSellOfferClear:
		_, err = s.db.Exec(
			`UPDATE canvases SET has_sell_offer = 0, sell_min_price = 0, sell_only_to = '' WHERE id = ?`, id,
		)
	case events.EventBuyOfferSet:
		_, err = s.db.Exec(
			`UPDATE canvases SET buy_buyer = ?, buy_amount = ? WHERE id = ?`,
			ev.Data["buyer"], asUint(ev.Data["amount"]), id,
		)
	case events.EventBuyOfferClear:
		_, err = s.db.Exec(`UPDATE canvases SET buy_buyer = '', buy_amount = 0 WHERE id = ?`, id)
	case events.EventCanvasSold:
		_, err = s.db.Exec(
			`UPDATE canvases SET owner = ?, has_sell_offer = 0, sell_min_price = 0, sell_only_to = '',
				buy_buyer = '', buy_amount = 0 WHERE id = ?`,
			ev.Data["buyer"], id,
		)
	}
	return err
}

// Rebuild repopulates the canvas table from the authoritative state.
// The event history is left alone.
func (s *SQLiteIndex) Rebuild(st core.State, now int64) error {
	meta, err := st.Meta()
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM canvases`); err != nil {
		return err
	}
	for id := uint64(0); id < meta.CanvasCount; id++ {
		c, err := st.GetCanvas(id)
		if err != nil {
			return err
		}
		var bid *core.Bid
		if b, err := st.GetBid(id); err == nil {
			bid = b
		} else if !errors.Is(err, core.ErrNotFound) {
			return err
		}
		row := struct {
			state   core.CanvasState
			owner   string
			bidder  string
			bidAmt  uint64
			hasSell int
			sellMin uint64
			sellTo  string
			buyer   string
			buyAmt  uint64
		}{
			state: core.EffectiveState(c, bid, now),
			owner: core.EffectiveOwner(c, bid, now),
		}
		if bid != nil {
			row.bidder = bid.Bidder
			row.bidAmt = bid.Amount
			// An open auction's leading bidder is indexed as owner.
			if row.owner == "" {
				row.owner = bid.Bidder
			}
		}
		if so, err := st.GetSellOffer(id); err == nil {
			row.hasSell = 1
			row.sellMin = so.MinPrice
			row.sellTo = so.OnlyTo
		} else if !errors.Is(err, core.ErrNotFound) {
			return err
		}
		if bo, err := st.GetBuyOffer(id); err == nil {
			row.buyer = bo.Buyer
			row.buyAmt = bo.Amount
		} else if !errors.Is(err, core.ErrNotFound) {
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO canvases (id, state, owner, name, painted, bidding_finish,
				last_bidder, last_bid, has_sell_offer, sell_min_price, sell_only_to, buy_buyer, buy_amount)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, row.state, row.owner, c.Name, c.PaintedCount, c.BiddingFinish,
			row.bidder, row.bidAmt, row.hasSell, row.sellMin, row.sellTo, row.buyer, row.buyAmt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ByState lists canvas IDs in the given lifecycle state.
func (s *SQLiteIndex) ByState(state core.CanvasState) ([]uint64, error) {
	return s.idQuery(`SELECT id FROM canvases WHERE state = ? ORDER BY id`, state)
}

// ByOwner lists canvas IDs owned by addr.
func (s *SQLiteIndex) ByOwner(addr string) ([]uint64, error) {
	return s.idQuery(`SELECT id FROM canvases WHERE owner = ? ORDER BY id`, addr)
}

// CountByOwner returns how many canvases addr owns.
func (s *SQLiteIndex) CountByOwner(addr string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM canvases WHERE owner = ?`, addr).Scan(&n)
	return n, err
}

// WithSellOffer lists canvas IDs carrying a live sell offer. Offers
// restricted to a single buyer are skipped unless includePrivate is set.
func (s *SQLiteIndex) WithSellOffer(includePrivate bool) ([]uint64, error) {
	q := `SELECT id FROM canvases WHERE has_sell_offer = 1`
	if !includePrivate {
		q += ` AND sell_only_to = ''`
	}
	return s.idQuery(q + ` ORDER BY id`)
}

func (s *SQLiteIndex) idQuery(q string, args ...any) ([]uint64, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Event data values arrive as native Go types when emitted in-process
// and as float64 after a JSON round trip; both must index identically.
func asUint(v any) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case uint32:
		return uint64(n)
	case int:
		return uint64(n)
	case int64:
		return uint64(n)
	case float64:
		return uint64(n)
	}
	return 0
}

func asInt(v any) int64 {
	return int64(asUint(v))
}
