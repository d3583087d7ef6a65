package core

// CanvasState is the lifecycle phase of a canvas.
type CanvasState uint8

const (
	// StateUnfinished: the canvas is still being painted.
	StateUnfinished CanvasState = iota
	// StateBidding: fully painted, initial auction in progress.
	StateBidding
	// StateOwned: the auction closed with a winner; the canvas trades freely.
	StateOwned
)

func (s CanvasState) String() string {
	switch s {
	case StateUnfinished:
		return "unfinished"
	case StateBidding:
		return "bidding"
	case StateOwned:
		return "owned"
	}
	return "unknown"
}

// MaxNameLength bounds the human-readable canvas name, in bytes.
const MaxNameLength = 24

// Canvas is the per-canvas metadata record. Pixel data lives in the
// separate PixelGrid record so that metadata reads stay cheap.
type Canvas struct {
	ID           uint64      `json:"id"`
	State        CanvasState `json:"state"`
	Owner        string      `json:"owner,omitempty"` // pubkey hex, set when auction settles
	Name         string      `json:"name,omitempty"`
	PaintedCount uint32      `json:"painted_count"`
	// BiddingFinish is the unix-seconds auction deadline. Zero until the
	// first bid is placed; never rewritten afterwards.
	BiddingFinish int64 `json:"bidding_finish,omitempty"`
}

// PixelGrid holds one canvas' bitmap and painter attribution.
// Painter addresses are stored once in Palette; Painters holds a 1-based
// palette index per pixel (0 = never painted).
type PixelGrid struct {
	CanvasID uint64            `json:"canvas_id"`
	Colors   []byte            `json:"colors"`   // 0 = unset, valid colors are 1..255
	Painters []uint32          `json:"painters"` // palette index + 1 per pixel
	Palette  []string          `json:"palette"`  // distinct painter addresses
	Counts   map[string]uint32 `json:"counts"`   // address → pixels currently attributed
}

// NewPixelGrid allocates an empty grid for a canvas of pixelCount pixels.
func NewPixelGrid(canvasID uint64, pixelCount int) *PixelGrid {
	return &PixelGrid{
		CanvasID: canvasID,
		Colors:   make([]byte, pixelCount),
		Painters: make([]uint32, pixelCount),
		Counts:   make(map[string]uint32),
	}
}

// PainterAt returns the address credited for pixel index, or "" if unset.
func (g *PixelGrid) PainterAt(index int) string {
	if index < 0 || index >= len(g.Painters) || g.Painters[index] == 0 {
		return ""
	}
	return g.Palette[g.Painters[index]-1]
}

// paletteIndex returns the 1-based palette slot for addr, adding it if
// new. Repainting while unfinished is unrestricted, so the palette can
// outgrow any small fixed width; the index must never wrap to the
// never-painted marker.
func (g *PixelGrid) paletteIndex(addr string) uint32 {
	for i, a := range g.Palette {
		if a == addr {
			return uint32(i + 1)
		}
	}
	g.Palette = append(g.Palette, addr)
	return uint32(len(g.Palette))
}

// Paint records (color, painter) at index and keeps the attribution
// counters consistent. Returns true if the pixel was previously unset.
// Callers are responsible for state checks and bounds validation.
func (g *PixelGrid) Paint(index int, color byte, painter string) bool {
	fresh := g.Painters[index] == 0
	if !fresh {
		prev := g.Palette[g.Painters[index]-1]
		if g.Counts[prev] > 0 {
			g.Counts[prev]--
		}
	}
	g.Colors[index] = color
	g.Painters[index] = g.paletteIndex(painter)
	g.Counts[painter]++
	return fresh
}

// Bid is the single retained highest bid of a canvas' initial auction.
type Bid struct {
	CanvasID uint64 `json:"canvas_id"`
	Bidder   string `json:"bidder"` // pubkey hex
	Amount   uint64 `json:"amount"`
	PlacedAt int64  `json:"placed_at"` // unix seconds
}

// SellOffer is an owner's standing offer to sell. OnlyTo restricts the
// buyer when non-empty. Cleared whenever ownership changes.
type SellOffer struct {
	CanvasID uint64 `json:"canvas_id"`
	Seller   string `json:"seller"`
	MinPrice uint64 `json:"min_price"`
	OnlyTo   string `json:"only_to,omitempty"`
}

// BuyOffer is an escrowed offer to buy. At most one is live per canvas;
// a new offer must strictly exceed it and the old escrow is refunded.
type BuyOffer struct {
	CanvasID uint64 `json:"canvas_id"`
	Buyer    string `json:"buyer"`
	Amount   uint64 `json:"amount"` // escrowed, counted in held funds
}

// Pool is the accumulated reward and commission bookkeeping of one canvas.
// It is created when the initial auction settles and only ever grows;
// withdrawals are tracked per address, never subtracted from the totals.
type Pool struct {
	CanvasID            uint64            `json:"canvas_id"`
	TotalRewards        uint64            `json:"total_rewards"`    // always a multiple of the pixel count
	TotalCommission     uint64            `json:"total_commission"` //
	CommissionWithdrawn uint64            `json:"commission_withdrawn"`
	RewardWithdrawn     map[string]uint64 `json:"reward_withdrawn"` // address → already moved to pending
}

// Account holds a participant's pending-withdrawal balance and
// replay-protection nonce. Address is the hex-encoded ed25519 public key.
type Account struct {
	Address string `json:"address"`
	Pending uint64 `json:"pending"`
	Nonce   uint64 `json:"nonce"`
}

// Meta is the singleton engine record.
type Meta struct {
	PlatformOwner string `json:"platform_owner"` // pubkey hex, commission claimant
	MinimumBid    uint64 `json:"minimum_bid"`
	PixelCount    uint32 `json:"pixel_count"` // fixed at first init for all canvases
	CanvasCount   uint64 `json:"canvas_count"`
	ActiveCount   uint32 `json:"active_count"`
	// Held is the total native value the engine currently holds on behalf
	// of everyone: pending withdrawals, unpaid pools, escrows, leading bids.
	Held uint64 `json:"held"`
	// LastObserved is the clock high-water mark. Operations never act on a
	// clock reading below it, which pins auction deadlines against a
	// rolled-back time source.
	LastObserved int64 `json:"last_observed"`
	// AppliedSeq is the journal sequence of the last committed operation.
	AppliedSeq uint64 `json:"applied_seq"`
}

// State is the authoritative engine state. Implementations must be
// snapshot-able so a failed operation can be rolled back without trace.
type State interface {
	// Singleton meta record; Meta returns a zero value on fresh state.
	Meta() (*Meta, error)
	SetMeta(*Meta) error

	// Accounts; GetAccount returns a zero-value account for unknown addresses.
	GetAccount(address string) (*Account, error)
	SetAccount(*Account) error
	// ForEachAccount visits every stored account, including uncommitted
	// writes. Used by conservation checks and nothing on the hot path.
	ForEachAccount(fn func(*Account) error) error

	// Canvases
	GetCanvas(id uint64) (*Canvas, error)
	SetCanvas(*Canvas) error
	GetGrid(id uint64) (*PixelGrid, error)
	SetGrid(*PixelGrid) error

	// Auction
	GetBid(id uint64) (*Bid, error)
	SetBid(*Bid) error

	// Trading; Delete clears a live offer.
	GetSellOffer(id uint64) (*SellOffer, error)
	SetSellOffer(*SellOffer) error
	DeleteSellOffer(id uint64) error
	GetBuyOffer(id uint64) (*BuyOffer, error)
	SetBuyOffer(*BuyOffer) error
	DeleteBuyOffer(id uint64) error

	// Pools
	GetPool(id uint64) (*Pool, error)
	SetPool(*Pool) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root over the merged
	// persisted + buffered state without flushing.
	ComputeRoot() string
	// Commit flushes the write buffer atomically and clears it.
	Commit() error
}

// EffectiveState derives the externally visible state of a canvas without
// mutating anything: a BIDDING canvas whose deadline passed with a live
// bid reads as OWNED even before a mutating operation settles it.
func EffectiveState(c *Canvas, bid *Bid, now int64) CanvasState {
	if c.State == StateBidding && bid != nil && c.BiddingFinish != 0 && now >= c.BiddingFinish {
		return StateOwned
	}
	return c.State
}

// EffectiveOwner mirrors EffectiveState for ownership: the leading bidder
// of a logically closed auction is reported as owner before settlement.
func EffectiveOwner(c *Canvas, bid *Bid, now int64) string {
	if c.State == StateBidding && EffectiveState(c, bid, now) == StateOwned {
		return bid.Bidder
	}
	return c.Owner
}
