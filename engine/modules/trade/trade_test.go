package trade_test

import (
	"errors"
	"testing"
	"time"

	"github.com/artgrid/artgrid/core"
	"github.com/artgrid/artgrid/internal/testutil"
	"github.com/artgrid/artgrid/wallet"

	_ "github.com/artgrid/artgrid/engine/modules/auction"
	_ "github.com/artgrid/artgrid/engine/modules/canvas"
	_ "github.com/artgrid/artgrid/engine/modules/ledger"
	_ "github.com/artgrid/artgrid/engine/modules/trade"
)

// ownedCanvas runs canvas 0 through painting and its auction so it is
// owned and tradeable. Returns (painter, owner).
func ownedCanvas(t *testing.T, env *testutil.Env) (*wallet.Wallet, *wallet.Wallet) {
	t.Helper()
	painter := env.NewWallet(t)
	owner := env.NewWallet(t)
	env.Apply(t, painter, core.OpCreateCanvas, 0, core.CreateCanvasPayload{})
	env.PaintAll(t, painter, 0)
	env.Apply(t, owner, core.OpMakeBid, 10_000, core.MakeBidPayload{CanvasID: 0})
	env.Clock.Advance(49 * time.Hour)
	// Claiming the painter reward settles the auction.
	env.Apply(t, painter, core.OpClaimReward, 0, core.ClaimRewardPayload{CanvasID: 0})
	return painter, owner
}

// TestSellOfferLifecycle checks posting, replacing, and cancelling.
func TestSellOfferLifecycle(t *testing.T) {
	env := testutil.NewEnv(t, 10, 100)
	_, owner := ownedCanvas(t, env)
	outsider := env.NewWallet(t)

	err := env.Try(t, outsider, core.OpOfferForSale, 0, core.OfferForSalePayload{CanvasID: 0, MinPrice: 500})
	if !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("outsider offer: got %v", err)
	}

	env.Apply(t, owner, core.OpOfferForSale, 0, core.OfferForSalePayload{CanvasID: 0, MinPrice: 500})
	env.Apply(t, owner, core.OpOfferForSale, 0, core.OfferForSalePayload{CanvasID: 0, MinPrice: 800})
	offer, err := env.State.GetSellOffer(0)
	if err != nil {
		t.Fatal(err)
	}
	if offer.MinPrice != 800 {
		t.Errorf("replaced offer min price: got %d want 800", offer.MinPrice)
	}

	env.Apply(t, owner, core.OpCancelSellOffer, 0, core.CancelSellOfferPayload{CanvasID: 0})
	if _, err := env.State.GetSellOffer(0); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("offer should be gone, got %v", err)
	}
	err = env.Try(t, owner, core.OpCancelSellOffer, 0, core.CancelSellOfferPayload{CanvasID: 0})
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("double cancel: got %v", err)
	}
}

// TestAcceptSellOffer checks a sale moves ownership and splits the
// price between pool, commission, and seller.
func TestAcceptSellOffer(t *testing.T) {
	env := testutil.NewEnv(t, 10, 100)
	_, owner := ownedCanvas(t, env)
	buyer := env.NewWallet(t)

	env.Apply(t, owner, core.OpOfferForSale, 0, core.OfferForSalePayload{CanvasID: 0, MinPrice: 1000})

	err := env.Try(t, buyer, core.OpAcceptSellOffer, 999, core.AcceptSellOfferPayload{CanvasID: 0})
	if !errors.Is(err, core.ErrInsufficientValue) {
		t.Fatalf("underpriced accept: got %v", err)
	}

	poolBefore, err := env.State.GetPool(0)
	if err != nil {
		t.Fatal(err)
	}
	env.Apply(t, buyer, core.OpAcceptSellOffer, 1000, core.AcceptSellOfferPayload{CanvasID: 0})

	c, err := env.State.GetCanvas(0)
	if err != nil {
		t.Fatal(err)
	}
	if c.Owner != buyer.Address() {
		t.Errorf("owner: got %s want %s", c.Owner, buyer.Address())
	}
	if _, err := env.State.GetSellOffer(0); !errors.Is(err, core.ErrNotFound) {
		t.Error("sale must clear the sell offer")
	}

	// 1000 → 39 commission, 60 pool rewards, 901 seller profit.
	pool, err := env.State.GetPool(0)
	if err != nil {
		t.Fatal(err)
	}
	if got := pool.TotalCommission - poolBefore.TotalCommission; got != 39 {
		t.Errorf("commission delta: got %d want 39", got)
	}
	if got := pool.TotalRewards - poolBefore.TotalRewards; got != 60 {
		t.Errorf("rewards delta: got %d want 60", got)
	}
	if got := env.Pending(t, owner.Address()); got != 901 {
		t.Errorf("seller profit: got %d want 901", got)
	}
	env.CheckConservation(t)
}

// TestRestrictedSellOffer checks only the designated buyer can accept.
func TestRestrictedSellOffer(t *testing.T) {
	env := testutil.NewEnv(t, 10, 100)
	_, owner := ownedCanvas(t, env)
	friend := env.NewWallet(t)
	stranger := env.NewWallet(t)

	env.Apply(t, owner, core.OpOfferForSaleTo, 0, core.OfferForSaleToPayload{
		CanvasID: 0, MinPrice: 100, To: friend.Address(),
	})

	err := env.Try(t, stranger, core.OpAcceptSellOffer, 100, core.AcceptSellOfferPayload{CanvasID: 0})
	if !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("stranger accept: got %v", err)
	}
	env.Apply(t, friend, core.OpAcceptSellOffer, 100, core.AcceptSellOfferPayload{CanvasID: 0})

	c, err := env.State.GetCanvas(0)
	if err != nil {
		t.Fatal(err)
	}
	if c.Owner != friend.Address() {
		t.Errorf("owner: got %s want %s", c.Owner, friend.Address())
	}
	env.CheckConservation(t)
}

// TestBuyOfferEscrowAndOutbid checks escrow moves with the leading
// offer and displaced offers are refunded exactly.
func TestBuyOfferEscrowAndOutbid(t *testing.T) {
	env := testutil.NewEnv(t, 10, 100)
	_, owner := ownedCanvas(t, env)
	first := env.NewWallet(t)
	second := env.NewWallet(t)

	err := env.Try(t, owner, core.OpMakeBuyOffer, 500, core.MakeBuyOfferPayload{CanvasID: 0})
	if !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("owner buy offer: got %v", err)
	}

	env.Apply(t, first, core.OpMakeBuyOffer, 1000, core.MakeBuyOfferPayload{CanvasID: 0})

	err = env.Try(t, second, core.OpMakeBuyOffer, 1000, core.MakeBuyOfferPayload{CanvasID: 0})
	if !errors.Is(err, core.ErrInsufficientValue) {
		t.Fatalf("equal buy offer: got %v", err)
	}

	env.Apply(t, second, core.OpMakeBuyOffer, 2000, core.MakeBuyOfferPayload{CanvasID: 0})
	if got := env.Pending(t, first.Address()); got != 1000 {
		t.Errorf("displaced escrow refund: got %d want 1000", got)
	}
	env.CheckConservation(t)

	// Only the offer's owner may cancel it.
	err = env.Try(t, first, core.OpCancelBuyOffer, 0, core.CancelBuyOfferPayload{CanvasID: 0})
	if !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("foreign cancel: got %v", err)
	}
	env.Apply(t, second, core.OpCancelBuyOffer, 0, core.CancelBuyOfferPayload{CanvasID: 0})
	if got := env.Pending(t, second.Address()); got != 2000 {
		t.Errorf("cancel refund: got %d want 2000", got)
	}
	env.CheckConservation(t)
}

// TestAcceptBuyOffer checks the seller-side path with its price floor.
func TestAcceptBuyOffer(t *testing.T) {
	env := testutil.NewEnv(t, 10, 100)
	_, owner := ownedCanvas(t, env)
	buyer := env.NewWallet(t)

	env.Apply(t, buyer, core.OpMakeBuyOffer, 2000, core.MakeBuyOfferPayload{CanvasID: 0})

	// The floor protects the seller from a lowered offer.
	err := env.Try(t, owner, core.OpAcceptBuyOffer, 0, core.AcceptBuyOfferPayload{CanvasID: 0, MinPrice: 3000})
	if !errors.Is(err, core.ErrInsufficientValue) {
		t.Fatalf("floor: got %v", err)
	}

	env.Apply(t, owner, core.OpAcceptBuyOffer, 0, core.AcceptBuyOfferPayload{CanvasID: 0, MinPrice: 1500})

	c, err := env.State.GetCanvas(0)
	if err != nil {
		t.Fatal(err)
	}
	if c.Owner != buyer.Address() {
		t.Errorf("owner: got %s want %s", c.Owner, buyer.Address())
	}
	if _, err := env.State.GetBuyOffer(0); !errors.Is(err, core.ErrNotFound) {
		t.Error("sale must consume the buy offer")
	}
	// 2000 → 78 commission, 12*10=120 rewards, 1802 seller profit.
	if got := env.Pending(t, owner.Address()); got != 1802 {
		t.Errorf("seller profit: got %d want 1802", got)
	}
	env.CheckConservation(t)
}

// TestAcceptSellOfferConsumesOwnEscrow checks a buyer's standing escrow
// counts toward the sale price.
func TestAcceptSellOfferConsumesOwnEscrow(t *testing.T) {
	env := testutil.NewEnv(t, 10, 100)
	_, owner := ownedCanvas(t, env)
	buyer := env.NewWallet(t)

	env.Apply(t, buyer, core.OpMakeBuyOffer, 500, core.MakeBuyOfferPayload{CanvasID: 0})
	env.Apply(t, owner, core.OpOfferForSale, 0, core.OfferForSalePayload{CanvasID: 0, MinPrice: 1200})

	// 800 attached + 500 escrow = 1300 ≥ 1200.
	env.Apply(t, buyer, core.OpAcceptSellOffer, 800, core.AcceptSellOfferPayload{CanvasID: 0})

	c, err := env.State.GetCanvas(0)
	if err != nil {
		t.Fatal(err)
	}
	if c.Owner != buyer.Address() {
		t.Errorf("owner: got %s want %s", c.Owner, buyer.Address())
	}
	if _, err := env.State.GetBuyOffer(0); !errors.Is(err, core.ErrNotFound) {
		t.Error("escrow must be consumed by the sale")
	}
	// Sale price 1300 → 50 commission, 7*10=70 rewards, 1180 profit.
	if got := env.Pending(t, owner.Address()); got != 1180 {
		t.Errorf("seller profit: got %d want 1180", got)
	}
	env.CheckConservation(t)
}

// TestSaleRefundsForeignEscrow checks a different bidder's escrow is
// returned when the canvas changes hands.
func TestSaleRefundsForeignEscrow(t *testing.T) {
	env := testutil.NewEnv(t, 10, 100)
	_, owner := ownedCanvas(t, env)
	buyer := env.NewWallet(t)
	bystander := env.NewWallet(t)

	env.Apply(t, bystander, core.OpMakeBuyOffer, 700, core.MakeBuyOfferPayload{CanvasID: 0})
	env.Apply(t, owner, core.OpOfferForSale, 0, core.OfferForSalePayload{CanvasID: 0, MinPrice: 1000})
	env.Apply(t, buyer, core.OpAcceptSellOffer, 1000, core.AcceptSellOfferPayload{CanvasID: 0})

	if got := env.Pending(t, bystander.Address()); got != 700 {
		t.Errorf("bystander refund: got %d want 700", got)
	}
	if _, err := env.State.GetBuyOffer(0); !errors.Is(err, core.ErrNotFound) {
		t.Error("foreign escrow must be cleared on sale")
	}
	env.CheckConservation(t)
}

// TestCannotBuyOwnCanvas checks self-purchase is rejected.
func TestCannotBuyOwnCanvas(t *testing.T) {
	env := testutil.NewEnv(t, 10, 100)
	_, owner := ownedCanvas(t, env)
	env.Apply(t, owner, core.OpOfferForSale, 0, core.OfferForSalePayload{CanvasID: 0, MinPrice: 100})

	err := env.Try(t, owner, core.OpAcceptSellOffer, 100, core.AcceptSellOfferPayload{CanvasID: 0})
	if !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("self purchase: got %v", err)
	}
}

// TestTradeRequiresOwnedCanvas checks the market stays closed while a
// canvas is unfinished or in auction.
func TestTradeRequiresOwnedCanvas(t *testing.T) {
	env := testutil.NewEnv(t, 10, 100)
	painter := env.NewWallet(t)
	env.Apply(t, painter, core.OpCreateCanvas, 0, core.CreateCanvasPayload{})

	err := env.Try(t, painter, core.OpOfferForSale, 0, core.OfferForSalePayload{CanvasID: 0, MinPrice: 100})
	if !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("unfinished canvas: got %v", err)
	}
	err = env.Try(t, painter, core.OpMakeBuyOffer, 100, core.MakeBuyOfferPayload{CanvasID: 0})
	if !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("buy offer on unfinished canvas: got %v", err)
	}
}
