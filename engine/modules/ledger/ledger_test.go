package ledger_test

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

// settledCanvas paints canvas 0 with two painters (a: 3 pixels, b: 1),
// auctions it for 1000, and lets the deadline pass without settling.
func settledCanvas(t *testing.T, env *testutil.Env) (a, b, winner *wallet.Wallet) {
	t.Helper()
	a = env.NewWallet(t)
	b = env.NewWallet(t)
	winner = env.NewWallet(t)

	env.Apply(t, a, core.OpCreateCanvas, 0, core.CreateCanvasPayload{})
	for i := uint32(0); i < 3; i++ {
		env.Apply(t, a, core.OpSetPixel, 0, core.SetPixelPayload{CanvasID: 0, Index: i, Color: 1})
	}
	env.Apply(t, b, core.OpSetPixel, 0, core.SetPixelPayload{CanvasID: 0, Index: 3, Color: 2})

	env.Apply(t, winner, core.OpMakeBid, 1000, core.MakeBidPayload{CanvasID: 0})
	env.Clock.Advance(49 * time.Hour)
	return a, b, winner
}

// TestClaimRewardProRata checks the pool pays out per painted pixel.
// A 1000 bid over 4 pixels leaves 240 per pixel after commission.
func TestClaimRewardProRata(t *testing.T) {
	env := testutil.NewEnv(t, 4, 100)
	a, b, _ := settledCanvas(t, env)

	env.Apply(t, a, core.OpClaimReward, 0, core.ClaimRewardPayload{CanvasID: 0})
	if got := env.Pending(t, a.Address()); got != 720 {
		t.Errorf("a reward: got %d want 720", got)
	}
	env.Apply(t, b, core.OpClaimReward, 0, core.ClaimRewardPayload{CanvasID: 0})
	if got := env.Pending(t, b.Address()); got != 240 {
		t.Errorf("b reward: got %d want 240", got)
	}

	// Claims are idempotent: nothing left to pay.
	err := env.Try(t, a, core.OpClaimReward, 0, core.ClaimRewardPayload{CanvasID: 0})
	if !errors.Is(err, core.ErrAlreadySettled) {
		t.Errorf("double claim: got %v", err)
	}
	env.CheckConservation(t)
}

// TestClaimRewardWithoutPool checks claims on a canvas that never sold.
func TestClaimRewardWithoutPool(t *testing.T) {
	env := testutil.NewEnv(t, 4, 100)
	w := env.NewWallet(t)
	env.Apply(t, w, core.OpCreateCanvas, 0, core.CreateCanvasPayload{})

	err := env.Try(t, w, core.OpClaimReward, 0, core.ClaimRewardPayload{CanvasID: 0})
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("claim without pool: got %v", err)
	}
}

// TestClaimRewardNonPainter checks an address with no pixels gets nothing.
func TestClaimRewardNonPainter(t *testing.T) {
	env := testutil.NewEnv(t, 4, 100)
	_, _, winner := settledCanvas(t, env)

	err := env.Try(t, winner, core.OpClaimReward, 0, core.ClaimRewardPayload{CanvasID: 0})
	if !errors.Is(err, core.ErrAlreadySettled) {
		t.Errorf("non-painter claim: got %v", err)
	}
}

// TestClaimCommission checks only the platform owner collects the cut.
func TestClaimCommission(t *testing.T) {
	env := testutil.NewEnv(t, 4, 100)
	a, _, _ := settledCanvas(t, env)

	err := env.Try(t, a, core.OpClaimCommission, 0, core.ClaimCommissionPayload{CanvasID: 0})
	if !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("non-platform claim: got %v", err)
	}

	// 1000 bid: 960 distributed as rewards, 40 commission with dust.
	env.Apply(t, env.Platform, core.OpClaimCommission, 0, core.ClaimCommissionPayload{CanvasID: 0})
	if got := env.Pending(t, env.Platform.Address()); got != 40 {
		t.Errorf("commission: got %d want 40", got)
	}

	err = env.Try(t, env.Platform, core.OpClaimCommission, 0, core.ClaimCommissionPayload{CanvasID: 0})
	if !errors.Is(err, core.ErrAlreadySettled) {
		t.Errorf("double claim: got %v", err)
	}
	env.CheckConservation(t)
}

// TestWithdraw checks the full pending balance leaves held funds in one
// payout, exactly once.
func TestWithdraw(t *testing.T) {
	env := testutil.NewEnv(t, 4, 100)
	a, _, _ := settledCanvas(t, env)
	env.Apply(t, a, core.OpClaimReward, 0, core.ClaimRewardPayload{CanvasID: 0})

	heldBefore := env.Meta(t).Held
	env.Apply(t, a, core.OpWithdraw, 0, core.WithdrawPayload{})

	if got := env.Pending(t, a.Address()); got != 0 {
		t.Errorf("pending after withdraw: got %d want 0", got)
	}
	if got := env.Meta(t).Held; got != heldBefore-720 {
		t.Errorf("held: got %d want %d", got, heldBefore-720)
	}
	if n := len(env.Payouts.Payouts); n != 1 {
		t.Fatalf("payouts: got %d want 1", n)
	}
	if p := env.Payouts.Payouts[0]; p.Address != a.Address() || p.Amount != 720 {
		t.Errorf("payout: %+v", p)
	}

	err := env.Try(t, a, core.OpWithdraw, 0, core.WithdrawPayload{})
	if !errors.Is(err, core.ErrAlreadySettled) {
		t.Errorf("empty withdraw: got %v", err)
	}
	env.CheckConservation(t)
}

// TestPoolGrowsAcrossSales checks each resale tops up the reward pool
// and painters can claim the difference.
func TestPoolGrowsAcrossSales(t *testing.T) {
	env := testutil.NewEnv(t, 4, 100)
	a, _, winner := settledCanvas(t, env)
	buyer := env.NewWallet(t)

	env.Apply(t, a, core.OpClaimReward, 0, core.ClaimRewardPayload{CanvasID: 0})

	// Resale for 2000: 30 more per pixel.
	env.Apply(t, winner, core.OpOfferForSale, 0, core.OfferForSalePayload{CanvasID: 0, MinPrice: 2000})
	env.Apply(t, buyer, core.OpAcceptSellOffer, 2000, core.AcceptSellOfferPayload{CanvasID: 0})

	env.Apply(t, a, core.OpClaimReward, 0, core.ClaimRewardPayload{CanvasID: 0})
	if got := env.Pending(t, a.Address()); got != 720+90 {
		t.Errorf("a pending after resale claim: got %d want 810", got)
	}
	env.CheckConservation(t)
}
