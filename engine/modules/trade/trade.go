// Package trade handles the secondary market: sell offers, escrowed buy
// offers, and the ownership transfers they produce.
package trade

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/artgrid/artgrid/core"
	"github.com/artgrid/artgrid/engine"
	"github.com/artgrid/artgrid/events"
)

func init() {
	engine.Register(core.OpOfferForSale, handleOfferForSale)
	engine.Register(core.OpOfferForSaleTo, handleOfferForSaleTo)
	engine.Register(core.OpCancelSellOffer, handleCancelSellOffer)
	engine.RegisterPayable(core.OpAcceptSellOffer, handleAcceptSellOffer)
	engine.RegisterPayable(core.OpMakeBuyOffer, handleMakeBuyOffer)
	engine.Register(core.OpCancelBuyOffer, handleCancelBuyOffer)
	engine.Register(core.OpAcceptBuyOffer, handleAcceptBuyOffer)
}

// requireOwner settles a pending auction, then checks that the caller
// owns canvas id.
func requireOwner(ctx *engine.Context, id uint64) (*core.Canvas, error) {
	if err := engine.SettleAuction(ctx, id); err != nil {
		return nil, err
	}
	c, err := ctx.State.GetCanvas(id)
	if err != nil {
		return nil, fmt.Errorf("canvas %d: %w", id, err)
	}
	if c.State != core.StateOwned {
		return nil, fmt.Errorf("%w: canvas %d has no owner yet", core.ErrInvalidState, id)
	}
	if c.Owner != ctx.Op.From {
		return nil, fmt.Errorf("%w: caller does not own canvas %d", core.ErrUnauthorized, id)
	}
	return c, nil
}

// transferOwnership moves canvas c to buyer for amount: the trade split
// grows the reward pool and commission, the seller's profit becomes
// claimable, and both standing offers are cleared. The full amount is
// already in held funds, so only internal buckets move.
func transferOwnership(ctx *engine.Context, c *core.Canvas, buyer string, amount uint64) error {
	meta, err := ctx.State.Meta()
	if err != nil {
		return err
	}
	commission, rewardPerPixel, sellerProfit := core.TradeSplit(amount, meta.PixelCount)

	pool, err := ctx.State.GetPool(c.ID)
	if err != nil {
		return fmt.Errorf("pool for canvas %d: %w", c.ID, err)
	}
	pool.TotalRewards += rewardPerPixel * uint64(meta.PixelCount)
	pool.TotalCommission += commission
	if err := ctx.State.SetPool(pool); err != nil {
		return err
	}
	if err := core.CreditPending(ctx.State, c.Owner, sellerProfit); err != nil {
		return err
	}

	seller := c.Owner
	c.Owner = buyer
	if err := ctx.State.SetCanvas(c); err != nil {
		return err
	}
	if err := ctx.State.DeleteSellOffer(c.ID); err != nil {
		return err
	}

	ctx.Emit(events.EventCanvasSold, map[string]any{
		"canvas_id": c.ID,
		"seller":    seller,
		"buyer":     buyer,
		"amount":    amount,
	})
	return nil
}

func handleOfferForSale(ctx *engine.Context, payload json.RawMessage) error {
	var p core.OfferForSalePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode offer_for_sale payload: %w", err)
	}
	return postSellOffer(ctx, p.CanvasID, p.MinPrice, "")
}

func handleOfferForSaleTo(ctx *engine.Context, payload json.RawMessage) error {
	var p core.OfferForSaleToPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode offer_for_sale_to payload: %w", err)
	}
	if p.To == "" {
		return fmt.Errorf("%w: missing buyer restriction", core.ErrInvalidState)
	}
	if p.To == ctx.Op.From {
		return fmt.Errorf("%w: cannot restrict a sale to yourself", core.ErrInvalidState)
	}
	return postSellOffer(ctx, p.CanvasID, p.MinPrice, p.To)
}

func postSellOffer(ctx *engine.Context, id uint64, minPrice uint64, onlyTo string) error {
	if _, err := requireOwner(ctx, id); err != nil {
		return err
	}
	offer := &core.SellOffer{
		CanvasID: id,
		Seller:   ctx.Op.From,
		MinPrice: minPrice,
		OnlyTo:   onlyTo,
	}
	if err := ctx.State.SetSellOffer(offer); err != nil {
		return err
	}
	ctx.Emit(events.EventSellOfferSet, map[string]any{
		"canvas_id": id,
		"min_price": minPrice,
		"only_to":   onlyTo,
	})
	return nil
}

func handleCancelSellOffer(ctx *engine.Context, payload json.RawMessage) error {
	var p core.CancelSellOfferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode cancel_sell_offer payload: %w", err)
	}
	if _, err := requireOwner(ctx, p.CanvasID); err != nil {
		return err
	}
	if _, err := ctx.State.GetSellOffer(p.CanvasID); err != nil {
		return fmt.Errorf("sell offer for canvas %d: %w", p.CanvasID, err)
	}
	if err := ctx.State.DeleteSellOffer(p.CanvasID); err != nil {
		return err
	}
	ctx.Emit(events.EventSellOfferClear, map[string]any{"canvas_id": p.CanvasID})
	return nil
}

func handleAcceptSellOffer(ctx *engine.Context, payload json.RawMessage) error {
	var p core.AcceptSellOfferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode accept_sell_offer payload: %w", err)
	}

	if err := engine.SettleAuction(ctx, p.CanvasID); err != nil {
		return err
	}
	c, err := ctx.State.GetCanvas(p.CanvasID)
	if err != nil {
		return fmt.Errorf("canvas %d: %w", p.CanvasID, err)
	}
	if c.State != core.StateOwned {
		return fmt.Errorf("%w: canvas %d has no owner yet", core.ErrInvalidState, p.CanvasID)
	}
	if c.Owner == ctx.Op.From {
		return fmt.Errorf("%w: cannot buy your own canvas", core.ErrInvalidState)
	}

	offer, err := ctx.State.GetSellOffer(p.CanvasID)
	if err != nil {
		return fmt.Errorf("sell offer for canvas %d: %w", p.CanvasID, err)
	}
	if offer.OnlyTo != "" && offer.OnlyTo != ctx.Op.From {
		return fmt.Errorf("%w: sale is restricted to another buyer", core.ErrUnauthorized)
	}

	// The buyer's own standing escrow counts toward the price; a
	// different bidder's escrow is refunded when the canvas changes
	// hands below.
	amount := ctx.Op.Value
	escrow, err := ctx.State.GetBuyOffer(p.CanvasID)
	switch {
	case err == nil && escrow.Buyer == ctx.Op.From:
		amount += escrow.Amount
		if err := ctx.State.DeleteBuyOffer(p.CanvasID); err != nil {
			return err
		}
	case err == nil:
		if err := core.CreditPending(ctx.State, escrow.Buyer, escrow.Amount); err != nil {
			return err
		}
		if err := ctx.State.DeleteBuyOffer(p.CanvasID); err != nil {
			return err
		}
	case !errors.Is(err, core.ErrNotFound):
		return err
	}

	if amount < offer.MinPrice {
		return fmt.Errorf("%w: offered %d, seller asks %d", core.ErrInsufficientValue, amount, offer.MinPrice)
	}
	return transferOwnership(ctx, c, ctx.Op.From, amount)
}

func handleMakeBuyOffer(ctx *engine.Context, payload json.RawMessage) error {
	var p core.MakeBuyOfferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode make_buy_offer payload: %w", err)
	}

	if err := engine.SettleAuction(ctx, p.CanvasID); err != nil {
		return err
	}
	c, err := ctx.State.GetCanvas(p.CanvasID)
	if err != nil {
		return fmt.Errorf("canvas %d: %w", p.CanvasID, err)
	}
	if c.State != core.StateOwned {
		return fmt.Errorf("%w: canvas %d has no owner yet", core.ErrInvalidState, p.CanvasID)
	}
	if c.Owner == ctx.Op.From {
		return fmt.Errorf("%w: owner cannot make a buy offer", core.ErrInvalidState)
	}

	amount := ctx.Op.Value
	var leading uint64
	prev, err := ctx.State.GetBuyOffer(p.CanvasID)
	switch {
	case err == nil:
		leading = prev.Amount
	case !errors.Is(err, core.ErrNotFound):
		return err
	}
	if amount <= leading {
		return fmt.Errorf("%w: offer %d does not exceed leading offer %d", core.ErrInsufficientValue, amount, leading)
	}
	if prev != nil {
		// The outbid escrow becomes claimable immediately.
		if err := core.CreditPending(ctx.State, prev.Buyer, prev.Amount); err != nil {
			return err
		}
	}

	offer := &core.BuyOffer{CanvasID: p.CanvasID, Buyer: ctx.Op.From, Amount: amount}
	if err := ctx.State.SetBuyOffer(offer); err != nil {
		return err
	}
	ctx.Emit(events.EventBuyOfferSet, map[string]any{
		"canvas_id": p.CanvasID,
		"buyer":     ctx.Op.From,
		"amount":    amount,
	})
	return nil
}

func handleCancelBuyOffer(ctx *engine.Context, payload json.RawMessage) error {
	var p core.CancelBuyOfferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode cancel_buy_offer payload: %w", err)
	}

	offer, err := ctx.State.GetBuyOffer(p.CanvasID)
	if err != nil {
		return fmt.Errorf("buy offer for canvas %d: %w", p.CanvasID, err)
	}
	if offer.Buyer != ctx.Op.From {
		return fmt.Errorf("%w: buy offer belongs to another address", core.ErrUnauthorized)
	}
	if err := core.CreditPending(ctx.State, offer.Buyer, offer.Amount); err != nil {
		return err
	}
	if err := ctx.State.DeleteBuyOffer(p.CanvasID); err != nil {
		return err
	}
	ctx.Emit(events.EventBuyOfferClear, map[string]any{"canvas_id": p.CanvasID})
	return nil
}

func handleAcceptBuyOffer(ctx *engine.Context, payload json.RawMessage) error {
	var p core.AcceptBuyOfferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode accept_buy_offer payload: %w", err)
	}

	c, err := requireOwner(ctx, p.CanvasID)
	if err != nil {
		return err
	}
	offer, err := ctx.State.GetBuyOffer(p.CanvasID)
	if err != nil {
		return fmt.Errorf("buy offer for canvas %d: %w", p.CanvasID, err)
	}
	// The floor guards the seller against the offer being lowered or
	// replaced between signing and execution.
	if offer.Amount < p.MinPrice {
		return fmt.Errorf("%w: offer %d below acceptable minimum %d", core.ErrInsufficientValue, offer.Amount, p.MinPrice)
	}
	if err := ctx.State.DeleteBuyOffer(p.CanvasID); err != nil {
		return err
	}
	return transferOwnership(ctx, c, offer.Buyer, offer.Amount)
}
