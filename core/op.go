package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/artgrid/artgrid/crypto"
)

// OpType identifies the kind of mutation an operation performs.
type OpType string

const (
	OpCreateCanvas    OpType = "create_canvas"
	OpSetPixel        OpType = "set_pixel"
	OpSetPixels       OpType = "set_pixels"
	OpSetCanvasName   OpType = "set_canvas_name"
	OpMakeBid         OpType = "make_bid"
	OpSetMinimumBid   OpType = "set_minimum_bid"
	OpOfferForSale    OpType = "offer_for_sale"
	OpOfferForSaleTo  OpType = "offer_for_sale_to"
	OpCancelSellOffer OpType = "cancel_sell_offer"
	OpAcceptSellOffer OpType = "accept_sell_offer"
	OpMakeBuyOffer    OpType = "make_buy_offer"
	OpCancelBuyOffer  OpType = "cancel_buy_offer"
	OpAcceptBuyOffer  OpType = "accept_buy_offer"
	OpClaimReward     OpType = "claim_reward"
	OpClaimCommission OpType = "claim_commission"
	OpWithdraw        OpType = "withdraw"
)

// Operation is the atomic unit of work against the engine.
// From holds the caller's full hex-encoded ed25519 public key and doubles
// as the caller address. Value is the native amount attached to payable
// operations. Signature covers all fields except Signature itself.
type Operation struct {
	ID        string          `json:"id"`
	Type      OpType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Value     uint64          `json:"value"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields covered by the signature.
type signingBody struct {
	Type      OpType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Value     uint64          `json:"value"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the operation (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (op *Operation) Hash() string {
	body := signingBody{
		Type:      op.Type,
		From:      op.From,
		Nonce:     op.Nonce,
		Value:     op.Value,
		Timestamp: op.Timestamp,
		Payload:   op.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (op *Operation) Sign(priv crypto.PrivateKey) {
	hash := op.Hash()
	op.Signature = crypto.Sign(priv, []byte(hash))
	op.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (op *Operation) Verify() error {
	if op.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(op.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(op.Hash()), op.Signature)
}

// NewOperation creates an unsigned operation with the current timestamp.
func NewOperation(typ OpType, from string, nonce, value uint64, payload any) (*Operation, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Operation{
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Value:     value,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// CreateCanvasPayload allocates the next canvas. No fields.
type CreateCanvasPayload struct{}

// SetPixelPayload paints a single pixel.
type SetPixelPayload struct {
	CanvasID uint64 `json:"canvas_id"`
	Index    uint32 `json:"index"`
	Color    uint16 `json:"color"` // valid range 1..255; wider type so 256 fails validation, not decoding
}

// SetPixelsPayload paints a batch of pixels. Indices already painted are
// skipped; the batch fails only if nothing was paintable.
type SetPixelsPayload struct {
	CanvasID uint64   `json:"canvas_id"`
	Indices  []uint32 `json:"indices"`
	Colors   []uint16 `json:"colors"`
}

// SetCanvasNamePayload names an owned canvas.
type SetCanvasNamePayload struct {
	CanvasID uint64 `json:"canvas_id"`
	Name     string `json:"name"`
}

// MakeBidPayload bids the operation's attached value in an initial auction.
type MakeBidPayload struct {
	CanvasID uint64 `json:"canvas_id"`
}

// SetMinimumBidPayload adjusts the auction floor (platform owner only).
type SetMinimumBidPayload struct {
	Amount uint64 `json:"amount"`
}

// OfferForSalePayload posts an open sell offer.
type OfferForSalePayload struct {
	CanvasID uint64 `json:"canvas_id"`
	MinPrice uint64 `json:"min_price"`
}

// OfferForSaleToPayload posts a sell offer restricted to one buyer.
type OfferForSaleToPayload struct {
	CanvasID uint64 `json:"canvas_id"`
	MinPrice uint64 `json:"min_price"`
	To       string `json:"to"`
}

// CancelSellOfferPayload withdraws the live sell offer.
type CancelSellOfferPayload struct {
	CanvasID uint64 `json:"canvas_id"`
}

// AcceptSellOfferPayload buys the canvas for the attached value.
type AcceptSellOfferPayload struct {
	CanvasID uint64 `json:"canvas_id"`
}

// MakeBuyOfferPayload escrows the attached value as a standing buy offer.
type MakeBuyOfferPayload struct {
	CanvasID uint64 `json:"canvas_id"`
}

// CancelBuyOfferPayload refunds and clears the caller's buy offer.
type CancelBuyOfferPayload struct {
	CanvasID uint64 `json:"canvas_id"`
}

// AcceptBuyOfferPayload sells to the live buy offer if it meets MinPrice.
type AcceptBuyOfferPayload struct {
	CanvasID uint64 `json:"canvas_id"`
	MinPrice uint64 `json:"min_price"`
}

// ClaimRewardPayload moves the caller's unpaid painter reward to pending.
type ClaimRewardPayload struct {
	CanvasID uint64 `json:"canvas_id"`
}

// ClaimCommissionPayload moves unpaid commission to pending (platform owner).
type ClaimCommissionPayload struct {
	CanvasID uint64 `json:"canvas_id"`
}

// WithdrawPayload drains the caller's entire pending balance. No fields.
type WithdrawPayload struct{}
