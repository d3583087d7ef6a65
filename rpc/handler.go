package rpc

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/artgrid/artgrid/archive"
	"github.com/artgrid/artgrid/core"
	"github.com/artgrid/artgrid/engine"
	"github.com/artgrid/artgrid/indexer"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	eng     *engine.Engine
	queue   *core.OpQueue
	journal core.Journal
	index   *indexer.SQLiteIndex
}

// NewHandler creates an RPC Handler. index may be nil; the list-style
// methods then report an internal error instead of serving stale data.
func NewHandler(eng *engine.Engine, queue *core.OpQueue, journal core.Journal, index *indexer.SQLiteIndex) *Handler {
	return &Handler{eng: eng, queue: queue, journal: journal, index: index}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "sendOperation":
		return h.sendOperation(req)
	case "getOperation":
		return h.getOperation(req)
	case "getOperationTypes":
		return okResponse(req.ID, engine.RegisteredTypes())
	case "getQueueSize":
		return okResponse(req.ID, h.queue.Size())
	case "getLedgerTotals":
		return h.getLedgerTotals(req)
	case "getAccount":
		return h.getAccount(req)
	case "balanceOf":
		return h.balanceOf(req)
	case "getCanvas":
		return h.getCanvas(req)
	case "getPixel":
		return h.getPixel(req)
	case "getCanvasBitmap":
		return h.getCanvasBitmap(req)
	case "getCanvasPainters":
		return h.getCanvasPainters(req)
	case "getPaintedPixelsCountByAddress":
		return h.getPaintedCountByAddress(req)
	case "getReward":
		return h.getReward(req)
	case "getCommission":
		return h.getCommission(req)
	case "getBid":
		return h.getBid(req)
	case "getSellOffer":
		return h.getSellOffer(req)
	case "getBuyOffer":
		return h.getBuyOffer(req)
	case "getPool":
		return h.getPool(req)
	case "getCanvasesByState":
		return h.getCanvasesByState(req)
	case "getCanvasesByOwner":
		return h.getCanvasesByOwner(req)
	case "getCanvasesWithSellOffer":
		return h.getCanvasesWithSellOffer(req)
	case "exportCanvas":
		return h.exportCanvas(req)
	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) sendOperation(req Request) Response {
	var op core.Operation
	if err := json.Unmarshal(req.Params, &op); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	op.ID = op.Hash()
	if err := validatePayload(&op); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if err := h.queue.Submit(&op); err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]string{"op_id": op.ID})
}

func (h *Handler) getOperation(req Request) Response {
	var params struct {
		Seq uint64 `json:"seq"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	entry, err := h.journal.Get(params.Seq)
	if err != nil {
		return engineErr(req.ID, err)
	}
	return okResponse(req.ID, entry)
}

func (h *Handler) getLedgerTotals(req Request) Response {
	var out map[string]any
	err := h.eng.View(func(s core.State) error {
		meta, err := s.Meta()
		if err != nil {
			return err
		}
		out = map[string]any{
			"held":          meta.Held,
			"minimum_bid":   meta.MinimumBid,
			"pixel_count":   meta.PixelCount,
			"canvas_count":  meta.CanvasCount,
			"active_count":  meta.ActiveCount,
			"applied_seq":   meta.AppliedSeq,
			"last_observed": meta.LastObserved,
			"state_root":    s.ComputeRoot(),
		}
		return nil
	})
	if err != nil {
		return engineErr(req.ID, err)
	}
	return okResponse(req.ID, out)
}

func (h *Handler) getAccount(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	var acc *core.Account
	err := h.eng.View(func(s core.State) error {
		var err error
		acc, err = s.GetAccount(params.Address)
		return err
	})
	if err != nil {
		return engineErr(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{
		"address": params.Address,
		"pending": acc.Pending,
		"nonce":   acc.Nonce,
	})
}

func (h *Handler) balanceOf(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	if h.index == nil {
		return errResponse(req.ID, CodeInternalError, "index unavailable")
	}
	n, err := h.index.CountByOwner(params.Address)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, n)
}

// canvasView is the externally visible canvas: state and owner are the
// effective ones, so a closed-but-unsettled auction already reads as
// owned by the leading bidder.
type canvasView struct {
	ID            uint64 `json:"id"`
	State         string `json:"state"`
	Owner         string `json:"owner,omitempty"`
	Name          string `json:"name,omitempty"`
	PaintedCount  uint32 `json:"painted_count"`
	BiddingFinish int64  `json:"bidding_finish,omitempty"`
}

func (h *Handler) viewCanvas(s core.State, id uint64) (*canvasView, error) {
	c, err := s.GetCanvas(id)
	if err != nil {
		return nil, err
	}
	var bid *core.Bid
	if b, err := s.GetBid(id); err == nil {
		bid = b
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	now := h.eng.Now().Unix()
	return &canvasView{
		ID:            c.ID,
		State:         core.EffectiveState(c, bid, now).String(),
		Owner:         core.EffectiveOwner(c, bid, now),
		Name:          c.Name,
		PaintedCount:  c.PaintedCount,
		BiddingFinish: c.BiddingFinish,
	}, nil
}

func (h *Handler) getCanvas(req Request) Response {
	var params struct {
		ID uint64 `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	var view *canvasView
	err := h.eng.View(func(s core.State) error {
		var err error
		view, err = h.viewCanvas(s, params.ID)
		return err
	})
	if err != nil {
		return engineErr(req.ID, err)
	}
	return okResponse(req.ID, view)
}

func (h *Handler) getPixel(req Request) Response {
	var params struct {
		CanvasID uint64 `json:"canvas_id"`
		Index    uint32 `json:"index"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	var out map[string]any
	err := h.eng.View(func(s core.State) error {
		g, err := s.GetGrid(params.CanvasID)
		if err != nil {
			return err
		}
		if int(params.Index) >= len(g.Colors) {
			return fmt.Errorf("%w: pixel %d", core.ErrNotFound, params.Index)
		}
		out = map[string]any{
			"canvas_id": params.CanvasID,
			"index":     params.Index,
			"color":     g.Colors[params.Index],
			"painter":   g.PainterAt(int(params.Index)),
		}
		return nil
	})
	if err != nil {
		return engineErr(req.ID, err)
	}
	return okResponse(req.ID, out)
}

// getCanvasBitmap serves the raw color bytes; JSON encodes []byte as
// base64, which is the compact transport for 4096 single-byte colors.
func (h *Handler) getCanvasBitmap(req Request) Response {
	return h.canvasRecord(req, func(s core.State, id uint64) (any, error) {
		g, err := s.GetGrid(id)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"canvas_id":   id,
			"colors":      g.Colors,
			"pixel_count": len(g.Colors),
		}, nil
	})
}

// getCanvasPainters reports current pixel attribution per address.
func (h *Handler) getCanvasPainters(req Request) Response {
	return h.canvasRecord(req, func(s core.State, id uint64) (any, error) {
		g, err := s.GetGrid(id)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"canvas_id": id,
			"counts":    g.Counts,
		}, nil
	})
}

func (h *Handler) getPaintedCountByAddress(req Request) Response {
	var params struct {
		CanvasID uint64 `json:"canvas_id"`
		Address  string `json:"address"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	var count uint32
	err := h.eng.View(func(s core.State) error {
		g, err := s.GetGrid(params.CanvasID)
		if err != nil {
			return err
		}
		count = g.Counts[params.Address]
		return nil
	})
	if err != nil {
		return engineErr(req.ID, err)
	}
	return okResponse(req.ID, count)
}

func (h *Handler) getBid(req Request) Response {
	return h.canvasRecord(req, func(s core.State, id uint64) (any, error) {
		return s.GetBid(id)
	})
}

func (h *Handler) getSellOffer(req Request) Response {
	return h.canvasRecord(req, func(s core.State, id uint64) (any, error) {
		return s.GetSellOffer(id)
	})
}

func (h *Handler) getBuyOffer(req Request) Response {
	return h.canvasRecord(req, func(s core.State, id uint64) (any, error) {
		return s.GetBuyOffer(id)
	})
}

// effectivePool returns the reward pool of canvas id without mutating
// state. For a closed but not yet settled auction it returns the pool
// the next mutating operation will write, flagged virtual.
func (h *Handler) effectivePool(s core.State, id uint64) (*core.Pool, bool, error) {
	pool, err := s.GetPool(id)
	if err == nil {
		return pool, false, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, false, err
	}
	c, cerr := s.GetCanvas(id)
	if cerr != nil {
		return nil, false, cerr
	}
	bid, berr := s.GetBid(id)
	if berr != nil {
		return nil, false, err // no bid either: report the missing pool
	}
	if core.EffectiveState(c, bid, h.eng.Now().Unix()) != core.StateOwned {
		return nil, false, err
	}
	meta, merr := s.Meta()
	if merr != nil {
		return nil, false, merr
	}
	_, totalRewards, commission := core.AuctionSplit(bid.Amount, meta.PixelCount)
	return &core.Pool{
		CanvasID:        id,
		TotalRewards:    totalRewards,
		TotalCommission: commission,
		RewardWithdrawn: map[string]uint64{},
	}, true, nil
}

func (h *Handler) getPool(req Request) Response {
	return h.canvasRecord(req, func(s core.State, id uint64) (any, error) {
		pool, virtual, err := h.effectivePool(s, id)
		if err != nil {
			return nil, err
		}
		if virtual {
			return map[string]any{
				"canvas_id":        id,
				"total_rewards":    pool.TotalRewards,
				"total_commission": pool.TotalCommission,
				"virtual":          true,
			}, nil
		}
		return pool, nil
	})
}

// getReward reports what address could claim from a canvas right now,
// including the not-yet-persisted pool of a closed auction.
func (h *Handler) getReward(req Request) Response {
	var params struct {
		CanvasID uint64 `json:"canvas_id"`
		Address  string `json:"address"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	var owed uint64
	err := h.eng.View(func(s core.State) error {
		pool, _, err := h.effectivePool(s, params.CanvasID)
		if err != nil {
			return err
		}
		g, err := s.GetGrid(params.CanvasID)
		if err != nil {
			return err
		}
		meta, err := s.Meta()
		if err != nil {
			return err
		}
		owed = core.RewardOwed(pool, meta.PixelCount, g.Counts[params.Address], params.Address)
		return nil
	})
	if err != nil {
		return engineErr(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{
		"canvas_id": params.CanvasID,
		"address":   params.Address,
		"reward":    owed,
	})
}

// getCommission reports the unclaimed platform cut of one canvas.
func (h *Handler) getCommission(req Request) Response {
	return h.canvasRecord(req, func(s core.State, id uint64) (any, error) {
		pool, _, err := h.effectivePool(s, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"canvas_id":  id,
			"commission": pool.TotalCommission - pool.CommissionWithdrawn,
		}, nil
	})
}

func (h *Handler) canvasRecord(req Request, get func(core.State, uint64) (any, error)) Response {
	var params struct {
		CanvasID uint64 `json:"canvas_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	var out any
	err := h.eng.View(func(s core.State) error {
		var err error
		out, err = get(s, params.CanvasID)
		return err
	})
	if err != nil {
		return engineErr(req.ID, err)
	}
	return okResponse(req.ID, out)
}

func (h *Handler) getCanvasesByState(req Request) Response {
	var params struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if h.index == nil {
		return errResponse(req.ID, CodeInternalError, "index unavailable")
	}
	var state core.CanvasState
	switch params.State {
	case core.StateUnfinished.String():
		state = core.StateUnfinished
	case core.StateBidding.String():
		state = core.StateBidding
	case core.StateOwned.String():
		state = core.StateOwned
	default:
		return errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("unknown state %q", params.State))
	}
	ids, err := h.index.ByState(state)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) getCanvasesByOwner(req Request) Response {
	var params struct {
		Owner string `json:"owner"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Owner == "" {
		return errResponse(req.ID, CodeInvalidParams, "owner is required")
	}
	if h.index == nil {
		return errResponse(req.ID, CodeInternalError, "index unavailable")
	}
	ids, err := h.index.ByOwner(params.Owner)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) getCanvasesWithSellOffer(req Request) Response {
	var params struct {
		IncludePrivate bool `json:"include_private"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(req.ID, CodeInvalidParams, err.Error())
		}
	}
	if h.index == nil {
		return errResponse(req.ID, CodeInternalError, "index unavailable")
	}
	ids, err := h.index.WithSellOffer(params.IncludePrivate)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, ids)
}

// exportCanvas returns a compressed snapshot of one canvas, base64
// encoded for transport.
func (h *Handler) exportCanvas(req Request) Response {
	var params struct {
		CanvasID uint64 `json:"canvas_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	var blob []byte
	err := h.eng.View(func(s core.State) error {
		c, err := s.GetCanvas(params.CanvasID)
		if err != nil {
			return err
		}
		g, err := s.GetGrid(params.CanvasID)
		if err != nil {
			return err
		}
		blob, err = archive.Export(&archive.Snapshot{
			Canvas:     c,
			Grid:       g,
			ExportedAt: h.eng.Now().Unix(),
		})
		return err
	})
	if err != nil {
		return engineErr(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{
		"canvas_id": params.CanvasID,
		"format":    archive.Format,
		"data":      base64.StdEncoding.EncodeToString(blob),
	})
}
