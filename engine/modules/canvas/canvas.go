// Package canvas handles canvas creation and painting.
package canvas

import (
	"encoding/json"
	"fmt"

	"github.com/artgrid/artgrid/core"
	"github.com/artgrid/artgrid/engine"
	"github.com/artgrid/artgrid/events"
)

func init() {
	engine.Register(core.OpCreateCanvas, handleCreateCanvas)
	engine.Register(core.OpSetPixel, handleSetPixel)
	engine.Register(core.OpSetPixels, handleSetPixels)
	engine.Register(core.OpSetCanvasName, handleSetCanvasName)
}

func handleCreateCanvas(ctx *engine.Context, payload json.RawMessage) error {
	var p core.CreateCanvasPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode create_canvas payload: %w", err)
	}

	meta, err := ctx.State.Meta()
	if err != nil {
		return err
	}
	if meta.ActiveCount >= ctx.Params.MaxActiveCanvases {
		return fmt.Errorf("%w: %d canvases already being painted", core.ErrCapacityExceeded, meta.ActiveCount)
	}

	id := meta.CanvasCount
	meta.CanvasCount++
	meta.ActiveCount++
	if err := ctx.State.SetMeta(meta); err != nil {
		return err
	}
	if err := ctx.State.SetCanvas(&core.Canvas{ID: id, State: core.StateUnfinished}); err != nil {
		return err
	}
	if err := ctx.State.SetGrid(core.NewPixelGrid(id, int(meta.PixelCount))); err != nil {
		return err
	}

	ctx.Emit(events.EventCanvasCreated, map[string]any{
		"canvas_id": id,
		"creator":   ctx.Op.From,
	})
	return nil
}

// validPixel rejects out-of-range indices and colors. Color 0 is the
// unset marker and can never be painted.
func validPixel(index uint32, color uint16, pixelCount uint32) error {
	if index >= pixelCount {
		return fmt.Errorf("%w: pixel index %d out of range 0..%d", core.ErrNotFound, index, pixelCount-1)
	}
	if color == 0 || color > 255 {
		return fmt.Errorf("%w: color %d out of range 1..255", core.ErrInvalidState, color)
	}
	return nil
}

// paintable loads the canvas and grid of an unfinished canvas.
func paintable(ctx *engine.Context, id uint64) (*core.Canvas, *core.PixelGrid, error) {
	c, err := ctx.State.GetCanvas(id)
	if err != nil {
		return nil, nil, fmt.Errorf("canvas %d: %w", id, err)
	}
	if c.State != core.StateUnfinished {
		return nil, nil, fmt.Errorf("%w: canvas %d is %s, painting is closed", core.ErrInvalidState, id, c.State)
	}
	g, err := ctx.State.GetGrid(id)
	if err != nil {
		return nil, nil, err
	}
	return c, g, nil
}

// finishIfComplete moves a fully painted canvas into its auction phase
// and frees an active-canvas slot. The auction deadline stays unset
// until the first bid arrives.
func finishIfComplete(ctx *engine.Context, c *core.Canvas) error {
	meta, err := ctx.State.Meta()
	if err != nil {
		return err
	}
	if c.PaintedCount < meta.PixelCount {
		return nil
	}
	c.State = core.StateBidding
	if meta.ActiveCount > 0 {
		meta.ActiveCount--
	}
	if err := ctx.State.SetMeta(meta); err != nil {
		return err
	}
	ctx.Emit(events.EventBiddingStarted, map[string]any{"canvas_id": c.ID})
	return nil
}

func handleSetPixel(ctx *engine.Context, payload json.RawMessage) error {
	var p core.SetPixelPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode set_pixel payload: %w", err)
	}

	meta, err := ctx.State.Meta()
	if err != nil {
		return err
	}
	if err := validPixel(p.Index, p.Color, meta.PixelCount); err != nil {
		return err
	}
	c, g, err := paintable(ctx, p.CanvasID)
	if err != nil {
		return err
	}

	// Repainting an already-set pixel is allowed while unfinished; the
	// attribution moves to the latest painter.
	if g.Paint(int(p.Index), byte(p.Color), ctx.Op.From) {
		c.PaintedCount++
	}
	if err := ctx.State.SetGrid(g); err != nil {
		return err
	}
	if err := finishIfComplete(ctx, c); err != nil {
		return err
	}
	if err := ctx.State.SetCanvas(c); err != nil {
		return err
	}

	ctx.Emit(events.EventPixelsPainted, map[string]any{
		"canvas_id": p.CanvasID,
		"painter":   ctx.Op.From,
		"count":     1,
		"painted":   c.PaintedCount,
	})
	return nil
}

func handleSetPixels(ctx *engine.Context, payload json.RawMessage) error {
	var p core.SetPixelsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode set_pixels payload: %w", err)
	}
	if len(p.Indices) == 0 || len(p.Indices) != len(p.Colors) {
		return fmt.Errorf("%w: %d indices, %d colors", core.ErrInvalidState, len(p.Indices), len(p.Colors))
	}

	meta, err := ctx.State.Meta()
	if err != nil {
		return err
	}
	// The whole batch is validated before any pixel is painted.
	for i := range p.Indices {
		if err := validPixel(p.Indices[i], p.Colors[i], meta.PixelCount); err != nil {
			return err
		}
	}
	c, g, err := paintable(ctx, p.CanvasID)
	if err != nil {
		return err
	}

	// Pixels someone painted first are skipped, not overwritten: a batch
	// races with other painters and should not steal their work.
	painted := 0
	for i, idx := range p.Indices {
		if g.Painters[idx] != 0 {
			continue
		}
		g.Paint(int(idx), byte(p.Colors[i]), ctx.Op.From)
		c.PaintedCount++
		painted++
	}
	if painted == 0 {
		return fmt.Errorf("%w: every pixel in the batch was already painted", core.ErrInvalidState)
	}
	if err := ctx.State.SetGrid(g); err != nil {
		return err
	}
	if err := finishIfComplete(ctx, c); err != nil {
		return err
	}
	if err := ctx.State.SetCanvas(c); err != nil {
		return err
	}

	ctx.Emit(events.EventPixelsPainted, map[string]any{
		"canvas_id": p.CanvasID,
		"painter":   ctx.Op.From,
		"count":     painted,
		"painted":   c.PaintedCount,
	})
	return nil
}

func handleSetCanvasName(ctx *engine.Context, payload json.RawMessage) error {
	var p core.SetCanvasNamePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode set_canvas_name payload: %w", err)
	}
	if len(p.Name) > core.MaxNameLength {
		return fmt.Errorf("%w: name is %d bytes, limit %d", core.ErrInvalidState, len(p.Name), core.MaxNameLength)
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
	if c.Owner != ctx.Op.From {
		return fmt.Errorf("%w: only the owner can name canvas %d", core.ErrUnauthorized, p.CanvasID)
	}

	c.Name = p.Name
	if err := ctx.State.SetCanvas(c); err != nil {
		return err
	}
	ctx.Emit(events.EventCanvasNamed, map[string]any{
		"canvas_id": p.CanvasID,
		"name":      p.Name,
	})
	return nil
}
