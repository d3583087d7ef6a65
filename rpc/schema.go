package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/artgrid/artgrid/core"
)

// Payload schemas, enforced before an operation enters the queue so a
// malformed payload is rejected at the boundary instead of burning a
// nonce inside the engine.
var payloadSchemas = map[core.OpType]string{
	core.OpCreateCanvas: `{
		"type": "object",
		"additionalProperties": false
	}`,
	core.OpSetPixel: `{
		"type": "object",
		"required": ["canvas_id", "index", "color"],
		"properties": {
			"canvas_id": {"type": "integer", "minimum": 0},
			"index": {"type": "integer", "minimum": 0},
			"color": {"type": "integer", "minimum": 1, "maximum": 255}
		},
		"additionalProperties": false
	}`,
	core.OpSetPixels: `{
		"type": "object",
		"required": ["canvas_id", "indices", "colors"],
		"properties": {
			"canvas_id": {"type": "integer", "minimum": 0},
			"indices": {"type": "array", "minItems": 1, "items": {"type": "integer", "minimum": 0}},
			"colors": {"type": "array", "minItems": 1, "items": {"type": "integer", "minimum": 1, "maximum": 255}}
		},
		"additionalProperties": false
	}`,
	core.OpSetCanvasName: `{
		"type": "object",
		"required": ["canvas_id", "name"],
		"properties": {
			"canvas_id": {"type": "integer", "minimum": 0},
			"name": {"type": "string", "maxLength": 24}
		},
		"additionalProperties": false
	}`,
	core.OpMakeBid: `{
		"type": "object",
		"required": ["canvas_id"],
		"properties": {"canvas_id": {"type": "integer", "minimum": 0}},
		"additionalProperties": false
	}`,
	core.OpSetMinimumBid: `{
		"type": "object",
		"required": ["amount"],
		"properties": {"amount": {"type": "integer", "minimum": 1}},
		"additionalProperties": false
	}`,
	core.OpOfferForSale: `{
		"type": "object",
		"required": ["canvas_id", "min_price"],
		"properties": {
			"canvas_id": {"type": "integer", "minimum": 0},
			"min_price": {"type": "integer", "minimum": 0}
		},
		"additionalProperties": false
	}`,
	core.OpOfferForSaleTo: `{
		"type": "object",
		"required": ["canvas_id", "min_price", "to"],
		"properties": {
			"canvas_id": {"type": "integer", "minimum": 0},
			"min_price": {"type": "integer", "minimum": 0},
			"to": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`,
	core.OpCancelSellOffer: canvasOnlySchema,
	core.OpAcceptSellOffer: canvasOnlySchema,
	core.OpMakeBuyOffer:    canvasOnlySchema,
	core.OpCancelBuyOffer:  canvasOnlySchema,
	core.OpAcceptBuyOffer: `{
		"type": "object",
		"required": ["canvas_id", "min_price"],
		"properties": {
			"canvas_id": {"type": "integer", "minimum": 0},
			"min_price": {"type": "integer", "minimum": 0}
		},
		"additionalProperties": false
	}`,
	core.OpClaimReward:     canvasOnlySchema,
	core.OpClaimCommission: canvasOnlySchema,
	core.OpWithdraw: `{
		"type": "object",
		"additionalProperties": false
	}`,
}

const canvasOnlySchema = `{
	"type": "object",
	"required": ["canvas_id"],
	"properties": {"canvas_id": {"type": "integer", "minimum": 0}},
	"additionalProperties": false
}`

var compiledSchemas = func() map[core.OpType]*jsonschema.Schema {
	out := make(map[core.OpType]*jsonschema.Schema, len(payloadSchemas))
	for typ, src := range payloadSchemas {
		sch, err := jsonschema.CompileString(string(typ)+".json", src)
		if err != nil {
			panic(fmt.Sprintf("rpc: bad schema for %s: %v", typ, err))
		}
		out[typ] = sch
	}
	return out
}()

// validatePayload checks an operation's payload against the schema for
// its type. Unknown types are left for the engine to reject.
func validatePayload(op *core.Operation) error {
	sch, ok := compiledSchemas[op.Type]
	if !ok {
		return nil
	}
	payload := op.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("payload rejected: %w", err)
	}
	return nil
}
