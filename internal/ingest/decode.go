package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"tradesync/internal/core"
)

// eventSchema guards the envelope shape before any field mapping happens.
// Payload contents stay loose on purpose: emitters add fields over time and a
// sparse patch simply ignores what it does not know.
const eventSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["entity_id", "change"],
  "properties": {
    "entity_kind": {"enum": ["position", "strategy"]},
    "change": {"enum": ["opened", "closed", "sl_hit", "tp_hit", "mtm_update", "modified"]},
    "entity_id": {"type": "string", "minLength": 1},
    "sequence": {"type": "integer", "minimum": 0},
    "occurred_at": {"type": "string"},
    "payload": {"type": "object"}
  }
}`

var eventSchema = jsonschema.MustCompileString("event.schema.json", eventSchemaJSON)

// ParseEvent validates and decodes one raw push frame. The decoder is
// deliberately lenient about payload contents (gjson field probing) but
// strict about the envelope.
func ParseEvent(raw []byte) (Event, error) {
	if !gjson.ValidBytes(raw) {
		return Event{}, fmt.Errorf("event is not valid json")
	}
	parsed := gjson.ParseBytes(raw)
	if err := eventSchema.Validate(parsed.Value()); err != nil {
		return Event{}, fmt.Errorf("event envelope rejected: %w", err)
	}

	evt := Event{
		Kind:     core.EntityKind(parsed.Get("entity_kind").String()),
		Change:   Change(parsed.Get("change").String()),
		EntityID: parsed.Get("entity_id").String(),
		Sequence: parsed.Get("sequence").Uint(),
	}
	if evt.Kind == "" {
		evt.Kind = core.KindPosition
	}
	if ts := parsed.Get("occurred_at"); ts.Exists() {
		if t, err := time.Parse(time.RFC3339, ts.String()); err == nil {
			evt.Occurred = t
		}
	}

	payload := parsed.Get("payload")
	switch evt.Kind {
	case core.KindStrategy:
		evt.Patch = strategyPatch(payload)
	default:
		evt.Patch = positionPatch(payload)
	}
	return evt, nil
}

func positionPatch(payload gjson.Result) core.Patch {
	patch := core.Patch{}
	if v := payload.Get("symbol"); v.Exists() {
		patch[core.FieldSymbol] = v.String()
	}
	if v := payload.Get("side"); v.Exists() {
		patch[core.FieldSide] = core.Side(strings.ToLower(v.String()))
	}
	if v := payload.Get("volume"); v.Exists() {
		patch[core.FieldVolume] = v.Float()
	}
	if v := payload.Get("entry_price"); v.Exists() {
		patch[core.FieldEntryPrice] = v.Float()
	}
	if v := payload.Get("current_price"); v.Exists() {
		patch[core.FieldCurrentPrice] = v.Float()
	}
	// Closing events report the fill as exit_price; it lands on the same
	// field the mark-to-market updates maintain.
	if v := payload.Get("exit_price"); v.Exists() {
		patch[core.FieldCurrentPrice] = v.Float()
	}
	if v := payload.Get("stop_loss"); v.Exists() {
		patch[core.FieldStopLoss] = floatPtrOrNil(v)
	}
	if v := payload.Get("take_profit"); v.Exists() {
		patch[core.FieldTakeProfit] = floatPtrOrNil(v)
	}
	if v := payload.Get("profit"); v.Exists() {
		patch[core.FieldProfit] = v.Float()
	}
	if v := payload.Get("realized_profit"); v.Exists() {
		patch[core.FieldProfit] = v.Float()
	}
	if v := payload.Get("strategy_id"); v.Exists() {
		patch[core.FieldStrategyID] = v.String()
	}
	if t, ok := payloadTime(payload, "opened_at"); ok {
		patch[core.FieldOpenedAt] = t
	}
	if t, ok := payloadTime(payload, "closed_at"); ok {
		patch[core.FieldClosedAt] = t
	}
	return patch
}

func strategyPatch(payload gjson.Result) core.Patch {
	patch := core.Patch{}
	if v := payload.Get("strategy_id"); v.Exists() {
		patch[core.FieldStrategyID] = v.String()
	}
	if v := payload.Get("is_active"); v.Exists() {
		patch[core.FieldIsActive] = v.Bool()
	}
	if v := payload.Get("is_paused"); v.Exists() {
		patch[core.FieldIsPaused] = v.Bool()
	}
	if v := payload.Get("trade_mode"); v.Exists() {
		patch[core.FieldTradeMode] = core.TradeMode(strings.ToLower(v.String()))
	}
	if v := payload.Get("lots"); v.Exists() {
		patch[core.FieldLots] = v.Float()
	}
	return patch
}

func payloadTime(payload gjson.Result, key string) (time.Time, bool) {
	v := payload.Get(key)
	if !v.Exists() {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v.String())
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func floatPtrOrNil(v gjson.Result) any {
	if v.Type == gjson.Null {
		return nil
	}
	f := v.Float()
	return &f
}
