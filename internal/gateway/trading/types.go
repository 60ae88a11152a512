package trading

import (
	"time"

	"tradesync/internal/core"
)

type snapshotDTO struct {
	Positions  []positionDTO `json:"positions"`
	Strategies []strategyDTO `json:"strategies"`
}

// positionDTO is the wire shape of a position as the trading service returns
// it. Optional fields stay pointers so "absent" and "zero" remain distinct
// and absent fields never enter a patch.
type positionDTO struct {
	ID           string   `json:"id"`
	Symbol       string   `json:"symbol"`
	Side         string   `json:"side"`
	Volume       *float64 `json:"volume"`
	EntryPrice   *float64 `json:"entry_price"`
	CurrentPrice *float64 `json:"current_price"`
	StopLoss     *float64 `json:"stop_loss"`
	TakeProfit   *float64 `json:"take_profit"`
	Profit       *float64 `json:"profit"`
	Status       string   `json:"status"`
	StrategyID   string   `json:"strategy_id"`
	OpenedAt     string   `json:"opened_at"`
	ClosedAt     string   `json:"closed_at"`
}

func (d positionDTO) patch() core.Patch {
	patch := core.Patch{}
	if d.Symbol != "" {
		patch[core.FieldSymbol] = d.Symbol
	}
	if d.Side != "" {
		patch[core.FieldSide] = core.Side(d.Side)
	}
	if d.Volume != nil {
		patch[core.FieldVolume] = *d.Volume
	}
	if d.EntryPrice != nil {
		patch[core.FieldEntryPrice] = *d.EntryPrice
	}
	if d.CurrentPrice != nil {
		patch[core.FieldCurrentPrice] = *d.CurrentPrice
	}
	if d.StopLoss != nil {
		patch[core.FieldStopLoss] = d.StopLoss
	}
	if d.TakeProfit != nil {
		patch[core.FieldTakeProfit] = d.TakeProfit
	}
	if d.Profit != nil {
		patch[core.FieldProfit] = *d.Profit
	}
	if d.Status != "" {
		patch[core.FieldStatus] = core.PositionStatus(d.Status)
	}
	if d.StrategyID != "" {
		patch[core.FieldStrategyID] = d.StrategyID
	}
	if t, ok := parseTime(d.OpenedAt); ok {
		patch[core.FieldOpenedAt] = t
	}
	if t, ok := parseTime(d.ClosedAt); ok {
		patch[core.FieldClosedAt] = t
	}
	return patch
}

type strategyDTO struct {
	ID         string   `json:"id"`
	StrategyID string   `json:"strategy_id"`
	IsActive   *bool    `json:"is_active"`
	IsPaused   *bool    `json:"is_paused"`
	TradeMode  string   `json:"trade_mode"`
	Lots       *float64 `json:"lots"`
}

func (d strategyDTO) patch() core.Patch {
	patch := core.Patch{}
	if d.StrategyID != "" {
		patch[core.FieldStrategyID] = d.StrategyID
	}
	if d.IsActive != nil {
		patch[core.FieldIsActive] = *d.IsActive
	}
	if d.IsPaused != nil {
		patch[core.FieldIsPaused] = *d.IsPaused
	}
	if d.TradeMode != "" {
		patch[core.FieldTradeMode] = core.TradeMode(d.TradeMode)
	}
	if d.Lots != nil {
		patch[core.FieldLots] = *d.Lots
	}
	return patch
}

func parseTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

type modifyPositionPayload struct {
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
}

type updateStrategyPayload struct {
	IsActive *bool `json:"is_active,omitempty"`
	IsPaused *bool `json:"is_paused,omitempty"`
}

type tradeModePayload struct {
	Mode string `json:"mode"`
}
