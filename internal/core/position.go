package core

import (
	"fmt"
	"time"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// PositionStatus drives open/closed membership. There is no separate open
// list anywhere; "open positions" is always a derived view over this field.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// Position is the reconciled view of one trading position.
// CurrentPrice and Profit are only meaningful while Status is open.
// Once Status is closed the record is immutable apart from idempotent replays
// of the closing write.
type Position struct {
	ID           string         `json:"id"`
	Symbol       string         `json:"symbol"`
	Side         Side           `json:"side"`
	Volume       float64        `json:"volume"`
	EntryPrice   float64        `json:"entry_price"`
	CurrentPrice float64        `json:"current_price"`
	StopLoss     *float64       `json:"stop_loss,omitempty"`
	TakeProfit   *float64       `json:"take_profit,omitempty"`
	Profit       float64        `json:"profit"`
	Status       PositionStatus `json:"status"`
	StrategyID   string         `json:"strategy_id,omitempty"`
	OpenedAt     time.Time      `json:"opened_at"`
	ClosedAt     *time.Time     `json:"closed_at,omitempty"`
}

func (p *Position) EntityID() string { return p.ID }
func (p *Position) Kind() EntityKind { return KindPosition }

func (p *Position) Clone() Entity {
	cp := *p
	if p.StopLoss != nil {
		v := *p.StopLoss
		cp.StopLoss = &v
	}
	if p.TakeProfit != nil {
		v := *p.TakeProfit
		cp.TakeProfit = &v
	}
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		cp.ClosedAt = &t
	}
	return &cp
}

func (p *Position) Apply(field Field, value any) error {
	switch field {
	case FieldSymbol:
		s, ok := value.(string)
		if !ok {
			return badFieldValue(field, value)
		}
		p.Symbol = s
	case FieldSide:
		switch v := value.(type) {
		case Side:
			p.Side = v
		case string:
			p.Side = Side(v)
		default:
			return badFieldValue(field, value)
		}
	case FieldVolume:
		f, ok := asFloat(value)
		if !ok {
			return badFieldValue(field, value)
		}
		p.Volume = f
	case FieldEntryPrice:
		f, ok := asFloat(value)
		if !ok {
			return badFieldValue(field, value)
		}
		p.EntryPrice = f
	case FieldCurrentPrice:
		f, ok := asFloat(value)
		if !ok {
			return badFieldValue(field, value)
		}
		p.CurrentPrice = f
	case FieldStopLoss:
		ptr, ok := asFloatPtr(value)
		if !ok {
			return badFieldValue(field, value)
		}
		p.StopLoss = ptr
	case FieldTakeProfit:
		ptr, ok := asFloatPtr(value)
		if !ok {
			return badFieldValue(field, value)
		}
		p.TakeProfit = ptr
	case FieldProfit:
		f, ok := asFloat(value)
		if !ok {
			return badFieldValue(field, value)
		}
		p.Profit = f
	case FieldStatus:
		switch v := value.(type) {
		case PositionStatus:
			p.Status = v
		case string:
			p.Status = PositionStatus(v)
		default:
			return badFieldValue(field, value)
		}
	case FieldStrategyID:
		s, ok := value.(string)
		if !ok {
			return badFieldValue(field, value)
		}
		p.StrategyID = s
	case FieldOpenedAt:
		t, ok := value.(time.Time)
		if !ok {
			return badFieldValue(field, value)
		}
		p.OpenedAt = t
	case FieldClosedAt:
		switch v := value.(type) {
		case time.Time:
			t := v
			p.ClosedAt = &t
		case *time.Time:
			p.ClosedAt = v
		default:
			return badFieldValue(field, value)
		}
	default:
		return fmt.Errorf("position has no field %q", field)
	}
	return nil
}

func (p *Position) Value(field Field) (any, bool) {
	switch field {
	case FieldSymbol:
		return p.Symbol, true
	case FieldSide:
		return p.Side, true
	case FieldVolume:
		return p.Volume, true
	case FieldEntryPrice:
		return p.EntryPrice, true
	case FieldCurrentPrice:
		return p.CurrentPrice, true
	case FieldStopLoss:
		return p.StopLoss, true
	case FieldTakeProfit:
		return p.TakeProfit, true
	case FieldProfit:
		return p.Profit, true
	case FieldStatus:
		return p.Status, true
	case FieldStrategyID:
		return p.StrategyID, true
	case FieldOpenedAt:
		return p.OpenedAt, true
	case FieldClosedAt:
		return p.ClosedAt, true
	default:
		return nil, false
	}
}

// IsOpen reports whether the position still belongs to the derived open view.
func (p *Position) IsOpen() bool { return p.Status == StatusOpen }

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func asFloatPtr(value any) (*float64, bool) {
	if value == nil {
		return nil, true
	}
	if ptr, ok := value.(*float64); ok {
		return ptr, true
	}
	if f, ok := asFloat(value); ok {
		return &f, true
	}
	return nil, false
}

func badFieldValue(field Field, value any) error {
	return fmt.Errorf("unexpected value %T for field %q", value, field)
}
