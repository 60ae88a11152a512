package core

import "fmt"

// TradeMode selects paper or live execution for a strategy subscription.
type TradeMode string

const (
	ModePaper TradeMode = "paper"
	ModeLive  TradeMode = "live"
)

// ValidTradeMode rejects anything but the two known modes before a mutation
// is allowed to touch the store.
func ValidTradeMode(mode TradeMode) bool {
	return mode == ModePaper || mode == ModeLive
}

// StrategySubscription is the reconciled view of one user's subscription to a
// trading strategy. The paused/trade-mode business rule (a paused strategy
// must not switch into an executing mode) is enforced by the remote service;
// the core only carries the flags.
type StrategySubscription struct {
	ID         string    `json:"id"`
	StrategyID string    `json:"strategy_id"`
	IsActive   bool      `json:"is_active"`
	IsPaused   bool      `json:"is_paused"`
	TradeMode  TradeMode `json:"trade_mode"`
	Lots       float64   `json:"lots"`
}

func (s *StrategySubscription) EntityID() string { return s.ID }
func (s *StrategySubscription) Kind() EntityKind { return KindStrategy }

func (s *StrategySubscription) Clone() Entity {
	cp := *s
	return &cp
}

func (s *StrategySubscription) Apply(field Field, value any) error {
	switch field {
	case FieldStrategyID:
		v, ok := value.(string)
		if !ok {
			return badFieldValue(field, value)
		}
		s.StrategyID = v
	case FieldIsActive:
		v, ok := value.(bool)
		if !ok {
			return badFieldValue(field, value)
		}
		s.IsActive = v
	case FieldIsPaused:
		v, ok := value.(bool)
		if !ok {
			return badFieldValue(field, value)
		}
		s.IsPaused = v
	case FieldTradeMode:
		switch v := value.(type) {
		case TradeMode:
			s.TradeMode = v
		case string:
			s.TradeMode = TradeMode(v)
		default:
			return badFieldValue(field, value)
		}
	case FieldLots:
		v, ok := asFloat(value)
		if !ok {
			return badFieldValue(field, value)
		}
		s.Lots = v
	default:
		return fmt.Errorf("strategy subscription has no field %q", field)
	}
	return nil
}

func (s *StrategySubscription) Value(field Field) (any, bool) {
	switch field {
	case FieldStrategyID:
		return s.StrategyID, true
	case FieldIsActive:
		return s.IsActive, true
	case FieldIsPaused:
		return s.IsPaused, true
	case FieldTradeMode:
		return s.TradeMode, true
	case FieldLots:
		return s.Lots, true
	default:
		return nil, false
	}
}
