// Package core holds the entity model shared by every reconciliation
// component: positions, strategy subscriptions, pending mutations, and the
// field-level write stamps that arbitrate between the three update channels
// (REST snapshots, realtime push events, local optimistic writes).
package core

// EntityKind discriminates the two reconciled entity types.
type EntityKind string

const (
	KindPosition EntityKind = "position"
	KindStrategy EntityKind = "strategy"
)

// Source identifies which channel produced a write. Precedence between
// sources is arbitrated by the store and additionally depends on whether an
// optimistic write is still pending.
type Source string

const (
	SourceRest       Source = "rest"
	SourceRealtime   Source = "realtime"
	SourceOptimistic Source = "optimistic"
)

// Field names one mergeable attribute of an entity. Merging is always
// field-by-field, never whole-record.
type Field string

const (
	FieldSymbol       Field = "symbol"
	FieldSide         Field = "side"
	FieldVolume       Field = "volume"
	FieldEntryPrice   Field = "entry_price"
	FieldCurrentPrice Field = "current_price"
	FieldStopLoss     Field = "stop_loss"
	FieldTakeProfit   Field = "take_profit"
	FieldProfit       Field = "profit"
	FieldStatus       Field = "status"
	FieldStrategyID   Field = "strategy_id"
	FieldOpenedAt     Field = "opened_at"
	FieldClosedAt     Field = "closed_at"

	FieldIsActive  Field = "is_active"
	FieldIsPaused  Field = "is_paused"
	FieldTradeMode Field = "trade_mode"
	FieldLots      Field = "lots"
)

// Patch is a sparse set of field updates applied in one upsert.
type Patch map[Field]any

// Entity is implemented by Position and StrategySubscription. Apply and Value
// give the store field-level access without reflection.
type Entity interface {
	EntityID() string
	Kind() EntityKind
	Clone() Entity
	Apply(field Field, value any) error
	Value(field Field) (any, bool)
}

// FieldStamp records, per entity and field, which channel last wrote the
// field and at which logical sequence. Pending is true only while an
// optimistic mutation on the field awaits its remote confirmation.
type FieldStamp struct {
	Source   Source
	Sequence uint64
	Pending  bool
}

// NewEntity returns the zero value for kind, used when a patch creates an
// entity the store has never seen.
func NewEntity(kind EntityKind, id string) Entity {
	switch kind {
	case KindStrategy:
		return &StrategySubscription{ID: id}
	default:
		return &Position{ID: id}
	}
}
