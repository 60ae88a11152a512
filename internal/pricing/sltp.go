// Package pricing converts user-entered stop-loss / take-profit input into
// absolute trigger prices. Pure and stateless; arithmetic runs on
// shopspring/decimal to keep trigger prices exact for display round-trips.
package pricing

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"tradesync/internal/core"
)

// Kind selects which trigger is being computed.
type Kind string

const (
	KindStopLoss   Kind = "stop_loss"
	KindTakeProfit Kind = "take_profit"
)

// Unit is how the user expressed the magnitude.
type Unit string

const (
	UnitPoints     Unit = "points"
	UnitPercentage Unit = "percentage"
	UnitPrice      Unit = "price"
)

// Convention controls the sign handling for short positions. The platform the
// core was ported from applied the long formulas regardless of side; whether
// that was intentional is unresolved with the product owner, so both
// behaviors stay selectable instead of silently replicating either one.
type Convention string

const (
	// ConventionSideAware inverts the point/percentage offsets for shorts:
	// stop-loss above entry, take-profit below.
	ConventionSideAware Convention = "side_aware"
	// ConventionLegacy applies the long-side formulas for every position.
	ConventionLegacy Convention = "legacy"
)

// ParseConvention maps a config string onto a Convention, defaulting to
// side-aware.
func ParseConvention(raw string) Convention {
	if strings.EqualFold(strings.TrimSpace(raw), string(ConventionLegacy)) {
		return ConventionLegacy
	}
	return ConventionSideAware
}

var hundred = decimal.NewFromInt(100)

// Compute maps (entry price, side, kind, unit, magnitude) to the absolute
// trigger price. Invalid numeric input yields a ValidationError and never a
// partial result.
func Compute(entry float64, side core.Side, kind Kind, unit Unit, magnitude float64, conv Convention) (float64, error) {
	field := core.FieldStopLoss
	if kind == KindTakeProfit {
		field = core.FieldTakeProfit
	}
	if math.IsNaN(magnitude) || math.IsInf(magnitude, 0) {
		return 0, core.NewValidationError(field, "magnitude must be a finite number")
	}
	if magnitude < 0 {
		return 0, core.NewValidationError(field, "magnitude must not be negative")
	}

	if unit == UnitPrice {
		// The entered value is already the trigger.
		if magnitude == 0 {
			return 0, core.NewValidationError(field, "trigger price must be positive")
		}
		return magnitude, nil
	}

	if math.IsNaN(entry) || math.IsInf(entry, 0) || entry <= 0 {
		return 0, core.NewValidationError(field, "entry price must be positive")
	}

	entryDec := decimal.NewFromFloat(entry)
	magDec := decimal.NewFromFloat(magnitude)

	var offset decimal.Decimal
	switch unit {
	case UnitPoints:
		offset = magDec
	case UnitPercentage:
		offset = entryDec.Mul(magDec.Div(hundred))
	default:
		return 0, core.NewValidationError(field, "unknown unit "+string(unit))
	}

	favorable := kind == KindTakeProfit
	if conv == ConventionSideAware && side == core.SideShort {
		favorable = !favorable
	}

	var trigger decimal.Decimal
	if favorable {
		trigger = entryDec.Add(offset)
	} else {
		trigger = entryDec.Sub(offset)
	}
	out, _ := trigger.Float64()
	return out, nil
}
