package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesync/internal/core"
)

func TestComputePointsAndPercentage(t *testing.T) {
	cases := []struct {
		name      string
		entry     float64
		side      core.Side
		kind      Kind
		unit      Unit
		magnitude float64
		conv      Convention
		want      float64
	}{
		{"long sl points below entry", 100, core.SideLong, KindStopLoss, UnitPoints, 10, ConventionSideAware, 90},
		{"long tp points above entry", 100, core.SideLong, KindTakeProfit, UnitPoints, 10, ConventionSideAware, 110},
		{"long sl percentage", 200, core.SideLong, KindStopLoss, UnitPercentage, 5, ConventionSideAware, 190},
		{"long tp percentage", 200, core.SideLong, KindTakeProfit, UnitPercentage, 5, ConventionSideAware, 210},
		{"short sl sits above entry", 100, core.SideShort, KindStopLoss, UnitPoints, 10, ConventionSideAware, 110},
		{"short tp sits below entry", 100, core.SideShort, KindTakeProfit, UnitPoints, 10, ConventionSideAware, 90},
		{"legacy ignores side for sl", 100, core.SideShort, KindStopLoss, UnitPoints, 10, ConventionLegacy, 90},
		{"legacy ignores side for tp", 100, core.SideShort, KindTakeProfit, UnitPoints, 10, ConventionLegacy, 110},
		{"zero percentage keeps entry", 100, core.SideLong, KindTakeProfit, UnitPercentage, 0, ConventionSideAware, 100},
		{"zero points keeps entry", 100, core.SideLong, KindStopLoss, UnitPoints, 0, ConventionSideAware, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Compute(tc.entry, tc.side, tc.kind, tc.unit, tc.magnitude, tc.conv)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestComputeAbsolutePriceBypassesEntry(t *testing.T) {
	// Unit price is already the trigger; the entry is irrelevant and may even
	// be zero on a not-yet-synced position.
	got, err := Compute(0, core.SideLong, KindStopLoss, UnitPrice, 1950, ConventionSideAware)
	require.NoError(t, err)
	assert.Equal(t, 1950.0, got)
}

func TestComputeRejectsBadInput(t *testing.T) {
	cases := []struct {
		name      string
		entry     float64
		unit      Unit
		magnitude float64
	}{
		{"negative magnitude", 100, UnitPoints, -5},
		{"nan magnitude", 100, UnitPoints, math.NaN()},
		{"zero absolute price", 100, UnitPrice, 0},
		{"zero entry with points", 0, UnitPoints, 5},
		{"negative entry with percentage", -10, UnitPercentage, 5},
		{"unknown unit", 100, Unit("lots"), 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compute(tc.entry, core.SideLong, KindStopLoss, tc.unit, tc.magnitude, ConventionSideAware)
			require.Error(t, err)
			var verr *core.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestComputePercentageIsExact(t *testing.T) {
	// 0.1% of 0.3 must not pick up float residue.
	got, err := Compute(0.3, core.SideLong, KindTakeProfit, UnitPercentage, 0.1, ConventionSideAware)
	require.NoError(t, err)
	assert.InDelta(t, 0.3003, got, 1e-12)
}

func TestParseConvention(t *testing.T) {
	assert.Equal(t, ConventionLegacy, ParseConvention("legacy"))
	assert.Equal(t, ConventionLegacy, ParseConvention("  LEGACY "))
	assert.Equal(t, ConventionSideAware, ParseConvention("side_aware"))
	assert.Equal(t, ConventionSideAware, ParseConvention(""))
	assert.Equal(t, ConventionSideAware, ParseConvention("garbage"))
}
