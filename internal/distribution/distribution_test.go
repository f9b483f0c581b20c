package distribution

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func standardSale() SaleInput {
	return SaleInput{UnitSalePrice: 10000, UnitCost: 6300, UnitFreight: 500, Quantity: 10, FreightApplies: true}
}

func TestFullSplitsSaleValue(t *testing.T) {
	full, err := Full(standardSale())
	require.NoError(t, err)
	require.Equal(t, Distribution{Cost: 63000, Freight: 5000, Profit: 32000}, full)
	require.Equal(t, int64(100000), full.Total())

	in := standardSale()
	in.FreightApplies = false
	full, err = Full(in)
	require.NoError(t, err)
	require.Equal(t, Distribution{Cost: 63000, Freight: 0, Profit: 37000}, full)
}

func TestFullBelowCostYieldsNegativeProfit(t *testing.T) {
	full, err := Full(SaleInput{UnitSalePrice: 5000, UnitCost: 6300, UnitFreight: 500, Quantity: 2, FreightApplies: true})
	require.NoError(t, err)
	require.Equal(t, Distribution{Cost: 12600, Freight: 1000, Profit: -3600}, full)
	require.Equal(t, int64(10000), full.Total())
}

func TestFullRejectsInvalidInput(t *testing.T) {
	cases := map[string]SaleInput{
		"quantity":        {UnitSalePrice: 1, Quantity: 0},
		"unit_sale_price": {UnitSalePrice: -1, Quantity: 1},
		"unit_cost":       {UnitSalePrice: 1, UnitCost: -1, Quantity: 1},
		"unit_freight":    {UnitSalePrice: 1, UnitFreight: -1, Quantity: 1},
	}
	for field, in := range cases {
		_, err := Full(in)
		require.ErrorIs(t, err, ErrInvalidInput, field)
		var ie *InputError
		require.ErrorAs(t, err, &ie)
		require.Equal(t, field, ie.Field)
	}

	_, err := Full(SaleInput{UnitSalePrice: math.MaxInt64 / 2, Quantity: 3})
	require.ErrorIs(t, err, ErrOverflow)
}

func TestEffectiveHalfPaid(t *testing.T) {
	full, err := Full(standardSale())
	require.NoError(t, err)

	eff := Effective(full, 50000, 100000)
	require.Equal(t, Distribution{Cost: 31500, Freight: 2500, Profit: 16000}, eff)
	require.True(t, Ratio(50000, 100000).Equal(decimal.RequireFromString("0.5")))
}

func TestEffectiveClampsAndZeroTotal(t *testing.T) {
	full, err := Full(standardSale())
	require.NoError(t, err)

	require.Equal(t, full, Effective(full, 150000, 100000))
	require.True(t, Effective(full, 0, 100000).IsZero())
	require.True(t, Effective(full, -10, 100000).IsZero())
	require.True(t, Effective(Distribution{}, 500, 0).IsZero())
	require.True(t, Ratio(10, 0).IsZero())
	require.True(t, Ratio(200, 100).Equal(decimal.NewFromInt(1)))
}

func TestEffectiveSumsToPaidAmount(t *testing.T) {
	sales := []SaleInput{
		{UnitSalePrice: 333, UnitCost: 111, UnitFreight: 37, Quantity: 7, FreightApplies: true},
		{UnitSalePrice: 1001, UnitCost: 999, UnitFreight: 3, Quantity: 3, FreightApplies: true},
		{UnitSalePrice: 100, UnitCost: 99, Quantity: 1},
	}
	for _, in := range sales {
		full, err := Full(in)
		require.NoError(t, err)
		total, err := in.Total()
		require.NoError(t, err)

		for paid := int64(0); paid <= total+5; paid++ {
			eff := Effective(full, paid, total)
			require.Equal(t, PaidTarget(paid, total), eff.Total(), "paid=%d total=%d", paid, total)
		}
	}
}

func TestEffectiveReachesFullWhenPaidInSteps(t *testing.T) {
	in := SaleInput{UnitSalePrice: 777, UnitCost: 400, UnitFreight: 77, Quantity: 5, FreightApplies: true}
	full, err := Full(in)
	require.NoError(t, err)
	total := full.Total()

	prev := Distribution{}
	posted := Distribution{}
	for paid := int64(97); ; paid += 97 {
		eff := Effective(full, paid, total)
		d := Delta(eff, prev)
		require.Equal(t, PaidTarget(paid, total)-prev.Total(), d.Total())
		posted.Cost += d.Cost
		posted.Freight += d.Freight
		posted.Profit += d.Profit
		prev = eff
		if paid >= total {
			break
		}
	}
	require.Equal(t, full, posted)
}

func TestDeltaAccumulatesToEffective(t *testing.T) {
	full, err := Full(standardSale())
	require.NoError(t, err)

	first := Effective(full, 30000, 100000)
	second := Effective(full, 65000, 100000)
	third := Effective(full, 100000, 100000)

	sum := Distribution{}
	for _, d := range []Distribution{first, Delta(second, first), Delta(third, second)} {
		sum.Cost += d.Cost
		sum.Freight += d.Freight
		sum.Profit += d.Profit
	}
	require.Equal(t, full, sum)
}

func TestRoundHalfUp(t *testing.T) {
	require.Equal(t, int64(3), roundHalfUp(decimal.NewFromInt(5), decimal.NewFromInt(2)))
	require.Equal(t, int64(-3), roundHalfUp(decimal.NewFromInt(-5), decimal.NewFromInt(2)))
	require.Equal(t, int64(1), roundHalfUp(decimal.NewFromInt(4), decimal.NewFromInt(3)))
	require.Equal(t, int64(-1), roundHalfUp(decimal.NewFromInt(-4), decimal.NewFromInt(3)))
}

func TestMargin(t *testing.T) {
	unit, pct := Margin(standardSale())
	require.Equal(t, int64(3200), unit)
	require.True(t, pct.Equal(decimal.RequireFromString("32")), pct.String())

	unit, pct = Margin(SaleInput{UnitSalePrice: 0, UnitCost: 10})
	require.Equal(t, int64(-10), unit)
	require.True(t, pct.IsZero())
}

func TestPurchaseOrderCost(t *testing.T) {
	total, err := PurchaseOrderCost(100, 6000, 300)
	require.NoError(t, err)
	require.Equal(t, int64(630000), total)

	_, err = PurchaseOrderCost(0, 6000, 300)
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = PurchaseOrderCost(1, -1, 0)
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = PurchaseOrderCost(2, math.MaxInt64-1, 1)
	require.ErrorIs(t, err, ErrOverflow)
}
