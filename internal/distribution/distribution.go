// Package distribution computes how a sale's value splits across the cost,
// freight and profit vaults, and how a partial payment scales that split.
//
// Everything here is pure: no storage, no clocks, no logging. Amounts are int64
// minor units; ratios are evaluated with exact decimal arithmetic.
package distribution

import (
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidInput is returned for non-positive quantities and negative prices.
	ErrInvalidInput = errors.New("distribution: invalid input")
	// ErrOverflow is returned when a product does not fit in int64 minor units.
	ErrOverflow = errors.New("distribution: amount overflow")

	two = decimal.NewFromInt(2)
)

// InputError describes which input was rejected.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("distribution: %s %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

// Distribution is the split of a sale value across the three vaults.
type Distribution struct {
	Cost    int64 `json:"cost"`
	Freight int64 `json:"freight"`
	Profit  int64 `json:"profit"`
}

// Total is the sum of the three portions.
func (d Distribution) Total() int64 { return d.Cost + d.Freight + d.Profit }

// IsZero reports whether every portion is zero.
func (d Distribution) IsZero() bool { return d == Distribution{} }

// SaleInput carries the per-unit prices of a sale line.
type SaleInput struct {
	UnitSalePrice  int64
	UnitCost       int64
	UnitFreight    int64
	Quantity       int64
	FreightApplies bool
}

// Validate checks quantity > 0 and non-negative prices.
func (in SaleInput) Validate() error {
	switch {
	case in.Quantity <= 0:
		return &InputError{Field: "quantity", Reason: "must be > 0"}
	case in.UnitSalePrice < 0:
		return &InputError{Field: "unit_sale_price", Reason: "must be >= 0"}
	case in.UnitCost < 0:
		return &InputError{Field: "unit_cost", Reason: "must be >= 0"}
	case in.UnitFreight < 0:
		return &InputError{Field: "unit_freight", Reason: "must be >= 0"}
	}
	return nil
}

// Total returns unitSalePrice × quantity.
func (in SaleInput) Total() (int64, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}
	return mul(in.UnitSalePrice, in.Quantity)
}

// Full computes the historical (100% paid) distribution.
//
// Profit is derived from the unit margin so cost + freight + profit equals
// unitSalePrice × quantity by construction. A sale below cost yields a
// negative profit portion.
func Full(in SaleInput) (Distribution, error) {
	if err := in.Validate(); err != nil {
		return Distribution{}, err
	}
	freightUnit := int64(0)
	if in.FreightApplies {
		freightUnit = in.UnitFreight
	}
	cost, err := mul(in.UnitCost, in.Quantity)
	if err != nil {
		return Distribution{}, err
	}
	freight, err := mul(freightUnit, in.Quantity)
	if err != nil {
		return Distribution{}, err
	}
	unitProfit := in.UnitSalePrice - in.UnitCost - freightUnit
	profit, err := mul(unitProfit, in.Quantity)
	if err != nil {
		return Distribution{}, err
	}
	if _, err := mul(in.UnitSalePrice, in.Quantity); err != nil {
		return Distribution{}, err
	}
	return Distribution{Cost: cost, Freight: freight, Profit: profit}, nil
}

// Ratio returns clamp(amountPaid / total, 0, 1); a zero or negative total
// yields 0.
func Ratio(amountPaid, total int64) decimal.Decimal {
	if total <= 0 || amountPaid <= 0 {
		return decimal.Zero
	}
	if amountPaid >= total {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(amountPaid).Div(decimal.NewFromInt(total))
}

// PaidTarget is round(total × ratio), the amount the effective portions sum to.
func PaidTarget(amountPaid, total int64) int64 {
	switch {
	case total <= 0 || amountPaid <= 0:
		return 0
	case amountPaid >= total:
		return total
	default:
		return amountPaid
	}
}

// Effective scales full by the paid proportion.
//
// Each portion is portion × paid / total rounded half away from zero; the
// residue left by rounding goes to the portion with the largest magnitude so
// the result sums to PaidTarget exactly.
func Effective(full Distribution, amountPaid, total int64) Distribution {
	target := PaidTarget(amountPaid, total)
	if target == 0 {
		return Distribution{}
	}
	if target == total {
		return full
	}
	scale := func(v int64) int64 {
		return roundHalfUp(decimal.NewFromInt(v).Mul(decimal.NewFromInt(target)), decimal.NewFromInt(total))
	}
	out := Distribution{
		Cost:    scale(full.Cost),
		Freight: scale(full.Freight),
		Profit:  scale(full.Profit),
	}
	if residue := target - out.Total(); residue != 0 {
		switch largest(full) {
		case 0:
			out.Cost += residue
		case 1:
			out.Freight += residue
		default:
			out.Profit += residue
		}
	}
	return out
}

// Delta returns next − prev per portion. Abonos post only this difference.
func Delta(next, prev Distribution) Distribution {
	return Distribution{
		Cost:    next.Cost - prev.Cost,
		Freight: next.Freight - prev.Freight,
		Profit:  next.Profit - prev.Profit,
	}
}

// Margin reports the unit profit and its percentage of the sale price,
// rounded to two decimals.
func Margin(in SaleInput) (unitProfit int64, percent decimal.Decimal) {
	freightUnit := int64(0)
	if in.FreightApplies {
		freightUnit = in.UnitFreight
	}
	unitProfit = in.UnitSalePrice - in.UnitCost - freightUnit
	if in.UnitSalePrice <= 0 {
		return unitProfit, decimal.Zero
	}
	percent = decimal.NewFromInt(unitProfit).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(in.UnitSalePrice)).
		Round(2)
	return unitProfit, percent
}

// PurchaseOrderCost returns (unitDistributorCost + unitTransportCost) × quantity.
func PurchaseOrderCost(quantity, unitDistributorCost, unitTransportCost int64) (int64, error) {
	switch {
	case quantity <= 0:
		return 0, &InputError{Field: "quantity", Reason: "must be > 0"}
	case unitDistributorCost < 0:
		return 0, &InputError{Field: "unit_distributor_cost", Reason: "must be >= 0"}
	case unitTransportCost < 0:
		return 0, &InputError{Field: "unit_transport_cost", Reason: "must be >= 0"}
	}
	if unitDistributorCost > math.MaxInt64-unitTransportCost {
		return 0, ErrOverflow
	}
	return mul(unitDistributorCost+unitTransportCost, quantity)
}

// roundHalfUp divides exactly and rounds half away from zero.
func roundHalfUp(num, den decimal.Decimal) int64 {
	q, r := num.QuoRem(den, 0)
	if r.Abs().Mul(two).GreaterThanOrEqual(den) {
		if r.Sign() < 0 {
			q = q.Sub(decimal.NewFromInt(1))
		} else {
			q = q.Add(decimal.NewFromInt(1))
		}
	}
	return q.IntPart()
}

func largest(d Distribution) int {
	idx, best := 0, abs(d.Cost)
	if v := abs(d.Freight); v > best {
		idx, best = 1, v
	}
	if v := abs(d.Profit); v > best {
		idx = 2
	}
	return idx
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func mul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	neg := (a < 0) != (b < 0)
	hi, lo := bits.Mul64(uint64(abs(a)), uint64(abs(b)))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, ErrOverflow
	}
	if neg {
		return -int64(lo), nil
	}
	return int64(lo), nil
}
